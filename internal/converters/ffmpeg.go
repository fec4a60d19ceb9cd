package converters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// FFmpeg drives the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	Bin      string
	ProbeBin string
	Logger   *slog.Logger

	seekTime int // poster seek offset in seconds
}

// NewFFmpeg returns a toolkit using the binaries found in PATH.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{
		Bin:      "ffmpeg",
		ProbeBin: "ffprobe",
		seekTime: 1,
	}
}

func (f *FFmpeg) Name() string {
	return "ffmpeg"
}

// Supports returns true if this converter can handle the given MIME type
func (f *FFmpeg) Supports(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "video/")
}

// Available reports whether both binaries can be resolved.
func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.Bin); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if _, err := exec.LookPath(f.ProbeBin); err != nil {
		return fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return nil
}

// SetSeekTime sets how many seconds Poster skips before picking a frame.
func (f *FFmpeg) SetSeekTime(seconds int) {
	if seconds >= 0 {
		f.seekTime = seconds
	}
}

func (f *FFmpeg) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	f.logger().Debug("ffmpeg", "args", strings.Join(full, " "))

	cmd := exec.CommandContext(ctx, f.Bin, full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe returns container and first-video-stream metadata.
func (f *FFmpeg) Probe(ctx context.Context, input string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, f.ProbeBin,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(ee.Stderr))
		}
		return nil, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, stderr)
	}
	return parseProbe(out)
}

func parseProbe(raw []byte) (*MediaInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(raw, &po); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	if d, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	if s, err := strconv.ParseInt(po.Format.Size, 10, 64); err == nil {
		info.Size = s
	}

	for _, st := range po.Streams {
		if st.CodecType != "video" {
			continue
		}
		info.HasVideo = true
		info.Width = st.Width
		info.Height = st.Height
		info.Codec = st.CodecName
		info.FrameRate = parseRate(st.AvgFrameRate)
		if info.FrameRate == 0 {
			info.FrameRate = parseRate(st.RFrameRate)
		}
		if info.Duration == 0 {
			if d, err := strconv.ParseFloat(st.Duration, 64); err == nil {
				info.Duration = d
			}
		}
		break
	}
	return info, nil
}

// parseRate turns "30000/1001" or "25" into frames per second.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func secs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// Poster picks a representative frame with ffmpeg's thumbnail filter.
func (f *FFmpeg) Poster(ctx context.Context, input, output string, width, height int) error {
	videoFilter := "thumbnail"
	if width > 0 && height > 0 {
		videoFilter = fmt.Sprintf("thumbnail,scale=%d:%d:force_original_aspect_ratio=decrease", width, height)
	}

	// Clips shorter than the seek offset would yield no frame at all.
	seek := f.seekTime
	if info, err := f.Probe(ctx, input); err == nil && info.Duration <= float64(seek) {
		seek = 0
	}

	return f.run(ctx,
		"-ss", strconv.Itoa(seek),
		"-i", input,
		"-vf", videoFilter,
		"-frames:v", "1",
		"-pix_fmt", "yuvj420p",
		"-q:v", "2",
		output,
	)
}

// ExtractFrameAt writes the frame displayed at the given offset.
func (f *FFmpeg) ExtractFrameAt(ctx context.Context, input, output string, at float64) error {
	if at < 0 {
		at = 0
	}
	return f.run(ctx,
		"-ss", secs(at),
		"-i", input,
		"-frames:v", "1",
		"-an",
		output,
	)
}

// ExtractTailFrame decodes the final second of the input and keeps only the
// last frame, for containers whose duration overshoots the last video frame.
func (f *FFmpeg) ExtractTailFrame(ctx context.Context, input, output string) error {
	return f.run(ctx,
		"-sseof", "-1",
		"-i", input,
		"-update", "1",
		"-an",
		output,
	)
}

// NormalizeOptions describe the common encoding every clip is brought to
// before it is joined.
type NormalizeOptions struct {
	FPS    int
	Width  int
	Height int
	// Duration keeps only the first Duration seconds; 0 keeps everything.
	Duration float64
}

func (o NormalizeOptions) filter() string {
	parts := []string{fmt.Sprintf("fps=%d", o.FPS)}
	if o.Width > 0 && o.Height > 0 {
		parts = append(parts,
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", o.Width, o.Height),
			fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", o.Width, o.Height),
		)
	}
	parts = append(parts, "setsar=1", "format=yuv420p")
	return strings.Join(parts, ",")
}

func encodeArgs(fps int) []string {
	return []string{
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "20",
		"-r", strconv.Itoa(fps),
		"-movflags", "+faststart",
	}
}

// Normalize re-encodes input to the common fps, frame size and pixel format.
func (f *FFmpeg) Normalize(ctx context.Context, input, output string, opts NormalizeOptions) error {
	if opts.FPS <= 0 {
		return fmt.Errorf("normalize: fps must be positive")
	}
	args := []string{"-i", input}
	if opts.Duration > 0 {
		args = append(args, "-t", secs(opts.Duration))
	}
	args = append(args, "-vf", opts.filter())
	args = append(args, encodeArgs(opts.FPS)...)
	args = append(args, output)
	return f.run(ctx, args...)
}

// Crossfade renders a standalone transition clip of dur seconds that fades
// from the tail of a (starting at aStart) into the head of b. Both inputs must
// already share fps and frame size.
func (f *FFmpeg) Crossfade(ctx context.Context, a, b, output string, aStart, dur float64, fps int) error {
	if dur <= 0 {
		return fmt.Errorf("crossfade: duration must be positive")
	}
	if fps <= 0 {
		return fmt.Errorf("crossfade: fps must be positive")
	}
	graph := fmt.Sprintf(
		"[0:v]trim=start=%s:duration=%s,setpts=PTS-STARTPTS,settb=AVTB[a];"+
			"[1:v]trim=duration=%s,setpts=PTS-STARTPTS,settb=AVTB[b];"+
			"[a][b]xfade=transition=fade:duration=%s:offset=0,format=yuv420p[v]",
		secs(aStart), secs(dur), secs(dur), secs(dur),
	)
	args := []string{
		"-i", a,
		"-i", b,
		"-filter_complex", graph,
		"-map", "[v]",
		"-t", secs(dur),
	}
	args = append(args, encodeArgs(fps)...)
	args = append(args, output)
	return f.run(ctx, args...)
}

// Concat joins inputs in order. It tries a stream copy first and re-encodes
// when the copy is rejected.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, output string, fps int) error {
	if len(inputs) == 0 {
		return fmt.Errorf("concat: no inputs")
	}

	listPath := output + ".txt"
	if err := writeConcatList(listPath, inputs); err != nil {
		return err
	}
	defer os.Remove(listPath)

	copyErr := f.run(ctx, "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-an", output)
	if copyErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.logger().Warn("stream copy concat failed, re-encoding", "err", copyErr)

	if fps <= 0 {
		fps = 30
	}
	args := []string{"-f", "concat", "-safe", "0", "-i", listPath}
	args = append(args, encodeArgs(fps)...)
	args = append(args, output)
	if err := f.run(ctx, args...); err != nil {
		return fmt.Errorf("concat re-encode: %w", err)
	}
	return nil
}

func writeConcatList(path string, inputs []string) error {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", in, err)
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

// AnimateStill turns a still into a clip with a slow zoom, used by the
// offline generation backend.
func (f *FFmpeg) AnimateStill(ctx context.Context, still, output string, seconds float64, fps, width, height int) error {
	if seconds <= 0 || fps <= 0 {
		return fmt.Errorf("animate: seconds and fps must be positive")
	}
	frames := int(seconds * float64(fps))
	if frames < 1 {
		frames = 1
	}
	if width <= 0 || height <= 0 {
		width, height = 320, 240
	}
	// libx264 with yuv420p needs even dimensions.
	width -= width % 2
	height -= height % 2

	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,"+
			"zoompan=z='min(zoom+0.0015,1.2)':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d,"+
			"format=yuv420p",
		width, height, width, height, frames, width, height, fps,
	)
	args := []string{
		"-i", still,
		"-vf", vf,
		"-frames:v", strconv.Itoa(frames),
	}
	args = append(args, encodeArgs(fps)...)
	args = append(args, output)
	return f.run(ctx, args...)
}
