// cmd/loomctl inspects, cuts and joins clips locally without a worker.
//
// Usage:
//
//	./loomctl -input clip.mp4 -probe
//	./loomctl -input clip.mp4 -lastframe tail.png
//	./loomctl -input clip.mp4 -poster poster.jpg -size 512
//	./loomctl -output final.mp4 -crossfade 0.5 seg-0.mp4 seg-1.mp4 seg-2.mp4
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RhythrosaLabs/loom/internal/assemble"
	"github.com/RhythrosaLabs/loom/internal/converters"
	"github.com/RhythrosaLabs/loom/internal/frames"
)

func main() {
	_ = godotenv.Load()

	input := flag.String("input", "", "Input clip path (probe, lastframe, poster)")
	output := flag.String("output", "", "Assembled output path; remaining arguments are the segments in order")
	probe := flag.Bool("probe", false, "Show clip metadata only")
	lastFrame := flag.String("lastframe", "", "Write the last frame of -input to this PNG path")
	poster := flag.String("poster", "", "Write a poster still of -input to this path")
	size := flag.Int("size", 512, "Poster size (width/height in pixels)")
	seek := flag.Int("seek", 1, "Seconds skipped before the poster frame")
	crossfade := flag.Float64("crossfade", envFloat("CROSSFADE_SECONDS", 0), "Crossfade seconds between segments; 0 disables")
	trim := flag.Int("trim", assemble.DefaultTrimFrames, "Frames trimmed from the end of every segment but the last")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ff := converters.NewFFmpeg()
	ff.Logger = logger
	if err := ff.Available(); err != nil {
		log.Fatalf("❌ %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch {
	case *output != "":
		runAssemble(ctx, ff, logger, *output, flag.Args(), *crossfade, *trim)
	case *input == "":
		fmt.Println("Error: -input or -output is required")
		flag.Usage()
		os.Exit(1)
	case *probe:
		runProbe(ctx, ff, *input)
	case *lastFrame != "":
		runLastFrame(ctx, ff, logger, *input, *lastFrame)
	case *poster != "":
		runPoster(ctx, ff, *input, *poster, *size, *seek, *verbose)
	default:
		runProbe(ctx, ff, *input)
	}
}

func runProbe(ctx context.Context, ff *converters.FFmpeg, input string) {
	mustExist(input)
	info, err := ff.Probe(ctx, input)
	if err != nil {
		log.Fatalf("❌ Failed to probe file: %v", err)
	}
	fmt.Println("\n📊 Clip Metadata:")
	fmt.Println(strings.Repeat("-", 40))
	printMediaInfo(info)
}

func runLastFrame(ctx context.Context, ff *converters.FFmpeg, logger *slog.Logger, input, output string) {
	mustExist(input)
	start := time.Now()
	still, err := frames.NewExtractor(ff, logger).LastFrame(ctx, input)
	if err != nil {
		log.Fatalf("❌ Frame extraction failed: %v", err)
	}
	if err := still.Save(output); err != nil {
		log.Fatalf("❌ Failed to write frame: %v", err)
	}
	fmt.Printf("\n✅ Last frame written\n")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("📁 Output: %s\n", output)
	fmt.Printf("📏 Dimensions: %dx%d pixels\n", still.Width(), still.Height())
	fmt.Printf("⏱️  Time: %v\n", time.Since(start).Round(time.Millisecond))
}

func runPoster(ctx context.Context, ff *converters.FFmpeg, input, output string, size, seek int, verbose bool) {
	mustExist(input)
	mimeType, err := detectMIMEType(input)
	if err != nil {
		log.Fatalf("❌ Failed to detect file type: %v", err)
	}
	converter, err := converters.GetConverter(mimeType)
	if err != nil {
		log.Fatalf("❌ %v\n\nSupported formats:\n%s", err, formatSupportedTypes())
	}
	if converter.Name() == ff.Name() {
		ff.SetSeekTime(seek)
		converter = ff
	}
	if verbose {
		fmt.Printf("📄 Input: %s\n", input)
		fmt.Printf("🔍 MIME type: %s\n", mimeType)
		fmt.Printf("🔧 Using converter: %s\n", converter.Name())
	}
	if err := converter.Poster(ctx, input, output, size, size); err != nil {
		log.Fatalf("❌ Poster failed: %v", err)
	}
	fi, err := os.Stat(output)
	if err != nil {
		log.Fatalf("❌ Failed to read output file: %v", err)
	}
	fmt.Printf("\n✅ Poster written: %s (%s)\n", output, formatBytes(fi.Size()))
}

func runAssemble(ctx context.Context, ff *converters.FFmpeg, logger *slog.Logger, output string, segments []string, crossfade float64, trim int) {
	if len(segments) == 0 {
		log.Fatalf("❌ No segments given")
	}
	a := assemble.New(ff, logger)
	a.TrimFrames = trim

	fmt.Printf("\n🎬 Assembling %d segments...\n", len(segments))
	start := time.Now()
	res, err := a.Assemble(ctx, assemble.Request{Segments: segments, Crossfade: crossfade, Output: output})
	if err != nil {
		log.Fatalf("❌ Assembly failed: %v", err)
	}

	fmt.Printf("\n✅ Assembly successful!\n")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("📁 Output: %s\n", res.Output)
	fmt.Printf("🎞️  Timeline: %d clips, %d transitions @ %d fps\n", len(res.Timeline), res.Transitions(), res.FPS)
	fmt.Printf("⏳ Duration: %.2f seconds (%s)\n", res.Duration, formatDuration(res.Duration))
	for _, s := range res.Skipped {
		fmt.Printf("⚠️  Skipped %s: %s\n", s.Path, s.Reason)
	}
	fmt.Printf("⏱️  Time: %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Println()
}

func mustExist(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Fatalf("❌ Input file not found: %s", path)
	}
}

// detectMIMEType sniffs the first 512 bytes of a file.
func detectMIMEType(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && n == 0 {
		return "", err
	}
	return http.DetectContentType(buffer[:n]), nil
}

func printMediaInfo(info *converters.MediaInfo) {
	if info.Width > 0 && info.Height > 0 {
		fmt.Printf("Dimensions: %dx%d pixels\n", info.Width, info.Height)
	}
	if info.Duration > 0 {
		fmt.Printf("Duration: %.2f seconds (%s)\n", info.Duration, formatDuration(info.Duration))
	}
	if info.FrameRate > 0 {
		fmt.Printf("Frame rate: %.3f fps\n", info.FrameRate)
	}
	if info.Codec != "" {
		fmt.Printf("Codec: %s\n", info.Codec)
	}
	fmt.Printf("Video stream: %t\n", info.HasVideo)
	if info.Size > 0 {
		fmt.Printf("File Size: %s\n", formatBytes(info.Size))
	}
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats seconds into MM:SS format
func formatDuration(seconds float64) string {
	mins := int(seconds) / 60
	secs := int(seconds) % 60
	return fmt.Sprintf("%02d:%02d", mins, secs)
}

func formatSupportedTypes() string {
	var b strings.Builder
	for _, t := range converters.SupportedMimeTypes() {
		fmt.Fprintf(&b, "  • %s\n", t)
	}
	return b.String()
}
