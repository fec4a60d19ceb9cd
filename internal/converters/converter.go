// Package converters wraps the external media tools (ffmpeg, ffprobe) used to
// inspect, cut, blend and join generated clips.
package converters

import (
	"context"
	"fmt"
	"strings"
)

// Converter is implemented by tools that can inspect a media file and render a
// poster still from it.
type Converter interface {
	// Name returns the converter name (e.g., "ffmpeg")
	Name() string

	// Supports returns true if this converter can handle the given MIME type
	Supports(mimeType string) bool

	// Poster renders a representative still of the input into output
	Poster(ctx context.Context, input, output string, width, height int) error

	// Probe returns metadata about the input file without converting it
	Probe(ctx context.Context, input string) (*MediaInfo, error)
}

// MediaInfo contains metadata about a media file
type MediaInfo struct {
	Width     int     // Width in pixels of the first video stream
	Height    int     // Height in pixels of the first video stream
	Duration  float64 // Duration in seconds
	FrameRate float64 // Frames per second of the first video stream, 0 if unknown
	HasVideo  bool    // At least one video stream is present
	Codec     string  // Codec of the first video stream
	Size      int64   // File size in bytes
}

// GetConverter returns the appropriate converter for the given MIME type
func GetConverter(mimeType string) (Converter, error) {
	mimeType = strings.ToLower(mimeType)

	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return NewFFmpeg(), nil
	case strings.HasPrefix(mimeType, "image/"):
		return nil, fmt.Errorf("image conversion handled by the imaging library")
	default:
		return nil, fmt.Errorf("unsupported MIME type: %s", mimeType)
	}
}

// SupportedMimeTypes returns the container types produced by generation backends.
func SupportedMimeTypes() []string {
	return []string{
		"video/mp4",
		"video/mpeg",
		"video/quicktime",
		"video/webm",
		"video/x-matroska",
	}
}
