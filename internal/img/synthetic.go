package img

import (
	"crypto/sha256"
	"image/color"

	"github.com/disintegration/imaging"
)

// Render draws a deterministic diagonal gradient derived from seed. It stands
// in for a remote text-to-image model when no vendor credentials are configured.
func Render(width, height int, seed string) *Still {
	if width <= 0 {
		width = 64
	}
	if height <= 0 {
		height = 64
	}
	sum := sha256.Sum256([]byte(seed))
	from := color.NRGBA{R: sum[0], G: sum[1], B: sum[2], A: 255}
	to := color.NRGBA{R: sum[3], G: sum[4], B: sum[5], A: 255}

	canvas := imaging.New(width, height, from)
	span := width + height - 2
	if span <= 0 {
		span = 1
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			t := float64(x+y) / float64(span)
			canvas.SetNRGBA(x, y, color.NRGBA{
				R: lerp(from.R, to.R, t),
				G: lerp(from.G, to.G, t),
				B: lerp(from.B, to.B, t),
				A: 255,
			})
		}
	}
	return &Still{Image: canvas}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
