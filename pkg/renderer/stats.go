package renderer

import (
	"image"
	"time"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

// RenderStats describes the image after a progressive frame
type RenderStats struct {
	Frame            int           // frames accumulated so far
	TotalPixels      int           // pixels per frame
	SamplesPerPixel  int           // samples traced per pixel per frame
	TotalSamples     int           // samples per pixel accumulated so far
	AverageLuminance float64       // mean luminance of the displayed image
	FrameTime        time.Duration // time spent tracing and accumulating the frame
}

// CalculateAverageLuminance returns the mean Rec. 709 luminance of img
func CalculateAverageLuminance(img *image.RGBA) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			v := core.NewVec3(float32(c.R)/255, float32(c.G)/255, float32(c.B)/255)
			sum += float64(v.Luminance())
		}
	}
	return sum / float64(b.Dx()*b.Dy())
}
