package detections

import (
	"image"
	"image/color"
	"math"

	"github.com/Tutortoise/vision-service/models"
	"github.com/disintegration/imaging"
)

// transform records how an image was placed on the letterbox canvas.
type transform struct {
	scale      float64
	padX, padY int
	srcW, srcH int
}

// Letterbox scales img to fit inside width x height preserving aspect ratio and
// centres it on a canvas filled with PadValue.
func Letterbox(img image.Image, width, height int) (*image.NRGBA, transform) {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	scale := math.Min(float64(width)/float64(srcW), float64(height)/float64(srcH))
	newW := max(1, int(math.Round(float64(srcW)*scale)))
	newH := max(1, int(math.Round(float64(srcH)*scale)))

	resized := imaging.Resize(img, newW, newH, imaging.Linear)
	canvas := imaging.New(width, height, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255})

	padX, padY := (width-newW)/2, (height-newH)/2
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, transform{scale: scale, padX: padX, padY: padY, srcW: srcW, srcH: srcH}
}

// toSource maps a box from canvas coordinates back to the source image and clips it.
func (t transform) toSource(b models.Box) models.Box {
	out := models.Box{
		(b[0] - float64(t.padX)) / t.scale,
		(b[1] - float64(t.padY)) / t.scale,
		(b[2] - float64(t.padX)) / t.scale,
		(b[3] - float64(t.padY)) / t.scale,
	}
	return clipBox(out, t.srcW, t.srcH)
}

func clipBox(b models.Box, w, h int) models.Box {
	return models.Box{
		clamp(b[0], 0, float64(w)),
		clamp(b[1], 0, float64(h)),
		clamp(b[2], 0, float64(w)),
		clamp(b[3], 0, float64(h)),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
