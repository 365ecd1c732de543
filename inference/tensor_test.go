package inference

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillCHW(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 3; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: uint8(y * 50), B: 0, A: 255})
		}
	}

	t.Run("unit scale", func(t *testing.T) {
		dst := make([]float32, 3*3*5)
		FillCHW(dst, img, UnitScale)

		plane := 15
		assert.InDelta(t, 1.0, dst[0], 1e-6)
		assert.InDelta(t, 0.0, dst[plane], 1e-6)
		assert.InDelta(t, 200.0/255.0, dst[plane+4*3+2], 1e-6)
		assert.InDelta(t, 0.0, dst[2*plane+7], 1e-6)
	})

	t.Run("imagenet", func(t *testing.T) {
		dst := make([]float32, 3*3*5)
		FillCHW(dst, img, ImageNet)

		assert.InDelta(t, (1.0-0.485)/0.229, dst[0], 1e-5)
		assert.InDelta(t, (0.0-0.406)/0.225, dst[30], 1e-5)
	})
}

func TestFillCHWMatchesSequential(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 37))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}

	want := make([]float32, 3*64*37)
	fillRows(want, img, ImageNet, 0, 37)

	got := make([]float32, 3*64*37)
	FillCHW(got, img, ImageNet)
	require.Equal(t, want, got)
}

func TestCPUFeatures(t *testing.T) {
	assert.NotEmpty(t, CPUFeatures())
}
