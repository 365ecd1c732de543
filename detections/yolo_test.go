package detections

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	inShape  []int64
	outShape []int64
	output   []float32
	err      error
	calls    int
}

func (f *fakeRunner) Run(_ context.Context, input []float32) ([]float32, error) {
	f.calls++
	return f.output, f.err
}

func (f *fakeRunner) InputShape() []int64  { return f.inShape }
func (f *fakeRunner) OutputShape() []int64 { return f.outShape }

// yoloOutput lays out rows of (cx, cy, w, h, scores...) as a [1, attrs, anchors] tensor.
func yoloOutput(rows [][]float32) []float32 {
	attrs, anchors := len(rows[0]), len(rows)
	out := make([]float32, attrs*anchors)
	for a, row := range rows {
		for i, v := range row {
			out[i*anchors+a] = v
		}
	}
	return out
}

func TestDecodeOutput(t *testing.T) {
	rows := [][]float32{
		{100, 100, 20, 40, 0.9, 0.1},
		{50, 50, 10, 10, 0.1, 0.2},
		{200, 300, 60, 20, 0.3, 0.6},
	}

	t.Run("channels first", func(t *testing.T) {
		cands, err := decodeOutput(yoloOutput(rows), []int64{1, 6, 3}, 2, 0.25)
		require.NoError(t, err)
		require.Len(t, cands, 2)
		assert.Equal(t, models.Box{90, 80, 110, 120}, cands[0].box)
		assert.Equal(t, 0, cands[0].classID)
		assert.InDelta(t, 0.9, cands[0].score, 1e-6)
		assert.Equal(t, 1, cands[1].classID)
	})

	t.Run("anchors first", func(t *testing.T) {
		var flat []float32
		for _, r := range rows {
			flat = append(flat, r...)
		}
		// Pad to more anchors than attributes so the layout is detectable.
		for i := 0; i < 5; i++ {
			flat = append(flat, 0, 0, 0, 0, 0, 0)
		}
		cands, err := decodeOutput(flat, []int64{1, 8, 6}, 2, 0.25)
		require.NoError(t, err)
		require.Len(t, cands, 2)
		assert.Equal(t, models.Box{170, 290, 230, 310}, cands[1].box)
	})

	t.Run("anchors first with fewer anchors than attributes", func(t *testing.T) {
		var flat []float32
		for _, r := range rows {
			flat = append(flat, r...)
		}
		cands, err := decodeOutput(flat, []int64{1, 3, 6}, 2, 0.25)
		require.NoError(t, err)
		require.Len(t, cands, 2)
		assert.Equal(t, models.Box{90, 80, 110, 120}, cands[0].box)
		assert.Equal(t, models.Box{170, 290, 230, 310}, cands[1].box)
		assert.Equal(t, 1, cands[1].classID)
	})

	t.Run("unknown class count falls back to axis sizes", func(t *testing.T) {
		cands, err := decodeOutput(yoloOutput(rows), []int64{1, 6, 3}, 0, 0.25)
		require.NoError(t, err)
		assert.Len(t, cands, 2)
	})

	t.Run("size mismatch", func(t *testing.T) {
		_, err := decodeOutput(make([]float32, 10), []int64{1, 6, 3}, 2, 0.25)
		assert.Error(t, err)
	})
}

func TestNonMaxSuppression(t *testing.T) {
	cands := []candidate{
		{box: models.Box{0, 0, 100, 100}, classID: 0, score: 0.8},
		{box: models.Box{5, 5, 105, 105}, classID: 0, score: 0.9},
		{box: models.Box{5, 5, 105, 105}, classID: 1, score: 0.7},
		{box: models.Box{300, 300, 400, 400}, classID: 0, score: 0.5},
	}

	kept := nonMaxSuppression(cands, 0.7, 300)
	require.Len(t, kept, 3)
	assert.InDelta(t, 0.9, kept[0].score, 1e-9)
	assert.Equal(t, 1, kept[1].classID)
	assert.InDelta(t, 0.5, kept[2].score, 1e-9)

	assert.Len(t, nonMaxSuppression(cands, 0.7, 2), 2)
}

func TestCalculateIOU(t *testing.T) {
	assert.InDelta(t, 1.0, calculateIOU(models.Box{0, 0, 10, 10}, models.Box{0, 0, 10, 10}), 1e-9)
	assert.InDelta(t, 25.0/175.0, calculateIOU(models.Box{0, 0, 10, 10}, models.Box{5, 5, 15, 15}), 1e-9)
	assert.Zero(t, calculateIOU(models.Box{0, 0, 10, 10}, models.Box{20, 20, 30, 30}))
}

func TestLetterbox(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1280, 640))
	canvas, tr := Letterbox(img, 640, 640)

	assert.Equal(t, image.Rect(0, 0, 640, 640), canvas.Bounds())
	assert.InDelta(t, 0.5, tr.scale, 1e-9)
	assert.Equal(t, 0, tr.padX)
	assert.Equal(t, 160, tr.padY)
	assert.Equal(t, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255}, canvas.NRGBAAt(10, 10))

	box := tr.toSource(models.Box{270, 295, 370, 345})
	assert.InDeltaSlice(t, []float64{540, 270, 740, 370}, box[:], 1e-9)

	clipped := tr.toSource(models.Box{-20, 100, 700, 900})
	assert.InDeltaSlice(t, []float64{0, 0, 1280, 640}, clipped[:], 1e-9)
}

func TestYOLODetector(t *testing.T) {
	runner := &fakeRunner{
		inShape:  []int64{1, 3, 640, 640},
		outShape: []int64{1, 6, 3},
		output: yoloOutput([][]float32{
			{320, 320, 100, 50, 0.85, 0.05},
			{322, 321, 100, 50, 0.80, 0.05},
			{10, 10, 5, 5, 0.01, 0.02},
		}),
	}
	d, err := NewYOLO(runner, Config{ClassNames: []string{"person", "shopping_cart"}})
	require.NoError(t, err)

	dets, err := d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1280, 640)))
	require.NoError(t, err)
	require.Len(t, dets, 1)

	det := dets[0]
	assert.Equal(t, "person", det.Class)
	assert.InDelta(t, 0.85, det.Confidence, 1e-6)
	assert.InDeltaSlice(t, []float64{540, 270, 740, 370}, det.Box[:], 1e-6)

	result := models.NewDetectionResult(dets)
	assert.Equal(t, len(result.Detections), result.Count)
}

func TestYOLODetectorErrors(t *testing.T) {
	_, err := NewYOLO(&fakeRunner{outShape: []int64{1, 84}}, Config{})
	assert.Error(t, err)

	boom := inference.NewError(inference.KindUnavailable, "timeout waiting for available session", nil)
	d, err := NewYOLO(&fakeRunner{outShape: []int64{1, 84, 8400}, err: boom}, Config{})
	require.NoError(t, err)
	_, err = d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	assert.ErrorIs(t, err, boom)

	d, err = NewYOLO(&fakeRunner{outShape: []int64{1, 84, 8400}, output: make([]float32, 3)}, Config{})
	require.NoError(t, err)
	_, err = d.Detect(context.Background(), image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	assert.Equal(t, inference.KindInferenceFailure, inference.KindOf(err))
}

func TestParseNames(t *testing.T) {
	names, err := ParseNames(`{0: 'person', 1: "shopping cart", 3: 'it\'s'}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "shopping cart", "", `it\'s`}, names)

	_, err = ParseNames("not a dict")
	assert.Error(t, err)

	_, err = ParseNames(`{0: 'person', 99999999999: 'huge'}`)
	assert.ErrorContains(t, err, "exceeds")

	names, err = ParseNames(`{100000: 'last'}`)
	require.NoError(t, err)
	assert.Len(t, names, maxClassID+1)

	assert.Len(t, COCONames, 80)
}
