package inference

import (
	"image"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"
)

// Normalization is applied per channel after scaling pixels to [0,1]: (v - Mean) / Std.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

var (
	UnitScale = Normalization{Mean: [3]float32{0, 0, 0}, Std: [3]float32{1, 1, 1}}
	ImageNet  = Normalization{
		Mean: [3]float32{0.485, 0.456, 0.406},
		Std:  [3]float32{0.229, 0.224, 0.225},
	}
)

var parallelFill = cpu.X86.HasAVX2 || cpu.X86.HasSSE41 || cpu.ARM64.HasASIMD

// CPUFeatures describes the vector extensions picked up at start-up.
func CPUFeatures() string {
	var feats []string
	if cpu.X86.HasAVX512F {
		feats = append(feats, "avx512f")
	}
	if cpu.X86.HasAVX2 {
		feats = append(feats, "avx2")
	}
	if cpu.X86.HasSSE41 {
		feats = append(feats, "sse4.1")
	}
	if cpu.ARM64.HasASIMD {
		feats = append(feats, "asimd")
	}
	if len(feats) == 0 {
		return "generic"
	}
	return strings.Join(feats, ",")
}

// FillCHW writes img into dst as planar RGB (all R, then G, then B). dst must hold
// 3*w*h values where w and h are the image bounds.
func FillCHW(dst []float32, img *image.NRGBA, norm Normalization) {
	h := img.Rect.Dy()
	workers := 1
	if parallelFill {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > h {
		workers = h
	}
	if workers <= 1 {
		fillRows(dst, img, norm, 0, h)
		return
	}

	rowsPerWorker := h / workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		start := i * rowsPerWorker
		end := start + rowsPerWorker
		if i == workers-1 {
			end = h
		}
		go func(start, end int) {
			defer wg.Done()
			fillRows(dst, img, norm, start, end)
		}(start, end)
	}
	wg.Wait()
}

func fillRows(dst []float32, img *image.NRGBA, norm Normalization, startY, endY int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	channelSize := w * h
	var scale [3]float32
	for c := 0; c < 3; c++ {
		scale[c] = 1 / (255 * norm.Std[c])
	}
	for y := startY; y < endY; y++ {
		row := img.Pix[y*img.Stride:]
		offset := y * w
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			i := offset + x
			dst[i] = float32(p[0])*scale[0] - norm.Mean[0]/norm.Std[0]
			dst[channelSize+i] = float32(p[1])*scale[1] - norm.Mean[1]/norm.Std[1]
			dst[2*channelSize+i] = float32(p[2])*scale[2] - norm.Mean[2]/norm.Std[2]
		}
	}
}
