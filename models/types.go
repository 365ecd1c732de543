package models

import "time"

// Box is an axis-aligned bounding box in absolute pixel coordinates: x1, y1, x2, y2.
type Box [4]float64

func (b Box) Width() float64  { return b[2] - b[0] }
func (b Box) Height() float64 { return b[3] - b[1] }

func (b Box) Area() float64 {
	if b.Width() <= 0 || b.Height() <= 0 {
		return 0
	}
	return b.Width() * b.Height()
}

type ClassificationResult struct {
	ClassID  int     `json:"class_id"`
	Score    float64 `json:"score"`
	Category string  `json:"category"`
}

type Detection struct {
	Box        Box     `json:"box"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

type DetectionResult struct {
	Detections []Detection `json:"detections"`
	Count      int         `json:"count"`
}

// NewDetectionResult derives Count from the slice. A nil slice encodes as [].
func NewDetectionResult(detections []Detection) DetectionResult {
	if detections == nil {
		detections = []Detection{}
	}
	return DetectionResult{
		Detections: detections,
		Count:      len(detections),
	}
}

type AnalysisResult struct {
	Classification  ClassificationResult `json:"classification"`
	ObjectDetection DetectionResult      `json:"object_detection"`
}

type ProcessingTimings struct {
	RequestID      string
	ImageLoad      time.Duration
	Classification time.Duration
	Detection      time.Duration
	Total          time.Duration
}

// PoolStats is a point-in-time copy of a model session pool's counters.
type PoolStats struct {
	Name            string  `json:"name"`
	Size            int     `json:"pool_size"`
	Live            int     `json:"live_sessions"`
	InUse           int     `json:"sessions_in_use"`
	TotalAcquired   int64   `json:"total_acquired"`
	TotalReleased   int64   `json:"total_released"`
	AcquireFailures int64   `json:"acquire_failures"`
	WaitTimeMs      float64 `json:"wait_time_ms"`
	LastError       string  `json:"last_error,omitempty"`
}
