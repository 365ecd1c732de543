package detections

const (
	DefaultInputSize     = 640
	DefaultConfThreshold = 0.25
	DefaultIoUThreshold  = 0.7
	DefaultMaxDetections = 300

	// PadValue fills the letterbox border, matching the Ultralytics export.
	PadValue = 114
)
