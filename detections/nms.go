package detections

import (
	"math"
	"sort"

	"github.com/Tutortoise/vision-service/models"
)

type candidate struct {
	box     models.Box
	classID int
	score   float64
}

func calculateIOU(box1, box2 models.Box) float64 {
	x1 := math.Max(box1[0], box2[0])
	y1 := math.Max(box1[1], box2[1])
	x2 := math.Min(box1[2], box2[2])
	y2 := math.Min(box1[3], box2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := box1.Area() + box2.Area() - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

// nonMaxSuppression keeps the highest-scoring box of every overlapping group of the
// same class and returns at most limit candidates in descending score order.
func nonMaxSuppression(cands []candidate, iouThreshold float64, limit int) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	kept := make([]candidate, 0, min(len(cands), limit))
	for _, c := range cands {
		if len(kept) >= limit {
			break
		}
		suppressed := false
		for _, k := range kept {
			if k.classID == c.classID && calculateIOU(k.box, c.box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}
