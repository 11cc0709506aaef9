package inference

import (
	"fmt"
	"math"
	"sort"

	"github.com/jamesainslie/go-detscore/geometry"
)

const (
	// DefaultConfidence drops anchors whose best class score is lower.
	DefaultConfidence = 0.25

	// DefaultNMSThreshold suppresses same-class boxes overlapping more.
	DefaultNMSThreshold = 0.45
)

// Detection is one decoded box, normalized to the source image.
type Detection struct {
	Class int
	Score float64
	Box   geometry.Box
}

// Decode reads a YOLO detection head and returns boxes scoring at least
// confidence, mapped back through lb. The head is either [1, 4+nc, anchors]
// or its transpose [1, anchors, 4+nc]; the smaller axis holds the features.
func Decode(out Output, lb Letterbox, confidence float64) ([]Detection, error) {
	if len(out.Shape) != 3 || out.Shape[0] != 1 {
		return nil, fmt.Errorf("%w: shape %v", ErrUnexpectedOutput, out.Shape)
	}
	features, anchors := int(out.Shape[1]), int(out.Shape[2])
	transposed := features > anchors
	if transposed {
		features, anchors = anchors, features
	}
	if features <= 4 {
		return nil, fmt.Errorf("%w: %d features per anchor", ErrUnexpectedOutput, features)
	}
	if len(out.Data) != features*anchors {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrUnexpectedOutput, len(out.Data), out.Shape)
	}

	at := func(f, a int) float64 {
		if transposed {
			return float64(out.Data[a*features+f])
		}
		return float64(out.Data[f*anchors+a])
	}

	var dets []Detection
	for a := 0; a < anchors; a++ {
		best, score := -1, 0.0
		for c := 0; c < features-4; c++ {
			if s := at(4+c, a); best < 0 || s > score {
				best, score = c, s
			}
		}
		if math.IsNaN(score) || score < confidence {
			continue
		}
		box := lb.Normalize(at(0, a), at(1, a), at(2, a), at(3, a))
		if box.W <= 0 || box.H <= 0 {
			continue
		}
		dets = append(dets, Detection{Class: best, Score: score, Box: box})
	}
	return dets, nil
}

// NMS keeps the highest-scoring box of each same-class cluster whose IoU
// exceeds iouThreshold. The result is ordered by descending score.
func NMS(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) == 0 {
		return dets
	}

	sorted := append([]Detection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	keep := make([]bool, len(sorted))
	for i := range keep {
		keep[i] = true
	}

	for i := range sorted {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if !keep[j] || sorted[j].Class != sorted[i].Class {
				continue
			}
			if geometry.IoU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]Detection, 0, len(sorted))
	for i, d := range sorted {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}
