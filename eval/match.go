// Package eval matches predictions to ground truth and turns the outcome
// into metrics and a scalar loss.
package eval

import (
	"fmt"

	"github.com/jamesainslie/go-detscore/detect"
	"github.com/jamesainslie/go-detscore/geometry"
	"github.com/jamesainslie/go-detscore/labels"
)

// DefaultIoUThreshold is the overlap a match must exceed.
const DefaultIoUThreshold = 0.5

// Match pairs one prediction with one annotation, by index.
type Match struct {
	Prediction int
	Annotation int
	IoU        float64
}

// Outcome is the result of matching one image.
type Outcome struct {
	Matches        []Match // in prediction order
	FalsePositives []int   // unmatched prediction indices
	FalseNegatives []int   // unmatched annotation indices
	IoUSum         float64
}

// MatchBoxes assigns predictions to annotations greedily.
//
// Predictions are visited in the given order. Each takes the unused
// annotation of the same class with the highest IoU, ties going to the lower
// annotation index, and keeps it only if the IoU exceeds threshold. A
// committed match is never revisited, so the result can differ from an
// optimal assignment; reported metrics depend on this.
//
// It returns geometry.ErrInvalidBox if any box is invalid.
func MatchBoxes(preds []detect.Prediction, anns []labels.Annotation, threshold float64) (Outcome, error) {
	for i, p := range preds {
		if err := p.Box.Validate(); err != nil {
			return Outcome{}, fmt.Errorf("prediction %d: %w", i, err)
		}
	}
	for i, a := range anns {
		if err := a.Box.Validate(); err != nil {
			return Outcome{}, fmt.Errorf("annotation %d: %w", i, err)
		}
	}

	used := make([]bool, len(anns))
	var out Outcome

	for pi, p := range preds {
		best, bestIoU := -1, 0.0
		for ai, a := range anns {
			if used[ai] || a.Class != p.Class {
				continue
			}
			iou := geometry.IoU(p.Box, a.Box)
			if best < 0 || iou > bestIoU {
				best, bestIoU = ai, iou
			}
		}

		if best >= 0 && bestIoU > threshold {
			used[best] = true
			out.Matches = append(out.Matches, Match{Prediction: pi, Annotation: best, IoU: bestIoU})
			out.IoUSum += bestIoU
			continue
		}
		out.FalsePositives = append(out.FalsePositives, pi)
	}

	for ai := range anns {
		if !used[ai] {
			out.FalseNegatives = append(out.FalseNegatives, ai)
		}
	}
	return out, nil
}
