package eval

import (
	"fmt"

	"github.com/jamesainslie/go-detscore/detect"
	"github.com/jamesainslie/go-detscore/labels"
)

// Result is the scalar score of one image.
type Result struct {
	// Loss is in [0, 4] when GroundTruth is set and in [0, 1] otherwise.
	// Lower is better.
	Loss float64

	// GroundTruth reports whether Loss came from matching against
	// annotations rather than from prediction confidence alone.
	GroundTruth bool

	// Metrics is nil on the confidence path.
	Metrics *Metrics
}

// Loss sums one penalty term per failure mode so a high loss can be
// decomposed into its causes.
func Loss(m Metrics) float64 {
	return (1 - m.AverageIoU) + (1 - m.Precision) + (1 - m.Recall) + (1 - m.ClassAccuracy)
}

// ConfidenceLoss is 1 minus the mean prediction confidence, or exactly 1
// when there are no predictions. It stands in for Loss when an image has no
// ground truth.
func ConfidenceLoss(preds []detect.Prediction) float64 {
	if len(preds) == 0 {
		return 1
	}
	var sum float64
	for _, p := range preds {
		sum += p.Confidence
	}
	return 1 - sum/float64(len(preds))
}

// Score evaluates one image. With annotations it matches at threshold and
// composes Loss; without, it falls back to ConfidenceLoss. Prediction boxes
// are validated on both paths.
func Score(preds []detect.Prediction, anns []labels.Annotation, threshold float64) (Result, error) {
	for i, p := range preds {
		if err := p.Box.Validate(); err != nil {
			return Result{}, fmt.Errorf("prediction %d: %w", i, err)
		}
	}
	if len(anns) == 0 {
		return Result{Loss: ConfidenceLoss(preds)}, nil
	}

	out, err := MatchBoxes(preds, anns, threshold)
	if err != nil {
		return Result{}, err
	}
	m := Aggregate(out, preds, anns)
	return Result{Loss: Loss(m), GroundTruth: true, Metrics: &m}, nil
}
