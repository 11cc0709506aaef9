package eval

import (
	"github.com/jamesainslie/go-detscore/detect"
	"github.com/jamesainslie/go-detscore/labels"
)

// Metrics holds per-image evaluation results. Ratios are in [0, 1] and are 0
// when their denominator is 0.
type Metrics struct {
	TruePositives  int
	FalsePositives int
	FalseNegatives int
	Precision      float64
	Recall         float64
	AverageIoU     float64
	// ClassAccuracy is the share of distinct ground-truth classes that have at
	// least one prediction of that class. It is a presence check: a class with
	// one prediction and five missed instances still counts as covered.
	ClassAccuracy float64
}

// Aggregate computes metrics for an outcome of MatchBoxes(preds, anns, ...).
func Aggregate(out Outcome, preds []detect.Prediction, anns []labels.Annotation) Metrics {
	tp := len(out.Matches)
	fp := len(out.FalsePositives)

	m := Metrics{
		TruePositives:  tp,
		FalsePositives: fp,
		FalseNegatives: len(out.FalseNegatives),
	}

	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if len(anns) > 0 {
		m.Recall = float64(tp) / float64(len(anns))
	}
	if tp > 0 {
		m.AverageIoU = out.IoUSum / float64(tp)
	}
	m.ClassAccuracy = classAccuracy(preds, anns)

	return m
}

func classAccuracy(preds []detect.Prediction, anns []labels.Annotation) float64 {
	if len(anns) == 0 {
		return 0
	}

	predicted := make(map[labels.ClassID]bool, len(preds))
	for _, p := range preds {
		predicted[p.Class] = true
	}

	truth := make(map[labels.ClassID]bool, len(anns))
	covered := 0
	for _, a := range anns {
		if truth[a.Class] {
			continue
		}
		truth[a.Class] = true
		if predicted[a.Class] {
			covered++
		}
	}
	return float64(covered) / float64(len(truth))
}
