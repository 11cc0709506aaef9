package eval

import (
	"sort"

	"github.com/jamesainslie/go-detscore/detect"
	"github.com/jamesainslie/go-detscore/labels"
)

// Sample is one labelled image's predictions and ground truth.
type Sample struct {
	Predictions []detect.Prediction
	Annotations []labels.Annotation
}

// SweepResult holds pooled counts for one IoU threshold.
type SweepResult struct {
	Threshold      float64
	TruePositives  int
	FalsePositives int
	FalseNegatives int
	Precision      float64
	Recall         float64
	F1             float64
}

// SweepThresholds generates threshold values from min up to, but excluding, max.
func SweepThresholds(min, max, step float64) []float64 {
	if step <= 0 {
		return nil
	}
	var thresholds []float64
	for i := 0; ; i++ {
		t := min + float64(i)*step
		if t >= max-step/2 {
			break
		}
		thresholds = append(thresholds, t)
	}
	return thresholds
}

// Sweep matches every sample at each threshold and returns pooled results
// sorted by F1, best first. Samples without annotations are skipped.
func Sweep(samples []Sample, thresholds []float64) ([]SweepResult, error) {
	results := make([]SweepResult, 0, len(thresholds))

	for _, threshold := range thresholds {
		r := SweepResult{Threshold: threshold}
		for _, s := range samples {
			if len(s.Annotations) == 0 {
				continue
			}
			out, err := MatchBoxes(s.Predictions, s.Annotations, threshold)
			if err != nil {
				return nil, err
			}
			r.TruePositives += len(out.Matches)
			r.FalsePositives += len(out.FalsePositives)
			r.FalseNegatives += len(out.FalseNegatives)
		}

		if r.TruePositives+r.FalsePositives > 0 {
			r.Precision = float64(r.TruePositives) / float64(r.TruePositives+r.FalsePositives)
		}
		if r.TruePositives+r.FalseNegatives > 0 {
			r.Recall = float64(r.TruePositives) / float64(r.TruePositives+r.FalseNegatives)
		}
		if r.Precision+r.Recall > 0 {
			r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].F1 > results[j].F1
	})
	return results, nil
}
