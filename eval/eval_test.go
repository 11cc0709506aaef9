package eval

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/go-detscore/detect"
	"github.com/jamesainslie/go-detscore/geometry"
	"github.com/jamesainslie/go-detscore/labels"
)

func pred(class int, conf float64, cx, cy, w, h float64) detect.Prediction {
	return detect.Prediction{
		Class:      labels.ClassID(class),
		Confidence: conf,
		Box:        geometry.Box{CX: cx, CY: cy, W: w, H: h},
	}
}

func ann(class int, cx, cy, w, h float64) labels.Annotation {
	return labels.Annotation{
		Class: labels.ClassID(class),
		Box:   geometry.Box{CX: cx, CY: cy, W: w, H: h},
	}
}

func TestMatchBoxes(t *testing.T) {
	tests := []struct {
		name    string
		preds   []detect.Prediction
		anns    []labels.Annotation
		wantTP  int
		wantFP  []int
		wantFN  []int
		wantMap map[int]int // prediction -> annotation
	}{
		{
			name:    "perfect match",
			preds:   []detect.Prediction{pred(0, 0.9, 0.5, 0.5, 0.2, 0.2)},
			anns:    []labels.Annotation{ann(0, 0.5, 0.5, 0.2, 0.2)},
			wantTP:  1,
			wantMap: map[int]int{0: 0},
		},
		{
			name:   "class mismatch is never a candidate",
			preds:  []detect.Prediction{pred(1, 0.9, 0.5, 0.5, 0.2, 0.2)},
			anns:   []labels.Annotation{ann(0, 0.5, 0.5, 0.2, 0.2)},
			wantFP: []int{0},
			wantFN: []int{0},
		},
		{
			name:   "below threshold",
			preds:  []detect.Prediction{pred(0, 0.9, 0.5, 0.5, 0.2, 0.2)},
			anns:   []labels.Annotation{ann(0, 0.6, 0.5, 0.2, 0.2)},
			wantFP: []int{0},
			wantFN: []int{0},
		},
		{
			name: "duplicate prediction is a false positive",
			preds: []detect.Prediction{
				pred(0, 0.9, 0.5, 0.5, 0.2, 0.2),
				pred(0, 0.8, 0.5, 0.5, 0.2, 0.2),
			},
			anns:    []labels.Annotation{ann(0, 0.5, 0.5, 0.2, 0.2)},
			wantTP:  1,
			wantFP:  []int{1},
			wantMap: map[int]int{0: 0},
		},
		{
			name:  "best overlap wins",
			preds: []detect.Prediction{pred(0, 0.9, 0.5, 0.5, 0.2, 0.2)},
			anns: []labels.Annotation{
				ann(0, 0.52, 0.5, 0.2, 0.2),
				ann(0, 0.5, 0.5, 0.2, 0.2),
			},
			wantTP:  1,
			wantFN:  []int{0},
			wantMap: map[int]int{0: 1},
		},
		{
			name:  "ties go to the first annotation",
			preds: []detect.Prediction{pred(0, 0.9, 0.5, 0.5, 0.2, 0.2)},
			anns: []labels.Annotation{
				ann(0, 0.5, 0.5, 0.2, 0.2),
				ann(0, 0.5, 0.5, 0.2, 0.2),
			},
			wantTP:  1,
			wantFN:  []int{1},
			wantMap: map[int]int{0: 0},
		},
		{
			// The first prediction takes the annotation the second one
			// needs. An optimal assignment would pair 0->1 and 1->0.
			name: "greedy order dependence",
			preds: []detect.Prediction{
				pred(0, 0.9, 0.5, 0.5, 0.2, 0.2),
				pred(0, 0.8, 0.45, 0.5, 0.2, 0.2),
			},
			anns: []labels.Annotation{
				ann(0, 0.5, 0.5, 0.2, 0.2),
				ann(0, 0.53, 0.5, 0.2, 0.2),
			},
			wantTP:  1,
			wantFP:  []int{1},
			wantFN:  []int{1},
			wantMap: map[int]int{0: 0},
		},
		{
			name:   "no predictions",
			anns:   []labels.Annotation{ann(0, 0.5, 0.5, 0.2, 0.2), ann(1, 0.2, 0.2, 0.1, 0.1)},
			wantFN: []int{0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MatchBoxes(tt.preds, tt.anns, DefaultIoUThreshold)
			require.NoError(t, err)

			assert.Len(t, out.Matches, tt.wantTP)
			assert.Equal(t, tt.wantFP, out.FalsePositives)
			assert.Equal(t, tt.wantFN, out.FalseNegatives)
			for _, m := range out.Matches {
				assert.Equal(t, tt.wantMap[m.Prediction], m.Annotation, "prediction %d", m.Prediction)
			}
		})
	}
}

func TestMatchBoxes_InvalidBox(t *testing.T) {
	preds := []detect.Prediction{pred(0, 0.9, math.NaN(), 0.5, 0.2, 0.2)}
	anns := []labels.Annotation{ann(0, 0.5, 0.5, 0.2, 0.2)}

	_, err := MatchBoxes(preds, anns, DefaultIoUThreshold)
	assert.True(t, errors.Is(err, geometry.ErrInvalidBox), "got %v", err)

	_, err = Score(preds, anns, DefaultIoUThreshold)
	assert.True(t, errors.Is(err, geometry.ErrInvalidBox), "got %v", err)
}

func TestAggregate(t *testing.T) {
	preds := []detect.Prediction{
		pred(0, 0.9, 0.5, 0.5, 0.2, 0.2), // matches ann 0
		pred(2, 0.7, 0.1, 0.1, 0.1, 0.1), // false positive, but class 2 is in truth
		pred(3, 0.6, 0.9, 0.9, 0.1, 0.1), // false positive, class 3 not in truth
	}
	anns := []labels.Annotation{
		ann(0, 0.5, 0.5, 0.2, 0.2),
		ann(2, 0.7, 0.7, 0.1, 0.1),
		ann(2, 0.3, 0.7, 0.1, 0.1),
		ann(1, 0.3, 0.3, 0.1, 0.1),
	}

	out, err := MatchBoxes(preds, anns, DefaultIoUThreshold)
	require.NoError(t, err)
	m := Aggregate(out, preds, anns)

	assert.Equal(t, 1, m.TruePositives)
	assert.Equal(t, 2, m.FalsePositives)
	assert.Equal(t, 3, m.FalseNegatives)
	assert.InDelta(t, 1.0/3.0, m.Precision, 1e-12)
	assert.InDelta(t, 0.25, m.Recall, 1e-12)
	assert.Equal(t, 1.0, m.AverageIoU)
	// Classes {0, 1, 2}; 0 and 2 have predictions.
	assert.InDelta(t, 2.0/3.0, m.ClassAccuracy, 1e-12)
}

func TestScore_IdenticalSets(t *testing.T) {
	preds := []detect.Prediction{
		pred(0, 0.9, 0.5, 0.5, 0.2, 0.2),
		pred(2, 0.8, 0.13, 0.71, 0.04, 0.09),
		pred(1, 0.7, 0.8, 0.3, 0.15, 0.3),
	}
	anns := make([]labels.Annotation, len(preds))
	for i, p := range preds {
		anns[i] = labels.Annotation{Class: p.Class, Box: p.Box}
	}

	r, err := Score(preds, anns, DefaultIoUThreshold)
	require.NoError(t, err)
	require.True(t, r.GroundTruth)
	require.NotNil(t, r.Metrics)

	assert.Equal(t, 1.0, r.Metrics.Precision)
	assert.Equal(t, 1.0, r.Metrics.Recall)
	assert.Equal(t, 1.0, r.Metrics.AverageIoU)
	assert.Equal(t, 1.0, r.Metrics.ClassAccuracy)
	assert.Equal(t, 0.0, r.Loss)
}

func TestScore_SinglePerfectMatch(t *testing.T) {
	preds := []detect.Prediction{pred(0, 0.9, 0.5, 0.5, 0.2, 0.2)}
	anns := []labels.Annotation{ann(0, 0.5, 0.5, 0.2, 0.2)}

	r, err := Score(preds, anns, DefaultIoUThreshold)
	require.NoError(t, err)

	assert.Equal(t, Metrics{
		TruePositives: 1,
		Precision:     1,
		Recall:        1,
		AverageIoU:    1,
		ClassAccuracy: 1,
	}, *r.Metrics)
	assert.Equal(t, 0.0, r.Loss)
}

func TestScore_NoPredictions(t *testing.T) {
	anns := []labels.Annotation{ann(0, 0.5, 0.5, 0.2, 0.2)}

	r, err := Score(nil, anns, DefaultIoUThreshold)
	require.NoError(t, err)
	require.True(t, r.GroundTruth)

	assert.Equal(t, 0.0, r.Metrics.Precision)
	assert.Equal(t, 0.0, r.Metrics.Recall)
	assert.Equal(t, 0.0, r.Metrics.AverageIoU)
	assert.Equal(t, 0.0, r.Metrics.ClassAccuracy)
	assert.Equal(t, 4.0, r.Loss)
}

func TestScore_ConfidenceFallback(t *testing.T) {
	tests := []struct {
		name  string
		preds []detect.Prediction
		want  float64
	}{
		{name: "no predictions", want: 1.0},
		{name: "single", preds: []detect.Prediction{pred(0, 0.4, 0.1, 0.1, 0.1, 0.1)}, want: 0.6},
		{
			name: "mean",
			preds: []detect.Prediction{
				pred(0, 0.9, 0.1, 0.1, 0.1, 0.1),
				pred(1, 0.5, 0.5, 0.5, 0.1, 0.1),
			},
			want: 0.3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Score(tt.preds, nil, DefaultIoUThreshold)
			require.NoError(t, err)
			assert.False(t, r.GroundTruth)
			assert.Nil(t, r.Metrics)
			assert.InDelta(t, tt.want, r.Loss, 1e-12)
		})
	}

	r, err := Score(nil, []labels.Annotation{}, DefaultIoUThreshold)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Loss)
}

func TestLoss(t *testing.T) {
	assert.Equal(t, 4.0, Loss(Metrics{}))
	assert.InDelta(t, 2.0, Loss(Metrics{Precision: 0.5, Recall: 0.5, AverageIoU: 0.5, ClassAccuracy: 0.5}), 1e-12)
}

func TestMatchBoxes_ThresholdIsExclusive(t *testing.T) {
	preds := []detect.Prediction{pred(0, 0.9, 0.5, 0.5, 0.2, 0.2)}
	anns := []labels.Annotation{ann(0, 0.55, 0.5, 0.2, 0.2)}
	iou := geometry.IoU(preds[0].Box, anns[0].Box)
	require.Greater(t, iou, 0.0)

	out, err := MatchBoxes(preds, anns, iou)
	require.NoError(t, err)
	assert.Empty(t, out.Matches, "IoU equal to the threshold does not match")
	assert.Equal(t, []int{0}, out.FalsePositives)
	assert.Equal(t, []int{0}, out.FalseNegatives)

	out, err = MatchBoxes(preds, anns, math.Nextafter(iou, 0))
	require.NoError(t, err)
	assert.Len(t, out.Matches, 1)
}

func TestScore_InvalidBoxWithoutAnnotations(t *testing.T) {
	for _, p := range []detect.Prediction{
		pred(0, 0.9, 0.5, 0.5, -1, 0.2),
		pred(0, 0.9, math.NaN(), 0.5, 0.2, 0.2),
	} {
		_, err := Score([]detect.Prediction{p}, nil, DefaultIoUThreshold)
		assert.True(t, errors.Is(err, geometry.ErrInvalidBox), "box %v: got %v", p.Box, err)
	}
}
