// Package detect defines the object detector boundary and its adapters.
//
// A Detector turns an image into predictions whose classes are already
// canonical labels.ClassID values, so they can be matched against ground
// truth without further translation.
package detect

import (
	"context"
	"encoding/json"

	"github.com/jamesainslie/go-detscore/geometry"
	"github.com/jamesainslie/go-detscore/labels"
)

// Prediction is one detected object.
type Prediction struct {
	Class      labels.ClassID
	Confidence float64
	Box        geometry.Box
}

// Detector produces predictions for the image at imagePath.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Prediction, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, imagePath string) ([]Prediction, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, imagePath string) ([]Prediction, error) {
	return f(ctx, imagePath)
}

// record is the persisted form of a Prediction.
type record struct {
	Class int        `json:"class"`
	Name  string     `json:"name,omitempty"`
	Conf  float64    `json:"conf"`
	BBox  [4]float64 `json:"bbox"`
}

// Encode serializes predictions for storage. Class names are included when
// classes is non-nil so stored payloads stay readable.
func Encode(preds []Prediction, classes *labels.ClassMap) (json.RawMessage, error) {
	recs := make([]record, len(preds))
	for i, p := range preds {
		recs[i] = record{
			Class: int(p.Class),
			Conf:  p.Confidence,
			BBox:  [4]float64{p.Box.CX, p.Box.CY, p.Box.W, p.Box.H},
		}
		if classes.Len() > 0 {
			recs[i].Name = classes.Name(p.Class)
		}
	}
	return json.Marshal(recs)
}

// Decode parses a payload written by Encode.
func Decode(data []byte) ([]Prediction, error) {
	var recs []record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	preds := make([]Prediction, len(recs))
	for i, r := range recs {
		preds[i] = Prediction{
			Class:      labels.ClassID(r.Class),
			Confidence: r.Conf,
			Box:        geometry.Box{CX: r.BBox[0], CY: r.BBox[1], W: r.BBox[2], H: r.BBox[3]},
		}
	}
	return preds, nil
}
