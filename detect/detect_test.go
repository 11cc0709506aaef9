package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/go-detscore/geometry"
	"github.com/jamesainslie/go-detscore/labels"
)

func TestEncodeDecode(t *testing.T) {
	preds := []Prediction{
		{Class: 2, Confidence: 0.91, Box: geometry.Box{CX: 0.5, CY: 0.25, W: 0.1, H: 0.3}},
		{Class: 0, Confidence: 0.4, Box: geometry.Box{CX: 0.7, CY: 0.7, W: 0.01, H: 0.01}},
	}

	data, err := Encode(preds, testClasses(t))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"player"`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, preds, got)

	data, err = Encode(preds, nil)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"name"`)
}

func TestEncode_Empty(t *testing.T) {
	data, err := Encode(nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestDetectorFunc(t *testing.T) {
	var seen string
	d := DetectorFunc(func(_ context.Context, path string) ([]Prediction, error) {
		seen = path
		return []Prediction{{Class: labels.ClassID(1)}}, nil
	})

	preds, err := d.Detect(context.Background(), "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", seen)
	assert.Len(t, preds, 1)
}
