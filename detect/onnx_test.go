package detect

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/go-detscore/inference"
)

const testModelPath = "../testdata/yolov8n.onnx"

func TestNewONNX_ModelNotFound(t *testing.T) {
	_, err := NewONNX("../testdata/nonexistent.onnx", nil)
	assert.True(t, errors.Is(err, ErrModelNotFound), "got %v", err)
}

func TestONNX_Detect(t *testing.T) {
	if _, err := os.Stat(testModelPath); err != nil {
		t.Skipf("Skipping: model not available at %s", testModelPath)
	}
	det, err := NewONNX(testModelPath, nil, WithPoolSize(1), WithConfidence(0.5))
	if err != nil && strings.Contains(err.Error(), "ONNX runtime") {
		t.Skipf("Skipping: ONNX runtime not available: %v", err)
	}
	require.NoError(t, err)
	defer func() { _ = det.Close() }()

	preds, err := det.Detect(context.Background(), testFrame(t))
	require.NoError(t, err)
	for i, p := range preds {
		require.NoError(t, p.Box.Validate())
		assert.GreaterOrEqual(t, p.Confidence, 0.5)
		if i > 0 {
			assert.LessOrEqual(t, p.Confidence, preds[i-1].Confidence)
		}
	}
}

func TestONNXOptions(t *testing.T) {
	cfg := defaultONNXConfig()
	for _, opt := range []ONNXOption{
		WithInputSize(320),
		WithConfidence(0.4),
		WithNMSThreshold(0.6),
		WithPoolSize(3),
		// Out of range values are ignored.
		WithInputSize(0),
		WithConfidence(1.5),
		WithNMSThreshold(0),
		WithPoolSize(-1),
	} {
		opt(&cfg)
	}

	assert.Equal(t, onnxConfig{inputSize: 320, confidence: 0.4, nmsThreshold: 0.6, poolSize: 3}, cfg)
	assert.Equal(t, inference.DefaultInputSize, defaultONNXConfig().inputSize)
}
