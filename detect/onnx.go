package detect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/jamesainslie/go-detscore/inference"
	"github.com/jamesainslie/go-detscore/labels"
)

// ONNXOption configures an ONNX detector.
type ONNXOption func(*onnxConfig)

type onnxConfig struct {
	inputSize    int
	confidence   float64
	nmsThreshold float64
	poolSize     int
}

func defaultONNXConfig() onnxConfig {
	return onnxConfig{
		inputSize:    inference.DefaultInputSize,
		confidence:   inference.DefaultConfidence,
		nmsThreshold: inference.DefaultNMSThreshold,
		poolSize:     runtime.NumCPU(),
	}
}

// WithInputSize sets the square model input edge (default: 640).
func WithInputSize(n int) ONNXOption {
	return func(c *onnxConfig) {
		if n > 0 {
			c.inputSize = n
		}
	}
}

// WithConfidence sets the minimum class score kept (default: 0.25).
func WithConfidence(v float64) ONNXOption {
	return func(c *onnxConfig) {
		if v >= 0 && v <= 1 {
			c.confidence = v
		}
	}
}

// WithNMSThreshold sets the IoU above which same-class boxes are
// suppressed (default: 0.45).
func WithNMSThreshold(v float64) ONNXOption {
	return func(c *onnxConfig) {
		if v > 0 && v <= 1 {
			c.nmsThreshold = v
		}
	}
}

// WithPoolSize sets the ONNX session pool size (default: runtime.NumCPU()).
func WithPoolSize(n int) ONNXOption {
	return func(c *onnxConfig) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

// ONNX runs a YOLOv8-style detection model locally. It is safe for
// concurrent use.
type ONNX struct {
	pool    *inference.Pool
	classes *labels.ClassMap
	cfg     onnxConfig
}

var _ Detector = (*ONNX)(nil)

// NewONNX loads the model at modelPath. Model class indices are checked
// against classes; a nil map accepts any index.
func NewONNX(modelPath string, classes *labels.ClassMap, opts ...ONNXOption) (*ONNX, error) {
	cfg := defaultONNXConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := os.Stat(modelPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
		}
		return nil, fmt.Errorf("checking model file: %w", err)
	}

	pool, err := inference.NewPool(modelPath, cfg.poolSize, cfg.inputSize)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", modelPath, err)
	}

	return &ONNX{pool: pool, classes: classes, cfg: cfg}, nil
}

// Detect implements Detector. Predictions are ordered by descending
// confidence.
func (d *ONNX) Detect(ctx context.Context, imagePath string) ([]Prediction, error) {
	img, err := inference.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}

	canvas, lb := inference.LetterboxImage(img, d.pool.InputSize())
	out, err := d.pool.Infer(ctx, inference.Tensor(canvas))
	if err != nil {
		return nil, err
	}

	dets, err := inference.Decode(out, lb, d.cfg.confidence)
	if err != nil {
		return nil, err
	}
	dets = inference.NMS(dets, d.cfg.nmsThreshold)

	preds := make([]Prediction, 0, len(dets))
	for _, det := range dets {
		class, err := d.classes.FromIndex(det.Class)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
		preds = append(preds, Prediction{
			Class:      class,
			Confidence: det.Score,
			Box:        det.Box,
		})
	}
	return preds, nil
}

// Close releases the session pool.
func (d *ONNX) Close() error {
	return d.pool.Close()
}
