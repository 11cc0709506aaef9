// Package inference runs YOLO-style ONNX detection models with ONNX Runtime.
//
// A model takes one letterboxed RGB image as a [1, 3, S, S] float tensor and
// returns a [1, 4+classes, anchors] tensor of center-form boxes followed by
// per-class scores.
package inference

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	inputName  = "images"
	outputName = "output0"

	// DefaultInputSize is the square input edge of stock YOLOv8 exports.
	DefaultInputSize = 640
)

var (
	ortEnvOnce sync.Once
	ortEnvErr  error
)

// SetLibraryPath points ONNX Runtime at its shared library. It must be called
// before the first session is created.
func SetLibraryPath(path string) {
	if path != "" {
		ort.SetSharedLibraryPath(path)
	}
}

func initORT() error {
	ortEnvOnce.Do(func() {
		ortEnvErr = ort.InitializeEnvironment()
	})
	return ortEnvErr
}

// Output is a raw model output tensor.
type Output struct {
	Data  []float32
	Shape []int64
}

// Session wraps one ONNX Runtime session. Infer calls are serialized.
type Session struct {
	session   *ort.DynamicAdvancedSession
	inputSize int
	mu        sync.Mutex
	closed    bool
}

// NewSession loads the model at modelPath. inputSize is the square input
// edge the model was exported with.
func NewSession(modelPath string, inputSize int) (*Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}

	if err := initORT(); err != nil {
		return nil, fmt.Errorf("initializing ONNX runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer func() { _ = options.Destroy() }()

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &Session{session: session, inputSize: inputSize}, nil
}

// InputSize returns the square input edge in pixels.
func (s *Session) InputSize() int {
	return s.inputSize
}

// Infer runs the model on a CHW tensor produced by Tensor.
func (s *Session) Infer(ctx context.Context, input []float32) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	size := int64(s.inputSize)
	if want := 3 * size * size; int64(len(input)) != want {
		return Output{}, fmt.Errorf("input has %d values, want %d", len(input), want)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Output{}, ErrSessionClosed
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, size, size), input)
	if err != nil {
		return Output{}, fmt.Errorf("creating %s tensor: %w", inputName, err)
	}
	defer func() { _ = inputTensor.Destroy() }()

	// Run allocates nil outputs.
	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return Output{}, fmt.Errorf("running inference: %w", err)
	}
	if outputs[0] == nil {
		return Output{}, fmt.Errorf("%w: no output produced", ErrUnexpectedOutput)
	}
	defer func() { _ = outputs[0].Destroy() }()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return Output{}, fmt.Errorf("%w: output is not float32", ErrUnexpectedOutput)
	}

	data := tensor.GetData()
	out := Output{
		Data:  make([]float32, len(data)),
		Shape: []int64(tensor.GetShape()),
	}
	copy(out.Data, data)
	return out, nil
}

// Close releases ONNX resources. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}
