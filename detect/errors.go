package detect

import "errors"

var (
	// ErrModelNotFound indicates the ONNX model file does not exist.
	ErrModelNotFound = errors.New("detect: model file not found")

	// ErrInvalidResponse indicates a detector produced a prediction that
	// cannot be scored: an unknown class, a malformed box or a confidence
	// outside [0, 1].
	ErrInvalidResponse = errors.New("detect: invalid detector response")
)
