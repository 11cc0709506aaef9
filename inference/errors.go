package inference

import "errors"

var (
	// ErrPoolClosed is returned by Pool.Acquire after Close.
	ErrPoolClosed = errors.New("inference: pool is closed")

	// ErrSessionClosed is returned by Session.Infer after Close.
	ErrSessionClosed = errors.New("inference: session is closed")

	// ErrUnexpectedOutput indicates a model output that is not a YOLO
	// detection head.
	ErrUnexpectedOutput = errors.New("inference: unexpected model output")
)
