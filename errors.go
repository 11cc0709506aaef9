package detscore

import "errors"

// Per-image failures. A run records them in Summary.Failures and moves on.
var (
	// ErrDetectorFailed indicates the detector returned an error or timed out.
	ErrDetectorFailed = errors.New("detscore: detector failed")

	// ErrMissingImage indicates an image path that is not a readable file.
	ErrMissingImage = errors.New("detscore: image not found")

	// ErrStore indicates the result store could not be read or written.
	ErrStore = errors.New("detscore: result store failed")
)

// ErrModelRequired is returned by Run when the model identifier is empty.
var ErrModelRequired = errors.New("detscore: model identifier required")
