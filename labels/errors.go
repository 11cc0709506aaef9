package labels

import "errors"

var (
	// ErrMalformed indicates a label source line that cannot be parsed.
	// The whole source is rejected; partial ground truth is never returned.
	ErrMalformed = errors.New("labels: malformed label source")

	// ErrUnknownClass indicates a class token that does not resolve to a ClassID.
	ErrUnknownClass = errors.New("labels: unknown class")
)
