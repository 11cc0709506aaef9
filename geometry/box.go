// Package geometry provides normalized bounding boxes and overlap computation.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidBox indicates a box with non-finite coordinates or a negative size.
// Callers treat it as a programming error, not bad input.
var ErrInvalidBox = errors.New("geometry: invalid box")

// Box is an axis-aligned bounding box in center form, normalized to the
// image dimensions.
type Box struct {
	CX float64
	CY float64
	W  float64
	H  float64
}

// Extent returns the box corners (x1, y1, x2, y2).
func (b Box) Extent() (x1, y1, x2, y2 float64) {
	return b.CX - b.W/2, b.CY - b.H/2, b.CX + b.W/2, b.CY + b.H/2
}

// Area returns W*H.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Validate reports whether b can take part in overlap computation.
// Zero-area boxes are valid.
func (b Box) Validate() error {
	for _, v := range [...]float64{b.CX, b.CY, b.W, b.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value in %v", ErrInvalidBox, b)
		}
	}
	if b.W < 0 || b.H < 0 {
		return fmt.Errorf("%w: negative size in %v", ErrInvalidBox, b)
	}
	return nil
}

// IoU returns the intersection-over-union of a and b.
// It returns exactly 0 when the union is empty.
func IoU(a, b Box) float64 {
	ax1, ay1, ax2, ay2 := a.Extent()
	bx1, by1, bx2, by2 := b.Extent()

	iw := math.Max(math.Min(ax2, bx2)-math.Max(ax1, bx1), 0)
	ih := math.Max(math.Min(ay2, by2)-math.Max(ay1, by1), 0)
	inter := iw * ih

	// Areas come from the same extents as the intersection so that IoU(a, a)
	// is exactly 1.
	union := (ax2-ax1)*(ay2-ay1) + (bx2-bx1)*(by2-by1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
