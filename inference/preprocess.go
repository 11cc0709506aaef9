package inference

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	// Registers WebP decoding for imaging.Open.
	_ "golang.org/x/image/webp"

	"github.com/jamesainslie/go-detscore/geometry"
)

// padColor is the gray YOLO exports are trained to treat as background.
var padColor = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// Letterbox records how a source image was fitted into the model input, so
// model-space boxes can be mapped back.
type Letterbox struct {
	Size   int     // model input edge
	Scale  float64 // source pixels to model pixels
	PadX   int
	PadY   int
	Width  int // source width
	Height int // source height
}

// LoadImage decodes the image at path, honoring EXIF orientation.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

// LetterboxImage scales img to fit a size x size square, keeping its aspect
// ratio, and centers it on a gray canvas.
func LetterboxImage(img image.Image, size int) (*image.NRGBA, Letterbox) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	lb := Letterbox{Size: size, Width: w, Height: h}
	if w == 0 || h == 0 {
		return imaging.New(size, size, padColor), lb
	}

	lb.Scale = math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(math.Round(float64(w)*lb.Scale)))
	nh := max(1, int(math.Round(float64(h)*lb.Scale)))
	lb.PadX = (size - nw) / 2
	lb.PadY = (size - nh) / 2

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	canvas := imaging.New(size, size, padColor)
	return imaging.Paste(canvas, resized, image.Pt(lb.PadX, lb.PadY)), lb
}

// Tensor converts a square image to a planar RGB tensor scaled to [0, 1].
func Tensor(img *image.NRGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4:]
			i := y*w + x
			out[i] = float32(px[0]) / 255
			out[plane+i] = float32(px[1]) / 255
			out[2*plane+i] = float32(px[2]) / 255
		}
	}
	return out
}

// Normalize maps a center-form box in model pixels to a box normalized to
// the source image, clipped to its bounds.
func (l Letterbox) Normalize(cx, cy, w, h float64) geometry.Box {
	if l.Scale == 0 || l.Width == 0 || l.Height == 0 {
		return geometry.Box{}
	}
	x1 := clamp((cx-w/2-float64(l.PadX))/l.Scale/float64(l.Width), 0, 1)
	x2 := clamp((cx+w/2-float64(l.PadX))/l.Scale/float64(l.Width), 0, 1)
	y1 := clamp((cy-h/2-float64(l.PadY))/l.Scale/float64(l.Height), 0, 1)
	y2 := clamp((cy+h/2-float64(l.PadY))/l.Scale/float64(l.Height), 0, 1)
	return geometry.Box{
		CX: (x1 + x2) / 2,
		CY: (y1 + y2) / 2,
		W:  x2 - x1,
		H:  y2 - y1,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
