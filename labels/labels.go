// Package labels reads and writes ground-truth annotations in the
// line-oriented "<class> <cx> <cy> <w> <h>" format.
package labels

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jamesainslie/go-detscore/geometry"
)

// Annotation is one ground-truth object.
type Annotation struct {
	Class ClassID
	Box   geometry.Box
}

// Load reads the label file at path.
// A missing file is not an error: it yields no annotations.
func Load(path string, classes *ClassMap) ([]Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer func() { _ = f.Close() }()

	anns, err := Parse(f, classes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return anns, nil
}

// Parse reads annotations from r. Blank lines are skipped and tokens after
// the fifth are ignored. Any other irregularity fails the whole parse.
func Parse(r io.Reader, classes *ClassMap) ([]Annotation, error) {
	var anns []Annotation
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		ann, err := parseLine(fields, classes)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformed, lineNo, err)
		}
		anns = append(anns, ann)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan labels: %w", err)
	}
	return anns, nil
}

func parseLine(fields []string, classes *ClassMap) (Annotation, error) {
	if len(fields) < 5 {
		return Annotation{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}

	class, err := classes.Resolve(fields[0])
	if err != nil {
		return Annotation{}, err
	}

	var v [4]float64
	for i := range v {
		f, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return Annotation{}, fmt.Errorf("coordinate %d: %w", i, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Annotation{}, fmt.Errorf("coordinate %d: non-finite value %q", i, fields[i+1])
		}
		v[i] = f
	}

	box := geometry.Box{CX: v[0], CY: v[1], W: v[2], H: v[3]}
	if box.W < 0 || box.H < 0 {
		return Annotation{}, fmt.Errorf("negative box size %v", box)
	}
	return Annotation{Class: class, Box: box}, nil
}

// Write emits anns in the label format using class indices. Coordinates use
// the shortest representation that parses back to the same float64.
func Write(w io.Writer, anns []Annotation) error {
	bw := bufio.NewWriter(w)
	for _, a := range anns {
		line := strconv.Itoa(int(a.Class)) + " " +
			formatCoord(a.Box.CX) + " " +
			formatCoord(a.Box.CY) + " " +
			formatCoord(a.Box.W) + " " +
			formatCoord(a.Box.H) + "\n"
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("write labels: %w", err)
		}
	}
	return bw.Flush()
}

// SiblingPath returns the label path that sits next to an image:
// the image path with its extension replaced by ".txt".
func SiblingPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".txt"
}

// DatasetPath returns the label path for the common "images/" and "labels/"
// directory split: the last "images" path element is replaced by "labels".
// Paths without an "images" element fall back to SiblingPath.
func DatasetPath(imagePath string) string {
	parts := strings.Split(filepath.ToSlash(imagePath), "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == "images" {
			parts[i] = "labels"
			return SiblingPath(filepath.FromSlash(strings.Join(parts, "/")))
		}
	}
	return SiblingPath(imagePath)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
