package detscore

import (
	"time"

	"go.uber.org/zap"

	"github.com/jamesainslie/go-detscore/eval"
	"github.com/jamesainslie/go-detscore/labels"
)

// Option configures a Runner.
type Option func(*config)

// LabelResolver maps an image path to the path of its label file.
type LabelResolver func(imagePath string) string

type config struct {
	iouThreshold  float64
	classes       *labels.ClassMap
	labelPath     LabelResolver
	workers       int
	detectTimeout time.Duration
	logger        *zap.Logger
	clock         func() time.Time
}

func defaultConfig() config {
	return config{
		iouThreshold: eval.DefaultIoUThreshold,
		labelPath:    labels.SiblingPath,
		workers:      1,
		logger:       zap.L(),
		clock:        time.Now,
	}
}

// WithIoUThreshold sets the overlap a match must exceed (default: 0.5).
func WithIoUThreshold(t float64) Option {
	return func(c *config) {
		if t >= 0 && t < 1 {
			c.iouThreshold = t
		}
	}
}

// WithClassMap sets the classes label files are resolved against and
// stored predictions are named with (default: indices only).
func WithClassMap(m *labels.ClassMap) Option {
	return func(c *config) {
		c.classes = m
	}
}

// WithLabelResolver sets how an image's label file is located
// (default: labels.SiblingPath).
func WithLabelResolver(fn LabelResolver) Option {
	return func(c *config) {
		if fn != nil {
			c.labelPath = fn
		}
	}
}

// WithWorkers sets how many images are evaluated at once (default: 1).
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithDetectTimeout bounds each detector call. An expired call fails the
// image with ErrDetectorFailed. Zero means no timeout (default).
func WithDetectTimeout(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.detectTimeout = d
		}
	}
}

// WithLogger sets the logger (default: zap.L()).
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the time source for record timestamps (default: time.Now).
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.clock = now
		}
	}
}
