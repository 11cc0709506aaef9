package detscore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/jamesainslie/go-detscore/detect"
	"github.com/jamesainslie/go-detscore/eval"
	"github.com/jamesainslie/go-detscore/labels"
	"github.com/jamesainslie/go-detscore/store"
)

// Failure is one image a run could not score.
type Failure struct {
	Image string
	Err   error
}

// Summary tallies a run. Every image is counted at most once; images not
// reached because the run stopped early are not counted.
type Summary struct {
	RunID    string
	Model    string
	Scored   int
	Skipped  int
	Failed   int
	Failures []Failure
}

type status int

const (
	statusPending status = iota
	statusScored
	statusSkipped
	statusFailed
)

type imageResult struct {
	status status
	err    error

	// defect is set when scoring rejected the detector output. It stops
	// the run instead of failing one image.
	defect bool
}

// Runner evaluates images with a detector and records their scores.
// It is safe for concurrent use.
type Runner struct {
	detector detect.Detector
	store    store.Store
	cfg      config
	keys     keyLocks
}

// New creates a Runner that scores det's output into st.
func New(det detect.Detector, st store.Store, opts ...Option) (*Runner, error) {
	if det == nil {
		return nil, errors.New("detscore: detector is nil")
	}
	if st == nil {
		return nil, errors.New("detscore: store is nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Runner{detector: det, store: st, cfg: cfg}, nil
}

// Run scores images for model. Per-image failures are recorded in the
// Summary and do not stop the run. The returned error is non-nil only when
// the run stops early: ctx is done, or an image produced an invalid box,
// which indicates a bug in the detector rather than bad input.
func (r *Runner) Run(ctx context.Context, model string, images []string) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Model: model}
	if model == "" {
		return sum, ErrModelRequired
	}

	logger := r.cfg.logger.With(zap.String("run_id", sum.RunID), zap.String("model", model))
	logger.Info("run started", zap.Int("images", len(images)), zap.Int("workers", r.cfg.workers))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make([]imageResult, len(images))
	evaluate := func(i int) {
		if ctx.Err() != nil {
			return
		}
		res := r.evaluate(ctx, model, images[i])
		results[i] = res
		if res.defect {
			cancel(fmt.Errorf("%s: %w", images[i], res.err))
		}
	}

	if r.cfg.workers <= 1 || len(images) <= 1 {
		for i := range images {
			evaluate(i)
		}
	} else if err := r.parallel(len(images), evaluate); err != nil {
		return sum, err
	}

	for i, res := range results {
		switch res.status {
		case statusScored:
			sum.Scored++
		case statusSkipped:
			sum.Skipped++
		case statusFailed:
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{Image: images[i], Err: res.err})
			logger.Warn("image failed", zap.String("image", images[i]), zap.Error(res.err))
		}
	}

	logger.Info("run finished",
		zap.Int("scored", sum.Scored),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))

	if err := context.Cause(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}

func (r *Runner) parallel(n int, evaluate func(i int)) error {
	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(min(r.cfg.workers, n), func(arg any) {
		defer wg.Done()
		evaluate(arg.(int))
	})
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	for i := 0; i < n; i++ {
		wg.Add(1)
		if err := pool.Invoke(i); err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("submit image %d: %w", i, err)
		}
	}
	wg.Wait()
	return nil
}

// evaluate runs the whole pipeline for one image while holding its key, so
// the existence check and the insert are atomic within this process.
func (r *Runner) evaluate(ctx context.Context, model, imagePath string) imageResult {
	file, basePath := filepath.Base(imagePath), filepath.Dir(imagePath)
	unlock := r.keys.lock(model + "\x00" + file)
	defer unlock()

	exists, err := r.store.Exists(ctx, model, file)
	if err != nil {
		return imageResult{status: statusFailed, err: fmt.Errorf("%w: %w", ErrStore, err)}
	}
	if exists {
		return imageResult{status: statusSkipped}
	}

	preds, anns, err := r.observe(ctx, imagePath)
	if err != nil {
		return imageResult{status: statusFailed, err: err}
	}

	res, err := eval.Score(preds, anns, r.cfg.iouThreshold)
	if err != nil {
		return imageResult{status: statusFailed, err: err, defect: true}
	}

	payload, err := detect.Encode(preds, r.cfg.classes)
	if err != nil {
		return imageResult{status: statusFailed, err: fmt.Errorf("encode predictions: %w", err)}
	}

	inserted, err := r.store.Put(ctx, &store.Record{
		Model:       model,
		File:        file,
		BasePath:    basePath,
		Predictions: payload,
		Loss:        res.Loss,
		GroundTruth: res.GroundTruth,
		Timestamp:   r.cfg.clock().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return imageResult{status: statusFailed, err: fmt.Errorf("%w: %w", ErrStore, err)}
	}
	if !inserted {
		// Another process won the race for this key.
		return imageResult{status: statusSkipped}
	}
	return imageResult{status: statusScored}
}

// observe runs the detector on imagePath and loads its ground truth.
func (r *Runner) observe(ctx context.Context, imagePath string) ([]detect.Prediction, []labels.Annotation, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMissingImage, err)
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is a directory", ErrMissingImage, imagePath)
	}

	detectCtx := ctx
	if r.cfg.detectTimeout > 0 {
		var cancel context.CancelFunc
		detectCtx, cancel = context.WithTimeout(ctx, r.cfg.detectTimeout)
		defer cancel()
	}
	preds, err := r.detector.Detect(detectCtx, imagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDetectorFailed, err)
	}

	anns, err := labels.Load(r.cfg.labelPath(imagePath), r.cfg.classes)
	if err != nil {
		return nil, nil, err
	}
	return preds, anns, nil
}

// Samples runs the detector over images and pairs the predictions with
// their ground truth without touching the store. Images that fail are
// reported in the returned Failures.
func (r *Runner) Samples(ctx context.Context, images []string) ([]eval.Sample, []Failure, error) {
	var (
		samples  []eval.Sample
		failures []Failure
	)
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return samples, failures, err
		}
		preds, anns, err := r.observe(ctx, img)
		if err != nil {
			failures = append(failures, Failure{Image: img, Err: err})
			continue
		}
		samples = append(samples, eval.Sample{Predictions: preds, Annotations: anns})
	}
	return samples, failures, nil
}
