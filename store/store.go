// Package store defines persistence for per-image scores.
//
// Records are append-only and keyed by (model, file). Writing a key that
// already exists is ignored, never an overwrite, so a scoring run can be
// repeated after a partial failure without duplicating or changing history.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Reader.Get for an unknown key.
var ErrNotFound = errors.New("store: record not found")

// Record is the persisted score of one image under one model.
type Record struct {
	Model       string          `json:"model"`
	File        string          `json:"file"`
	BasePath    string          `json:"base_path"`
	Predictions json.RawMessage `json:"predictions"`
	Loss        float64         `json:"loss"`
	// GroundTruth reports whether Loss is the metric-based loss (true) or
	// the confidence fallback (false).
	GroundTruth bool   `json:"ground_truth"`
	Timestamp   string `json:"timestamp"`
}

// Store is the write side used by the evaluation runner.
type Store interface {
	// Exists reports whether a record for (model, file) is stored.
	Exists(ctx context.Context, model, file string) (bool, error)

	// Put inserts rec unless its key is already present. inserted is false
	// when the insert was ignored.
	Put(ctx context.Context, rec *Record) (inserted bool, err error)
}

// Reader is the read side used for ranking and inspection.
type Reader interface {
	// Get returns the record for (model, file) or ErrNotFound.
	Get(ctx context.Context, model, file string) (*Record, error)

	// Rank returns up to limit records for model, highest loss first. Equal
	// losses keep insertion order. limit <= 0 returns all records.
	Rank(ctx context.Context, model string, limit int) ([]*Record, error)
}

// ReadWriter combines both sides, as implemented by the concrete stores.
type ReadWriter interface {
	Store
	Reader
}
