// Package inmemory provides a map-backed store, mainly for tests and dry runs.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jamesainslie/go-detscore/store"
)

type key struct {
	model string
	file  string
}

// Store keeps records in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[key]*store.Record
	order   []key
}

var _ store.ReadWriter = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[key]*store.Record)}
}

// Exists implements store.Store.
func (s *Store) Exists(_ context.Context, model, file string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key{model, file}]
	return ok, nil
}

// Put implements store.Store.
func (s *Store) Put(_ context.Context, rec *store.Record) (bool, error) {
	if rec == nil {
		return false, fmt.Errorf("inmemory: nil record")
	}
	k := key{rec.Model, rec.File}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[k]; ok {
		return false, nil
	}
	s.records[k] = clone(rec)
	s.order = append(s.order, k)
	return true, nil
}

// Get implements store.Reader.
func (s *Store) Get(_ context.Context, model, file string) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key{model, file}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, model, file)
	}
	return clone(rec), nil
}

// Rank implements store.Reader.
func (s *Store) Rank(_ context.Context, model string, limit int) ([]*store.Record, error) {
	s.mu.RLock()
	var recs []*store.Record
	for _, k := range s.order {
		if k.model == model {
			recs = append(recs, clone(s.records[k]))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Loss > recs[j].Loss
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func clone(rec *store.Record) *store.Record {
	c := *rec
	c.Predictions = append([]byte(nil), rec.Predictions...)
	return &c
}
