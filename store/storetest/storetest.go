// Package storetest holds behaviour tests shared by store implementations.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/go-detscore/store"
)

// Run exercises a fresh store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.ReadWriter) {
	t.Run("PutThenExists", func(t *testing.T) { testPutThenExists(t, newStore(t)) })
	t.Run("DuplicateIgnored", func(t *testing.T) { testDuplicateIgnored(t, newStore(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newStore(t)) })
	t.Run("Rank", func(t *testing.T) { testRank(t, newStore(t)) })
	t.Run("ConcurrentPut", func(t *testing.T) { testConcurrentPut(t, newStore(t)) })
}

func record(model, file string, loss float64) *store.Record {
	return &store.Record{
		Model:       model,
		File:        file,
		BasePath:    "/data/" + model,
		Predictions: json.RawMessage(`[{"class":0,"conf":0.9,"bbox":[0.5,0.5,0.2,0.2]}]`),
		Loss:        loss,
		GroundTruth: true,
		Timestamp:   "2025-02-28T10:00:00Z",
	}
}

func testPutThenExists(t *testing.T, s store.ReadWriter) {
	ctx := context.Background()

	ok, err := s.Exists(ctx, "m1", "a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	want := record("m1", "a.jpg", 1.25)
	inserted, err := s.Put(ctx, want)
	require.NoError(t, err)
	assert.True(t, inserted)

	ok, err = s.Exists(ctx, "m1", "a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "m2", "a.jpg")
	require.NoError(t, err)
	assert.False(t, ok, "key includes the model")

	got, err := s.Get(ctx, "m1", "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, want.Model, got.Model)
	assert.Equal(t, want.File, got.File)
	assert.Equal(t, want.BasePath, got.BasePath)
	assert.JSONEq(t, string(want.Predictions), string(got.Predictions))
	assert.Equal(t, want.Loss, got.Loss)
	assert.Equal(t, want.GroundTruth, got.GroundTruth)
	assert.Equal(t, want.Timestamp, got.Timestamp)
}

func testDuplicateIgnored(t *testing.T, s store.ReadWriter) {
	ctx := context.Background()

	first := record("m1", "a.jpg", 0.5)
	inserted, err := s.Put(ctx, first)
	require.NoError(t, err)
	require.True(t, inserted)

	second := record("m1", "a.jpg", 3.5)
	second.Timestamp = "2030-01-01T00:00:00Z"
	inserted, err = s.Put(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.Get(ctx, "m1", "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Loss, "first writer wins")
	assert.Equal(t, first.Timestamp, got.Timestamp)

	all, err := s.Rank(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testGetNotFound(t *testing.T, s store.ReadWriter) {
	_, err := s.Get(context.Background(), "m1", "missing.jpg")
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func testRank(t *testing.T, s store.ReadWriter) {
	ctx := context.Background()
	for _, r := range []*store.Record{
		record("m1", "a.jpg", 0.5),
		record("m1", "b.jpg", 3.0),
		record("m1", "c.jpg", 1.0),
		record("m1", "d.jpg", 3.0),
		record("m2", "e.jpg", 4.0),
	} {
		_, err := s.Put(ctx, r)
		require.NoError(t, err)
	}

	top, err := s.Rank(ctx, "m1", 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "b.jpg", top[0].File)
	assert.Equal(t, "d.jpg", top[1].File, "ties keep insertion order")
	assert.Equal(t, "c.jpg", top[2].File)

	all, err := s.Rank(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.Rank(ctx, "m3", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testConcurrentPut(t *testing.T, s store.ReadWriter) {
	ctx := context.Background()
	const writers = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Put(ctx, record("m1", "same.jpg", 1.0))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	all, err := s.Rank(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
