package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/go-detscore/store"
	"github.com/jamesainslie/go-detscore/store/storetest"
)

func newTestStore(t *testing.T) store.ReadWriter {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "images.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestNew_NilDB(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

// Reopening the same file must keep earlier records and the unique key.
func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "images.db")

	s, err := Open(path)
	require.NoError(t, err)
	inserted, err := s.Put(ctx, &store.Record{Model: "m", File: "a.jpg", BasePath: "/d", Predictions: []byte("[]"), Loss: 1})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ok, err := s.Exists(ctx, "m", "a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	inserted, err = s.Put(ctx, &store.Record{Model: "m", File: "a.jpg", BasePath: "/other", Loss: 2})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.Get(ctx, "m", "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/d", got.BasePath)
	assert.Equal(t, "[]", string(got.Predictions))
	assert.False(t, got.GroundTruth)
}

// Schema written by the Python tool that shares images.db.
const legacySchema = `CREATE TABLE IF NOT EXISTS model_predictions
	(id INTEGER PRIMARY KEY AUTOINCREMENT,
	 model TEXT NOT NULL,
	 file TEXT NOT NULL,
	 base_path TEXT NOT NULL,
	 predictions JSON,
	 loss REAL,
	 timestamp DATETIME)`

func seedLegacy(t *testing.T, path string, rows ...[2]string) {
	t.Helper()
	db, err := sql.Open(DriverName, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(legacySchema)
	require.NoError(t, err)
	for _, r := range rows {
		_, err = db.Exec(`INSERT INTO model_predictions (model, file, base_path, predictions, loss, timestamp)
			VALUES (?, ?, '/legacy', '[]', 2.5, '2024-06-01 12:00:00')`, r[0], r[1])
		require.NoError(t, err)
	}
}

func TestOpen_LegacySchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "images.db")
	seedLegacy(t, path, [2]string{"m", "old.jpg"})

	s, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	old, err := s.Get(ctx, "m", "old.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/legacy", old.BasePath)
	assert.Equal(t, 2.5, old.Loss)
	assert.False(t, old.GroundTruth)

	inserted, err := s.Put(ctx, &store.Record{Model: "m", File: "new.jpg", BasePath: "/d", GroundTruth: true, Loss: 1})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Put(ctx, &store.Record{Model: "m", File: "old.jpg", BasePath: "/d", Loss: 0})
	require.NoError(t, err)
	assert.False(t, inserted, "existing rows keep their key")

	got, err := s.Get(ctx, "m", "new.jpg")
	require.NoError(t, err)
	assert.True(t, got.GroundTruth)

	ranked, err := s.Rank(ctx, "m", 0)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "old.jpg", ranked[0].File)
}

func TestOpen_LegacyDuplicateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.db")
	seedLegacy(t, path, [2]string{"m", "a.jpg"}, [2]string{"m", "a.jpg"}, [2]string{"m", "b.jpg"})

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKeys), "got %v", err)
}
