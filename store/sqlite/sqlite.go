// Package sqlite stores scores in a SQLite model_predictions table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/jamesainslie/go-detscore/store"
)

// DriverName is the database/sql driver this package expects.
const DriverName = "sqlite3"

const (
	sqliteCreatePredictions = "CREATE TABLE IF NOT EXISTS model_predictions (" +
		"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"model TEXT NOT NULL, " +
		"file TEXT NOT NULL, " +
		"base_path TEXT NOT NULL, " +
		"predictions JSON, " +
		"loss REAL, " +
		"ground_truth INTEGER NOT NULL DEFAULT 0, " +
		"timestamp TEXT, " +
		"UNIQUE(model, file)" +
		")"

	// Tables created by earlier tools lack ground_truth and the unique key.
	sqliteTableInfo       = "PRAGMA table_info(model_predictions)"
	sqliteAddGroundTruth  = "ALTER TABLE model_predictions ADD COLUMN ground_truth INTEGER NOT NULL DEFAULT 0"
	sqliteCreateKeyIndex  = "CREATE UNIQUE INDEX IF NOT EXISTS model_predictions_model_file ON model_predictions(model, file)"
	sqliteCountDuplicates = "SELECT COUNT(*) FROM (SELECT 1 FROM model_predictions GROUP BY model, file HAVING COUNT(*) > 1)"

	sqliteExists = "SELECT 1 FROM model_predictions WHERE model = ? AND file = ? LIMIT 1"

	sqliteInsert = "INSERT OR IGNORE INTO model_predictions " +
		"(model, file, base_path, predictions, loss, ground_truth, timestamp) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?)"

	sqliteSelectColumns = "SELECT model, file, base_path, predictions, loss, ground_truth, timestamp " +
		"FROM model_predictions "

	sqliteSelectByKey = sqliteSelectColumns + "WHERE model = ? AND file = ? LIMIT 1"

	sqliteSelectRanked = sqliteSelectColumns + "WHERE model = ? ORDER BY loss DESC, id ASC LIMIT ?"
)

// ErrDuplicateKeys is returned by New when an existing table holds more
// than one row for a (model, file) key, which prevents enforcing the key.
var ErrDuplicateKeys = errors.New("sqlite: duplicate model_predictions keys")

// Store is a SQLite-backed store.ReadWriter.
type Store struct {
	db *sql.DB
}

var _ store.ReadWriter = (*Store)(nil)

// New wraps an initialized SQLite *sql.DB and creates the schema if needed.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlite: db is nil")
	}
	if _, err := db.Exec(sqliteCreatePredictions); err != nil {
		return nil, fmt.Errorf("create model_predictions table: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// migrate brings a pre-existing model_predictions table up to the current
// schema. It refuses tables holding duplicate (model, file) rows.
func migrate(db *sql.DB) error {
	cols, err := columns(db)
	if err != nil {
		return err
	}
	if !cols["ground_truth"] {
		if _, err := db.Exec(sqliteAddGroundTruth); err != nil {
			return fmt.Errorf("add ground_truth column: %w", err)
		}
	}

	var dups int
	if err := db.QueryRow(sqliteCountDuplicates).Scan(&dups); err != nil {
		return fmt.Errorf("count duplicate keys: %w", err)
	}
	if dups > 0 {
		return fmt.Errorf("%w: %d (model, file) keys appear more than once", ErrDuplicateKeys, dups)
	}
	if _, err := db.Exec(sqliteCreateKeyIndex); err != nil {
		return fmt.Errorf("create unique key index: %w", err)
	}
	return nil
}

func columns(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(sqliteTableInfo)
	if err != nil {
		return nil, fmt.Errorf("read table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info: %w", err)
	}
	return cols, nil
}

// Open opens the database file at path and returns a ready Store.
// The caller closes the Store.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite allows one writer; serializing on one connection avoids
	// SQLITE_BUSY between pool workers.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, model, file string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, sqliteExists, model, file).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select exists: %w", err)
	}
	return true, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, rec *store.Record) (bool, error) {
	if rec == nil {
		return false, errors.New("sqlite: nil record")
	}
	res, err := s.db.ExecContext(ctx, sqliteInsert,
		rec.Model, rec.File, rec.BasePath, string(rec.Predictions),
		rec.Loss, rec.GroundTruth, rec.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert prediction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Get implements store.Reader.
func (s *Store) Get(ctx context.Context, model, file string) (*store.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, sqliteSelectByKey, model, file))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, model, file)
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	return rec, nil
}

// Rank implements store.Reader.
func (s *Store) Rank(ctx context.Context, model string, limit int) ([]*store.Record, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, sqliteSelectRanked, model, limit)
	if err != nil {
		return nil, fmt.Errorf("select ranked: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ranked: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranked: %w", err)
	}
	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*store.Record, error) {
	var (
		rec         store.Record
		predictions sql.NullString
		loss        sql.NullFloat64
		timestamp   sql.NullString
	)
	if err := row.Scan(&rec.Model, &rec.File, &rec.BasePath, &predictions,
		&loss, &rec.GroundTruth, &timestamp); err != nil {
		return nil, err
	}
	if predictions.Valid {
		rec.Predictions = []byte(predictions.String)
	}
	rec.Loss = loss.Float64
	rec.Timestamp = timestamp.String
	return &rec, nil
}
