package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"unitsel/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the incremental backing: each entry is one transaction
// over the results and summaries tables.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) IsCompleted(ctx context.Context, key model.UnitKey) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	var one int
	err = db.QueryRowContext(ctx, `
		SELECT 1 FROM unit_summaries WHERE layer = ? AND unit = ? AND timestep = ?
	`, key.Layer, key.Unit, key.Timestep).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Write(ctx context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	resultPayload, err := EncodeResult(entry.Result)
	if err != nil {
		return err
	}
	summaryPayload, err := EncodeSummary(entry.Summary)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	key := entry.Key
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO unit_results (layer, unit, timestep, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(layer, unit, timestep) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, key.Layer, key.Unit, key.Timestep, entry.Result.SchemaVersion, entry.Result.CodecVersion, resultPayload); err != nil {
		return fmt.Errorf("write result %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO unit_summaries (layer, unit, timestep, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(layer, unit, timestep) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, key.Layer, key.Unit, key.Timestep, entry.Summary.SchemaVersion, entry.Summary.CodecVersion, summaryPayload); err != nil {
		return fmt.Errorf("write summary %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ResumeCursor(ctx context.Context, layer string) (int, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, false, err
	}

	var cursor sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(unit) FROM unit_summaries WHERE layer = ?`, layer).Scan(&cursor); err != nil {
		return 0, false, err
	}
	if !cursor.Valid {
		return 0, false, nil
	}
	return int(cursor.Int64), true, nil
}

func (s *SQLiteStore) Layers(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT DISTINCT layer FROM unit_summaries ORDER BY layer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	layers := make([]string, 0)
	for rows.Next() {
		var layer string
		if err := rows.Scan(&layer); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (s *SQLiteStore) Entries(ctx context.Context) ([]Entry, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT s.layer, s.unit, s.timestep, r.payload, s.payload
		FROM unit_summaries s
		JOIN unit_results r ON r.layer = s.layer AND r.unit = s.unit AND r.timestep = s.timestep
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			key            model.UnitKey
			resultPayload  []byte
			summaryPayload []byte
		)
		if err := rows.Scan(&key.Layer, &key.Unit, &key.Timestep, &resultPayload, &summaryPayload); err != nil {
			return nil, err
		}
		result, err := DecodeResult(resultPayload)
		if err != nil {
			return nil, fmt.Errorf("%w: decode result %s: %v", ErrCorruptStore, key, err)
		}
		summary, err := DecodeSummary(summaryPayload)
		if err != nil {
			return nil, fmt.Errorf("%w: decode summary %s: %v", ErrCorruptStore, key, err)
		}
		entries = append(entries, Entry{Key: key, Result: result, Summary: summary})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortEntries(entries)
	return entries, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS unit_results (
			layer TEXT NOT NULL,
			unit INTEGER NOT NULL,
			timestep INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (layer, unit, timestep)
		);
		CREATE TABLE IF NOT EXISTS unit_summaries (
			layer TEXT NOT NULL,
			unit INTEGER NOT NULL,
			timestep INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (layer, unit, timestep)
		);
	`)
	return err
}
