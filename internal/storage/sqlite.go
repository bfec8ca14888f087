//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"psha/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
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
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.Run) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, run.ID, run.CreatedAt.UnixNano(), run.SchemaVersion, run.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (model.Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Run{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, false, nil
		}
		return model.Run{}, false, err
	}

	run, err := DecodeRun(payload)
	if err != nil {
		return model.Run{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM runs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) SaveGroupCurves(ctx context.Context, curves model.GroupCurves) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeGroupCurves(curves)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO group_curves (run_id, grp_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, grp_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, curves.RunID, curves.GroupID, curves.SchemaVersion, curves.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetGroupCurves(ctx context.Context, runID string, groupID int) (model.GroupCurves, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.GroupCurves{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM group_curves WHERE run_id = ? AND grp_id = ?`, runID, groupID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.GroupCurves{}, false, nil
		}
		return model.GroupCurves{}, false, err
	}

	curves, err := DecodeGroupCurves(payload)
	if err != nil {
		return model.GroupCurves{}, false, fmt.Errorf("decode curves %s/%d: %w", runID, groupID, err)
	}
	return curves, true, nil
}

func (s *SQLiteStore) ListGroupCurves(ctx context.Context, runID string) ([]model.GroupCurves, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT grp_id, payload FROM group_curves WHERE run_id = ? ORDER BY grp_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GroupCurves
	for rows.Next() {
		var (
			groupID int
			payload []byte
		)
		if err := rows.Scan(&groupID, &payload); err != nil {
			return nil, err
		}
		curves, err := DecodeGroupCurves(payload)
		if err != nil {
			return nil, fmt.Errorf("decode curves %s/%d: %w", runID, groupID, err)
		}
		out = append(out, curves)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSourceInfo(ctx context.Context, runID string, info []model.SourceInfo) error {
	payload, err := EncodeSourceInfo(info)
	if err != nil {
		return err
	}
	return s.savePayload(ctx, "source_info", runID, payload)
}

func (s *SQLiteStore) GetSourceInfo(ctx context.Context, runID string) ([]model.SourceInfo, bool, error) {
	payload, ok, err := s.getPayload(ctx, "source_info", runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	info, err := DecodeSourceInfo(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode source info %s: %w", runID, err)
	}
	return info, true, nil
}

func (s *SQLiteStore) SaveTaskInfo(ctx context.Context, runID string, info []model.TaskInfo) error {
	payload, err := EncodeTaskInfo(info)
	if err != nil {
		return err
	}
	return s.savePayload(ctx, "task_info", runID, payload)
}

func (s *SQLiteStore) GetTaskInfo(ctx context.Context, runID string) ([]model.TaskInfo, bool, error) {
	payload, ok, err := s.getPayload(ctx, "task_info", runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	info, err := DecodeTaskInfo(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode task info %s: %w", runID, err)
	}
	return info, true, nil
}

func (s *SQLiteStore) SaveRuptures(ctx context.Context, runID string, rows []model.RuptureRecord) error {
	payload, err := EncodeRuptures(rows)
	if err != nil {
		return err
	}
	return s.savePayload(ctx, "ruptures", runID, payload)
}

func (s *SQLiteStore) GetRuptures(ctx context.Context, runID string) ([]model.RuptureRecord, bool, error) {
	payload, ok, err := s.getPayload(ctx, "ruptures", runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	rows, err := DecodeRuptures(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode ruptures %s: %w", runID, err)
	}
	return rows, true, nil
}

// savePayload upserts a per-run payload. table is never user input.
func (s *SQLiteStore) savePayload(ctx context.Context, table, runID string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+table+` (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) getPayload(ctx context.Context, table, runID string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM `+table+` WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
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
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS group_curves (
			run_id TEXT NOT NULL,
			grp_id INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, grp_id)
		);
		CREATE TABLE IF NOT EXISTS source_info (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS task_info (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS ruptures (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
