// Package store persists session records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	host_id       TEXT NOT NULL DEFAULT '',
	session_name  TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	is_active     INTEGER NOT NULL DEFAULT 1,
	client_count  INTEGER NOT NULL DEFAULT 0
)`

type SQLiteStore struct {
	db *sql.DB
}

var _ core.SessionStore = (*SQLiteStore)(nil)

// Open opens (or creates) the database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; the relay's writes are tiny.
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		schema,
		"CREATE INDEX IF NOT EXISTS sessions_active ON sessions (is_active, created_at)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init %s: %w", path, err)
		}
	}
	log.Info().Str("module", "store").Str("path", path).Msg("session store ready")
	return &SQLiteStore{db: db}, nil
}

// Create fails with core.ErrDuplicateSession when the id is taken.
func (s *SQLiteStore) Create(ctx context.Context, rec core.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, host_id, session_name, created_at, is_active, client_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.ID), string(rec.HostID), rec.Name, createdAt(rec), rec.IsActive, rec.ClientCount)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return core.ErrDuplicateSession
	}
	return err
}

// Upsert keeps the original created_at of an existing row.
func (s *SQLiteStore) Upsert(ctx context.Context, rec core.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, host_id, session_name, created_at, is_active, client_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host_id=excluded.host_id,
			session_name=excluded.session_name,
			is_active=excluded.is_active,
			client_count=excluded.client_count`,
		string(rec.ID), string(rec.HostID), rec.Name, createdAt(rec), rec.IsActive, rec.ClientCount)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id domain.SessionID) (core.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, host_id, session_name, created_at, is_active, client_count
		FROM sessions WHERE id = ?`, string(id))
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SessionRecord{}, core.ErrSessionNotFound
	}
	return rec, err
}

// ListActive returns active sessions, newest first. limit <= 0 means no limit.
func (s *SQLiteStore) ListActive(ctx context.Context, limit int) ([]core.SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, host_id, session_name, created_at, is_active, client_count
		FROM sessions WHERE is_active = 1 ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.SessionRecord{}
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetActive(ctx context.Context, id domain.SessionID, active bool) error {
	return s.update(ctx, `UPDATE sessions SET is_active = ? WHERE id = ?`, active, string(id))
}

func (s *SQLiteStore) SetClientCount(ctx context.Context, id domain.SessionID, n int) error {
	return s.update(ctx, `UPDATE sessions SET client_count = ? WHERE id = ?`, n, string(id))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (core.SessionRecord, error) {
	var (
		rec     core.SessionRecord
		id      string
		host    string
		created int64
	)
	if err := r.Scan(&id, &host, &rec.Name, &created, &rec.IsActive, &rec.ClientCount); err != nil {
		return core.SessionRecord{}, err
	}
	rec.ID = domain.SessionID(id)
	rec.HostID = domain.ConnID(host)
	rec.CreatedAt = time.UnixMilli(created).UTC()
	return rec, nil
}

func createdAt(rec core.SessionRecord) int64 {
	if rec.CreatedAt.IsZero() {
		return time.Now().UnixMilli()
	}
	return rec.CreatedAt.UnixMilli()
}
