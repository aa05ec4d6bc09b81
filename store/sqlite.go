// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sm_state (
		key           TEXT PRIMARY KEY,
		resumption_id TEXT NOT NULL,
		location      TEXT NOT NULL DEFAULT '',
		max_seconds   INTEGER NOT NULL DEFAULT 0,
		deadline      TEXT,
		h_in          INTEGER NOT NULL DEFAULT 0,
		h_out         INTEGER NOT NULL DEFAULT 0,
		h_acked       INTEGER NOT NULL DEFAULT 0,
		queue         TEXT NOT NULL DEFAULT '[]',
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sm_state_updated ON sm_state(updated_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const selectState = `SELECT key, resumption_id, location, max_seconds, deadline, h_in, h_out, h_acked, queue, updated_at FROM sm_state`

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (State, error) {
	var (
		st       State
		maxSecs  int64
		deadline sql.NullString
		queue    string
		updated  string
		in       int64
		out      int64
		acked    int64
	)
	err := row.Scan(&st.Key, &st.ResumptionID, &st.Location, &maxSecs, &deadline, &in, &out, &acked, &queue, &updated)
	if err != nil {
		return State{}, err
	}
	st.Max = time.Duration(maxSecs) * time.Second
	st.In, st.Out, st.Acked = uint32(in), uint32(out), uint32(acked)
	if deadline.Valid && deadline.String != "" {
		st.Deadline, err = time.Parse(time.RFC3339Nano, deadline.String)
		if err != nil {
			return State{}, fmt.Errorf("parse deadline: %w", err)
		}
	}
	st.Updated, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return State{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(queue), &st.Queue); err != nil {
		return State{}, fmt.Errorf("decode queue: %w", err)
	}
	return st, nil
}

// Load returns the state stored under key.
func (s *SQLite) Load(ctx context.Context, key string) (State, error) {
	row := s.db.QueryRowContext(ctx, selectState+` WHERE key = ?`, key)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return st, err
}

// Save stores st under st.Key, replacing any previous state.
func (s *SQLite) Save(ctx context.Context, st State) error {
	if st.Key == "" {
		return errEmptyKey
	}
	queue := st.Queue
	if queue == nil {
		queue = []string{}
	}
	q, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	var deadline sql.NullString
	if !st.Deadline.IsZero() {
		deadline = sql.NullString{String: st.Deadline.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	updated := st.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO sm_state (key, resumption_id, location, max_seconds, deadline, h_in, h_out, h_acked, queue, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		resumption_id = excluded.resumption_id,
		location      = excluded.location,
		max_seconds   = excluded.max_seconds,
		deadline      = excluded.deadline,
		h_in          = excluded.h_in,
		h_out         = excluded.h_out,
		h_acked       = excluded.h_acked,
		queue         = excluded.queue,
		updated_at    = excluded.updated_at`,
		st.Key, st.ResumptionID, st.Location, int64(st.Max/time.Second), deadline,
		int64(st.In), int64(st.Out), int64(st.Acked), string(q),
		updated.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Delete removes the state stored under key, if any.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sm_state WHERE key = ?`, key)
	return err
}

// List returns all stored states ordered by key.
func (s *SQLite) List(ctx context.Context) ([]State, error) {
	rows, err := s.db.QueryContext(ctx, selectState+` ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
