package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Session operations ---

// InsertSession records a new serve session. An empty ID is replaced by a
// fresh UUID.
func (s *Store) InsertSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, started_at, pid, library_paths) VALUES (?, ?, ?, ?)",
		sess.ID, sess.StartedAt, sess.PID, marshalPaths(sess.LibraryPaths),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) SessionByID(ctx context.Context, id string) (*Session, error) {
	sess := &Session{}
	var paths string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, started_at, pid, library_paths FROM sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.StartedAt, &sess.PID, &paths)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session by id: %w", err)
	}
	sess.LibraryPaths = unmarshalPaths(paths)
	return sess, nil
}

// --- Run operations ---

// RecordRun inserts r. An empty ID is replaced by a fresh UUID.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, file_path, eval_hash, saved_hash, reused_scope,
			started_at, exec_time, total_time, error_type, error_message, internal_error, variables)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.FilePath, r.EvalHash, r.SavedHash, boolInt(r.ReusedScope),
		r.StartedAt, r.ExecTime, r.TotalTime, r.ErrorType, r.ErrorMessage, r.InternalError, r.Variables,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

const runColumns = `id, session_id, file_path, eval_hash, saved_hash, reused_scope,
	started_at, exec_time, total_time, error_type, error_message, internal_error, variables`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	r := &Run{}
	var reused int
	err := row.Scan(&r.ID, &r.SessionID, &r.FilePath, &r.EvalHash, &r.SavedHash, &reused,
		&r.StartedAt, &r.ExecTime, &r.TotalTime, &r.ErrorType, &r.ErrorMessage, &r.InternalError, &r.Variables)
	if err != nil {
		return nil, err
	}
	r.ReusedScope = reused != 0
	return r, nil
}

func (s *Store) RunByID(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run by id: %w", err)
	}
	return r, nil
}

// RunFilter narrows RecentRuns. Zero fields match everything.
type RunFilter struct {
	FilePath   string // prefix match
	SessionID  string
	FailedOnly bool
	Limit      int
}

// RecentRuns returns runs newest first.
func (s *Store) RecentRuns(ctx context.Context, f RunFilter) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE 1=1"
	var args []any
	if f.FilePath != "" {
		query += ` AND file_path LIKE ? ESCAPE '\'`
		args = append(args, likePrefix(f.FilePath))
	}
	if f.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.FailedOnly {
		query += " AND (error_type IS NOT NULL OR internal_error IS NOT NULL)"
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PruneRuns deletes all but the newest keep runs and returns how many were
// deleted.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
		)`, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
