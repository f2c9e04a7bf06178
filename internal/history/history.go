// Package history journals terminal jobs into a local SQLite database, so
// an audit trail survives registry eviction. The in-memory registry stays
// authoritative; nothing is ever read back into it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mallardlabs/mallard/internal/model"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNotTerminal = errors.New("job is not terminal")
)

// Row is one journaled terminal job.
type Row struct {
	ID             string
	Status         string
	RequestedTypes []string
	Error          *string
	Diagnostics    int
	CreatedAt      time.Time
	CompletedAt    time.Time
}

type DB struct {
	db *sql.DB
}

// Open opens (creating when needed) the journal at dbPath.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			requested_types TEXT NOT NULL,
			error TEXT DEFAULT NULL,
			diagnostics INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NOT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func (h *DB) Close() error {
	return h.db.Close()
}

// Record journals one terminal job. Recording the same id twice is a no-op,
// ids are never reused so the first write is always the complete record.
func (h *DB) Record(ctx context.Context, job model.Job) error {
	if !job.Status.Terminal() {
		return fmt.Errorf("job %q status %s: %w", job.ID, job.Status, ErrNotTerminal)
	}

	var jobErr *string
	if job.Error != "" {
		jobErr = &job.Error
	}
	diagnostics := 0
	for _, diags := range job.Results {
		diagnostics += len(diags)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "rolling back history transaction failed", slog.String("job_id", job.ID))
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO jobs
			(id, status, requested_types, error, diagnostics, created_at, completed_at)
		 VALUES (?,?,?,?,?,?,?);`,
		job.ID,
		string(job.Status),
		joinTypes(job.RequestedTypes),
		jobErr,
		diagnostics,
		job.CreatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns the journaled job identified by id,
// ErrNotFound when it was never recorded.
func (h *DB) Get(ctx context.Context, id string) (Row, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, status, requested_types, error, diagnostics, created_at, completed_at
		 FROM jobs WHERE id=?`, id,
	)

	var r Row
	var types string
	err := row.Scan(&r.ID, &r.Status, &types, &r.Error, &r.Diagnostics, &r.CreatedAt, &r.CompletedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Row{}, ErrNotFound
	case err != nil:
		return Row{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	r.RequestedTypes = splitTypes(types)
	return r, nil
}

// List returns up to limit journaled jobs, newest first.
func (h *DB) List(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, status, requested_types, error, diagnostics, created_at, completed_at
		 FROM jobs ORDER BY completed_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Row
	for rows.Next() {
		var r Row
		var types string
		if err := rows.Scan(&r.ID, &r.Status, &types, &r.Error, &r.Diagnostics, &r.CreatedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning sql row failed: %w", err)
		}
		r.RequestedTypes = splitTypes(types)
		out = append(out, r)
	}
	return out, rows.Err()
}

func joinTypes(types []model.JobType) string {
	ss := make([]string, len(types))
	for i, t := range types {
		ss[i] = string(t)
	}
	return strings.Join(ss, ",")
}

func splitTypes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
