// Package store persists analysis results to a SQLite table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"review-insights-go/internal/pipeline"
	"review-insights-go/internal/types"
)

const createResultsTableSQL = `
CREATE TABLE IF NOT EXISTS review_analysis (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	reviews TEXT NOT NULL,
	context TEXT NOT NULL,
	product_type TEXT NOT NULL,
	purchase_method TEXT NOT NULL,
	sentiment TEXT NOT NULL,
	pros TEXT NOT NULL,
	cons TEXT NOT NULL,
	summary TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	fallback INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, seq)
)`

const createFailuresTableSQL = `
CREATE TABLE IF NOT EXISTS review_failures (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	reviews TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	error TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
)`

const insertResultSQL = `
INSERT INTO review_analysis (
	run_id,
	seq,
	reviews,
	context,
	product_type,
	purchase_method,
	sentiment,
	pros,
	cons,
	summary,
	start_time,
	end_time,
	fallback
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertFailureSQL = `
INSERT INTO review_failures (
	run_id,
	seq,
	reviews,
	attempts,
	error
) VALUES (?, ?, ?, ?, ?)`

const selectResultsSQL = `
SELECT seq, reviews, context, product_type, purchase_method, sentiment, pros, cons, summary, start_time, end_time, fallback
FROM review_analysis
WHERE run_id = ?
ORDER BY seq`

// IsSQLitePath reports whether path names a SQLite database file.
func IsSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle. The schema is not touched.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createResultsTableSQL); err != nil {
		return fmt.Errorf("create review_analysis table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createFailuresTableSQL); err != nil {
		return fmt.Errorf("create review_failures table: %w", err)
	}
	return nil
}

// SaveRun writes all records and failures of one run in a single transaction.
func (s *Store) SaveRun(ctx context.Context, runID string, records []types.ResultRecord, failures []pipeline.ItemFailure) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, rec := range records {
		res := rec.Result
		fallback := 0
		if res.Fallback {
			fallback = 1
		}
		if _, err = tx.ExecContext(ctx, insertResultSQL,
			runID,
			rec.Seq,
			string(rec.Review),
			res.Context,
			res.ProductType,
			res.PurchaseMethod,
			res.Sentiment,
			res.Pros,
			res.Cons,
			res.Summary,
			res.StartTime.Format(types.TimeLayout),
			res.EndTime.Format(types.TimeLayout),
			fallback,
		); err != nil {
			return fmt.Errorf("insert result %d: %w", rec.Seq, err)
		}
	}
	for _, f := range failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		if _, err = tx.ExecContext(ctx, insertFailureSQL, runID, f.Seq, string(f.Review), f.Attempts, msg); err != nil {
			return fmt.Errorf("insert failure %d: %w", f.Seq, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Records returns the stored rows of a run in seq order.
func (s *Store) Records(ctx context.Context, runID string) ([]types.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectResultsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []types.ResultRecord
	for rows.Next() {
		var rec types.ResultRecord
		var review, start, end string
		var fallback int
		res := &rec.Result
		if err := rows.Scan(&rec.Seq, &review, &res.Context, &res.ProductType, &res.PurchaseMethod,
			&res.Sentiment, &res.Pros, &res.Cons, &res.Summary, &start, &end, &fallback); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		rec.Review = types.Review(review)
		res.Fallback = fallback != 0
		if res.StartTime, err = time.ParseInLocation(types.TimeLayout, start, time.Local); err != nil {
			return nil, fmt.Errorf("parse start_time %q: %w", start, err)
		}
		if res.EndTime, err = time.ParseInLocation(types.TimeLayout, end, time.Local); err != nil {
			return nil, fmt.Errorf("parse end_time %q: %w", end, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// FailureCount returns how many reviews of a run produced no result.
func (s *Store) FailureCount(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_failures WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}
