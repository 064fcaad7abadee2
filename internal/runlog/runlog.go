// Package runlog records per-step and per-epoch training scalars in a
// SQLite database.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started INTEGER NOT NULL,
	model_name TEXT NOT NULL,
	config TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS steps(
	run_id INTEGER NOT NULL,
	epoch INTEGER NOT NULL,
	batch INTEGER NOT NULL,
	global_step INTEGER NOT NULL,
	name TEXT NOT NULL,
	value REAL
);
CREATE TABLE IF NOT EXISTS epochs(
	run_id INTEGER NOT NULL,
	epoch INTEGER NOT NULL,
	name TEXT NOT NULL,
	value REAL
);
CREATE INDEX IF NOT EXISTS steps_by_name ON steps(run_id, name, global_step);
`

// Log is an open run database.
type Log struct {
	db    *sql.DB
	runID int64
}

// Open creates or opens the database at path.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run db: %w", err)
	}
	// One connection keeps every statement on the same SQLite handle.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run db pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run db schema: %w", err)
	}
	return &Log{db: db}, nil
}

// StartRun inserts a run row; later records attach to it.
func (l *Log) StartRun(ctx context.Context, modelName, configText string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		"INSERT INTO runs(started, model_name, config) VALUES(?,?,?)",
		time.Now().Unix(), modelName, configText)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	l.runID = id
	return id, nil
}

// RunID returns the current run, or 0 before StartRun.
func (l *Log) RunID() int64 { return l.runID }

// Attach points later reads and writes at an existing run.
func (l *Log) Attach(runID int64) { l.runID = runID }

// RecordStep stores one row per named value. NaN and Inf are stored as NULL.
func (l *Log) RecordStep(ctx context.Context, epoch, batch int, globalStep int64, values map[string]float64) error {
	return l.insert(ctx, "INSERT INTO steps(run_id, epoch, batch, global_step, name, value) VALUES(?,?,?,?,?,?)",
		values, func(name string, v any) []any {
			return []any{l.runID, epoch, batch, globalStep, name, v}
		})
}

// RecordEpoch stores the epoch means.
func (l *Log) RecordEpoch(ctx context.Context, epoch int, values map[string]float64) error {
	return l.insert(ctx, "INSERT INTO epochs(run_id, epoch, name, value) VALUES(?,?,?,?)",
		values, func(name string, v any) []any {
			return []any{l.runID, epoch, name, v}
		})
}

func (l *Log) insert(ctx context.Context, query string, values map[string]float64, args func(string, any) []any) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("run db begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("run db prepare: %w", err)
	}
	defer stmt.Close()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := stmt.ExecContext(ctx, args(name, nullable(values[name]))...); err != nil {
			tx.Rollback()
			return fmt.Errorf("run db insert %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("run db commit: %w", err)
	}
	return nil
}

func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Series returns the recorded (global_step, value) pairs of name for the
// current run in step order. NULL values come back as NaN.
func (l *Log) Series(ctx context.Context, name string) ([]int64, []float64, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT global_step, value FROM steps WHERE run_id = ? AND name = ? ORDER BY global_step",
		l.runID, name)
	if err != nil {
		return nil, nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()
	var (
		steps []int64
		vals  []float64
	)
	for rows.Next() {
		var (
			step int64
			v    sql.NullFloat64
		)
		if err := rows.Scan(&step, &v); err != nil {
			return nil, nil, fmt.Errorf("scan series: %w", err)
		}
		steps = append(steps, step)
		if v.Valid {
			vals = append(vals, v.Float64)
		} else {
			vals = append(vals, math.NaN())
		}
	}
	return steps, vals, rows.Err()
}

// EpochValues returns the epoch means recorded for epoch in the current run.
func (l *Log) EpochValues(ctx context.Context, epoch int) (map[string]float64, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT name, value FROM epochs WHERE run_id = ? AND epoch = ?", l.runID, epoch)
	if err != nil {
		return nil, fmt.Errorf("query epoch: %w", err)
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var (
			name string
			v    sql.NullFloat64
		)
		if err := rows.Scan(&name, &v); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		if v.Valid {
			out[name] = v.Float64
		} else {
			out[name] = math.NaN()
		}
	}
	return out, rows.Err()
}

// Close releases the database.
func (l *Log) Close() error {
	return l.db.Close()
}
