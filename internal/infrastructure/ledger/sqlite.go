package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"ArxivDigest/internal/ports"
)

// SQLiteLedger keeps an append-only audit trail of coordinator outcomes plus
// a persisted processed-id index populated at reconcile time.
type SQLiteLedger struct {
	db *sql.DB
}

var _ ports.RunLedger = (*SQLiteLedger)(nil)

// Open creates (or opens) the ledger database and initializes its schema.
func Open(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ledger := &SQLiteLedger{db: db}
	if err := ledger.init(); err != nil {
		db.Close()
		return nil, err
	}

	return ledger, nil
}

func (l *SQLiteLedger) init() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			day     TEXT NOT NULL,
			phase   TEXT NOT NULL,
			outcome TEXT NOT NULL,
			job_id  TEXT NOT NULL DEFAULT '',
			detail  TEXT NOT NULL DEFAULT '',
			at      DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_day ON runs(day);

		CREATE TABLE IF NOT EXISTS processed_ids (
			id  TEXT PRIMARY KEY,
			day TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initialize ledger schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (l *SQLiteLedger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// RecordRun appends one coordinator outcome to the audit trail.
func (l *SQLiteLedger) RecordRun(ctx context.Context, day, phase, outcome, jobID, detail string) error {
	query, args, err := sq.Insert("runs").
		Columns("day", "phase", "outcome", "job_id", "detail", "at").
		Values(day, phase, outcome, jobID, detail, time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}

// RecordProcessed appends reconciled ids to the processed-id index. Ids seen
// on an earlier day keep their original day.
func (l *SQLiteLedger) RecordProcessed(ctx context.Context, day string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	builder := sq.Insert("processed_ids").
		Columns("id", "day").
		Suffix("ON CONFLICT(id) DO NOTHING")
	for _, id := range ids {
		builder = builder.Values(id, day)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build processed insert: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert processed ids: %w", err)
	}

	return nil
}

// AlreadyProcessed returns a map with ids present in the processed index.
func (l *SQLiteLedger) AlreadyProcessed(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := sq.Select("id").
		From("processed_ids").
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build processed query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query processed: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}
