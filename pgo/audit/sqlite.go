package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable Store backed by SQLite, grounded on the host
// module's own SQLiteStorage: same DSN-option-building approach, same
// single-writer connection pool sizing, table schema narrowed to the two
// record shapes this package needs.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pgo_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	func_name TEXT NOT NULL,
	group_name TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	detail TEXT
);
CREATE INDEX IF NOT EXISTS idx_pgo_transitions_func ON pgo_transitions(func_name);

CREATE TABLE IF NOT EXISTS pgo_compilations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	func_name TEXT NOT NULL,
	group_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	success INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	error TEXT,
	est_cost_savings_usd TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pgo_compilations_func ON pgo_compilations(func_name);
`

// NewSQLiteStore opens (creating if needed) a SQLite database at dsn, or
// ":memory:" for an ephemeral one, and ensures the audit tables exist.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	dsn += "?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite audit store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite audit schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordTransition(ctx context.Context, r TransitionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pgo_transitions (time, func_name, group_name, from_state, to_state, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Time, r.FuncName, r.GroupName, r.From, r.To, r.Detail)
	return err
}

func (s *SQLiteStore) RecordCompilation(ctx context.Context, r CompilationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pgo_compilations (time, func_name, group_name, kind, success, duration_ns, error, est_cost_savings_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Time, r.FuncName, r.GroupName, r.Kind, r.Success, r.Duration.Nanoseconds(), r.Error,
		r.EstimatedCostSavingsUSD.String())
	return err
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, funcName string, limit int) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, func_name, group_name, from_state, to_state, detail
		 FROM pgo_transitions WHERE (? = '' OR func_name = ?) ORDER BY id DESC LIMIT ?`,
		funcName, funcName, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		if err := rows.Scan(&r.Time, &r.FuncName, &r.GroupName, &r.From, &r.To, &r.Detail); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListCompilations(ctx context.Context, funcName string, limit int) ([]CompilationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, func_name, group_name, kind, success, duration_ns, error, est_cost_savings_usd
		 FROM pgo_compilations WHERE (? = '' OR func_name = ?) ORDER BY id DESC LIMIT ?`,
		funcName, funcName, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CompilationRecord
	for rows.Next() {
		var r CompilationRecord
		var durNs int64
		var costStr string
		if err := rows.Scan(&r.Time, &r.FuncName, &r.GroupName, &r.Kind, &r.Success, &durNs, &r.Error, &costStr); err != nil {
			return nil, err
		}
		r.Duration = durationFromNanos(durNs)
		r.EstimatedCostSavingsUSD = decimalFromString(costStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1 // SQLite treats LIMIT -1 as unlimited
	}
	return limit
}
