package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore is a durable Store backed by Postgres via pgx's
// database/sql driver adapter, for deployments that already run a
// Postgres instance for other operational data and want the audit log
// alongside it rather than as a standalone SQLite file.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS pgo_transitions (
	id BIGSERIAL PRIMARY KEY,
	time TIMESTAMPTZ NOT NULL,
	func_name TEXT NOT NULL,
	group_name TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	detail TEXT
);
CREATE INDEX IF NOT EXISTS idx_pgo_transitions_func ON pgo_transitions(func_name);

CREATE TABLE IF NOT EXISTS pgo_compilations (
	id BIGSERIAL PRIMARY KEY,
	time TIMESTAMPTZ NOT NULL,
	func_name TEXT NOT NULL,
	group_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	duration_ns BIGINT NOT NULL,
	error TEXT,
	est_cost_savings_usd NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pgo_compilations_func ON pgo_compilations(func_name);
`

// NewPostgresStore connects to Postgres at dsn and ensures the audit
// tables exist.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres audit store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres audit store: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create postgres audit schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RecordTransition(ctx context.Context, r TransitionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pgo_transitions (time, func_name, group_name, from_state, to_state, detail)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.Time, r.FuncName, r.GroupName, r.From, r.To, r.Detail)
	return err
}

func (s *PostgresStore) RecordCompilation(ctx context.Context, r CompilationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pgo_compilations (time, func_name, group_name, kind, success, duration_ns, error, est_cost_savings_usd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.Time, r.FuncName, r.GroupName, r.Kind, r.Success, r.Duration.Nanoseconds(), r.Error,
		r.EstimatedCostSavingsUSD.String())
	return err
}

func (s *PostgresStore) ListTransitions(ctx context.Context, funcName string, limit int) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, func_name, group_name, from_state, to_state, detail
		 FROM pgo_transitions WHERE ($1 = '' OR func_name = $1) ORDER BY id DESC LIMIT $2`,
		funcName, sqlLimit(limit))
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

func (s *PostgresStore) ListCompilations(ctx context.Context, funcName string, limit int) ([]CompilationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, func_name, group_name, kind, success, duration_ns, error, est_cost_savings_usd::text
		 FROM pgo_compilations WHERE ($1 = '' OR func_name = $1) ORDER BY id DESC LIMIT $2`,
		funcName, sqlLimit(limit))
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

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Close() error { return s.db.Close() }

func sqlLimit(limit int) int64 {
	if limit <= 0 {
		return 1 << 62 // effectively unlimited without a dialect-specific "no limit" literal
	}
	return int64(limit)
}
