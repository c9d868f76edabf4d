package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
)

// SQLServerStore is a durable Store backed by SQL Server, grounded on the
// host module's own interactive client (cmd/iaul), which opens the same
// "sqlserver" database/sql driver against a connection string built the
// same way.
type SQLServerStore struct {
	db *sql.DB
}

// NewSQLServerStore connects to SQL Server at connStr and ensures the
// audit tables exist.
func NewSQLServerStore(connStr string) (*SQLServerStore, error) {
	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver audit store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver audit store: %w", err)
	}
	for _, stmt := range []string{
		`IF NOT EXISTS (SELECT * FROM sys.tables WHERE name = 'pgo_transitions')
		 CREATE TABLE pgo_transitions (
			id BIGINT IDENTITY PRIMARY KEY,
			time DATETIME2 NOT NULL,
			func_name NVARCHAR(256) NOT NULL,
			group_name NVARCHAR(256) NOT NULL,
			from_state NVARCHAR(64) NOT NULL,
			to_state NVARCHAR(64) NOT NULL,
			detail NVARCHAR(MAX)
		 )`,
		`IF NOT EXISTS (SELECT * FROM sys.tables WHERE name = 'pgo_compilations')
		 CREATE TABLE pgo_compilations (
			id BIGINT IDENTITY PRIMARY KEY,
			time DATETIME2 NOT NULL,
			func_name NVARCHAR(256) NOT NULL,
			group_name NVARCHAR(256) NOT NULL,
			kind NVARCHAR(32) NOT NULL,
			success BIT NOT NULL,
			duration_ns BIGINT NOT NULL,
			error NVARCHAR(MAX),
			est_cost_savings_usd DECIMAL(18,6) NOT NULL
		 )`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create sqlserver audit schema: %w", err)
		}
	}
	return &SQLServerStore{db: db}, nil
}

func (s *SQLServerStore) RecordTransition(ctx context.Context, r TransitionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pgo_transitions (time, func_name, group_name, from_state, to_state, detail)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6)`,
		r.Time, r.FuncName, r.GroupName, r.From, r.To, r.Detail)
	return err
}

func (s *SQLServerStore) RecordCompilation(ctx context.Context, r CompilationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pgo_compilations (time, func_name, group_name, kind, success, duration_ns, error, est_cost_savings_usd)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8)`,
		r.Time, r.FuncName, r.GroupName, r.Kind, r.Success, r.Duration.Nanoseconds(), r.Error,
		r.EstimatedCostSavingsUSD.String())
	return err
}

func (s *SQLServerStore) ListTransitions(ctx context.Context, funcName string, limit int) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT TOP (@p2) time, func_name, group_name, from_state, to_state, detail
		 FROM pgo_transitions WHERE (@p1 = '' OR func_name = @p1) ORDER BY id DESC`,
		funcName, sqlServerLimit(limit))
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

func (s *SQLServerStore) ListCompilations(ctx context.Context, funcName string, limit int) ([]CompilationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT TOP (@p2) time, func_name, group_name, kind, success, duration_ns, error, CAST(est_cost_savings_usd AS NVARCHAR(64))
		 FROM pgo_compilations WHERE (@p1 = '' OR func_name = @p1) ORDER BY id DESC`,
		funcName, sqlServerLimit(limit))
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

func (s *SQLServerStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLServerStore) Close() error { return s.db.Close() }

func sqlServerLimit(limit int) int64 {
	if limit <= 0 {
		return 1 << 31
	}
	return int64(limit)
}
