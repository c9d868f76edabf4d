// Package audit records the framework's state transitions and compilation
// outcomes for operator review. It is read-only with respect to the hot
// path: the registry and worker write to it as a side effect of state
// changes, but a Store is never consulted to seed a GroupState at startup,
// preserving the "no durable caching across process restarts" invariant —
// every group starts Uninitialized on every process boot regardless of
// what a prior run recorded.
//
// The Store interface is grounded on the host module's own storage
// backend split (storage.Backend, with sqlite/postgres/sqlserver
// implementations selected by a CLI flag); EstimatedCostSavingsUSD follows
// the same shopspring/decimal.Decimal usage the host module uses for exact
// numeric SQL types.
package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	pgoerrors "github.com/ha1tch/pgo/pgo/errors"
)

// TransitionRecord captures one GroupState transition.
type TransitionRecord struct {
	Time      time.Time
	FuncName  string
	GroupName string
	From      string
	To        string
	Detail    string
}

// CompilationRecord captures the outcome of one compiler invocation.
type CompilationRecord struct {
	Time      time.Time
	FuncName  string
	GroupName string
	Kind      string // "initial" or "optimized"
	Success   bool
	Duration  time.Duration
	Error     string

	// EstimatedCostSavingsUSD is an optional operator-supplied or
	// heuristically derived estimate of the compute cost avoided by
	// running the optimized artifact instead of the native fallback,
	// expressed with shopspring/decimal so fractional-cent accumulation
	// across millions of calls does not drift the way float64 would.
	EstimatedCostSavingsUSD decimal.Decimal
}

// Store persists TransitionRecords and CompilationRecords. Every method
// takes a context so backends with network round trips (Postgres, SQL
// Server) can be cancelled or time-bounded by the caller.
type Store interface {
	RecordTransition(ctx context.Context, r TransitionRecord) error
	RecordCompilation(ctx context.Context, r CompilationRecord) error
	ListTransitions(ctx context.Context, funcName string, limit int) ([]TransitionRecord, error)
	ListCompilations(ctx context.Context, funcName string, limit int) ([]CompilationRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open selects and constructs a Store for the named backend. dsn is
// ignored for "memory".
func Open(backend, dsn string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	case "sqlserver":
		return NewSQLServerStore(dsn)
	default:
		return nil, pgoerrors.Newf(pgoerrors.ErrCodeConfigValidation,
			"unknown audit backend %q", backend).Err()
	}
}
