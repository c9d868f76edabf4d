package audit

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store, useful for tests and for
// deployments that only want in-flight observability (e.g. a metrics
// endpoint reading recent records) without a durable log.
type MemoryStore struct {
	mu            sync.RWMutex
	transitions   []TransitionRecord
	compilations  []CompilationRecord
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) RecordTransition(ctx context.Context, r TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, r)
	return nil
}

func (m *MemoryStore) RecordCompilation(ctx context.Context, r CompilationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compilations = append(m.compilations, r)
	return nil
}

func (m *MemoryStore) ListTransitions(ctx context.Context, funcName string, limit int) ([]TransitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterTail(m.transitions, func(r TransitionRecord) bool {
		return funcName == "" || r.FuncName == funcName
	}, limit), nil
}

func (m *MemoryStore) ListCompilations(ctx context.Context, funcName string, limit int) ([]CompilationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterTail(m.compilations, func(r CompilationRecord) bool {
		return funcName == "" || r.FuncName == funcName
	}, limit), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// filterTail returns up to the last `limit` elements of xs matching keep,
// in original order. limit <= 0 means unlimited.
func filterTail[T any](xs []T, keep func(T) bool, limit int) []T {
	var matched []T
	for _, x := range xs {
		if keep(x) {
			matched = append(matched, x)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
