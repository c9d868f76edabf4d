package pgo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ha1tch/pgo/pgo/audit"
	"github.com/ha1tch/pgo/pgo/compiler"
	"github.com/ha1tch/pgo/pgo/config"
	"github.com/ha1tch/pgo/pgo/log"
	"github.com/ha1tch/pgo/pgo/profiler"
	"github.com/ha1tch/pgo/pgo/watch"
)

// requestQueueSize bounds the worker's request channel. The channel only
// ever needs to hold at most a handful of live entries per function per
// phase transition; it is sized generously rather than made into a
// custom unbounded MPSC structure so that a burst of callers crossing a
// threshold simultaneously (§8 scenario 4) cannot block a dispatch call
// on the hot path. Hot-path sends are non-blocking (see
// FuncContext.enqueueOptimized); only Register's bootstrap send blocks.
// Dropping an enqueue under this buffer is safe because the worker already
// deduplicates (§4.2/§4.3) and at least one send per real transition is
// expected to land well before the buffer fills.
const requestQueueSize = 1 << 16

// Registry owns one working directory, one request channel, and the
// single worker goroutine that drains it. Init populates the
// process-global default Registry; NewRegistry exists so tests that need
// isolation (§9, "Global state") can construct an independent instance
// instead of reaching into process-wide storage.
type Registry struct {
	workingDir string
	reqs       chan Request
	worker     *Worker
	cancel     context.CancelFunc
	logger     *log.Logger
	audit      audit.Store
	cfgWatcher *watch.Watcher

	mu    sync.RWMutex
	funcs map[string]*FuncContext
}

// NewRegistry creates the request channel and spawns the worker, but
// registers no functions. Register must be called once per function.
// logger and store may be nil to fall back to the package default logger
// and an in-memory audit store respectively.
func NewRegistry(workingDir string, driver *compiler.Driver, recorder *profiler.Recorder, logger *log.Logger, store audit.Store) (*Registry, error) {
	if err := os.MkdirAll(workingDir, 0755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	if store == nil {
		store = audit.NewMemoryStore()
	}

	reqs := make(chan Request, requestQueueSize)
	worker := NewWorker(workingDir, driver, recorder, reqs, logger, store)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	logger.System().Info("registry started", "working_dir", workingDir)

	return &Registry{
		workingDir: workingDir,
		reqs:       reqs,
		worker:     worker,
		cancel:     cancel,
		logger:     logger,
		audit:      store,
		funcs:      make(map[string]*FuncContext),
	}, nil
}

// Register installs desc into cell's FuncContext (first-writer-wins, a
// no-op if cell already holds a context) and, for a fresh install,
// enqueues the function's Initial request for the Global group. Register
// does not write the generated translation unit itself: the worker writes
// it (compiler.Driver.EnsureSource) when it processes that Initial
// request, and a failure there is recorded as CompilationFailed rather
// than returned to the caller.
func (r *Registry) Register(desc *FuncDescriptor, cell *Cell) {
	ctx := newFuncContext(desc)
	ctx.reqs = r.reqs
	cell.install(ctx)

	// install is first-writer-wins; only act on the registration that
	// actually won the race.
	if cell.load() != ctx {
		return
	}

	r.logger.System().Info("function registered", "func", desc.Name)

	r.mu.Lock()
	r.funcs[desc.Name] = ctx
	r.mu.Unlock()

	r.reqs <- Request{
		Kind:      Initial,
		ctx:       ctx,
		groupName: GlobalGroup{}.Name(),
	}
}

// FuncStatus is one registered function's group snapshots, the unit
// pgo/admin reports on its /status endpoint.
type FuncStatus struct {
	FuncName string
	Groups   []GroupStatus
}

// Status returns a live snapshot of every registered function and its
// groups' current state, read directly from the in-memory GroupStates
// rather than from the audit trail, so the invocation count reported is
// exact at the moment of the call rather than last-transition-stale.
func (r *Registry) Status() []FuncStatus {
	r.mu.RLock()
	names := make([]string, 0, len(r.funcs))
	ctxs := make([]*FuncContext, 0, len(r.funcs))
	for name, ctx := range r.funcs {
		names = append(names, name)
		ctxs = append(ctxs, ctx)
	}
	r.mu.RUnlock()

	out := make([]FuncStatus, len(names))
	for i, ctx := range ctxs {
		out[i] = FuncStatus{FuncName: names[i], Groups: ctx.Snapshot()}
	}
	return out
}

// Audit returns the registry's audit.Store; pgo/admin's /healthz handler
// calls Ping through it.
func (r *Registry) Audit() audit.Store {
	return r.audit
}

// WatchConfigFile starts an fsnotify-based watch on path (see pgo/watch)
// that live-reloads the compiler timeout whenever the file changes on
// disk, without requiring a process restart. It is opt-in: Init never
// calls it itself, since not every deployment ships a config file that
// can move underneath the running process.
func (r *Registry) WatchConfigFile(path string) error {
	w, err := watch.New(path, r.logger, watch.WithOnReload(func(cfg config.Config) {
		r.worker.driver.Timeout = cfg.CompilerTimeout
		SetDefaultThreshold(cfg.DefaultThreshold)
	}), watch.WithOnError(func(err error) {
		r.logger.System().Warn("config watch error", "error", err.Error())
	}))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	r.cfgWatcher = w
	return nil
}

// Close closes the request channel and waits for the worker to drain and
// exit (§9's resolved shutdown question), bounded by ctx.
func (r *Registry) Close(ctx context.Context) error {
	if r.cfgWatcher != nil {
		r.cfgWatcher.Stop()
	}
	close(r.reqs)
	r.cancel()
	done := make(chan struct{})
	go func() {
		for range r.reqs {
			// drain remaining buffered sends so worker.Run's range loop
			// can observe channel closure after processing them
		}
		close(done)
	}()
	select {
	case <-done:
		r.logger.System().Info("registry shut down", "working_dir", r.workingDir)
		return r.audit.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// defaultRegistryPtr holds the process-global Registry published by Init.
// Publication follows the same first-writer-wins shape as Cell.install
// (§4.1 step 2: "exactly one publication wins; losers re-use the
// already-published producer"): a losing Init call discards the registry
// it built and registers against the winner instead of leaking a second
// worker goroutine and audit connection.
var defaultRegistryPtr atomic.Pointer[Registry]

// Init is the single entry point described in §4.1: it is safe to call
// concurrently with dispatch on already-registered functions, and in
// practice is called once before the host's hot loop begins. It
// populates the process-global default Registry returned by
// DefaultRegistry and closed by Shutdown.
//
// cfg supplies the working directory, compiler timeout, and audit
// backend; pass config.Default() for sensible defaults. logger may be nil
// to use the package default. Calling Init more than once is safe: only
// the first call's Registry is published, and every call's registrations
// land on that winning Registry.
func Init(cfg config.Config, registrations []Registration, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	SetDefaultThreshold(cfg.DefaultThreshold)

	modulePath, err := filepath.Abs(".")
	if err != nil {
		return fmt.Errorf("resolve module path: %w", err)
	}

	driver := compiler.NewDriver(modulePath)
	driver.Timeout = cfg.CompilerTimeout
	recorder := profiler.NewRecorder(cfg.ProfileWindow)

	store, err := audit.Open(cfg.AuditBackend, cfg.AuditDSN)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}

	reg, err := NewRegistry(cfg.WorkingDir, driver, recorder, logger, store)
	if err != nil {
		store.Close()
		return err
	}

	if !defaultRegistryPtr.CompareAndSwap(nil, reg) {
		reg.Close(context.Background())
		reg = defaultRegistryPtr.Load()
	}

	for _, r := range registrations {
		reg.Register(r.Descriptor, r.Cell)
	}
	return nil
}

// DefaultRegistry returns the process-global Registry created by Init, or
// nil if Init has not been called yet.
func DefaultRegistry() *Registry {
	return defaultRegistryPtr.Load()
}

// Shutdown closes the default Registry created by Init, if any.
func Shutdown(ctx context.Context) error {
	reg := defaultRegistryPtr.Load()
	if reg == nil {
		return nil
	}
	return reg.Close(ctx)
}
