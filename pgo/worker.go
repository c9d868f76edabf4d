package pgo

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ha1tch/pgo/pgo/audit"
	"github.com/ha1tch/pgo/pgo/compiler"
	pgoerrors "github.com/ha1tch/pgo/pgo/errors"
	"github.com/ha1tch/pgo/pgo/log"
	"github.com/ha1tch/pgo/pgo/profiler"
)

// pgoErrNoSamples reports a GatheringData window that produced no usable
// profile: nothing to drive a profile-guided rebuild with.
func pgoErrNoSamples(funcName, groupName string) error {
	return pgoerrors.Newf(pgoerrors.ErrCodeCompileNoProfile,
		"no profile samples collected for %s/%s", funcName, groupName).
		WithField("func", funcName).WithField("group", groupName).Err()
}

// RequestKind distinguishes the two compilation requests the worker
// accepts, per §4.3.
type RequestKind int

const (
	// Initial asks the worker to produce the first, instrumented
	// artifact for a group.
	Initial RequestKind = iota
	// OptimizedRequest asks the worker to merge collected profile data
	// and produce a profile-guided artifact.
	OptimizedRequest
)

func (k RequestKind) String() string {
	if k == Initial {
		return "initial"
	}
	return "optimized"
}

// Request is one entry on the worker's FIFO queue. ctx and groupName
// together identify the (FuncContext, GroupState) pair the request
// applies to; the worker looks up everything else it needs (source,
// edition, directories) from ctx.info and the Worker's own working
// directory.
type Request struct {
	Kind      RequestKind
	ctx       *FuncContext
	groupName string
}

// Worker is the single long-lived background task described in §4.3: it
// consumes requests off a buffered channel, lays out per-function
// working directories, drives the external compiler, and publishes
// loaded libraries back into GroupState. Every transition and compiler
// outcome is logged and, when an audit.Store is configured, recorded for
// operator review.
//
// Only one Worker instance normally exists per process (Init spawns it),
// but the type takes no package-level state itself so tests can
// construct isolated instances (§9, "Global state" note).
type Worker struct {
	workingDir string
	driver     *compiler.Driver
	recorder   *profiler.Recorder
	reqs       <-chan Request
	logger     *log.Logger
	audit      audit.Store
}

// NewWorker returns a Worker that will read requests from reqs and lay
// out artifacts under workingDir. logger and store may be nil, in which
// case the worker uses the package default logger and records audit data
// into a private in-memory store.
func NewWorker(workingDir string, driver *compiler.Driver, recorder *profiler.Recorder, reqs <-chan Request, logger *log.Logger, store audit.Store) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	if store == nil {
		store = audit.NewMemoryStore()
	}
	return &Worker{
		workingDir: workingDir,
		driver:     driver,
		recorder:   recorder,
		reqs:       reqs,
		logger:     logger,
		audit:      store,
	}
}

// Run drains the request channel until it is closed, processing each
// request in order. §9's open question on shutdown is resolved here in
// favor of the "better implementation": closing every sender lets Run
// return once the queue drains, instead of the reference's abort-on-
// channel-error behavior.
func (w *Worker) Run(ctx context.Context) {
	for req := range w.reqs {
		switch req.Kind {
		case Initial:
			w.handleInitial(ctx, req)
		case OptimizedRequest:
			w.handleOptimized(ctx, req)
		}
	}
}

func (w *Worker) funcDir(name string) string {
	return filepath.Join(w.workingDir, name)
}

func (w *Worker) groupDir(funcName, groupName string) string {
	return filepath.Join(w.funcDir(funcName), groupName)
}

// recordTransition logs and audits a state change; from/to are the
// String() form of the relevant PGOState values.
func (w *Worker) recordTransition(funcName, groupName, from, to, detail string) {
	w.logger.Audit().Info("state transition",
		"func", funcName, "group", groupName, "from", from, "to", to, "detail", detail)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.audit.RecordTransition(ctx, audit.TransitionRecord{
		Time:      time.Now(),
		FuncName:  funcName,
		GroupName: groupName,
		From:      from,
		To:        to,
		Detail:    detail,
	})
}

func (w *Worker) recordCompilation(funcName, groupName, kind string, success bool, dur time.Duration, buildErr error) {
	errStr := ""
	if buildErr != nil {
		errStr = buildErr.Error()
	}
	w.logger.Compilation().Info("compile finished",
		"func", funcName, "group", groupName, "kind", kind, "success", success, "duration", dur.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.audit.RecordCompilation(ctx, audit.CompilationRecord{
		Time:      time.Now(),
		FuncName:  funcName,
		GroupName: groupName,
		Kind:      kind,
		Success:   success,
		Duration:  dur,
		Error:     errStr,
	})
}

// handleInitial implements §4.3's Initial request: lay out G, invoke the
// compiler for the instrumented artifact, and on success transition
// Uninitialized -> GatheringData while arming the profile recorder for
// this group's directory.
func (w *Worker) handleInitial(ctx context.Context, req Request) {
	name := req.ctx.info.Name
	g := req.ctx.groupState(req.groupName)
	start := time.Now()

	desc := req.ctx.info
	funcDir := w.funcDir(name)
	groupDir := w.groupDir(name, req.groupName)

	sourceFile, err := w.driver.EnsureSource(compiler.BuildRequest{
		FuncName: name,
		Src:      desc.Src,
		Edition:  desc.edition(),
		FuncDir:  funcDir,
	})
	if err != nil {
		w.recordCompilation(name, req.groupName, "initial", false, time.Since(start), err)
		g.transitionFailed()
		w.recordTransition(name, req.groupName, Uninitialized.String(), CompilationFailed.String(), err.Error())
		return
	}

	buildReq := compiler.BuildRequest{
		FuncName: name,
		Src:      desc.Src,
		Edition:  desc.edition(),
		FuncDir:  funcDir,
		GroupDir: groupDir,
	}

	soPath, err := w.driver.Initial(ctx, buildReq, sourceFile)
	if err != nil {
		w.recordCompilation(name, req.groupName, "initial", false, time.Since(start), err)
		g.transitionFailed()
		w.recordTransition(name, req.groupName, Uninitialized.String(), CompilationFailed.String(), err.Error())
		return
	}

	profileDir := filepath.Join(groupDir, "profile_data")
	if err := w.recorder.Acquire(profileDir); err != nil {
		w.recordCompilation(name, req.groupName, "initial", false, time.Since(start), err)
		g.transitionFailed()
		w.recordTransition(name, req.groupName, Uninitialized.String(), CompilationFailed.String(), err.Error())
		return
	}

	lib, err := OpenLibrary(soPath)
	if err != nil {
		w.recorder.Release(profileDir)
		w.recordCompilation(name, req.groupName, "initial", false, time.Since(start), err)
		g.transitionFailed()
		w.recordTransition(name, req.groupName, Uninitialized.String(), CompilationFailed.String(), err.Error())
		return
	}

	g.transitionInitialOK(lib)
	w.recordCompilation(name, req.groupName, "initial", true, time.Since(start), nil)
	w.recordTransition(name, req.groupName, Uninitialized.String(), GatheringData.String(), "")
}

// handleOptimized implements §4.3's Optimized request: dedup against the
// group's current state, merge profile data, and drive a profile-guided
// rebuild.
func (w *Worker) handleOptimized(ctx context.Context, req Request) {
	name := req.ctx.info.Name
	g := req.ctx.groupState(req.groupName)
	start := time.Now()

	// The worker is the only writer of group state, so the state read here
	// is the one beginCompiling transitions from.
	prevState, _ := g.snapshot()
	if _, ok := g.beginCompiling(); !ok {
		// Uninitialized, already Compiling, or terminally failed: drop
		// per §4.3 step 1.
		return
	}
	w.recordTransition(name, req.groupName, prevState.String(), Compiling.String(), "")

	desc := req.ctx.info
	funcDir := w.funcDir(name)
	groupDir := w.groupDir(name, req.groupName)
	profileDir := filepath.Join(groupDir, "profile_data")

	// Stop collecting further samples for this group, then merge the
	// chunks already on disk. The profiling window in flight at this
	// point is not written to this group's directory.
	w.recorder.Release(profileDir)

	mergedPath := filepath.Join(groupDir, "merged.profdata")
	hadSamples, err := w.driver.MergeProfiles(ctx, profileDir, mergedPath)
	if err != nil || !hadSamples {
		if err == nil {
			err = pgoErrNoSamples(name, req.groupName)
		}
		w.recordCompilation(name, req.groupName, "optimized", false, time.Since(start), err)
		g.transitionFailed()
		w.recordTransition(name, req.groupName, Compiling.String(), CompilationFailed.String(), err.Error())
		return
	}

	sourceFile := filepath.Join(funcDir, "func_src.go")
	buildReq := compiler.BuildRequest{
		FuncName: name,
		Src:      desc.Src,
		Edition:  desc.edition(),
		FuncDir:  funcDir,
		GroupDir: groupDir,
	}

	soPath, err := w.driver.Optimized(ctx, buildReq, sourceFile, mergedPath)
	if err != nil {
		w.recordCompilation(name, req.groupName, "optimized", false, time.Since(start), err)
		g.transitionFailed()
		w.recordTransition(name, req.groupName, Compiling.String(), CompilationFailed.String(), err.Error())
		return
	}

	lib, err := OpenLibrary(soPath)
	if err != nil {
		w.recordCompilation(name, req.groupName, "optimized", false, time.Since(start), err)
		g.transitionFailed()
		w.recordTransition(name, req.groupName, Compiling.String(), CompilationFailed.String(), err.Error())
		return
	}

	g.transitionOptimizedOK(lib)
	w.recordCompilation(name, req.groupName, "optimized", true, time.Since(start), nil)
	w.recordTransition(name, req.groupName, Compiling.String(), Optimized.String(), "")
}
