package pgo

import (
	"sync"
	"sync/atomic"
)

// PGOState names the position of a group in the compilation state
// machine. It carries no payload itself; the payload (the loaded library,
// if any) lives alongside it in GroupState.
type PGOState int

const (
	Uninitialized PGOState = iota
	GatheringData
	Compiling
	Optimized
	CompilationFailed
)

func (s PGOState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case GatheringData:
		return "gathering_data"
	case Compiling:
		return "compiling"
	case Optimized:
		return "optimized"
	case CompilationFailed:
		return "compilation_failed"
	default:
		return "unknown"
	}
}

// GroupState is the per-group entry in a FuncContext's groups map: the
// current state-machine variant, the library handle attached to that
// variant (nil in Uninitialized and CompilationFailed), and the
// invocation counter that only advances during GatheringData.
//
// Readers (dispatch calls) hold mu for read for the duration of a call
// through the resolved symbol, which is what keeps the library alive
// across that call. The worker holds mu for write only long enough to
// swap the variant and library pointer.
type GroupState struct {
	mu    sync.RWMutex
	state PGOState
	lib   *Library
	count atomic.Uint64
}

func newGroupState() *GroupState {
	return &GroupState{state: Uninitialized}
}

// snapshot returns the current variant and library under a read lock.
// Callers that will invoke through the returned library must keep holding
// a read lock for the duration of the call; use withReadLock instead of
// calling snapshot directly from the hot path.
func (g *GroupState) snapshot() (PGOState, *Library) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state, g.lib
}

// withReadLock runs fn while holding the group's read lock, passing the
// current state and library. Used by Dispatch so the library cannot be
// replaced out from under an in-flight call.
func (g *GroupState) withReadLock(fn func(PGOState, *Library)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.state, g.lib)
}

// incrementCount bumps the invocation counter and returns the
// pre-increment value, per §4.2's "fetch_add" semantics.
func (g *GroupState) incrementCount() uint64 {
	return g.count.Add(1) - 1
}

// transitionInitialOK moves Uninitialized -> GatheringData(lib). Called
// by the worker after a successful Initial compile.
func (g *GroupState) transitionInitialOK(lib *Library) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = GatheringData
	g.lib = lib
}

// transitionFailed moves the group to the terminal CompilationFailed
// state from any non-terminal state. Any library already attached stays
// attached only long enough for in-flight readers to finish with it;
// once dropped, no new dispatch will resolve through it since the
// variant no longer reads as GatheringData/Compiling/Optimized.
func (g *GroupState) transitionFailed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = CompilationFailed
	g.lib = nil
}

// beginCompiling attempts the GatheringData|Optimized -> Compiling
// transition the worker performs before starting an Optimized build. It
// returns the library that should keep serving calls during compilation,
// and whether the transition happened. Per §4.2/§4.3 this call is the
// worker's deduplication point: only the state that actually observed
// GatheringData or Optimized performs the swap.
func (g *GroupState) beginCompiling() (lib *Library, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case GatheringData, Optimized:
		lib = g.lib
		g.state = Compiling
		return lib, true
	default:
		return nil, false
	}
}

// transitionOptimizedOK moves Compiling -> Optimized(newLib). The
// previous library becomes unreachable from future dispatches; see
// Library.release for the Go-specific caveat about what "drop" means for
// a loaded plugin.
func (g *GroupState) transitionOptimizedOK(newLib *Library) {
	g.mu.Lock()
	old := g.lib
	g.state = Optimized
	g.lib = newLib
	g.mu.Unlock()

	if old != nil {
		old.release()
	}
}
