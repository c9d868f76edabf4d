package pgo

import "testing"

func TestGroupStateInitialTransitions(t *testing.T) {
	g := newGroupState()
	if state, lib := g.snapshot(); state != Uninitialized || lib != nil {
		t.Fatalf("new group state = (%v, %v), want (Uninitialized, nil)", state, lib)
	}

	lib := &Library{path: "instrumented.so"}
	g.transitionInitialOK(lib)

	state, got := g.snapshot()
	if state != GatheringData {
		t.Fatalf("state after Initial OK = %v, want GatheringData", state)
	}
	if got != lib {
		t.Fatalf("library after Initial OK = %v, want %v", got, lib)
	}
}

func TestGroupStateInitialFailure(t *testing.T) {
	g := newGroupState()
	g.transitionFailed()

	state, lib := g.snapshot()
	if state != CompilationFailed {
		t.Fatalf("state = %v, want CompilationFailed", state)
	}
	if lib != nil {
		t.Fatalf("library after failure = %v, want nil", lib)
	}
}

func TestGroupStateBeginCompilingDedup(t *testing.T) {
	g := newGroupState()
	lib := &Library{path: "instrumented.so"}
	g.transitionInitialOK(lib)

	gotLib, ok := g.beginCompiling()
	if !ok || gotLib != lib {
		t.Fatalf("first beginCompiling() = (%v, %v), want (%v, true)", gotLib, ok, lib)
	}
	state, _ := g.snapshot()
	if state != Compiling {
		t.Fatalf("state after beginCompiling = %v, want Compiling", state)
	}

	// A second caller observing the same GatheringData->Compiling
	// crossing must be dropped: the group is already Compiling.
	if _, ok := g.beginCompiling(); ok {
		t.Fatalf("second beginCompiling() = ok, want dedup drop")
	}
}

func TestGroupStateBeginCompilingFromOptimized(t *testing.T) {
	g := newGroupState()
	lib := &Library{path: "instrumented.so"}
	g.transitionInitialOK(lib)
	if _, ok := g.beginCompiling(); !ok {
		t.Fatal("beginCompiling from GatheringData should succeed")
	}
	newLib := &Library{path: "optimized.so"}
	g.transitionOptimizedOK(newLib)

	state, got := g.snapshot()
	if state != Optimized || got != newLib {
		t.Fatalf("state = (%v, %v), want (Optimized, %v)", state, got, newLib)
	}

	// Re-optimization: Optimized -> Compiling is a valid transition.
	if _, ok := g.beginCompiling(); !ok {
		t.Fatal("beginCompiling from Optimized should succeed (re-optimization)")
	}
}

func TestGroupStateBeginCompilingFromUninitializedDrops(t *testing.T) {
	g := newGroupState()
	if _, ok := g.beginCompiling(); ok {
		t.Fatal("beginCompiling from Uninitialized should drop the request")
	}
}

func TestGroupStateBeginCompilingFromFailedDrops(t *testing.T) {
	g := newGroupState()
	g.transitionFailed()
	if _, ok := g.beginCompiling(); ok {
		t.Fatal("beginCompiling from CompilationFailed should drop the request")
	}
}

func TestGroupStateIncrementCountReturnsPreIncrementValue(t *testing.T) {
	g := newGroupState()
	if got := g.incrementCount(); got != 0 {
		t.Fatalf("first incrementCount() = %d, want 0", got)
	}
	if got := g.incrementCount(); got != 1 {
		t.Fatalf("second incrementCount() = %d, want 1", got)
	}
}
