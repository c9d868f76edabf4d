package pgo

import (
	"sync"
	"testing"
)

// square is the "native fallback" used throughout these tests, matching
// §8's round-trip property: dispatch(x) must equal f(x) in every state.
func square(n uint32) uint32 { return n * n }

// dispatchSquare wires Dispatch up the way a generated stub would: the
// native closure calls the real function directly, and the library
// closure (used once a group has a loaded artifact) also just calls
// square, standing in for "resolve the symbol and invoke it" since no
// real plugin is loaded in these unit tests.
func dispatchSquare(cell *Cell, group Group, n uint32) uint32 {
	return Dispatch(cell, group, func() uint32 {
		return square(n)
	}, func(lib *Library) uint32 {
		return square(n)
	})
}

func TestDispatchUnpopulatedCellUsesNativeFallback(t *testing.T) {
	var cell Cell
	for n := uint32(0); n < 10; n++ {
		if got := dispatchSquare(&cell, GlobalGroup{}, n); got != square(n) {
			t.Fatalf("dispatch(%d) = %d, want %d", n, got, square(n))
		}
	}
}

func TestDispatchDisabledGroupNeverTouchesState(t *testing.T) {
	var cell Cell
	ctx := newFuncContext(&FuncDescriptor{Name: "square"})
	cell.install(ctx)

	for i := 0; i < 10000; i++ {
		n := uint32(i % 100)
		if got := dispatchSquare(&cell, DisabledGroup{}, n); got != square(n) {
			t.Fatalf("dispatch(%d) = %d, want %d", n, got, square(n))
		}
	}

	if _, ok := ctx.peekGroupState(DisabledGroup{}.Name()); ok {
		t.Fatal("Disabled group must never create group state")
	}
}

func TestDispatchAbsentGroupInsertsUninitializedAndFallsBack(t *testing.T) {
	var cell Cell
	ctx := newFuncContext(&FuncDescriptor{Name: "square"})
	// Remove the pre-seeded Global entry so the group is genuinely absent.
	ctx.groups = map[string]*GroupState{}
	cell.install(ctx)

	group := NamedGroup{GroupName: "site-a", GroupThreshold: 10}
	if got := dispatchSquare(&cell, group, 7); got != square(7) {
		t.Fatalf("dispatch = %d, want %d", got, square(7))
	}

	g, ok := ctx.peekGroupState(group.Name())
	if !ok {
		t.Fatal("expected group state to be inserted on first dispatch")
	}
	state, _ := g.snapshot()
	if state != Uninitialized {
		t.Fatalf("inserted state = %v, want Uninitialized", state)
	}
}

func TestDispatchUninitializedAndFailedUseNativeFallback(t *testing.T) {
	var cell Cell
	ctx := newFuncContext(&FuncDescriptor{Name: "square"})
	cell.install(ctx)
	group := GlobalGroup{}

	if got := dispatchSquare(&cell, group, 3); got != square(3) {
		t.Fatalf("Uninitialized: dispatch = %d, want %d", got, square(3))
	}

	g, _ := ctx.peekGroupState(group.Name())
	g.transitionFailed()
	if got := dispatchSquare(&cell, group, 3); got != square(3) {
		t.Fatalf("CompilationFailed: dispatch = %d, want %d", got, square(3))
	}
}

func TestDispatchHappyPathCrossesThresholdExactlyOnce(t *testing.T) {
	var cell Cell
	ctx := newFuncContext(&FuncDescriptor{Name: "square"})
	reqs := make(chan Request, 64)
	ctx.reqs = reqs
	cell.install(ctx)

	group := NamedGroup{GroupName: "__GLOBAL__", GroupThreshold: 5000}
	g, _ := ctx.peekGroupState(group.Name())
	lib := &Library{path: "instrumented.so"}
	g.transitionInitialOK(lib)

	for i := 0; i < 4999; i++ {
		n := uint32(i)
		if got := dispatchSquare(&cell, group, n); got != square(n) {
			t.Fatalf("call %d: dispatch = %d, want %d", i, got, square(n))
		}
	}
	state, _ := g.snapshot()
	if state != GatheringData {
		t.Fatalf("state after 4999 calls = %v, want GatheringData", state)
	}
	if len(reqs) != 0 {
		t.Fatalf("requests enqueued before threshold crossing = %d, want 0", len(reqs))
	}

	if got := dispatchSquare(&cell, group, 4999); got != square(4999) {
		t.Fatalf("5000th call: dispatch = %d, want %d", got, square(4999))
	}
	if len(reqs) != 1 {
		t.Fatalf("requests enqueued after threshold crossing = %d, want 1", len(reqs))
	}
	req := <-reqs
	if req.Kind != OptimizedRequest || req.groupName != group.Name() {
		t.Fatalf("enqueued request = %+v, want an OptimizedRequest for %s", req, group.Name())
	}
}

func TestDispatchCompilingAndOptimizedResolveThroughLibrary(t *testing.T) {
	var cell Cell
	ctx := newFuncContext(&FuncDescriptor{Name: "square"})
	cell.install(ctx)
	group := GlobalGroup{}
	g, _ := ctx.peekGroupState(group.Name())

	lib := &Library{path: "instrumented.so"}
	g.transitionInitialOK(lib)
	if _, ok := g.beginCompiling(); !ok {
		t.Fatal("beginCompiling should succeed from GatheringData")
	}

	// While Compiling(lib_old), 1000 calls must all observe correct
	// results and never block on the in-progress compilation.
	for i := 0; i < 1000; i++ {
		n := uint32(i)
		if got := dispatchSquare(&cell, group, n); got != square(n) {
			t.Fatalf("while Compiling: dispatch(%d) = %d, want %d", n, got, square(n))
		}
	}

	newLib := &Library{path: "optimized.so"}
	g.transitionOptimizedOK(newLib)

	for i := 0; i < 1000; i++ {
		n := uint32(i)
		if got := dispatchSquare(&cell, group, n); got != square(n) {
			t.Fatalf("while Optimized: dispatch(%d) = %d, want %d", n, got, square(n))
		}
	}
}

func TestDispatchBurstCrossesThresholdAndDedupsAtWorker(t *testing.T) {
	var cell Cell
	ctx := newFuncContext(&FuncDescriptor{Name: "square"})
	reqs := make(chan Request, 100000)
	ctx.reqs = reqs
	cell.install(ctx)

	group := NamedGroup{GroupName: "__GLOBAL__", GroupThreshold: 10}
	g, _ := ctx.peekGroupState(group.Name())
	g.transitionInitialOK(&Library{path: "instrumented.so"})

	const calls = 10000
	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < calls/workers; i++ {
				n := uint32(i)
				if got := dispatchSquare(&cell, group, n); got != square(n) {
					t.Errorf("dispatch(%d) = %d, want %d", n, got, square(n))
				}
			}
		}(w)
	}
	wg.Wait()

	if len(reqs) == 0 {
		t.Fatal("expected at least one Optimized request to be enqueued")
	}

	// Simulate the worker's dedup: only the first beginCompiling() call
	// succeeds no matter how many Optimized requests piled up.
	succeeded := 0
	for len(reqs) > 0 {
		<-reqs
		if _, ok := g.beginCompiling(); ok {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("worker processed %d concurrent compilations, want exactly 1", succeeded)
	}

	g.transitionOptimizedOK(&Library{path: "optimized.so"})
	state, _ := g.snapshot()
	if state != Optimized {
		t.Fatalf("final state = %v, want Optimized", state)
	}
}

func TestDispatchReRegistrationIsNoOp(t *testing.T) {
	desc := &FuncDescriptor{Name: "square"}
	var cell Cell

	first := newFuncContext(desc)
	cell.install(first)
	g, _ := first.peekGroupState(GlobalGroup{}.Name())
	g.transitionInitialOK(&Library{path: "instrumented.so"})

	// A second "registration" of the same descriptor/cell must not
	// disturb the already-installed context's state.
	second := newFuncContext(desc)
	cell.install(second)

	if cell.load() != first {
		t.Fatal("re-registration replaced the installed FuncContext")
	}
	state, lib := g.snapshot()
	if state != GatheringData || lib == nil {
		t.Fatalf("state after re-registration = (%v, %v), want untouched GatheringData", state, lib)
	}
}
