package pgo

// Dispatch is the hot path described in §4.2. It is parameterized by a
// Group (USE_PGO / NAME / THRESHOLD) and by the caller's return type R,
// so the generated dispatch stub can supply two closures — one that
// calls the statically compiled native fallback, one that resolves and
// calls through a loaded Library — without Dispatch itself needing to
// know anything about the candidate function's signature.
//
// libFn runs while Dispatch holds the group's read lock, which is what
// keeps the Library (and therefore the resolved symbol) alive for the
// full duration of the call; see GroupState.withReadLock. Dispatch never
// blocks on compilation: it only ever blocks briefly on the per-group
// lock, and only for as long as libFn itself takes to run.
func Dispatch[G Group, R any](cell *Cell, group G, nativeFn func() R, libFn func(lib *Library) R) R {
	if !group.UsePGO() {
		return nativeFn()
	}

	ctx := cell.load()
	if ctx == nil {
		return nativeFn()
	}

	name := group.Name()
	g, ok := ctx.peekGroupState(name)
	if !ok {
		// Absent: insert a fresh Uninitialized entry and fall back this
		// call. The insert races harmlessly with any concurrent caller
		// doing the same; whichever wins, every caller observes the same
		// state on the next call (§4.2).
		ctx.groupState(name)
		return nativeFn()
	}

	var result R
	var useNative bool

	g.withReadLock(func(state PGOState, lib *Library) {
		switch state {
		case Uninitialized, CompilationFailed:
			useNative = true
			return
		case GatheringData:
			// The call that brings the count up to the threshold is the
			// first one to enqueue.
			pre := g.incrementCount()
			if pre+1 >= group.Threshold() {
				ctx.enqueueOptimized(name)
			}
			result = libFn(lib)
		case Compiling, Optimized:
			result = libFn(lib)
		default:
			useNative = true
		}
	})

	if useNative {
		return nativeFn()
	}
	return result
}
