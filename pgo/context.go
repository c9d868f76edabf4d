package pgo

import "sync"

// FuncContext is the one-per-registered-function, static-lifetime runtime
// container described in §3: a reference to the function's immutable
// descriptor plus the concurrent group-name -> GroupState map that the
// dispatcher and worker both operate on.
//
// A FuncContext is installed into a Cell exactly once (first-writer-wins,
// enforced by Cell.install); re-registration with the same descriptor and
// cell is a no-op that leaves the existing context, and therefore all of
// its group state, untouched.
type FuncContext struct {
	info *FuncDescriptor
	reqs chan<- Request

	mu     sync.RWMutex
	groups map[string]*GroupState
}

// newFuncContext returns a FuncContext for desc with a single Uninitialized
// entry for the Global group already present, matching bootstrap step 4a.
func newFuncContext(desc *FuncDescriptor) *FuncContext {
	return &FuncContext{
		info: desc,
		groups: map[string]*GroupState{
			GlobalGroup{}.Name(): newGroupState(),
		},
	}
}

// groupState returns the GroupState for name, inserting a fresh
// Uninitialized entry if none exists yet. The insert is a concurrent
// upsert: a losing racer simply discards the state it allocated and uses
// the winner's, per §4.2's "the insert races harmlessly" note.
func (c *FuncContext) groupState(name string) *GroupState {
	c.mu.RLock()
	g, ok := c.groups[name]
	c.mu.RUnlock()
	if ok {
		return g
	}

	fresh := newGroupState()

	c.mu.Lock()
	if existing, ok := c.groups[name]; ok {
		g = existing
	} else {
		c.groups[name] = fresh
		g = fresh
	}
	c.mu.Unlock()
	return g
}

// peekGroupState returns the GroupState for name without creating one,
// used by the dispatcher's "absent" branch so that the very first call
// for a never-before-seen group name can fall back to native without
// paying for a map write on every subsequent fallback call once the
// entry exists.
func (c *FuncContext) peekGroupState(name string) (*GroupState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[name]
	return g, ok
}

// GroupStatus is a point-in-time, read-locked snapshot of one group's
// state and invocation count, used by the admin introspection surface
// (pgo/admin) to answer "what is this function doing right now" without
// going through the audit trail, which only records transitions rather
// than the live counter.
type GroupStatus struct {
	GroupName string
	State     PGOState
	Count     uint64
	LibPath   string
}

// Snapshot returns a GroupStatus for every group this context has ever
// touched, in no particular order.
func (c *FuncContext) Snapshot() []GroupStatus {
	c.mu.RLock()
	names := make([]string, 0, len(c.groups))
	groups := make([]*GroupState, 0, len(c.groups))
	for name, g := range c.groups {
		names = append(names, name)
		groups = append(groups, g)
	}
	c.mu.RUnlock()

	out := make([]GroupStatus, len(names))
	for i, g := range groups {
		state, lib := g.snapshot()
		path := ""
		if lib != nil {
			path = lib.Path()
		}
		out[i] = GroupStatus{
			GroupName: names[i],
			State:     state,
			Count:     g.count.Load(),
			LibPath:   path,
		}
	}
	return out
}

// Name returns the candidate function's name, for admin/introspection
// output keyed by function.
func (c *FuncContext) Name() string { return c.info.Name }

// enqueueOptimized attempts a non-blocking send of an Optimized request
// for groupName. See requestQueueSize in registry.go for why a dropped
// send under a full buffer is safe: the worker deduplicates in
// beginCompiling, so only one of potentially many crossings needs to
// land.
func (c *FuncContext) enqueueOptimized(groupName string) {
	if c.reqs == nil {
		return
	}
	select {
	case c.reqs <- Request{Kind: OptimizedRequest, ctx: c, groupName: groupName}:
	default:
	}
}
