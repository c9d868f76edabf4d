package pgo

import "sync/atomic"

// defaultThreshold is the process-wide invocation threshold GlobalGroup and
// a zero-valued NamedGroup.GroupThreshold resolve against. Init sets it
// from config.Config.DefaultThreshold, and WatchConfigFile keeps it
// live-reloadable the same way it keeps the compiler timeout live-
// reloadable (registry.go's WatchConfigFile onReload callback).
var defaultThreshold atomic.Uint64

func init() {
	defaultThreshold.Store(5000)
}

// SetDefaultThreshold updates the process-wide default invocation
// threshold that GlobalGroup and unset NamedGroups resolve against. A
// zero n is ignored, since it would mean every group crosses over on its
// first call.
func SetDefaultThreshold(n uint64) {
	if n == 0 {
		return
	}
	defaultThreshold.Store(n)
}

// DefaultThreshold returns the process-wide default invocation threshold.
func DefaultThreshold() uint64 {
	return defaultThreshold.Load()
}

// Group is a compile-time-known identity under which a function's PGO
// state is tracked. Multiple groups let a single function maintain
// independent optimization contexts, e.g. per call-site or per workload
// shape.
type Group interface {
	// UsePGO reports whether dispatch should ever consult this group's
	// state. When false, dispatch always calls the native fallback and
	// never touches the group map.
	UsePGO() bool

	// Name is the group's static string identity, used as the key in a
	// FuncContext's groups map and as the subdirectory name under the
	// function's working directory.
	Name() string

	// Threshold is the invocation count after which GatheringData
	// crosses over into an enqueued Optimized request.
	Threshold() uint64
}

// GlobalGroup is the framework's built-in default group: PGO enabled,
// name "__GLOBAL__", threshold set by the process-wide default (5000
// unless overridden via config.Config.DefaultThreshold).
type GlobalGroup struct{}

func (GlobalGroup) UsePGO() bool      { return true }
func (GlobalGroup) Name() string      { return "__GLOBAL__" }
func (GlobalGroup) Threshold() uint64 { return DefaultThreshold() }

// DisabledGroup opts a call site out of PGO entirely. Dispatch always
// invokes the native fallback; no state is ever created or consulted.
type DisabledGroup struct{}

func (DisabledGroup) UsePGO() bool      { return false }
func (DisabledGroup) Name() string      { return "__DISABLED__" }
func (DisabledGroup) Threshold() uint64 { return 0 }

// NamedGroup builds a Group with a custom name and threshold, PGO always
// enabled. Useful when a function is dispatched from more than one call
// site and each should train and optimize independently. A zero
// GroupThreshold means "use the process-wide default" rather than
// crossing over on the very first call.
type NamedGroup struct {
	GroupName      string
	GroupThreshold uint64
}

func (g NamedGroup) UsePGO() bool { return true }
func (g NamedGroup) Name() string { return g.GroupName }
func (g NamedGroup) Threshold() uint64 {
	if g.GroupThreshold == 0 {
		return DefaultThreshold()
	}
	return g.GroupThreshold
}
