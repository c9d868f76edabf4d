// Package pgo is a runtime profile-guided optimization framework for
// individual functions embedded in a host program.
//
// A candidate function is registered once at startup (Init). The
// framework writes its source into a working directory, asks the Go
// toolchain to build it as a plugin, and the generated dispatch stub
// (outside this package; see pgo/abi and the code-generation
// collaborator) transparently redirects calls from the statically
// compiled version to the loaded plugin. After a configurable number of
// invocations the framework merges collected profile samples, rebuilds
// the function with -pgo, and swaps in the optimized plugin without
// blocking any in-flight call.
//
// The three pieces that matter are Dispatch (the hot path, which takes
// only a per-group read lock), Worker (the background compiler driver), and GroupState
// (the per-function, per-group state machine the two communicate
// through). See FuncContext, Cell, and Registry for how a function gets
// from registration to a dispatching call site.
package pgo
