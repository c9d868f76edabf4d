// Package abi defines the conventions shared between the PGO host process
// and the Go plugins it builds.
//
// Go plugin symbols only resolve correctly when the host and the plugin
// import the exact same package path for any shared type. This package
// exists so both sides have a single, stable import to agree on; the
// compiler driver writes a replace directive back to this module's root
// for every generated plugin workspace (see pgo/compiler).
package abi

// Edition selects the Go language version a candidate function is compiled
// with. It is written verbatim into the generated plugin's go.mod as the
// go directive, mirroring a -std= style compiler flag.
type Edition string

// DefaultEdition is used when a FuncDescriptor leaves Edition empty.
const DefaultEdition Edition = "1.22"
