package pgo

import "github.com/ha1tch/pgo/pgo/abi"

// FuncDescriptor is the immutable, static-lifetime metadata for one PGO
// candidate function: its identity, its source, and the language edition
// it must be compiled with.
//
// Name doubles as the filesystem directory name under the working
// directory and as the exported symbol name in every shared object built
// for this function.
type FuncDescriptor struct {
	Name    string
	Src     string
	Edition abi.Edition
}

// edition returns the descriptor's edition, or abi.DefaultEdition if unset.
func (d *FuncDescriptor) edition() abi.Edition {
	if d.Edition == "" {
		return abi.DefaultEdition
	}
	return d.Edition
}

// Registration pairs a descriptor with the Cell the generated dispatch
// stub reads on every call. Init takes a slice of these.
type Registration struct {
	Descriptor *FuncDescriptor
	Cell       *Cell
}
