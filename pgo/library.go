package pgo

import "plugin"

// Library is the opaque, shared-ownership handle to a loaded shared
// object referenced from §3's data model. Its lifetime is meant to be
// the lifetime of the GroupState value it sits in: replacing the state
// with a new variant should drop the old handle and unload the library.
//
// Go's plugin package has no Close/unload call — once plugin.Open
// succeeds, the mapped code and data stay resident for the life of the
// process. release is therefore a bookkeeping no-op rather than a real
// unmap; what it DOES still guarantee, because it is only ever invoked
// after GroupState's write lock is released and no reader can resolve a
// symbol from this Library anymore, is that nothing in this process will
// call through the old artifact again. Disk space and OS file handles
// under the group's directory are reclaimed only when the working
// directory itself is cleaned up, which this framework never does
// automatically (see §1 Non-goals: no durable caching across restarts,
// but also no mid-run cleanup).
type Library struct {
	path string
	plug *plugin.Plugin
}

// OpenLibrary loads the shared object at path.
func OpenLibrary(path string) (*Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &Library{path: path, plug: p}, nil
}

// Path returns the filesystem path this Library was loaded from.
func (l *Library) Path() string {
	return l.path
}

// Lookup resolves a symbol by name. The dispatcher's generated stub
// knows the concrete function-pointer type to cast the result to; this
// package does not inspect it (§6: "the dispatcher assumes the caller
// will cast the resolved symbol to the correct function-pointer type;
// this is unsafe by construction").
func (l *Library) Lookup(name string) (plugin.Symbol, error) {
	return l.plug.Lookup(name)
}

// release is called when the library is superseded; it does nothing and
// records nothing. See the type doc comment for why it cannot unmap the
// plugin under the current Go toolchain.
func (l *Library) release() {}
