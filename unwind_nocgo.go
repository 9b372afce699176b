//go:build !cgo

package dynfilter

// noopStackWalker backs builds without cgo (so without libunwind access):
// it never resolves a call-site, so no hook family is ever detected and
// patching stays disabled while statistics bookkeeping is unaffected.
type noopStackWalker struct{}

// NewStackWalker returns the no-op StackWalker used on builds without cgo.
func NewStackWalker() StackWalker { return noopStackWalker{} }

func (noopStackWalker) ResolveCallsite(string) (uintptr, uintptr, bool) { return 0, 0, false }

func (noopStackWalker) ReadMemory(uintptr, int) ([]byte, bool) { return nil, false }
