//go:build !amd64

package dynfilter

import "errors"

// errUnsupportedArch is returned by every Mprotect call on architectures
// other than amd64: the instruction encodings this package patches around
// are x86-specific, so there is nothing correct to do here.
var errUnsupportedArch = errors.New("dynfilter: code patching unsupported on this architecture")

type sysMemProtector struct{}

// NewSysMemProtector returns a protector that always fails, so that
// deletable regions remain deletable (and instrumented) indefinitely on
// non-amd64 builds rather than silently skipping the correctness checks.
func NewSysMemProtector() memProtector { return sysMemProtector{} }

func (sysMemProtector) PageSize() int { return 4096 }

func (sysMemProtector) Mprotect(addr uintptr, length int, readWriteExec bool) error {
	return errUnsupportedArch
}
