//go:build amd64

package dynfilter

import "golang.org/x/sys/unix"

// sysMemProtector is the production memProtector, backed by
// golang.org/x/sys/unix.Mprotect and unix.Getpagesize. Restricted to amd64
// because the instruction encodings this package recognizes (E8/FF/EA, the
// PLT FF 25 form, and the NOP replacement itself) are all x86-specific.
type sysMemProtector struct{}

// NewSysMemProtector returns the real mprotect-backed protector.
func NewSysMemProtector() memProtector { return sysMemProtector{} }

func (sysMemProtector) PageSize() int { return unix.Getpagesize() }

func (sysMemProtector) Mprotect(addr uintptr, length int, readWriteExec bool) error {
	prot := unix.PROT_READ | unix.PROT_EXEC
	if readWriteExec {
		prot |= unix.PROT_WRITE
	}
	b := unsafeBytesAt(addr, length)
	return unix.Mprotect(b, prot)
}
