package dynfilter

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addrOf returns a live, GC-pinned address into buf for use as a patch
// target: real memory the test process owns, so writeNop's unsafe write is
// safe, unlike an arbitrary fake uintptr.
func addrOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

func TestPatcher_PagesFor_SinglePage(t *testing.T) {
	p := NewPatcher(newFakeProtector(4096), nil)
	pages := p.pagesFor(0x1000)
	assert.Equal(t, []uintptr{0x1000}, pages)
}

func TestPatcher_PagesFor_StraddlesBoundary(t *testing.T) {
	p := NewPatcher(newFakeProtector(4096), nil)
	// 0x1FFE..0x2002: straddles the 0x2000 page boundary.
	pages := p.pagesFor(0x1ffe)
	assert.Equal(t, []uintptr{0x1000, 0x2000}, pages)
}

func TestPatcher_OverrideCall_WritesNopAndFlipsPermissions(t *testing.T) {
	buf := make([]byte, 16)
	copy(buf, []byte{0xe8, 0xaa, 0xbb, 0xcc, 0xdd, 0xff, 0xff})
	addr := addrOf(buf)

	prot := newFakeProtector(4096)
	diag := newDiagnostics(nil)
	p := NewPatcher(prot, diag)

	err := p.OverrideCall(1, addr)
	require.NoError(t, err)

	assert.Equal(t, nopBytes[:], buf[:5])
	// Bytes immediately following the patch are untouched.
	assert.Equal(t, []byte{0xff, 0xff}, buf[5:7])

	require.Len(t, prot.calls, 2)
	assert.True(t, prot.calls[0].readWriteExec)
	assert.False(t, prot.calls[1].readWriteExec)
}

func TestPatcher_OverrideCall_MprotectFailure_LeavesBytesUnpatched(t *testing.T) {
	buf := make([]byte, 8)
	copy(buf, []byte{0xe8, 0x01, 0x02, 0x03, 0x04})
	addr := addrOf(buf)

	prot := newFakeProtector(4096)
	prot.failOn[addr-addr%4096] = true
	diag := newDiagnostics(nil)
	p := NewPatcher(prot, diag)

	err := p.OverrideCall(1, addr)
	assert.Error(t, err)
	assert.Equal(t, byte(0xe8), buf[0], "bytes must be untouched when the raise-permission step fails")
}

func TestPatcher_ApplyAllPending_SkipsIneligibleRegions(t *testing.T) {
	reg := NewRegistry()
	prot := newFakeProtector(4096)
	p := NewPatcher(prot, newDiagnostics(nil))

	notDeletable, _ := reg.Define(1, "not-deletable", ParadigmCompiler)
	notDeletable.enterCallsite, notDeletable.exitCallsite = 1, 2

	nested, _ := reg.Define(2, "nested", ParadigmCompiler)
	nested.deletable = true
	nested.depth = 1
	nested.enterCallsite, nested.exitCallsite = 1, 2

	optimizedOut, _ := reg.Define(3, "optimized-out", ParadigmCompiler)
	optimizedOut.deletable = true
	optimizedOut.optimizedOut = true
	optimizedOut.enterCallsite, optimizedOut.exitCallsite = 1, 2

	missingCallsite, _ := reg.Define(4, "missing-callsite", ParadigmCompiler)
	missingCallsite.deletable = true

	p.ApplyAllPending(reg)

	for _, r := range reg.Regions() {
		assert.False(t, r.Snapshot().Inactive, "region %d should not have been patched", r.ID())
	}
	assert.Empty(t, prot.calls)
}

func TestPatcher_ApplyAllPending_PatchesEligibleRegion(t *testing.T) {
	enterBuf := make([]byte, 8)
	copy(enterBuf, []byte{0xe8, 1, 2, 3, 4})
	exitBuf := make([]byte, 8)
	copy(exitBuf, []byte{0xe8, 5, 6, 7, 8})

	reg := NewRegistry()
	r, _ := reg.Define(1, "hot", ParadigmCompiler)
	r.deletable = true
	r.enterCallsite = addrOf(enterBuf)
	r.exitCallsite = addrOf(exitBuf)

	p := NewPatcher(newFakeProtector(4096), newDiagnostics(nil))
	p.ApplyAllPending(reg)

	assert.Equal(t, nopBytes[:], enterBuf[:5])
	assert.Equal(t, nopBytes[:], exitBuf[:5])
	assert.True(t, r.Snapshot().Inactive)
}
