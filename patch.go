package dynfilter

import "unsafe"

// nopBytes is the canonical five-byte multi-byte NOP this substrate writes
// over a CALL instruction: 0F 1F 44 00 00, i.e. NOP DWORD PTR [rax+rax*1+0x0].
var nopBytes = [5]byte{0x0f, 0x1f, 0x44, 0x00, 0x00}

// memProtector abstracts the page-permission primitives the patcher needs,
// so tests can exercise real mmap'd pages without depending on process
// internals, and so non-amd64 builds can supply a stub.
type memProtector interface {
	PageSize() int
	Mprotect(addr uintptr, length int, readWriteExec bool) error
}

// Patcher overwrites resolved call-site addresses with nopBytes, following
// the raise-write-lower permission sequence: never leave a page
// writable longer than the single write requires.
type Patcher struct {
	prot memProtector
	diag *diagnostics
}

// NewPatcher builds a Patcher using prot for page-permission changes.
func NewPatcher(prot memProtector, diag *diagnostics) *Patcher {
	return &Patcher{prot: prot, diag: diag}
}

// pagesFor returns the one or two distinct page-aligned addresses covering
// the five bytes [addr, addr+4].
func (p *Patcher) pagesFor(addr uintptr) []uintptr {
	pageSize := uintptr(p.prot.PageSize())
	first := addr - addr%pageSize
	last := addr + 4
	second := last - last%pageSize
	if second == first {
		return []uintptr{first}
	}
	return []uintptr{first, second}
}

// OverrideCall replaces the five bytes at addr with nopBytes, flipping page
// permissions around the write as described. A permission-change
// failure is reported through diag and returned; the caller keeps the
// region deletable for a future attempt. If raising permissions fails the
// call-site is left untouched; if lowering them fails, the NOP has already
// been written.
func (p *Patcher) OverrideCall(region RegionID, addr uintptr) error {
	pages := p.pagesFor(addr)

	for _, page := range pages {
		if err := p.prot.Mprotect(page, p.prot.PageSize(), true); err != nil {
			p.diag.warn(region, "mprotect-rw", "dynfilter: could not raise write permission on patch target", map[string]any{
				"addr": addr,
				"page": page,
				"err":  err.Error(),
			})
			return err
		}
	}

	writeNop(addr)

	for _, page := range pages {
		if err := p.prot.Mprotect(page, p.prot.PageSize(), false); err != nil {
			p.diag.warn(region, "mprotect-rx", "dynfilter: could not lower write permission after patch", map[string]any{
				"addr": addr,
				"page": page,
				"err":  err.Error(),
			})
			return err
		}
	}

	return nil
}

// writeNop performs the raw five-byte write at addr, which must already be
// writable. This is the only place in the package that writes to
// instrumented executable memory.
func writeNop(addr uintptr) {
	dst := unsafeBytesAt(addr, 5)
	copy(dst, nopBytes[:])
}

// unsafeBytesAt reinterprets the n bytes at addr as a []byte, for use with
// APIs (mprotect, the raw NOP write) that need a slice header pointing at
// live process memory rather than at a Go-managed allocation.
func unsafeBytesAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// ApplyAllPending patches every region eligible: not inactive, not
// already patched, deletable, not optimized_out, not currently nested on
// the main thread (depth > 0), and with both call-sites resolved. Eligible
// regions have both call-sites patched and are marked inactive.
func (p *Patcher) ApplyAllPending(reg *Registry) {
	for _, region := range reg.Regions() {
		region.mu.Lock()
		eligible := !region.inactive && region.deletable && !region.optimizedOut &&
			region.depth == 0 && region.enterCallsite != 0 && region.exitCallsite != 0
		if !eligible {
			region.mu.Unlock()
			continue
		}
		enter, exit, id := region.enterCallsite, region.exitCallsite, region.id
		region.mu.Unlock()

		if err := p.OverrideCall(id, enter); err != nil {
			continue
		}
		if err := p.OverrideCall(id, exit); err != nil {
			continue
		}

		region.mu.Lock()
		region.inactive = true
		region.mu.Unlock()
	}
}
