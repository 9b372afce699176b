package dynfilter

// Shared fixtures for the statistics-engine and end-to-end scenario tests:
// building a Substrate wired to a fakeWalker/fakeProtector, and giving each
// region real, process-owned memory to resolve its enter/exit call-sites
// to, so a region that genuinely becomes deletable can be patched for real
// without touching unmapped memory.

const (
	testEnterHook = "__cyg_profile_func_enter"
	testExitHook  = "__cyg_profile_func_exit"
)

// newHarness builds a Substrate whose hook family is already detected
// (against a dummy resolution), ready for regions to be wired in with
// wireRegion.
func newHarness(cfg Config) (*Substrate, *Registry, *fakeWalker, *fakeProtector) {
	reg := NewRegistry()
	walker := newFakeWalker()
	prot := newFakeProtector(4096)
	patcher := NewPatcher(prot, newDiagnostics(nil))
	sub := NewSubstrate(cfg, reg, walker, patcher, nil, newDiagnostics(nil))

	// Warm up hook-family detection against a dummy resolution so it
	// doesn't consume the first region's queued call-site entries.
	walker.setResolved(testEnterHook, 1, 0)
	sub.ensureHookFamily()

	return sub, reg, walker, prot
}

// regionFixture owns the real backing memory a region's resolved
// enter/exit call-sites point to.
type regionFixture struct {
	id        RegionID
	enterBuf  []byte
	exitBuf   []byte
	hookEntry uintptr
}

// wireRegion defines id in reg and arranges for the next enter/exit
// resolution on that region to land on real, writable memory: exitBuf is
// pre-encoded as a direct CALL to a synthetic hookEntry address (never
// dereferenced, only compared), so the region resolves cleanly rather than
// being flagged optimized_out.
func wireRegion(reg *Registry, walker *fakeWalker, id RegionID, name string) *regionFixture {
	reg.Define(id, name, ParadigmCompiler)
	return queueCallsiteFixture(walker, id)
}

// queueCallsiteFixture pushes one more real-memory-backed enter/exit
// resolution onto walker's queue, without defining a region. Used directly
// (rather than through wireRegion) when a single region needs more than one
// queued resolution, e.g. one per worker location resolving its own shadow.
func queueCallsiteFixture(walker *fakeWalker, id RegionID) *regionFixture {
	fx := &regionFixture{
		id:       id,
		enterBuf: make([]byte, 8),
		exitBuf:  make([]byte, 8),
	}
	walker.pin(fx.enterBuf, fx.exitBuf)
	enterAddr := addrOf(fx.enterBuf)
	exitAddr := addrOf(fx.exitBuf)
	// hookEntry must be a realistic near-CALL target: within the int32
	// displacement range of exitAddr, as it would be for two functions
	// linked into the same executable.
	fx.hookEntry = exitAddr + 0x100 + uintptr(id)*8
	copy(fx.exitBuf, encodeDirectCall(exitAddr, fx.hookEntry))
	walker.setMem(exitAddr, fx.exitBuf)

	walker.queueResolved(testEnterHook, enterAddr, 0)
	walker.queueResolved(testExitHook, exitAddr, fx.hookEntry)

	return fx
}

// wireOptimizedOutRegion is like wireRegion, but the exit call-site bytes
// never decode to a recognized CALL form, so the region resolves enter
// cleanly then gets flagged optimized_out on its first exit.
func wireOptimizedOutRegion(reg *Registry, walker *fakeWalker, id RegionID, name string) *regionFixture {
	reg.Define(id, name, ParadigmCompiler)

	fx := &regionFixture{
		id:       id,
		enterBuf: make([]byte, 8),
		exitBuf:  []byte{0xeb, 0x01, 0x02, 0x03, 0x04, 0, 0, 0},
	}
	walker.pin(fx.enterBuf, fx.exitBuf)
	enterAddr := addrOf(fx.enterBuf)
	exitAddr := addrOf(fx.exitBuf)
	walker.setMem(exitAddr, fx.exitBuf)

	walker.queueResolved(testEnterHook, enterAddr, 0)
	walker.queueResolved(testExitHook, exitAddr, 0xcafebabe)

	return fx
}
