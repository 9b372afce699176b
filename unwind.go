package dynfilter

import "encoding/binary"

// Direction distinguishes the two call-site resolution modes: an enter
// call-site is trusted unconditionally once found, an exit call-site is
// additionally validated against the hook's recorded entry point.
type Direction int

const (
	DirectionEnter Direction = iota
	DirectionExit
)

// StackWalker resolves, from the currently executing thread's call stack,
// the address of the 5-byte CALL instruction that invoked a named hook
// function. It is the sole boundary between pure-Go statistics logic and
// native stack-unwinding; unwind_cgo.go supplies the real libunwind-backed
// implementation, unwind_nocgo.go a stub for builds without cgo.
type StackWalker interface {
	// ResolveCallsite walks outward from the frame that called hookName and
	// returns the address immediately preceding the return address of the
	// frame that called it — the candidate CALL instruction — plus the
	// resolved entry address of hookName itself (used to validate exit
	// call-sites). ok is false if hookName does not appear on the stack.
	ResolveCallsite(hookName string) (candidate uintptr, hookEntry uintptr, ok bool)

	// ReadMemory returns n bytes read from addr in the current process's
	// address space, for decoding instruction bytes at a candidate
	// call-site. It never mutates memory.
	ReadMemory(addr uintptr, n int) ([]byte, bool)
}

// DetectHookFamily tries each known hook family's enter symbol against
// walker until one resolves. It is called once per process; the winning
// pair is fixed for the run.
func DetectHookFamily(walker StackWalker, families []HookFamily) (HookFamily, bool) {
	for _, f := range families {
		if _, _, ok := walker.ResolveCallsite(f.Enter); ok {
			return f, true
		}
	}
	return HookFamily{}, false
}

// ResolveEnterCallsite implements the enter-direction algorithm:
// the candidate is returned unconditionally once a hook frame is found.
func ResolveEnterCallsite(walker StackWalker, hookName string) (uintptr, bool) {
	candidate, _, ok := walker.ResolveCallsite(hookName)
	return candidate, ok
}

// ResolveExitCallsite implements the exit-direction algorithm: the
// candidate must decode as a recognized CALL form (see validateCallsite).
// For an E8 CALL the target, direct or through one level of PLT/GOT
// indirection, must be hookEntry; FF /2, FF /3 and EA forms are accepted on
// their opcode alone. Returns ok=false, optimizedOut=true when the candidate
// fails this check.
func ResolveExitCallsite(walker StackWalker, hookName string) (addr uintptr, ok bool, optimizedOut bool) {
	candidate, hookEntry, found := walker.ResolveCallsite(hookName)
	if !found {
		return 0, false, false
	}
	if validateCallsite(walker, candidate, hookEntry) {
		return candidate, true, false
	}
	return 0, false, true
}

// validateCallsite implements the byte-decode rules: E8 direct
// CALL, FF /2 or /3 indirect CALL, EA far CALL, with one level of
// FF 25 disp32 PLT/GOT indirection followed if the direct displacement
// does not land on hookEntry.
func validateCallsite(walker StackWalker, candidate, hookEntry uintptr) bool {
	b, ok := walker.ReadMemory(candidate, 5)
	if !ok || len(b) < 5 {
		return false
	}

	switch b[0] {
	case 0xe8: // E8 dd dd dd dd: near relative CALL
		disp := int32(binary.LittleEndian.Uint32(b[1:5]))
		target := candidate + 5 + uintptr(disp)
		if target == hookEntry {
			return true
		}
		return followPLT(walker, target, hookEntry)
	case 0xff:
		// FF /2 (indirect near CALL) or FF /3 (indirect far CALL). The
		// runtime target depends on register/memory state we don't have,
		// so the opcode itself is the whole check.
		reg := (b[1] >> 3) & 0x7
		return reg == 2 || reg == 3
	case 0xea: // legacy far CALL
		return true
	default:
		return false
	}
}

// followPLT reads the jump slot at target; if it is an FF 25 disp32 form,
// the effective GOT-relative address is compared against hookEntry.
func followPLT(walker StackWalker, target, hookEntry uintptr) bool {
	b, ok := walker.ReadMemory(target, 6)
	if !ok || len(b) < 6 {
		return false
	}
	if b[0] != 0xff || b[1] != 0x25 {
		return false
	}
	disp := int32(binary.LittleEndian.Uint32(b[2:6]))
	gotAddr := target + 6 + uintptr(disp)
	got, ok := walker.ReadMemory(gotAddr, 8)
	if !ok || len(got) < 8 {
		return false
	}
	resolved := uintptr(binary.LittleEndian.Uint64(got))
	return resolved == hookEntry
}
