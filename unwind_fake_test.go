package dynfilter

import (
	"encoding/binary"
	"errors"
)

var errFakeProtectFailure = errors.New("dynfilter: fake mprotect failure")

// fakeWalker is a StackWalker double: ResolveCallsite returns canned
// addresses keyed by hook symbol name, and ReadMemory serves a small fake
// memory image filled in with setMem (e.g. bytes from encodeDirectCall). It lets the statistics and
// unwinder tests exercise the enter/exit resolution and exit validation
// logic without a real stack or real executable memory.
type fakeWalker struct {
	// resolved maps a hook symbol name to (candidate, hookEntry); absent
	// names report ok=false, mirroring "hook not found on this stack".
	resolved map[string][2]uintptr
	// queue holds, per hook name, a sequence of resolutions consumed one
	// per call before falling back to resolved: this is what lets a
	// multi-region test give each region's first resolution its own
	// address on a hook name shared by every region, the way a real stack
	// walk would.
	queue map[string][][2]uintptr
	mem   map[uintptr][]byte
	// pinned holds every buffer whose raw address was handed out as a
	// call-site, keeping it reachable for the life of the walker so the
	// patcher's write lands in live memory even after the test drops its
	// own fixture reference.
	pinned [][]byte
}

func newFakeWalker() *fakeWalker {
	return &fakeWalker{
		resolved: make(map[string][2]uintptr),
		queue:    make(map[string][][2]uintptr),
		mem:      make(map[uintptr][]byte),
	}
}

func (w *fakeWalker) setResolved(hookName string, candidate, hookEntry uintptr) {
	w.resolved[hookName] = [2]uintptr{candidate, hookEntry}
}

func (w *fakeWalker) queueResolved(hookName string, candidate, hookEntry uintptr) {
	w.queue[hookName] = append(w.queue[hookName], [2]uintptr{candidate, hookEntry})
}

func (w *fakeWalker) setMem(addr uintptr, b []byte) {
	w.mem[addr] = append([]byte(nil), b...)
}

func (w *fakeWalker) pin(bufs ...[]byte) {
	w.pinned = append(w.pinned, bufs...)
}

// encodeDirectCall returns the 5-byte E8 encoding of a near CALL from
// candidate to target.
func encodeDirectCall(candidate, target uintptr) []byte {
	disp := int32(int64(target) - int64(candidate) - 5)
	b := make([]byte, 5)
	b[0] = 0xe8
	binary.LittleEndian.PutUint32(b[1:], uint32(disp))
	return b
}

func (w *fakeWalker) ResolveCallsite(hookName string) (uintptr, uintptr, bool) {
	if q := w.queue[hookName]; len(q) > 0 {
		v := q[0]
		w.queue[hookName] = q[1:]
		return v[0], v[1], true
	}
	v, ok := w.resolved[hookName]
	if !ok {
		return 0, 0, false
	}
	return v[0], v[1], true
}

func (w *fakeWalker) ReadMemory(addr uintptr, n int) ([]byte, bool) {
	b, ok := w.mem[addr]
	if !ok || len(b) < n {
		return nil, false
	}
	return b[:n], true
}

// fakeProtector is a memProtector double recording every permission flip,
// so patch tests can assert the raise/write/lower sequence and exercise
// failure injection without mmap'ing real pages.
type fakeProtector struct {
	pageSize int
	failOn   map[uintptr]bool
	calls    []fakeProtectCall
}

type fakeProtectCall struct {
	addr          uintptr
	readWriteExec bool
}

func newFakeProtector(pageSize int) *fakeProtector {
	return &fakeProtector{pageSize: pageSize, failOn: make(map[uintptr]bool)}
}

func (p *fakeProtector) PageSize() int { return p.pageSize }

func (p *fakeProtector) Mprotect(addr uintptr, length int, readWriteExec bool) error {
	p.calls = append(p.calls, fakeProtectCall{addr: addr, readWriteExec: readWriteExec})
	if p.failOn[addr] {
		return errFakeProtectFailure
	}
	return nil
}
