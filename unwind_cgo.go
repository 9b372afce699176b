//go:build cgo

package dynfilter

/*
#cgo LDFLAGS: -lunwind
#define UNW_LOCAL_ONLY
#include <libunwind.h>
#include <string.h>
#include <stdlib.h>
#include <dlfcn.h>

// goResolveCallsite walks the local stack looking for a frame named
// function_name, then takes the instruction pointer of the next frame out
// and subtracts five (the width of a CALL instruction) to land on the
// candidate call-site.
static unsigned long goResolveCallsite(const char *function_name, int *found) {
	unw_cursor_t cursor;
	unw_context_t uc;
	unw_word_t ip, offset;
	char sym[256];

	*found = 0;
	unw_getcontext(&uc);
	unw_init_local(&cursor, &uc);

	do {
		if (unw_get_proc_name(&cursor, sym, sizeof(sym), &offset) == 0
			&& strcmp(sym, function_name) == 0) {
			unw_step(&cursor);
			unw_get_reg(&cursor, UNW_REG_IP, &ip);
			*found = 1;
			return (unsigned long) (ip - 5);
		}
	} while (unw_step(&cursor) > 0);

	return 0;
}

static unsigned long goResolveSymbolEntry(const char *name, int *found) {
	void *addr = dlsym(RTLD_DEFAULT, name);
	*found = addr != NULL;
	return (unsigned long) addr;
}
*/
import "C"

import "unsafe"

// cgoStackWalker is the production StackWalker: it walks frames with
// libunwind through cgo, and resolves a hook symbol's entry address via
// dlsym for exit call-site validation.
type cgoStackWalker struct{}

// NewStackWalker returns the libunwind-backed StackWalker.
func NewStackWalker() StackWalker { return cgoStackWalker{} }

func (cgoStackWalker) ResolveCallsite(hookName string) (uintptr, uintptr, bool) {
	cname := C.CString(hookName)
	defer C.free(unsafe.Pointer(cname))

	var found C.int
	candidate := C.goResolveCallsite(cname, &found)
	if found == 0 {
		return 0, 0, false
	}

	var entryFound C.int
	entry := C.goResolveSymbolEntry(cname, &entryFound)
	if entryFound == 0 {
		return uintptr(candidate), 0, true
	}
	return uintptr(candidate), uintptr(entry), true
}

func (cgoStackWalker) ReadMemory(addr uintptr, n int) ([]byte, bool) {
	if addr == 0 || n <= 0 {
		return nil, false
	}
	return append([]byte(nil), unsafeBytesAt(addr, n)...), true
}
