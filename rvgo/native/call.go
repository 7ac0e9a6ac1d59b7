//go:build linux && amd64 && cgo

package native

/*
#include <stdint.h>

typedef void (*entry_fn)(void *state);

static void rvjit_call(uintptr_t fn, uintptr_t state) {
	((entry_fn)fn)((void *)state);
}

static void rvjit_clear_cache(uintptr_t start, uintptr_t end) {
	__builtin___clear_cache((char *)start, (char *)end);
}
*/
import "C"

import (
	"runtime"
	"unsafe"

	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

// Supported reports whether compiled code can run on this host.
const Supported = true

// Call runs the compiled function at entry, passing it a pointer to s using
// the System V AMD64 calling convention. The address crosses as an integer:
// s usually lives inside a larger object holding Go pointers, which the cgo
// pointer check would reject. Compiled code never keeps it past the call.
func Call(entry uintptr, s *state.State) {
	C.rvjit_call(C.uintptr_t(entry), C.uintptr_t(uintptr(unsafe.Pointer(s))))
	runtime.KeepAlive(s)
}

// ClearCache makes freshly written code in [start, end) visible to
// instruction fetch.
func ClearCache(start, end uintptr) {
	C.rvjit_clear_cache(C.uintptr_t(start), C.uintptr_t(end))
}
