//go:build !linux || !amd64 || !cgo

// Package native is the boundary between Go and compiled guest code.
// Compiled code can only be run on linux/amd64 with cgo enabled.
package native

import (
	"fmt"
	"runtime"

	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

// Supported reports whether compiled code can run on this host.
const Supported = false

// Call panics: there is no way to run compiled code on this host.
func Call(entry uintptr, s *state.State) {
	panic(fmt.Errorf("cannot run compiled code on %s/%s", runtime.GOOS, runtime.GOARCH))
}

// ClearCache does nothing on hosts without compiled code.
func ClearCache(start, end uintptr) {}
