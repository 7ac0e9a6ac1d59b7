package test

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/rvjit/rvgo/cache"
	"github.com/ethereum-optimism/rvjit/rvgo/cmd"
	"github.com/ethereum-optimism/rvjit/rvgo/codegen"
	"github.com/ethereum-optimism/rvjit/rvgo/compile"
	"github.com/ethereum-optimism/rvjit/rvgo/machine"
	"github.com/ethereum-optimism/rvjit/rvgo/native"
	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

// The suites are the riscv-tests ISA tests, built for an environment that
// reports the result through exit(2): 0 on success, (testnum<<1)|1 on failure.
const testsPath = "../../tests/riscv-tests"

var categories = []string{
	"rv64ui-p",
	"rv64um-p",
	"rv64ua-p",
	"rv64uf-p",
	"rv64ud-p",
	"rv64uc-p",
}

// The float suites also check fflags, which compiled code does not accrue.
var compiledCategories = []string{
	"rv64ui-p",
	"rv64um-p",
	"rv64ua-p",
	"rv64uc-p",
}

func forEachTestSuite(t *testing.T, path string, callItem func(t *testing.T, path string)) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skipf("missing tests: %s", path)
	} else {
		require.NoError(t, err, "failed to stat path")
	}
	items, err := os.ReadDir(path)
	require.NoError(t, err, "failed to read dir items")
	require.NotEmpty(t, items, "expected at least one test suite binary")

	for _, item := range items {
		if !item.IsDir() && !strings.HasSuffix(item.Name(), ".dump") {
			t.Run(item.Name(), func(t *testing.T) {
				callItem(t, filepath.Join(path, item.Name()))
			})
		}
	}
}

func runTestSuite(t *testing.T, path string, cfg machine.Config) *machine.Machine {
	prog, err := cmd.LoadProgram(path, 1<<28)
	require.NoError(t, err, "must load test suite ELF binary")
	logger := log.NewLogger(log.LogfmtHandlerWithLevel(io.Discard, log.LevelError))
	m, err := machine.New(logger, prog.Mem, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	require.NoError(t, m.Setup([]string{filepath.Base(path)}, 1<<16))

	code, err := m.Run(context.Background())
	require.NoError(t, err, "VM err at pc %#x", m.State.PC)
	if code != 0 {
		t.Fatalf("failed at test case %d", code>>1)
	}
	return m
}

func jitConfig(t *testing.T) machine.Config {
	if !native.Supported {
		t.Skip("native code is not supported on this host")
	}
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skipf("no C compiler: %v", err)
	}
	return machine.Config{
		JIT:       true,
		Cache:     cache.Config{ArenaSize: 16 << 20, Entries: 4096, HotThreshold: 1},
		Codegen:   codegen.DefaultConfig(),
		Toolchain: compile.NewSubprocess(cc, nil),
	}
}

func TestInterpreter(t *testing.T) {
	for _, name := range categories {
		t.Run(name, func(t *testing.T) {
			forEachTestSuite(t, filepath.Join(testsPath, name), func(t *testing.T, path string) {
				runTestSuite(t, path, machine.Config{})
			})
		})
	}
}

// TestCompiled runs the integer suites with everything compiled on first entry, and
// checks the final registers against an interpreter-only run.
func TestCompiled(t *testing.T) {
	cfg := jitConfig(t)
	for _, name := range compiledCategories {
		t.Run(name, func(t *testing.T) {
			forEachTestSuite(t, filepath.Join(testsPath, name), func(t *testing.T, path string) {
				slow := runTestSuite(t, path, machine.Config{})
				fast := runTestSuite(t, path, cfg)
				opts := []cmp.Option{
					cmpopts.IgnoreUnexported(state.State{}),
					cmpopts.IgnoreFields(state.State{}, "Mem", "FCSR"),
				}
				if diff := cmp.Diff(slow.State, fast.State, opts...); diff != "" {
					t.Fatalf("tiers disagree (-interp +jit):\n%s", diff)
				}
			})
		})
	}
}
