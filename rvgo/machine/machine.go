// Package machine ties the tiers together: it interprets cold code, counts
// block entries, compiles hot code and runs it natively, and hands control
// back and forth through the exit reason of the shared state block.
package machine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/rvjit/rvgo/cache"
	"github.com/ethereum-optimism/rvjit/rvgo/codegen"
	"github.com/ethereum-optimism/rvjit/rvgo/compile"
	"github.com/ethereum-optimism/rvjit/rvgo/interp"
	"github.com/ethereum-optimism/rvjit/rvgo/mmu"
	"github.com/ethereum-optimism/rvjit/rvgo/native"
	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
	"github.com/ethereum-optimism/rvjit/rvgo/state"
	"github.com/ethereum-optimism/rvjit/rvgo/syscalls"
)

type Config struct {
	// JIT enables the native tier. Without it every block is interpreted.
	JIT     bool
	Cache   cache.Config
	Codegen codegen.Config
	// Toolchain compiles generated programs. Required when JIT is set.
	Toolchain compile.Toolchain
	// Store optionally keeps compiled objects across runs.
	Store compile.ObjectStore
}

type Stats struct {
	InterpBlocks  uint64 `json:"interpBlocks"`
	NativeEntries uint64 `json:"nativeEntries"`
	LinkThroughs  uint64 `json:"linkThroughs"`
	Fallbacks     uint64 `json:"fallbacks"`
	Ecalls        uint64 `json:"ecalls"`

	Compile compile.Stats `json:"compile"`
	Cache   cache.Stats   `json:"cache"`
}

type Machine struct {
	log log.Logger
	cfg Config

	State    state.State
	Mem      *mmu.Memory
	Syscalls *syscalls.Handler

	interp  *interp.Interpreter
	cache   *cache.Cache
	gen     *codegen.Generator
	backend *compile.Backend

	// forceInterp makes the next block run in the interpreter, after compiled
	// code handed back an instruction it does not translate.
	forceInterp bool
	stats       Stats
}

// New creates a machine over mem, starting at the loaded entry point. The
// machine takes ownership of mem.
func New(logger log.Logger, mem *mmu.Memory, cfg Config) (*Machine, error) {
	m := &Machine{
		log:      logger,
		cfg:      cfg,
		Mem:      mem,
		Syscalls: syscalls.NewHandler(logger, mem),
		interp:   interp.New(mem.Bytes()),
	}
	m.State.PC = mem.Entry
	m.State.Mem = uint64(mem.HostBase())
	if cfg.JIT {
		if !native.Supported {
			return nil, errors.New("native execution is not supported on this host")
		}
		if cfg.Toolchain == nil {
			return nil, errors.New("no toolchain configured")
		}
		c, err := cache.New(cfg.Cache)
		if err != nil {
			return nil, err
		}
		m.cache = c
		m.gen = codegen.New(mem, cfg.Codegen)
		m.backend = compile.NewBackend(logger, cfg.Toolchain, c, cfg.Store)
	}
	return m, nil
}

// Close releases the code arena, the guest memory and the object store.
func (m *Machine) Close() error {
	var errs []error
	if m.cache != nil {
		errs = append(errs, m.cache.Close())
	}
	if closer, ok := m.cfg.Store.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, m.Mem.Close())
	return errors.Join(errs...)
}

func (m *Machine) Stats() Stats {
	out := m.stats
	if m.backend != nil {
		out.Compile = m.backend.Stats()
		out.Cache = m.cache.Stats()
	}
	return out
}

// Step runs guest code until the next ECALL. On return State.PC is the
// instruction after the ECALL. Fatal conditions raised by any tier are
// returned as an error.
func (m *Machine) Step() (reason state.ExitReason, err error) {
	defer m.recoverFatal(&err)
	for {
		pc := m.State.PC
		switch {
		case !m.cfg.JIT || m.forceInterp:
			m.forceInterp = false
			m.interpret()
		default:
			if code := m.cache.Lookup(pc); code != 0 {
				m.runNative(code)
			} else if m.cache.MarkAndCheckHot(pc) {
				m.runNative(m.compile(pc))
			} else {
				m.interpret()
			}
		}
		if m.State.ExitReason == state.ExitEcall {
			m.stats.Ecalls++
			return state.ExitEcall, nil
		}
	}
}

// Syscall services the ECALL that the last Step stopped at.
func (m *Machine) Syscall() (err error) {
	defer m.recoverFatal(&err)
	m.State.Regs[riscv.RegA0] = m.Syscalls.Handle(&m.State)
	return nil
}

// Run alternates Step and Syscall until the guest exits, and returns its
// exit code. Cancellation of ctx is checked between system calls.
func (m *Machine) Run(ctx context.Context) (uint64, error) {
	for !m.Syscalls.Exited {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := m.Step(); err != nil {
			return 0, err
		}
		if err := m.Syscall(); err != nil {
			return 0, err
		}
	}
	return m.Syscalls.ExitCode, nil
}

func (m *Machine) interpret() {
	m.interp.ExecBlock(&m.State)
	m.stats.InterpBlocks++
	m.State.PC = m.State.ReenterPC
}

func (m *Machine) compile(pc uint64) uintptr {
	src := m.gen.Generate(pc)
	m.log.Debug("Translated hot block", "pc", hexutil.Uint64(pc), "insns", m.gen.Emitted())
	return m.backend.Compile(pc, src)
}

// runNative calls compiled code and follows direct and indirect exits into
// other compiled code without returning to the dispatch loop.
func (m *Machine) runNative(code uintptr) {
	s := &m.State
	for {
		s.ExitReason = state.ExitNone
		native.Call(code, s)
		m.stats.NativeEntries++
		s.PC = s.ReenterPC
		switch s.ExitReason {
		case state.ExitDirectBranch, state.ExitIndirectBranch:
			if code = m.cache.Lookup(s.PC); code != 0 {
				m.stats.LinkThroughs++
				continue
			}
			return
		case state.ExitInterp:
			m.stats.Fallbacks++
			m.forceInterp = true
			m.log.Trace("Compiled code declined instruction", "pc", hexutil.Uint64(s.PC))
			return
		case state.ExitEcall:
			return
		default:
			panic(fmt.Errorf("compiled code returned exit reason %s, reenter pc %#x", s.ExitReason, s.ReenterPC))
		}
	}
}

func (m *Machine) recoverFatal(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(error); ok {
		*err = fmt.Errorf("fatal error at pc %#x: %w", m.State.PC, e)
	} else {
		*err = fmt.Errorf("fatal error at pc %#x: %v", m.State.PC, r)
	}
}
