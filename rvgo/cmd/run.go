package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/ethereum-optimism/rvjit/rvgo/config"
	"github.com/ethereum-optimism/rvjit/rvgo/machine"
	"github.com/ethereum-optimism/rvjit/rvgo/objcache"
)

var OutFilePerm = os.FileMode(0o644)

// GuestExitError reports a guest that exited with a non-zero status. The
// process is expected to exit with the same status.
type GuestExitError struct {
	Code uint64
}

func (e *GuestExitError) Error() string {
	return fmt.Sprintf("guest exited with code %d", e.Code)
}

// Status is the process exit status matching the guest's, as the kernel
// truncates it.
func (e *GuestExitError) Status() int {
	return int(e.Code & 0xff)
}

// NewLogger builds the logger described by cfg, writing to the app's error
// stream.
func NewLogger(ctx *cli.Context, cfg *config.Config) (log.Logger, error) {
	lvl, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return Logger(ctx.App.ErrWriter, lvl, cfg.Log.Format), nil
}

// NewMachine loads the program at path and prepares a machine to run it with
// the given guest arguments.
func NewMachine(l log.Logger, cfg *config.Config, path string, args []string) (*machine.Machine, error) {
	prog, err := LoadProgram(path, cfg.Memory.Size)
	if err != nil {
		return nil, err
	}
	mc := cfg.MachineConfig()
	var store *objcache.Store
	if cfg.JIT.Enabled && cfg.JIT.ObjectCache != "" {
		if store, err = objcache.Open(cfg.JIT.ObjectCache); err != nil {
			_ = prog.Mem.Close()
			return nil, err
		}
		mc.Store = store
	}
	m, err := machine.New(l, prog.Mem, mc)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		_ = prog.Mem.Close()
		return nil, fmt.Errorf("failed to create machine: %w", err)
	}
	if err := m.Setup(args, cfg.Memory.StackSize); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("failed to set up guest stack: %w", err)
	}
	return m, nil
}

func Run(ctx *cli.Context) error {
	if ctx.Bool(PProfCPUFlag.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return err
	}
	l, err := NewLogger(ctx, cfg)
	if err != nil {
		return err
	}
	args := ctx.Args().Slice()
	if len(args) == 0 {
		return errors.New("no program given")
	}

	m, err := NewMachine(l, cfg, args[0], args)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			l.Error("Failed to release machine", "err", err)
		}
	}()
	if ctx.Bool(LogGuestOutputFlag.Name) {
		m.Syscalls.Stdout = &LoggingWriter{Name: "program std-out", Log: l}
		m.Syscalls.Stderr = &LoggingWriter{Name: "program std-err", Log: l}
	} else {
		m.Syscalls.Stdout = ctx.App.Writer
		m.Syscalls.Stderr = ctx.App.ErrWriter
	}

	l.Info("Starting guest", "program", args[0], "entry", HexU64(m.State.PC), "jit", cfg.JIT.Enabled)
	start := time.Now()
	code, runErr := m.Run(ctx.Context)
	elapsed := time.Since(start)

	if ctx.Bool(StatsFlag.Name) {
		s := m.Stats()
		l.Info("Engine stats",
			"elapsed", elapsed,
			"interpBlocks", s.InterpBlocks,
			"nativeEntries", s.NativeEntries,
			"linkThroughs", s.LinkThroughs,
			"fallbacks", s.Fallbacks,
			"ecalls", s.Ecalls,
			"compiles", s.Compile.Compiles,
			"storeHits", s.Compile.StoreHits,
			"compiled", s.Cache.Compiled,
			"arenaUsed", s.Cache.ArenaUsed,
		)
	}
	if path := ctx.Path(SnapshotOutFlag.Name); path != "" {
		if err := jsonutil.WriteJSON(path, m.State.Snapshot(), OutFilePerm); err != nil {
			return fmt.Errorf("failed to write state snapshot: %w", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("failed to run %s: %w", args[0], runErr)
	}
	l.Info("Guest exited", "code", code, "elapsed", elapsed)
	if code != 0 {
		return &GuestExitError{Code: code}
	}
	return nil
}

var RunFlags = append([]cli.Flag{
	LogGuestOutputFlag,
	SnapshotOutFlag,
	PProfCPUFlag,
	StatsFlag,
}, ConfigFlags...)

var RunCommand = &cli.Command{
	Name:        "run",
	Usage:       "Run a RISC-V executable",
	ArgsUsage:   "<elf> [guest args...]",
	Description: "Run a statically linked RV64 Linux executable. Hot code is compiled to native code unless --no-jit is given. The process exits with the guest's exit code.",
	Action:      Run,
	Flags:       RunFlags,
}
