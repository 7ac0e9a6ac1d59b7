package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/rvjit/rvgo/config"
)

var (
	ConfigFlag = &cli.PathFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	NoJITFlag = &cli.BoolFlag{
		Name:  "no-jit",
		Usage: "interpret every block",
	}
	HotThresholdFlag = &cli.UintFlag{
		Name:  "hot-threshold",
		Usage: "block entries before a block is compiled",
	}
	MaxInsnsFlag = &cli.IntFlag{
		Name:  "max-insns",
		Usage: "guest instructions translated per compiled program",
	}
	CompilerFlag = &cli.StringFlag{
		Name:  "cc",
		Usage: "C compiler used for hot code",
	}
	ObjectCacheFlag = &cli.PathFlag{
		Name:  "object-cache",
		Usage: "directory of the persistent compiled-object store",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "log level: trace, debug, info, warn, error or crit",
	}
	LogGuestOutputFlag = &cli.BoolFlag{
		Name:  "log-guest-output",
		Usage: "log guest stdout and stderr instead of passing them through",
	}
	SnapshotOutFlag = &cli.PathFlag{
		Name:  "snapshot-out",
		Usage: "write the final machine state as JSON",
	}
	PProfCPUFlag = &cli.BoolFlag{
		Name:  "pprof.cpu",
		Usage: "enable pprof cpu profiling",
	}
	StatsFlag = &cli.BoolFlag{
		Name:  "stats",
		Usage: "log engine counters on exit",
	}
)

// ConfigFlags select and override the configuration. Every command that
// builds a machine or a code generator accepts them.
var ConfigFlags = []cli.Flag{
	ConfigFlag,
	NoJITFlag,
	HotThresholdFlag,
	MaxInsnsFlag,
	CompilerFlag,
	ObjectCacheFlag,
	LogLevelFlag,
}

// LoadConfig reads the configuration file, if one is given, and applies the
// flags that were set on the command line.
func LoadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := ctx.Path(ConfigFlag.Name); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if ctx.IsSet(NoJITFlag.Name) {
		cfg.JIT.Enabled = !ctx.Bool(NoJITFlag.Name)
	}
	if ctx.IsSet(HotThresholdFlag.Name) {
		cfg.JIT.HotThreshold = uint32(ctx.Uint(HotThresholdFlag.Name))
	}
	if ctx.IsSet(MaxInsnsFlag.Name) {
		cfg.JIT.MaxInsns = ctx.Int(MaxInsnsFlag.Name)
	}
	if ctx.IsSet(CompilerFlag.Name) {
		cfg.JIT.Compiler = ctx.String(CompilerFlag.Name)
	}
	if ctx.IsSet(ObjectCacheFlag.Name) {
		cfg.JIT.ObjectCache = ctx.Path(ObjectCacheFlag.Name)
	}
	if ctx.IsSet(LogLevelFlag.Name) {
		cfg.Log.Level = ctx.String(LogLevelFlag.Name)
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
