// Package config holds the tunables of a run. Values come from the built-in
// defaults, the environment, an optional TOML file and finally CLI flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"github.com/xyproto/env/v2"

	"github.com/ethereum-optimism/rvjit/rvgo/cache"
	"github.com/ethereum-optimism/rvjit/rvgo/codegen"
	"github.com/ethereum-optimism/rvjit/rvgo/compile"
	"github.com/ethereum-optimism/rvjit/rvgo/machine"
	"github.com/ethereum-optimism/rvjit/rvgo/mmu"
)

const (
	FormatLogfmt   = "logfmt"
	FormatTerminal = "terminal"
)

type JIT struct {
	Enabled      bool     `toml:"enabled"`
	HotThreshold uint32   `toml:"hot-threshold"`
	MaxInsns     int      `toml:"max-insns"`
	Compiler     string   `toml:"compiler"`
	CFlags       []string `toml:"cflags"`
	// ObjectCache is a directory for the persistent object store. Empty
	// disables it.
	ObjectCache string `toml:"object-cache"`
}

type Cache struct {
	ArenaSize int `toml:"arena-size"`
	Entries   int `toml:"entries"`
}

type Memory struct {
	Size      uint64 `toml:"size"`
	StackSize uint64 `toml:"stack-size"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Config struct {
	JIT    JIT    `toml:"jit"`
	Cache  Cache  `toml:"cache"`
	Memory Memory `toml:"memory"`
	Log    Log    `toml:"log"`
}

// Default returns a fully populated configuration. The compiler defaults to
// $RVJIT_CC, then $CC, then clang; the log level to $RVJIT_LOG_LEVEL.
func Default() *Config {
	cc := cache.DefaultConfig()
	gen := codegen.DefaultConfig()
	return &Config{
		JIT: JIT{
			Enabled:      true,
			HotThreshold: cc.HotThreshold,
			MaxInsns:     gen.MaxInsns,
			Compiler:     env.Str("RVJIT_CC", env.Str("CC", "clang")),
			CFlags:       append([]string(nil), compile.DefaultCFlags...),
		},
		Cache: Cache{
			ArenaSize: cc.ArenaSize,
			Entries:   cc.Entries,
		},
		Memory: Memory{
			Size:      mmu.DefaultSize,
			StackSize: machine.DefaultStackSize,
		},
		Log: Log{
			Level:  env.Str("RVJIT_LOG_LEVEL", "info"),
			Format: FormatLogfmt,
		},
	}
}

// Load reads the TOML file at path over the defaults. Keys the file sets but
// the configuration does not know about are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in config %q: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Check() error {
	var errs []error
	if c.JIT.Enabled && c.JIT.Compiler == "" {
		errs = append(errs, errors.New("jit.compiler must be set when the JIT is enabled"))
	}
	if c.JIT.HotThreshold == 0 {
		errs = append(errs, errors.New("jit.hot-threshold must be positive"))
	}
	if c.JIT.MaxInsns <= 0 {
		errs = append(errs, errors.New("jit.max-insns must be positive"))
	}
	if c.Cache.ArenaSize <= 0 || c.Cache.Entries <= 0 {
		errs = append(errs, errors.New("cache.arena-size and cache.entries must be positive"))
	}
	if c.Memory.Size%mmu.PageSize != 0 {
		errs = append(errs, fmt.Errorf("memory.size %d is not a multiple of the page size", c.Memory.Size))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case FormatLogfmt, FormatTerminal:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		ArenaSize:    c.Cache.ArenaSize,
		Entries:      c.Cache.Entries,
		HotThreshold: c.JIT.HotThreshold,
	}
}

func (c *Config) CodegenConfig() codegen.Config {
	gen := codegen.DefaultConfig()
	gen.MaxInsns = c.JIT.MaxInsns
	return gen
}

func (c *Config) Toolchain() compile.Toolchain {
	return compile.NewSubprocess(c.JIT.Compiler, c.JIT.CFlags)
}

// MachineConfig assembles the engine configuration. The object store is
// left to the caller, which owns its lifetime.
func (c *Config) MachineConfig() machine.Config {
	out := machine.Config{JIT: c.JIT.Enabled}
	if c.JIT.Enabled {
		out.Cache = c.CacheConfig()
		out.Codegen = c.CodegenConfig()
		out.Toolchain = c.Toolchain()
	}
	return out
}

// ParseLevel accepts the go-ethereum level names, including trace and crit.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info", "":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
