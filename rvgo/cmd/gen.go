package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/rvjit/rvgo/cache"
	"github.com/ethereum-optimism/rvjit/rvgo/codegen"
	"github.com/ethereum-optimism/rvjit/rvgo/compile"
)

var (
	GenPCFlag = &cli.Uint64Flag{
		Name:  "pc",
		Usage: "guest address to translate from, defaults to the entry point",
	}
	GenCompileFlag = &cli.BoolFlag{
		Name:  "compile",
		Usage: "also compile and link the generated program",
	}
	GenNumberFlag = &cli.BoolFlag{
		Name:  "number",
		Usage: "prefix each line of the program with its line number",
	}
)

func Gen(ctx *cli.Context) error {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return err
	}
	l, err := NewLogger(ctx, cfg)
	if err != nil {
		return err
	}
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one program")
	}
	prog, err := LoadProgram(ctx.Args().First(), cfg.Memory.Size)
	if err != nil {
		return err
	}
	defer prog.Mem.Close()

	pc := prog.Mem.Entry
	if ctx.IsSet(GenPCFlag.Name) {
		pc = ctx.Uint64(GenPCFlag.Name)
	}
	gen := codegen.New(prog.Mem, cfg.CodegenConfig())
	src, err := generate(gen, pc)
	if err != nil {
		return err
	}
	out := string(src)
	if ctx.Bool(GenNumberFlag.Name) {
		out = codegen.FmtProgram(src)
	}
	if _, err := fmt.Fprint(ctx.App.Writer, out); err != nil {
		return err
	}
	l.Info("Generated program", "pc", HexU64(pc), "insns", gen.Emitted(), "bytes", len(src),
		"name", prog.Symbols.FindSymbol(pc).Name)

	if !ctx.Bool(GenCompileFlag.Name) {
		return nil
	}
	c, err := cache.New(cfg.CacheConfig())
	if err != nil {
		return err
	}
	defer c.Close()
	backend := compile.NewBackend(l, cfg.Toolchain(), c, nil)
	obj, _, err := backend.Object(src)
	if err != nil {
		return fmt.Errorf("failed to compile program for pc %#x: %w", pc, err)
	}
	code, err := compile.Link(c, pc, obj)
	if err != nil {
		return fmt.Errorf("failed to link program for pc %#x: %w", pc, err)
	}
	l.Info("Compiled program", "pc", HexU64(pc), "object", len(obj), "arenaUsed", c.Stats().ArenaUsed,
		"entry", HexU64(code))
	return nil
}

// generate turns a fault in the guest code, such as an undecodable
// instruction, into an error.
func generate(gen *codegen.Generator, pc uint64) (src []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to translate code at %#x: %v", pc, r)
		}
	}()
	return gen.Generate(pc), nil
}

var GenCommand = &cli.Command{
	Name:        "gen",
	Usage:       "Print the C program generated for guest code",
	ArgsUsage:   "<elf>",
	Description: "Translate the code reachable from --pc into the C program the JIT would compile, and print it. With --compile the program is also compiled and linked into a code arena.",
	Action:      Gen,
	Flags: append([]cli.Flag{
		GenPCFlag,
		GenCompileFlag,
		GenNumberFlag,
	}, ConfigFlags...),
}
