package cmd

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/ethereum-optimism/rvjit/rvgo/mmu"
	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

var (
	InspectPCFlag = &cli.Uint64Flag{
		Name:  "pc",
		Usage: "first address to disassemble, defaults to the entry point",
	}
	InspectCountFlag = &cli.IntFlag{
		Name:  "count",
		Usage: "number of instructions to disassemble",
		Value: 16,
	}
	InspectSnapshotFlag = &cli.PathFlag{
		Name:  "snapshot",
		Usage: "print the registers of a state snapshot written by run --snapshot-out",
	}
)

func Inspect(ctx *cli.Context) error {
	w := ctx.App.Writer
	if path := ctx.Path(InspectSnapshotFlag.Name); path != "" {
		snap, err := jsonutil.LoadJSON[state.Snapshot](path)
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		return printSnapshot(w, snap)
	}
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one program")
	}
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return err
	}
	prog, err := LoadProgram(ctx.Args().First(), cfg.Memory.Size)
	if err != nil {
		return err
	}
	defer prog.Mem.Close()

	fmt.Fprintf(w, "entry %#x, image end %#x\n", prog.Mem.Entry, prog.Mem.Base)
	for i, p := range prog.Segments {
		if p.Type != elf.PT_LOAD {
			continue
		}
		fmt.Fprintf(w, "segment %d: [%#x, %#x) %s filesz %#x\n", i, p.Vaddr, p.Vaddr+p.Memsz, p.Flags, p.Filesz)
	}
	pc := prog.Mem.Entry
	if ctx.IsSet(InspectPCFlag.Name) {
		pc = ctx.Uint64(InspectPCFlag.Name)
	}
	return Disassemble(w, prog.Mem, prog.Symbols, pc, ctx.Int(InspectCountFlag.Name))
}

// Disassemble prints count instructions starting at pc. Words that do not
// decode are printed raw and stepped over by their encoded length.
func Disassemble(w io.Writer, mem *mmu.Memory, syms mmu.SortedSymbols, pc uint64, count int) error {
	last := ""
	for i := 0; i < count; i++ {
		if pc+2 > mem.Size() || pc+2 < pc {
			return fmt.Errorf("pc %#x is outside of guest memory", pc)
		}
		size := uint64(2)
		if b := mem.Slice(pc, 2); !riscv.IsCompressed(uint16(b[0]) | uint16(b[1])<<8) {
			size = 4
		}
		if pc+size > mem.Size() {
			return fmt.Errorf("pc %#x is outside of guest memory", pc)
		}
		if sym := syms.FindSymbol(pc); len(syms) > 0 && sym.Name != last {
			last = sym.Name
			if _, err := fmt.Fprintf(w, "%s:\n", sym.Name); err != nil {
				return err
			}
		}
		word := mem.Fetch(pc)
		text := decodeText(word)
		if _, err := fmt.Fprintf(w, "  %#10x:  %0*x  %s\n", pc, int(2*size), word, text); err != nil {
			return err
		}
		pc += size
	}
	return nil
}

func decodeText(word uint32) (text string) {
	defer func() {
		if r := recover(); r != nil {
			var decodeErr *riscv.DecodeError
			if err, ok := r.(error); ok && errors.As(err, &decodeErr) {
				text = fmt.Sprintf("(unknown %s)", decodeErr.Field)
				return
			}
			panic(r)
		}
	}()
	return riscv.Decode(word).String()
}

func printSnapshot(w io.Writer, snap *state.Snapshot) error {
	fmt.Fprintf(w, "pc %#x exit %s reenter %#x fcsr %#x\n", uint64(snap.PC), snap.ExitReason, uint64(snap.ReenterPC), uint64(snap.FCSR))
	for i := 0; i < 32; i += 4 {
		for j := i; j < i+4; j++ {
			fmt.Fprintf(w, "%5s %#018x", riscv.RegName(uint8(j)), uint64(snap.Regs[j]))
		}
		fmt.Fprintln(w)
	}
	for i := 0; i < 32; i += 4 {
		for j := i; j < i+4; j++ {
			fmt.Fprintf(w, "%5s %#018x", fmt.Sprintf("f%d", j), uint64(snap.FRegs[j]))
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

var InspectCommand = &cli.Command{
	Name:        "inspect",
	Usage:       "Describe a RISC-V executable or a state snapshot",
	ArgsUsage:   "<elf>",
	Description: "Print the entry point and loadable segments of an executable and disassemble --count instructions from --pc. With --snapshot, print the registers of a saved machine state instead.",
	Action:      Inspect,
	Flags: append([]cli.Flag{
		InspectPCFlag,
		InspectCountFlag,
		InspectSnapshotFlag,
	}, ConfigFlags...),
}
