package cmd

import (
	"debug/elf"
	"fmt"

	"github.com/ethereum-optimism/rvjit/rvgo/mmu"
)

// Program is a guest executable loaded into a fresh address space.
type Program struct {
	Mem *mmu.Memory
	// Segments are the program headers of the executable, in file order.
	Segments []elf.ProgHeader
	Symbols  mmu.SortedSymbols
}

// LoadProgram reserves size bytes of guest memory and loads the ELF at path
// into it. Missing symbol tables are not an error.
func LoadProgram(path string, size uint64) (*Program, error) {
	elfProgram, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file %q: %w", path, err)
	}
	defer elfProgram.Close()

	mem, err := mmu.New(size)
	if err != nil {
		return nil, err
	}
	if err := mem.LoadELF(elfProgram); err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("failed to load ELF data into guest memory: %w", err)
	}
	syms, err := mmu.Symbols(elfProgram)
	if err != nil {
		syms = nil
	}
	segments := make([]elf.ProgHeader, len(elfProgram.Progs))
	for i, p := range elfProgram.Progs {
		segments[i] = p.ProgHeader
	}
	return &Program{Mem: mem, Segments: segments, Symbols: syms}, nil
}
