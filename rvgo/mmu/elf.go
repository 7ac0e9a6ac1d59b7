package mmu

import (
	"debug/elf"
	"fmt"
	"io"
	"sort"
)

// LoadELF copies the loadable segments of f into memory, and places the
// allocation break at the first page after the highest segment.
func (m *Memory) LoadELF(f *elf.File) error {
	if f.Class != elf.ELFCLASS64 {
		return fmt.Errorf("only 64-bit ELF is supported, got %s", f.Class)
	}
	if f.Machine != elf.EM_RISCV {
		return fmt.Errorf("ELF is not RISC-V, but got %q", f.Machine.String())
	}
	m.Entry = f.Entry

	var end uint64
	for i, prog := range f.Progs {
		if prog.Type == 0x70000003 {
			// RISC-V reuses the MIPS_ABIFLAGS program type for the `.riscv.attributes` section.
			// It has 0 mem size because it is not loaded into memory.
			continue
		}
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return fmt.Errorf("invalid PT_LOAD program segment %d, file size (%d) > mem size (%d)", i, prog.Filesz, prog.Memsz)
		}
		if prog.Vaddr+prog.Memsz > m.Size() || prog.Vaddr+prog.Memsz < prog.Vaddr {
			return fmt.Errorf("program segment %d [%#x, %#x) does not fit in guest memory", i, prog.Vaddr, prog.Vaddr+prog.Memsz)
		}
		dst := m.mem[prog.Vaddr : prog.Vaddr+prog.Memsz]
		if _, err := io.ReadFull(io.NewSectionReader(prog, 0, int64(prog.Filesz)), dst[:prog.Filesz]); err != nil {
			return fmt.Errorf("failed to read program segment %d: %w", i, err)
		}
		// the tail up to memsz is .bss
		clear(dst[prog.Filesz:])
		if e := prog.Vaddr + prog.Memsz; e > end {
			end = e
		}
	}
	m.Base = alignUp(end, PageSize)
	m.alloc = m.Base
	return nil
}

type SortedSymbols []elf.Symbol

// FindSymbol finds the symbol that intersects with the given addr, or a
// placeholder if none exists.
func (s SortedSymbols) FindSymbol(addr uint64) elf.Symbol {
	// find first symbol with higher start. Or n if no such symbol exists
	i := sort.Search(len(s), func(i int) bool {
		return s[i].Value > addr
	})
	if i == 0 {
		return elf.Symbol{Name: "!start", Value: 0}
	}
	out := &s[i-1]
	if out.Value+out.Size < addr { // addr may be pointing to a gap between symbols
		return elf.Symbol{Name: "!gap", Value: addr}
	}
	return *out
}

// Symbols returns the function and object symbols of f ordered by address.
func Symbols(f *elf.File) (SortedSymbols, error) {
	symbols, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols data: %w", err)
	}
	out := make(SortedSymbols, 0, len(symbols))
	for _, sym := range symbols {
		switch elf.ST_TYPE(sym.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
			if sym.Name != "" && sym.Section != elf.SHN_UNDEF {
				out = append(out, sym)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Value < out[j].Value
	})
	return out, nil
}
