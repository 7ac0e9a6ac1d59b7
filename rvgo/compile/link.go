package compile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sort"
)

// StartSymbol is the function every generated program exports.
const StartSymbol = "start"

// Arena receives the sections of a linked object. *cache.Cache implements it.
type Arena interface {
	NextAddr(align int) uintptr
	Install(b []byte, align int) uintptr
	AddEntry(pc uint64, code []byte, align int, entry int) uintptr
}

type placed struct {
	index int
	sec   *elf.Section
	data  []byte
	align int
	addr  uintptr
}

// Link installs the sections of a relocatable object that the start function
// needs, patches their relocations against the final addresses, and binds
// start to pc. It returns the address of start.
func Link(arena Arena, pc uint64, obj []byte) (uintptr, error) {
	f, err := elf.NewFile(bytes.NewReader(obj))
	if err != nil {
		return 0, fmt.Errorf("failed to parse object: %w", err)
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		return 0, fmt.Errorf("object is %s %s, expected ELFCLASS64 EM_X86_64", f.Class, f.Machine)
	}
	if f.Type != elf.ET_REL {
		return 0, fmt.Errorf("object type is %s, expected ET_REL", f.Type)
	}
	syms, err := f.Symbols()
	if err != nil {
		return 0, fmt.Errorf("failed to read symbols: %w", err)
	}
	var start *elf.Symbol
	for i := range syms {
		if syms[i].Name == StartSymbol && elf.ST_TYPE(syms[i].Info) == elf.STT_FUNC {
			start = &syms[i]
			break
		}
	}
	if start == nil {
		return 0, fmt.Errorf("object does not define %q", StartSymbol)
	}
	entrySec := int(start.Section)
	if start.Section == elf.SHN_UNDEF || entrySec >= len(f.Sections) {
		return 0, fmt.Errorf("%q is not defined in a regular section", StartSymbol)
	}

	relocs := make(map[int][]elf.Rela64)
	for _, s := range f.Sections {
		switch s.Type {
		case elf.SHT_RELA:
			rels, err := readRelas(s)
			if err != nil {
				return 0, err
			}
			relocs[int(s.Info)] = rels
		case elf.SHT_REL:
			return 0, fmt.Errorf("unsupported REL section %s", s.Name)
		}
	}

	// every section reachable through relocations from the entry section
	needed := map[int]bool{entrySec: true}
	work := []int{entrySec}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		for _, r := range relocs[i] {
			sym, err := symbolAt(syms, r)
			if err != nil {
				return 0, err
			}
			j := int(sym.Section)
			if sym.Section == elf.SHN_ABS || needed[j] {
				continue
			}
			if sym.Section == elf.SHN_UNDEF || j >= len(f.Sections) {
				return 0, fmt.Errorf("undefined symbol %q", sym.Name)
			}
			needed[j] = true
			work = append(work, j)
		}
	}

	order := make([]int, 0, len(needed))
	for i := range needed {
		if i != entrySec {
			order = append(order, i)
		}
	}
	sort.Ints(order)
	order = append(order, entrySec)

	// plan the layout exactly as the arena will place the sections
	sections := make([]*placed, len(f.Sections))
	var plan []*placed
	next := arena.NextAddr(1)
	for _, i := range order {
		s := f.Sections[i]
		if s.Flags&elf.SHF_ALLOC == 0 {
			return 0, fmt.Errorf("relocation against non-allocated section %s", s.Name)
		}
		var data []byte
		if s.Type == elf.SHT_NOBITS {
			data = make([]byte, s.Size)
		} else if data, err = s.Data(); err != nil {
			return 0, fmt.Errorf("failed to read section %s: %w", s.Name, err)
		}
		align := int(s.Addralign)
		if align < 1 {
			align = 1
		}
		p := &placed{index: i, sec: s, data: data, align: align, addr: alignAddr(next, align)}
		next = p.addr + uintptr(len(data))
		sections[i] = p
		plan = append(plan, p)
	}

	for _, p := range plan {
		for _, r := range relocs[p.index] {
			if err := patch(p, r, syms, sections); err != nil {
				return 0, err
			}
		}
	}

	for _, p := range plan[:len(plan)-1] {
		if got := arena.Install(p.data, p.align); got != p.addr {
			return 0, fmt.Errorf("section %s installed at %#x, planned %#x", p.sec.Name, got, p.addr)
		}
	}
	text := plan[len(plan)-1]
	want := text.addr + uintptr(start.Value)
	if got := arena.AddEntry(pc, text.data, text.align, int(start.Value)); got != want {
		return 0, fmt.Errorf("entry installed at %#x, planned %#x", got, want)
	}
	return want, nil
}

func patch(p *placed, r elf.Rela64, syms []elf.Symbol, sections []*placed) error {
	sym, err := symbolAt(syms, r)
	if err != nil {
		return err
	}
	typ := elf.R_X86_64(elf.R_TYPE64(r.Info))
	var s uint64
	switch {
	case sym.Section == elf.SHN_ABS:
		if typ != elf.R_X86_64_PC32 {
			return fmt.Errorf("%s against absolute symbol %q", typ, sym.Name)
		}
		s = sym.Value
	default:
		target := sections[int(sym.Section)]
		s = uint64(target.addr) + sym.Value
	}
	switch typ {
	case elf.R_X86_64_PC32, elf.R_X86_64_PLT32:
		if r.Off+4 > uint64(len(p.data)) {
			return fmt.Errorf("%s at %#x outside of section %s", typ, r.Off, p.sec.Name)
		}
		place := uint64(p.addr) + r.Off
		v := int64(s) + r.Addend - int64(place)
		if v != int64(int32(v)) {
			return fmt.Errorf("%s to %q overflows: displacement %#x", typ, sym.Name, v)
		}
		binary.LittleEndian.PutUint32(p.data[r.Off:], uint32(int32(v)))
		return nil
	default:
		return fmt.Errorf("unsupported relocation %s in section %s", typ, p.sec.Name)
	}
}

// symbolAt resolves the symbol of r. debug/elf omits the null symbol, so
// table index i is syms[i-1].
func symbolAt(syms []elf.Symbol, r elf.Rela64) (*elf.Symbol, error) {
	idx := elf.R_SYM64(r.Info)
	if idx == 0 || int(idx) > len(syms) {
		return nil, fmt.Errorf("relocation references symbol index %d of %d", idx, len(syms))
	}
	return &syms[idx-1], nil
}

func readRelas(s *elf.Section) ([]elf.Rela64, error) {
	data, err := s.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to read section %s: %w", s.Name, err)
	}
	const entSize = 24
	if len(data)%entSize != 0 {
		return nil, fmt.Errorf("section %s size %d is not a multiple of %d", s.Name, len(data), entSize)
	}
	rels := make([]elf.Rela64, len(data)/entSize)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, rels); err != nil {
		return nil, fmt.Errorf("failed to decode section %s: %w", s.Name, err)
	}
	return rels, nil
}

func alignAddr(v uintptr, align int) uintptr {
	a := uintptr(align)
	return (v + a - 1) / a * a
}
