package mmu

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	PageSize = 4096

	// DefaultSize is the guest address space reserved by default. The mapping
	// is not backed until touched.
	DefaultSize = uint64(1) << 32
)

// Memory is a flat guest address space. Guest address a lives at host
// address HostBase()+a, for the interpreter and compiled code alike.
type Memory struct {
	mem []byte

	// Entry is the program entry point of the loaded ELF.
	Entry uint64
	// Base is the first page after the loaded program image.
	Base uint64

	alloc uint64
}

func New(size uint64) (*Memory, error) {
	if size == 0 {
		size = DefaultSize
	}
	mem, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve %d bytes of guest memory: %w", size, err)
	}
	return &Memory{mem: mem, Base: PageSize, alloc: PageSize}, nil
}

func (m *Memory) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}

func (m *Memory) Size() uint64 {
	return uint64(len(m.mem))
}

// Bytes exposes the whole guest address space, indexed by guest address.
func (m *Memory) Bytes() []byte {
	return m.mem
}

// HostBase returns the host address of guest address 0.
func (m *Memory) HostBase() uintptr {
	return uintptr(unsafe.Pointer(&m.mem[0]))
}

// Slice returns the n bytes at addr. Out of range accesses panic.
func (m *Memory) Slice(addr, n uint64) []byte {
	if addr > uint64(len(m.mem)) || n > uint64(len(m.mem))-addr {
		panic(fmt.Errorf("guest memory access [%#x, %#x) out of range", addr, addr+n))
	}
	return m.mem[addr : addr+n]
}

func (m *Memory) Read32(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(m.Slice(addr, 4))
}

func (m *Memory) Read64(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(m.Slice(addr, 8))
}

// Fetch returns the instruction word at addr. Only two bytes are read when
// the encoding is compressed, so a program may end on a half-word.
func (m *Memory) Fetch(addr uint64) uint32 {
	lo := binary.LittleEndian.Uint16(m.Slice(addr, 2))
	if lo&3 != 3 {
		return uint32(lo)
	}
	return m.Read32(addr)
}

func (m *Memory) Write(addr uint64, b []byte) {
	copy(m.Slice(addr, uint64(len(b))), b)
}

func (m *Memory) Write64(addr uint64, v uint64) {
	binary.LittleEndian.PutUint64(m.Slice(addr, 8), v)
}

// ReadString reads a NUL terminated string of at most max bytes.
func (m *Memory) ReadString(addr uint64, max int) string {
	for i := 0; i < max; i++ {
		if m.Slice(addr+uint64(i), 1)[0] == 0 {
			return string(m.Slice(addr, uint64(i)))
		}
	}
	panic(fmt.Errorf("unterminated guest string at %#x", addr))
}

// Alloc reserves size bytes past the current break and returns their
// page aligned start address.
func (m *Memory) Alloc(size uint64) uint64 {
	start := alignUp(m.alloc, PageSize)
	end := start + alignUp(size, PageSize)
	if end > uint64(len(m.mem)) || end < start {
		panic(fmt.Errorf("guest memory exhausted: alloc of %d bytes at %#x", size, start))
	}
	m.alloc = end
	return start
}

// Brk moves the program break to addr and returns the new break. An address
// below the end of the program image leaves the break unchanged, so brk(0)
// queries it.
func (m *Memory) Brk(addr uint64) uint64 {
	if addr < m.Base || addr > uint64(len(m.mem)) {
		return m.alloc
	}
	m.alloc = addr
	return m.alloc
}

// Break returns the current end of allocated memory.
func (m *Memory) Break() uint64 {
	return m.alloc
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
