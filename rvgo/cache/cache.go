package cache

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ethereum-optimism/rvjit/rvgo/native"
)

const (
	DefaultArenaSize    = 64 * 1024 * 1024
	DefaultEntries      = 64 * 1024
	DefaultHotThreshold = 100000

	// MaxSlotSearch bounds the slot search of a single pc.
	MaxSlotSearch = 32
)

// Config sizes the arena and slot table. Zero fields take their defaults.
type Config struct {
	ArenaSize    int
	Entries      int
	HotThreshold uint32
}

// DefaultConfig returns the sizes used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ArenaSize:    DefaultArenaSize,
		Entries:      DefaultEntries,
		HotThreshold: DefaultHotThreshold,
	}
}

// entry is one slot of the table. pc == 0 marks an empty slot.
type entry struct {
	pc       uint64
	hot      uint32
	compiled bool
	offset   int
}

// Cache maps guest pcs to native code installed in an executable arena, and
// counts how often each pc is entered. Entries are never removed and the
// arena is never reclaimed.
type Cache struct {
	arena     []byte
	used      int
	entries   []entry
	threshold uint32

	occupied int
	compiled int
}

// Stats is a point-in-time summary of table and arena usage.
type Stats struct {
	Entries   int `json:"entries"`
	Compiled  int `json:"compiled"`
	ArenaUsed int `json:"arenaUsed"`
	ArenaSize int `json:"arenaSize"`
}

// New maps an executable arena and allocates an empty slot table.
func New(cfg Config) (*Cache, error) {
	if cfg.ArenaSize <= 0 {
		cfg.ArenaSize = DefaultArenaSize
	}
	if cfg.Entries <= 0 {
		cfg.Entries = DefaultEntries
	}
	if cfg.HotThreshold == 0 {
		cfg.HotThreshold = DefaultHotThreshold
	}
	arena, err := unix.Mmap(-1, 0, cfg.ArenaSize,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap executable memory: %w", err)
	}
	return &Cache{
		arena:     arena,
		entries:   make([]entry, cfg.Entries),
		threshold: cfg.HotThreshold,
	}, nil
}

// Close unmaps the arena. Code addresses returned by Lookup are invalid afterwards.
func (c *Cache) Close() error {
	if c.arena == nil {
		return nil
	}
	err := unix.Munmap(c.arena)
	c.arena = nil
	return err
}

// Threshold returns the number of entries after which a pc is hot.
func (c *Cache) Threshold() uint32 {
	return c.threshold
}

// slot returns the slot holding pc, or the empty slot pc would be placed in.
// It returns nil when the search bound is exceeded.
func (c *Cache) slot(pc uint64) *entry {
	size := uint64(len(c.entries))
	index := pc % size
	for i := 0; i < MaxSlotSearch; i++ {
		e := &c.entries[index]
		if e.pc == pc || e.pc == 0 {
			return e
		}
		index = (index + 1) % size
	}
	return nil
}

func (c *Cache) claim(pc uint64) *entry {
	if pc == 0 {
		panic(fmt.Errorf("pc 0 cannot be cached"))
	}
	e := c.slot(pc)
	if e == nil {
		panic(fmt.Errorf("code cache slot search limit of %d exceeded for pc %#x", MaxSlotSearch, pc))
	}
	if e.pc == 0 {
		e.pc = pc
		c.occupied++
	}
	return e
}

// Lookup returns the address of the native code for pc, or 0 if pc is not
// both hot and compiled.
func (c *Cache) Lookup(pc uint64) uintptr {
	if pc == 0 {
		return 0
	}
	e := c.slot(pc)
	if e == nil || e.pc != pc || !e.compiled || e.hot < c.threshold {
		return 0
	}
	return c.base() + uintptr(e.offset)
}

// MarkAndCheckHot counts one entry into pc. It returns true exactly once,
// on the call that makes pc hot; the counter saturates there.
func (c *Cache) MarkAndCheckHot(pc uint64) bool {
	e := c.claim(pc)
	if e.hot >= c.threshold {
		return false
	}
	e.hot++
	return e.hot == c.threshold
}

// Add installs code for pc and returns its address. The hotness of pc is
// left unchanged.
func (c *Cache) Add(pc uint64, code []byte, align int) uintptr {
	return c.AddEntry(pc, code, align, 0)
}

// AddEntry is Add for code whose entry point is entry bytes into code. It
// returns the entry address.
func (c *Cache) AddEntry(pc uint64, code []byte, align int, entry int) uintptr {
	if entry < 0 || entry >= len(code) {
		panic(fmt.Errorf("entry offset %d outside of %d code bytes for pc %#x", entry, len(code), pc))
	}
	e := c.claim(pc)
	addr := c.Install(code, align) + uintptr(entry)
	if !e.compiled {
		c.compiled++
	}
	e.compiled = true
	e.offset = int(addr - c.base())
	return addr
}

// Install copies b into the arena without associating it with a pc.
func (c *Cache) Install(b []byte, align int) uintptr {
	off := alignUp(c.used, align)
	if off+len(b) > len(c.arena) {
		panic(fmt.Errorf("code cache arena exhausted: need %d bytes, %d free", len(b), len(c.arena)-c.used))
	}
	copy(c.arena[off:], b)
	c.used = off + len(b)
	addr := c.base() + uintptr(off)
	native.ClearCache(addr, addr+uintptr(len(b)))
	return addr
}

// NextAddr returns the address the next Install with the given alignment
// will place its bytes at.
func (c *Cache) NextAddr(align int) uintptr {
	return c.base() + uintptr(alignUp(c.used, align))
}

// Bytes returns a copy of the n installed bytes at addr.
func (c *Cache) Bytes(addr uintptr, n int) []byte {
	off := int(addr - c.base())
	if addr < c.base() || off+n > c.used {
		return nil
	}
	return append([]byte(nil), c.arena[off:off+n]...)
}

func (c *Cache) Stats() Stats {
	return Stats{
		Entries:   c.occupied,
		Compiled:  c.compiled,
		ArenaUsed: c.used,
		ArenaSize: len(c.arena),
	}
}

func (c *Cache) base() uintptr {
	return uintptr(unsafe.Pointer(&c.arena[0]))
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}
