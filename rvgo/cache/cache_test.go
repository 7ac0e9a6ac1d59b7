package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/rvjit/rvgo/native"
	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

func newCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func makeHot(c *Cache, pc uint64) {
	for !c.MarkAndCheckHot(pc) {
	}
}

func TestLookupNeverAdded(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 16, HotThreshold: 3})
	require.Zero(t, c.Lookup(0x1000))
	makeHot(c, 0x1000)
	require.Zero(t, c.Lookup(0x1000), "hot but never compiled")
	require.Zero(t, c.Lookup(0))
}

func TestAddThenLookup(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 16, HotThreshold: 2})
	code := []byte{0x90, 0x90, 0xc3}
	makeHot(c, 0x1000)
	addr := c.Add(0x1000, code, 16)
	require.Equal(t, addr, c.Lookup(0x1000))
	require.Equal(t, code, c.Bytes(addr, len(code)))
	require.Zero(t, addr%16)
}

func TestCompiledButNotHot(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 16, HotThreshold: 5})
	addr := c.Add(0x2000, []byte{0xc3}, 1)
	require.NotZero(t, addr)
	require.Zero(t, c.Lookup(0x2000))
	makeHot(c, 0x2000)
	require.Equal(t, addr, c.Lookup(0x2000))
}

func TestCollidingPCs(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 16, HotThreshold: 1})
	// all of these hash to slot 4
	pcs := []uint64{4, 4 + 16, 4 + 32, 4 + 48}
	addrs := make([]uintptr, len(pcs))
	for i, pc := range pcs {
		makeHot(c, pc)
		addrs[i] = c.Add(pc, []byte{byte(i)}, 1)
	}
	for i, pc := range pcs {
		require.Equal(t, addrs[i], c.Lookup(pc))
		require.Equal(t, []byte{byte(i)}, c.Bytes(c.Lookup(pc), 1))
	}
	require.Equal(t, 4, c.Stats().Entries)
	require.Equal(t, 4, c.Stats().Compiled)
}

func TestSlotSearchWrapsAround(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 4, HotThreshold: 1})
	for _, pc := range []uint64{3, 7, 11, 15} {
		require.True(t, c.MarkAndCheckHot(pc))
	}
	require.Equal(t, 4, c.Stats().Entries)
	require.Panics(t, func() { c.MarkAndCheckHot(19) }, "table is full")
}

func TestSlotSearchLimit(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 1024, HotThreshold: 1})
	for i := uint64(0); i < MaxSlotSearch; i++ {
		c.MarkAndCheckHot(1 + i*1024)
	}
	require.PanicsWithError(t, "code cache slot search limit of 32 exceeded for pc 0x8001", func() {
		c.MarkAndCheckHot(1 + MaxSlotSearch*1024)
	})
	require.Zero(t, c.Lookup(1+MaxSlotSearch*1024))
}

func TestHotnessMonotonic(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 16, HotThreshold: 100})
	hot := 0
	for i := 1; i <= 250; i++ {
		if c.MarkAndCheckHot(0x40) {
			require.Equal(t, 100, i, "only the call reaching the threshold reports hot")
			hot++
		}
	}
	require.Equal(t, 1, hot)
	require.Equal(t, uint32(100), c.slot(0x40).hot, "counter saturates")
}

func TestArenaExhaustion(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 16, HotThreshold: 1})
	c.Install(make([]byte, 4000), 1)
	require.Equal(t, c.NextAddr(64), c.Install([]byte{1}, 64))
	require.Panics(t, func() { c.Install(make([]byte, 100), 1) })
}

func TestZeroPCRejected(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 16, HotThreshold: 1})
	require.Panics(t, func() { c.MarkAndCheckHot(0) })
}

func TestRunInstalledCode(t *testing.T) {
	if !native.Supported {
		t.Skip("compiled code cannot run on this host")
	}
	c := newCache(t, Config{ArenaSize: 4096, Entries: 16, HotThreshold: 1})
	// mov dword [rdi], 4 ; mov qword [rdi+8], 0x1234 ; ret
	code := []byte{
		0xc7, 0x07, 0x04, 0x00, 0x00, 0x00,
		0x48, 0xc7, 0x47, 0x08, 0x34, 0x12, 0x00, 0x00,
		0xc3,
	}
	makeHot(c, 0x1000)
	entry := c.Add(0x1000, code, 16)
	var s state.State
	native.Call(entry, &s)
	require.Equal(t, state.ExitEcall, s.ExitReason)
	require.Equal(t, uint64(0x1234), s.ReenterPC)
}

func TestAddEntryOffset(t *testing.T) {
	c := newCache(t, Config{ArenaSize: 4096, Entries: 16, HotThreshold: 1})
	makeHot(c, 0x3000)
	code := []byte{0xcc, 0xcc, 0xc3}
	entry := c.AddEntry(0x3000, code, 16, 2)
	require.Equal(t, entry, c.Lookup(0x3000))
	require.Equal(t, []byte{0xc3}, c.Bytes(entry, 1))
	require.Equal(t, code, c.Bytes(entry-2, 3))
	require.Panics(t, func() { c.AddEntry(0x3008, code, 1, 3) })
}
