package syscalls

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ethereum-optimism/rvjit/rvgo/mmu"
	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

func newHandler(t *testing.T) (*Handler, *mmu.Memory) {
	t.Helper()
	mem, err := mmu.New(1 << 24)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, mem.Close()) })
	h := NewHandler(log.NewLogger(log.LogfmtHandlerWithLevel(io.Discard, log.LevelError)), mem)
	return h, mem
}

func call(h *Handler, num uint64, args ...uint64) uint64 {
	var s state.State
	s.Regs[riscv.RegA7] = num
	for i, a := range args {
		s.Regs[riscv.RegA0+i] = a
	}
	return h.Handle(&s)
}

func isErrno(v uint64, e unix.Errno) bool {
	return v == uint64(-int64(e))
}

func TestExit(t *testing.T) {
	h, _ := newHandler(t)
	call(h, riscv.SysExitGroup, 42)
	require.True(t, h.Exited)
	require.Equal(t, uint64(42), h.ExitCode)
}

func TestWriteToInjectedWriters(t *testing.T) {
	h, mem := newHandler(t)
	var stdout, stderr bytes.Buffer
	h.Stdout, h.Stderr = &stdout, &stderr
	mem.Write(0x2000, []byte("hello, world"))

	require.Equal(t, uint64(5), call(h, riscv.SysWrite, riscv.FdStdout, 0x2000, 5))
	require.Equal(t, uint64(5), call(h, riscv.SysWrite, riscv.FdStderr, 0x2007, 5))
	require.Equal(t, "hello", stdout.String())
	require.Equal(t, "world", stderr.String())

	// two iovecs
	mem.Write(0x3000, le64(0x2000, 5, 0x2005, 7))
	require.Equal(t, uint64(12), call(h, riscv.SysWritev, riscv.FdStdout, 0x3000, 2))
	require.Equal(t, "hellohello, world", stdout.String())

	require.True(t, isErrno(call(h, riscv.SysWrite, 99, 0x2000, 1), unix.EBADF))
}

func TestReadStdin(t *testing.T) {
	h, mem := newHandler(t)
	h.Stdin = strings.NewReader("abc")
	require.Equal(t, uint64(3), call(h, riscv.SysRead, riscv.FdStdin, 0x2000, 16))
	require.Equal(t, []byte("abc"), mem.Slice(0x2000, 3))
	require.Zero(t, call(h, riscv.SysRead, riscv.FdStdin, 0x2000, 16), "end of input")
}

func TestBrkAndMmap(t *testing.T) {
	h, mem := newHandler(t)
	mem.Base = 0x10000
	mem.Brk(0x10000)
	require.Equal(t, uint64(0x10000), call(h, riscv.SysBrk, 0))
	require.Equal(t, uint64(0x18000), call(h, riscv.SysBrk, 0x18000))
	require.Equal(t, uint64(0x18000), call(h, riscv.SysBrk, 0x100), "below the program image")

	addr := call(h, riscv.SysMmap, 0, 100, unix.PROT_READ|unix.PROT_WRITE, mapAnonymous|unix.MAP_PRIVATE, ^uint64(0), 0)
	require.Equal(t, uint64(0x18000), addr)
	require.Zero(t, addr%mmu.PageSize)
	next := call(h, riscv.SysMmap, 0, 100, 0, mapAnonymous, 0, 0)
	require.Equal(t, addr+mmu.PageSize, next)
	require.True(t, isErrno(call(h, riscv.SysMmap, 0, 100, 0, 0, 3, 0), unix.ENODEV))
	require.Zero(t, call(h, riscv.SysMunmap, addr, 100))
}

func TestHostOpenFlags(t *testing.T) {
	require.Equal(t, unix.O_RDONLY|unix.O_CLOEXEC, HostOpenFlags(0))
	require.Equal(t, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, HostOpenFlags(0x1|0x200|0x400))
	require.Equal(t, unix.O_RDWR|unix.O_APPEND|unix.O_EXCL|unix.O_CLOEXEC, HostOpenFlags(0x2|0x8|0x800))
}

func TestFileRoundTrip(t *testing.T) {
	h, mem := newHandler(t)
	path := filepath.Join(t.TempDir(), "out.txt")
	mem.Write(0x2000, append([]byte(path), 0))
	mem.Write(0x3000, []byte("0123456789"))

	fd := call(h, riscv.SysOpen, 0x2000, newlibWronly|newlibCreat|newlibTrunc, 0o644)
	require.Less(t, int64(fd), int64(1<<20), "open failed: %d", int64(fd))
	require.Equal(t, uint64(10), call(h, riscv.SysWrite, fd, 0x3000, 10))

	require.Zero(t, call(h, riscv.SysFstat, fd, 0x4000))
	st := mem.Slice(0x4000, StatSize)
	require.Equal(t, uint32(unix.S_IFREG), binary.LittleEndian.Uint32(st[16:])&unix.S_IFMT)
	require.Equal(t, uint64(10), binary.LittleEndian.Uint64(st[48:]), "st_size")
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(st[20:]), "st_nlink")
	require.Zero(t, call(h, riscv.SysClose, fd))

	fd = call(h, riscv.SysOpenat, uint64(0xffffffffffffff9c), 0x2000, 0, 0)
	require.Equal(t, uint64(6), call(h, riscv.SysLseek, fd, 6, unix.SEEK_SET))
	require.Equal(t, uint64(4), call(h, riscv.SysRead, fd, 0x5000, 100))
	require.Equal(t, []byte("6789"), mem.Slice(0x5000, 4))
	require.Zero(t, call(h, riscv.SysClose, fd))
	require.True(t, isErrno(call(h, riscv.SysClose, fd), unix.EBADF))

	require.Zero(t, call(h, riscv.SysUnlink, 0x2000))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.True(t, isErrno(call(h, riscv.SysOpen, 0x2000, 0, 0), unix.ENOENT))
}

func TestStatLayout(t *testing.T) {
	st := unix.Stat_t{Dev: 1, Ino: 2, Mode: 3, Uid: 4, Gid: 5, Rdev: 6, Size: 7, Blocks: 8}
	st.Nlink = 9
	st.Blksize = 10
	st.Mtim.Sec = 11
	b := marshalStat(&st)
	require.Len(t, b, StatSize)
	le := binary.LittleEndian
	require.Equal(t, uint64(1), le.Uint64(b[0:]))
	require.Equal(t, uint64(2), le.Uint64(b[8:]))
	require.Equal(t, uint32(3), le.Uint32(b[16:]))
	require.Equal(t, uint32(9), le.Uint32(b[20:]))
	require.Equal(t, uint32(4), le.Uint32(b[24:]))
	require.Equal(t, uint32(5), le.Uint32(b[28:]))
	require.Equal(t, uint64(6), le.Uint64(b[32:]))
	require.Equal(t, uint64(7), le.Uint64(b[48:]))
	require.Equal(t, uint32(10), le.Uint32(b[56:]))
	require.Equal(t, uint64(8), le.Uint64(b[64:]))
	require.Equal(t, uint64(11), le.Uint64(b[88:]))
}

func TestMiscCalls(t *testing.T) {
	h, mem := newHandler(t)
	require.Zero(t, call(h, riscv.SysUname, 0x2000))
	require.Equal(t, "Linux", mem.ReadString(0x2000, utsLen))
	require.Equal(t, "riscv64", mem.ReadString(0x2000+4*utsLen, utsLen))

	require.Zero(t, call(h, riscv.SysClockGettime, unix.CLOCK_MONOTONIC, 0x3000))
	require.NotZero(t, mem.Read64(0x3000)|mem.Read64(0x3008))
	require.Zero(t, call(h, riscv.SysGettimeofday, 0x3000, 0))
	require.Greater(t, mem.Read64(0x3000), uint64(1_600_000_000))

	require.Equal(t, uint64(os.Getpid()), call(h, riscv.SysGetpid))
	require.True(t, isErrno(call(h, riscv.SysIoctl, 1, unix.TCGETS, 0), unix.ENOTTY))
	require.Zero(t, call(h, riscv.SysRtSigaction, 2, 0, 0))

	require.Zero(t, call(h, riscv.SysPrlimit64, 0, rlimitNofile, 0, 0x4000))
	require.Equal(t, uint64(1024), mem.Read64(0x4000))

	require.Equal(t, uint64(32), call(h, riscv.SysGetrandom, 0x5000, 32, 0))
}

func TestUnsupportedSyscall(t *testing.T) {
	h, _ := newHandler(t)
	defer func() {
		r := recover()
		err, ok := r.(*UnsupportedSyscallErr)
		require.True(t, ok, "unexpected panic %v", r)
		require.Equal(t, uint64(220), err.SyscallNum)
		require.EqualError(t, err, "unsupported system call: 220")
	}()
	call(h, 220)
}
