// Package syscalls emulates the Linux riscv64 system call interface for a
// single-threaded guest, forwarding file and clock operations to the host.
package syscalls

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sys/unix"

	"github.com/ethereum-optimism/rvjit/rvgo/mmu"
	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

const (
	maxPath = 4096

	mapAnonymous = 0x20

	rlimitStack  = 3
	rlimitNofile = 7
)

type UnsupportedSyscallErr struct {
	SyscallNum uint64
}

func (e *UnsupportedSyscallErr) Error() string {
	return fmt.Sprintf("unsupported system call: %d", e.SyscallNum)
}

// Handler serves the ECALLs of one guest process.
type Handler struct {
	log log.Logger
	mem *mmu.Memory

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Exited   bool
	ExitCode uint64
}

func NewHandler(logger log.Logger, mem *mmu.Memory) *Handler {
	return &Handler{
		log:    logger,
		mem:    mem,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Handle performs the system call selected by a7 with arguments a0 to a5,
// and returns the result for a0. Failures are returned as -errno. Unknown
// system calls panic with *UnsupportedSyscallErr.
func (h *Handler) Handle(s *state.State) uint64 {
	num := s.Regs[riscv.RegA7]
	a0, a1, a2, a3 := s.Regs[riscv.RegA0], s.Regs[riscv.RegA1], s.Regs[riscv.RegA2], s.Regs[riscv.RegA3]
	h.log.Trace("System call", "num", num, "a0", a0, "a1", a1, "a2", a2)

	switch num {
	case riscv.SysExit, riscv.SysExitGroup:
		h.Exited = true
		h.ExitCode = a0
		return a0
	case riscv.SysRead:
		return h.read(int(a0), a1, a2)
	case riscv.SysWrite:
		return h.write(int(a0), h.mem.Slice(a1, a2))
	case riscv.SysWritev:
		return h.writev(int(a0), a1, a2)
	case riscv.SysOpenat:
		dirfd := int(int32(a0))
		path := h.mem.ReadString(a1, maxPath)
		return result(unix.Openat(dirfd, path, HostOpenFlags(a2), uint32(a3)))
	case riscv.SysOpen:
		path := h.mem.ReadString(a0, maxPath)
		return result(unix.Open(path, HostOpenFlags(a1), uint32(a2)))
	case riscv.SysClose:
		if a0 <= riscv.FdStderr {
			return 0
		}
		return errno(unix.Close(int(a0)))
	case riscv.SysLseek:
		off, err := unix.Seek(int(a0), int64(a1), int(a2))
		return result(int(off), err)
	case riscv.SysFstat:
		var st unix.Stat_t
		if err := unix.Fstat(int(a0), &st); err != nil {
			return errno(err)
		}
		h.mem.Write(a1, marshalStat(&st))
		return 0
	case riscv.SysNewfstatat:
		var st unix.Stat_t
		path := h.mem.ReadString(a1, maxPath)
		if err := unix.Fstatat(int(int32(a0)), path, &st, int(a3)); err != nil {
			return errno(err)
		}
		h.mem.Write(a2, marshalStat(&st))
		return 0
	case riscv.SysFaccessat:
		path := h.mem.ReadString(a1, maxPath)
		return errno(unix.Faccessat(int(int32(a0)), path, uint32(a2), 0))
	case riscv.SysReadlinkat:
		path := h.mem.ReadString(a1, maxPath)
		return result(unix.Readlinkat(int(int32(a0)), path, h.mem.Slice(a2, a3)))
	case riscv.SysUnlink:
		return errno(unix.Unlink(h.mem.ReadString(a0, maxPath)))
	case riscv.SysGetcwd:
		n, err := unix.Getcwd(h.mem.Slice(a0, a1))
		if err != nil {
			return errno(err)
		}
		return uint64(n)
	case riscv.SysFcntl:
		switch a1 {
		case unix.F_GETFL, unix.F_GETFD:
			return result(unix.FcntlInt(uintptr(a0), int(a1), 0))
		}
		return negErrno(unix.EINVAL)
	case riscv.SysIoctl:
		return negErrno(unix.ENOTTY)

	case riscv.SysGettimeofday:
		now := time.Now()
		h.mem.Write(a0, le64(uint64(now.Unix()), uint64(now.Nanosecond()/1000)))
		if a1 != 0 {
			h.mem.Write(a1, make([]byte, 8))
		}
		return 0
	case riscv.SysClockGettime:
		var ts unix.Timespec
		if err := unix.ClockGettime(int32(a0), &ts); err != nil {
			return errno(err)
		}
		h.mem.Write(a1, le64(uint64(ts.Sec), uint64(ts.Nsec)))
		return 0
	case riscv.SysUname:
		h.mem.Write(a0, utsname())
		return 0
	case riscv.SysGetrandom:
		if _, err := rand.Read(h.mem.Slice(a0, a1)); err != nil {
			return negErrno(unix.EIO)
		}
		return a1

	case riscv.SysBrk:
		return h.mem.Brk(a0)
	case riscv.SysMmap:
		if a3&mapAnonymous == 0 {
			return negErrno(unix.ENODEV)
		}
		return h.mem.Alloc(a1)
	case riscv.SysMunmap, riscv.SysMprotect:
		return 0

	case riscv.SysGetpid:
		return uint64(unix.Getpid())
	case riscv.SysGetppid:
		return uint64(unix.Getppid())
	case riscv.SysGettid, riscv.SysSetTidAddress:
		return uint64(unix.Gettid())
	case riscv.SysGetuid:
		return uint64(unix.Getuid())
	case riscv.SysGeteuid:
		return uint64(unix.Geteuid())
	case riscv.SysGetgid:
		return uint64(unix.Getgid())
	case riscv.SysGetegid:
		return uint64(unix.Getegid())

	case riscv.SysPrlimit64:
		// a2 is the new limit, which is ignored
		if a3 != 0 {
			switch a1 {
			case rlimitNofile:
				h.mem.Write(a3, le64(1024, 1024))
			case rlimitStack:
				h.mem.Write(a3, le64(8<<20, ^uint64(0)))
			default:
				return negErrno(unix.EINVAL)
			}
		}
		return 0
	case riscv.SysRtSigaction, riscv.SysRtSigprocmask, riscv.SysSetRobustList:
		return 0
	}
	panic(&UnsupportedSyscallErr{SyscallNum: num})
}

func (h *Handler) read(fd int, addr, count uint64) uint64 {
	buf := h.mem.Slice(addr, count)
	if fd == riscv.FdStdin {
		n, err := h.Stdin.Read(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return negErrno(unix.EIO)
		}
		return uint64(n)
	}
	return result(unix.Read(fd, buf))
}

func (h *Handler) write(fd int, b []byte) uint64 {
	var w io.Writer
	switch fd {
	case riscv.FdStdout:
		w = h.Stdout
	case riscv.FdStderr:
		w = h.Stderr
	default:
		return result(unix.Write(fd, b))
	}
	n, err := w.Write(b)
	if err != nil {
		h.log.Warn("Failed to write guest output", "fd", fd, "err", err)
		return negErrno(unix.EIO)
	}
	return uint64(n)
}

// writev writes each struct iovec {base, len} in turn.
func (h *Handler) writev(fd int, iov, count uint64) uint64 {
	var total uint64
	for i := uint64(0); i < count; i++ {
		base := h.mem.Read64(iov + i*16)
		n := h.mem.Read64(iov + i*16 + 8)
		r := h.write(fd, h.mem.Slice(base, n))
		if int64(r) < 0 {
			if total > 0 {
				return total
			}
			return r
		}
		total += r
	}
	return total
}

// Newlib encodes open flags differently from Linux.
const (
	newlibWronly = 0x1
	newlibRdwr   = 0x2
	newlibAppend = 0x8
	newlibCreat  = 0x200
	newlibTrunc  = 0x400
	newlibExcl   = 0x800
)

// HostOpenFlags translates newlib open flags to the host's.
func HostOpenFlags(flags uint64) int {
	host := unix.O_RDONLY
	for _, f := range []struct {
		newlib uint64
		host   int
	}{
		{newlibWronly, unix.O_WRONLY},
		{newlibRdwr, unix.O_RDWR},
		{newlibAppend, unix.O_APPEND},
		{newlibCreat, unix.O_CREAT},
		{newlibTrunc, unix.O_TRUNC},
		{newlibExcl, unix.O_EXCL},
	} {
		if flags&f.newlib != 0 {
			host |= f.host
		}
	}
	return host | unix.O_CLOEXEC
}

func result(n int, err error) uint64 {
	if err != nil {
		return errno(err)
	}
	return uint64(n)
}

func errno(err error) uint64 {
	if err == nil {
		return 0
	}
	var e unix.Errno
	if errors.As(err, &e) {
		return negErrno(e)
	}
	return negErrno(unix.EIO)
}

func negErrno(e unix.Errno) uint64 {
	return uint64(-int64(e))
}
