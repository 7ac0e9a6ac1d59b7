package riscv

const (
	SysGetcwd          = 17
	SysFcntl           = 25
	SysIoctl           = 29
	SysFaccessat       = 48
	SysOpenat          = 56
	SysClose           = 57
	SysLseek           = 62
	SysRead            = 63
	SysWrite           = 64
	SysWritev          = 66
	SysReadlinkat      = 78
	SysNewfstatat      = 79
	SysFstat           = 80
	SysExit            = 93
	SysExitGroup       = 94
	SysSetTidAddress   = 96
	SysSetRobustList   = 99
	SysClockGettime    = 113
	SysRtSigaction     = 134
	SysRtSigprocmask   = 135
	SysUname           = 160
	SysGettimeofday    = 169
	SysGetpid          = 172
	SysGetppid         = 173
	SysGetuid          = 174
	SysGeteuid         = 175
	SysGetgid          = 176
	SysGetegid         = 177
	SysGettid          = 178
	SysBrk             = 214
	SysMunmap          = 215
	SysMmap            = 222
	SysMprotect        = 226
	SysPrlimit64       = 261
	SysGetrandom       = 278
	SysOpen            = 1024 // newlib only
	SysUnlink          = 1026 // newlib only

	FdStdin  = 0
	FdStdout = 1
	FdStderr = 2
)

// Control and status registers handled by the emulator.
const (
	CsrFflags  = 0x001
	CsrFrm     = 0x002
	CsrFcsr    = 0x003
	CsrCycle   = 0xC00
	CsrTime    = 0xC01
	CsrInstret = 0xC02
)

// Rounding modes of the rm field and fcsr.frm.
const (
	RoundNearestEven = 0
	RoundTowardZero  = 1
	RoundDown        = 2
	RoundUp          = 3
	RoundNearestMax  = 4
	RoundDynamic     = 7
)

// Accrued exception flags in fcsr.fflags.
const (
	FlagInexact   = 1 << 0
	FlagUnderflow = 1 << 1
	FlagOverflow  = 1 << 2
	FlagDivZero   = 1 << 3
	FlagInvalid   = 1 << 4
)

// ABI register numbers
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
)

var regNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegName returns the ABI name of general purpose register r.
func RegName(r uint8) string {
	return regNames[r&31]
}
