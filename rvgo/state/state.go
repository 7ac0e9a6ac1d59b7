package state

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ExitReason tells the execution engine why a tier handed control back.
type ExitReason uint32

const (
	ExitNone ExitReason = iota
	ExitDirectBranch
	ExitIndirectBranch
	ExitInterp
	ExitEcall
)

func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "none"
	case ExitDirectBranch:
		return "direct_branch"
	case ExitIndirectBranch:
		return "indirect_branch"
	case ExitInterp:
		return "interp"
	case ExitEcall:
		return "ecall"
	default:
		return fmt.Sprintf("exit(%d)", uint32(r))
	}
}

// Byte offsets of the State fields. Generated code declares a C struct with
// the same layout.
const (
	OffsetExitReason = 0
	OffsetReenterPC  = 8
	OffsetRegs       = 16
	OffsetFRegs      = 16 + 32*8
	OffsetPC         = OffsetFRegs + 32*8
	OffsetMem        = OffsetPC + 8
	OffsetFCSR       = OffsetMem + 8
	Size             = OffsetFCSR + 8
)

// State is the register and control block shared by the interpreter and
// compiled code. Its memory layout is part of the ABI of generated code and
// must not be changed without changing the emitted struct definition.
type State struct {
	ExitReason ExitReason
	_          uint32
	ReenterPC  uint64
	Regs       [32]uint64
	FRegs      [32]FPReg
	PC         uint64
	// Mem is the host address of guest address 0.
	Mem  uint64
	FCSR uint32
	_    uint32
}

// Frm returns the dynamic rounding mode held in fcsr.
func (s *State) Frm() uint8 {
	return uint8(s.FCSR>>5) & 7
}

// SetFlags accrues floating point exception flags.
func (s *State) SetFlags(flags uint32) {
	s.FCSR |= flags & 0x1f
}

const nanBoxMask = uint64(0xffffffff_00000000)

// FPReg holds one floating point register. Single precision values are
// NaN-boxed: the upper 32 bits are all ones.
type FPReg uint64

func (r FPReg) Bits() uint64 { return uint64(r) }
func (r FPReg) Word() uint32 { return uint32(r) }

func (r FPReg) F64() float64 { return math.Float64frombits(uint64(r)) }

// F32 reads the low 32 bits. The boxing of the upper half is not checked,
// compiled code reads the same bits.
func (r FPReg) F32() float32 { return math.Float32frombits(uint32(r)) }

// IsBoxed reports whether the upper 32 bits are all ones.
func (r FPReg) IsBoxed() bool { return uint64(r)&nanBoxMask == nanBoxMask }

func (r *FPReg) SetBits(v uint64) { *r = FPReg(v) }
func (r *FPReg) SetF64(f float64) { *r = FPReg(math.Float64bits(f)) }
func (r *FPReg) SetF32(f float32) { r.SetWord(math.Float32bits(f)) }
func (r *FPReg) SetWord(w uint32) { *r = FPReg(nanBoxMask | uint64(w)) }

const (
	CanonicalNaN32 = uint32(0x7fc00000)
	CanonicalNaN64 = uint64(0x7ff8000000000000)
)

// Snapshot is the JSON form of a State.
type Snapshot struct {
	PC         hexutil.Uint64     `json:"pc"`
	ExitReason string             `json:"exitReason"`
	ReenterPC  hexutil.Uint64     `json:"reenterPC"`
	Regs       [32]hexutil.Uint64 `json:"registers"`
	FRegs      [32]hexutil.Uint64 `json:"fpRegisters"`
	FCSR       hexutil.Uint64     `json:"fcsr"`
}

func (s *State) Snapshot() *Snapshot {
	out := &Snapshot{
		PC:         hexutil.Uint64(s.PC),
		ExitReason: s.ExitReason.String(),
		ReenterPC:  hexutil.Uint64(s.ReenterPC),
		FCSR:       hexutil.Uint64(s.FCSR),
	}
	for i := range s.Regs {
		out.Regs[i] = hexutil.Uint64(s.Regs[i])
		out.FRegs[i] = hexutil.Uint64(s.FRegs[i])
	}
	return out
}
