package interp

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

func (it *Interpreter) execFloat(s *state.State, in riscv.Insn) {
	f := &s.FRegs
	xrs1 := s.Regs[in.Rs1]
	a32, b32, c32 := f[in.Rs1].F32(), f[in.Rs2].F32(), f[in.Rs3].F32()
	a64, b64, c64 := f[in.Rs1].F64(), f[in.Rs2].F64(), f[in.Rs3].F64()
	rd := &f[in.Rd]
	xrd := &s.Regs[in.Rd]

	switch in.Op {
	case riscv.FLW:
		rd.SetWord(uint32(it.load(xrs1+uint64(int64(in.Imm)), 4)))
	case riscv.FLD:
		rd.SetBits(it.load(xrs1+uint64(int64(in.Imm)), 8))
	case riscv.FSW:
		it.store(xrs1+uint64(int64(in.Imm)), 4, uint64(f[in.Rs2].Word()))
	case riscv.FSD:
		it.store(xrs1+uint64(int64(in.Imm)), 8, f[in.Rs2].Bits())

	case riscv.FMADD_S:
		setF32(rd, fma32(a32, b32, c32))
	case riscv.FMSUB_S:
		setF32(rd, fma32(a32, b32, -c32))
	case riscv.FNMSUB_S:
		setF32(rd, fma32(-a32, b32, c32))
	case riscv.FNMADD_S:
		setF32(rd, fma32(-a32, b32, -c32))
	case riscv.FMADD_D:
		setF64(rd, math.FMA(a64, b64, c64))
	case riscv.FMSUB_D:
		setF64(rd, math.FMA(a64, b64, -c64))
	case riscv.FNMSUB_D:
		setF64(rd, math.FMA(-a64, b64, c64))
	case riscv.FNMADD_D:
		setF64(rd, math.FMA(-a64, b64, -c64))

	case riscv.FADD_S:
		setF32(rd, a32+b32)
	case riscv.FSUB_S:
		setF32(rd, a32-b32)
	case riscv.FMUL_S:
		setF32(rd, a32*b32)
	case riscv.FDIV_S:
		if b32 == 0 && a32 == a32 && a32 != 0 && !math.IsInf(float64(a32), 0) {
			s.SetFlags(riscv.FlagDivZero)
		}
		setF32(rd, a32/b32)
	case riscv.FSQRT_S:
		if a32 < 0 {
			s.SetFlags(riscv.FlagInvalid)
		}
		setF32(rd, float32(math.Sqrt(float64(a32))))
	case riscv.FADD_D:
		setF64(rd, a64+b64)
	case riscv.FSUB_D:
		setF64(rd, a64-b64)
	case riscv.FMUL_D:
		setF64(rd, a64*b64)
	case riscv.FDIV_D:
		if b64 == 0 && a64 == a64 && a64 != 0 && !math.IsInf(a64, 0) {
			s.SetFlags(riscv.FlagDivZero)
		}
		setF64(rd, a64/b64)
	case riscv.FSQRT_D:
		if a64 < 0 {
			s.SetFlags(riscv.FlagInvalid)
		}
		setF64(rd, math.Sqrt(a64))

	case riscv.FSGNJ_S, riscv.FSGNJN_S, riscv.FSGNJX_S:
		rd.SetWord(uint32(signInject(in.Op-riscv.FSGNJ_S, uint64(f[in.Rs1].Word()), uint64(f[in.Rs2].Word()), 1<<31)))
	case riscv.FSGNJ_D, riscv.FSGNJN_D, riscv.FSGNJX_D:
		rd.SetBits(signInject(in.Op-riscv.FSGNJ_D, f[in.Rs1].Bits(), f[in.Rs2].Bits(), 1<<63))

	case riscv.FMIN_S, riscv.FMAX_S:
		if isSignaling32(f[in.Rs1].Word()) || isSignaling32(f[in.Rs2].Word()) {
			s.SetFlags(riscv.FlagInvalid)
		}
		setF32(rd, minMax(a32, b32, in.Op == riscv.FMAX_S))
	case riscv.FMIN_D, riscv.FMAX_D:
		if isSignaling64(f[in.Rs1].Bits()) || isSignaling64(f[in.Rs2].Bits()) {
			s.SetFlags(riscv.FlagInvalid)
		}
		setF64(rd, minMax(a64, b64, in.Op == riscv.FMAX_D))

	case riscv.FEQ_S:
		*xrd = compare(s, in.Op, float64(a32), float64(b32),
			isSignaling32(f[in.Rs1].Word()) || isSignaling32(f[in.Rs2].Word()))
	case riscv.FLT_S, riscv.FLE_S:
		*xrd = compare(s, in.Op, float64(a32), float64(b32), false)
	case riscv.FEQ_D:
		*xrd = compare(s, in.Op, a64, b64,
			isSignaling64(f[in.Rs1].Bits()) || isSignaling64(f[in.Rs2].Bits()))
	case riscv.FLT_D, riscv.FLE_D:
		*xrd = compare(s, in.Op, a64, b64, false)

	case riscv.FCLASS_S:
		*xrd = classify32(f[in.Rs1].Word())
	case riscv.FCLASS_D:
		*xrd = classify64(f[in.Rs1].Bits())

	case riscv.FCVT_W_S:
		*xrd = sext32(toInt(s, float64(a32), in.Rm, 32, true))
	case riscv.FCVT_WU_S:
		*xrd = sext32(toInt(s, float64(a32), in.Rm, 32, false))
	case riscv.FCVT_L_S:
		*xrd = toInt(s, float64(a32), in.Rm, 64, true)
	case riscv.FCVT_LU_S:
		*xrd = toInt(s, float64(a32), in.Rm, 64, false)
	case riscv.FCVT_W_D:
		*xrd = sext32(toInt(s, a64, in.Rm, 32, true))
	case riscv.FCVT_WU_D:
		*xrd = sext32(toInt(s, a64, in.Rm, 32, false))
	case riscv.FCVT_L_D:
		*xrd = toInt(s, a64, in.Rm, 64, true)
	case riscv.FCVT_LU_D:
		*xrd = toInt(s, a64, in.Rm, 64, false)

	case riscv.FCVT_S_W:
		rd.SetF32(float32(int32(xrs1)))
	case riscv.FCVT_S_WU:
		rd.SetF32(float32(uint32(xrs1)))
	case riscv.FCVT_S_L:
		rd.SetF32(float32(int64(xrs1)))
	case riscv.FCVT_S_LU:
		rd.SetF32(float32(xrs1))
	case riscv.FCVT_D_W:
		rd.SetF64(float64(int32(xrs1)))
	case riscv.FCVT_D_WU:
		rd.SetF64(float64(uint32(xrs1)))
	case riscv.FCVT_D_L:
		rd.SetF64(float64(int64(xrs1)))
	case riscv.FCVT_D_LU:
		rd.SetF64(float64(xrs1))
	case riscv.FCVT_S_D:
		setF32(rd, float32(a64))
	case riscv.FCVT_D_S:
		setF64(rd, float64(a32))

	case riscv.FMV_X_W:
		*xrd = sext32(uint64(f[in.Rs1].Word()))
	case riscv.FMV_W_X:
		rd.SetWord(uint32(xrs1))
	case riscv.FMV_X_D:
		*xrd = f[in.Rs1].Bits()
	case riscv.FMV_D_X:
		rd.SetBits(xrs1)

	default:
		panic(fmt.Errorf("unhandled float instruction %s at pc %#x", in, s.PC))
	}
}

// fmaPrec holds a*b+c exactly for any finite float32 operands.
const fmaPrec = 512

// fma32 computes a*b+c with a single rounding to float32. Narrowing a float64
// FMA rounds twice, which is wrong when the first rounding lands on a float32
// midpoint.
func fma32(a, b, c float32) float32 {
	r := math.FMA(float64(a), float64(b), float64(c))
	if r == 0 || math.IsInf(r, 0) || math.IsNaN(r) {
		// exact for zeros, and non-finite results only come from non-finite inputs
		return float32(r)
	}
	x := new(big.Float).SetPrec(fmaPrec).Mul(big.NewFloat(float64(a)), big.NewFloat(float64(b)))
	x.Add(x, big.NewFloat(float64(c)))
	v, _ := x.Float32()
	return v
}

// setF32 writes a single precision result, replacing any NaN with the
// canonical NaN.
func setF32(r *state.FPReg, v float32) {
	if v != v {
		r.SetWord(state.CanonicalNaN32)
		return
	}
	r.SetF32(v)
}

func setF64(r *state.FPReg, v float64) {
	if v != v {
		r.SetBits(state.CanonicalNaN64)
		return
	}
	r.SetF64(v)
}

// signInject implements FSGNJ (mode 0), FSGNJN (1) and FSGNJX (2) on raw bits.
func signInject(mode riscv.Op, a, b, sign uint64) uint64 {
	switch mode {
	case 0:
		return a&^sign | b&sign
	case 1:
		return a&^sign | ^b&sign
	default:
		return a ^ b&sign
	}
}

// minMax follows the RISC-V rules: a single NaN operand yields the other
// operand, two NaNs yield NaN, and -0 orders below +0.
func minMax[F float32 | float64](a, b F, max bool) F {
	switch {
	case a != a && b != b:
		return a
	case a != a:
		return b
	case b != b:
		return a
	case a == b:
		// only differs for signed zeros
		if math.Signbit(float64(a)) != max {
			return a
		}
		return b
	case (a < b) != max:
		return a
	default:
		return b
	}
}

func compare(s *state.State, op riscv.Op, a, b float64, signaling bool) uint64 {
	if a != a || b != b {
		if op != riscv.FEQ_S && op != riscv.FEQ_D || signaling {
			s.SetFlags(riscv.FlagInvalid)
		}
		return 0
	}
	switch op {
	case riscv.FEQ_S, riscv.FEQ_D:
		return b2u(a == b)
	case riscv.FLT_S, riscv.FLT_D:
		return b2u(a < b)
	default:
		return b2u(a <= b)
	}
}

// toInt converts to a bits wide integer with the rounding mode rm, saturating
// out of range inputs. NaN converts to the largest positive value.
func toInt(s *state.State, x float64, rm uint8, bits uint, signed bool) uint64 {
	if rm == riscv.RoundDynamic {
		rm = s.Frm()
	}
	var lo, hi float64 // valid results lie in [lo, hi)
	var minV, maxV uint64
	if signed {
		lo, hi = -math.Ldexp(1, int(bits-1)), math.Ldexp(1, int(bits-1))
		minV, maxV = uint64(int64(-1)<<(bits-1)), uint64(1)<<(bits-1)-1
	} else {
		lo, hi = 0, math.Ldexp(1, int(bits))
		minV, maxV = 0, math.MaxUint64>>(64-bits)
	}
	if x != x {
		s.SetFlags(riscv.FlagInvalid)
		return maxV
	}
	r := round(x, rm)
	switch {
	case r < lo:
		s.SetFlags(riscv.FlagInvalid)
		return minV
	case r >= hi:
		s.SetFlags(riscv.FlagInvalid)
		return maxV
	}
	if r != x {
		s.SetFlags(riscv.FlagInexact)
	}
	if signed {
		return uint64(int64(r))
	}
	return uint64(r)
}

func round(x float64, rm uint8) float64 {
	switch rm {
	case riscv.RoundNearestEven:
		return math.RoundToEven(x)
	case riscv.RoundTowardZero:
		return math.Trunc(x)
	case riscv.RoundDown:
		return math.Floor(x)
	case riscv.RoundUp:
		return math.Ceil(x)
	case riscv.RoundNearestMax:
		return math.Round(x)
	}
	panic(fmt.Errorf("invalid rounding mode %d", rm))
}

func isSignaling32(w uint32) bool {
	return w&0x7f800000 == 0x7f800000 && w&0x7fffff != 0 && w&0x400000 == 0
}

func isSignaling64(v uint64) bool {
	return v&0x7ff0000000000000 == 0x7ff0000000000000 && v&0xfffffffffffff != 0 && v&0x8000000000000 == 0
}

// classify returns the FCLASS mask for the given decomposed value.
func classify(neg bool, exp, expMax, frac, quietBit uint64) uint64 {
	var bit uint
	switch {
	case exp == expMax && frac != 0:
		if frac&quietBit != 0 {
			return 1 << 9
		}
		return 1 << 8
	case exp == expMax:
		bit = 0 // infinity
	case exp == 0 && frac == 0:
		bit = 3 // zero
	case exp == 0:
		bit = 2 // subnormal
	default:
		bit = 1 // normal
	}
	if neg {
		return 1 << bit
	}
	return 1 << (7 - bit)
}

func classify32(w uint32) uint64 {
	return classify(w>>31 != 0, uint64(w>>23)&0xff, 0xff, uint64(w)&0x7fffff, 1<<22)
}

func classify64(v uint64) uint64 {
	return classify(v>>63 != 0, (v>>52)&0x7ff, 0x7ff, v&0xfffffffffffff, 1<<51)
}
