package interp

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

// Interpreter executes guest code one instruction at a time. Guest memory is
// addressed directly: guest address a is mem[a].
type Interpreter struct {
	mem     []byte
	retired uint64
}

func New(mem []byte) *Interpreter {
	return &Interpreter{mem: mem}
}

// Retired returns the number of instructions executed so far. It backs the
// cycle, time and instret counters.
func (it *Interpreter) Retired() uint64 {
	return it.retired
}

// ExecBlock runs from s.PC up to and including the next block-terminating
// instruction. The terminator sets s.ExitReason and s.ReenterPC, s.PC is
// left at the terminator.
func (it *Interpreter) ExecBlock(s *state.State) {
	s.ExitReason = state.ExitNone
	for {
		in := riscv.Decode(it.Fetch(s.PC))
		it.Exec(s, in)
		s.Regs[0] = 0
		it.retired++
		if in.Terminates {
			return
		}
	}
}

// Fetch reads the instruction at pc. Compressed instructions occupy only the
// low 16 bits of the result.
func (it *Interpreter) Fetch(pc uint64) uint32 {
	lo := uint32(it.load(pc, 2))
	if riscv.IsCompressed(uint16(lo)) {
		return lo
	}
	return uint32(it.load(pc, 4))
}

// Exec executes a single decoded instruction located at s.PC. Non-terminating
// instructions advance s.PC.
func (it *Interpreter) Exec(s *state.State, in riscv.Insn) {
	pc := s.PC
	next := pc + in.Size()
	rs1 := s.Regs[in.Rs1]
	rs2 := s.Regs[in.Rs2]
	imm := uint64(int64(in.Imm))
	r := &s.Regs[in.Rd]

	switch op := in.Op; {
	case op >= riscv.LB && op <= riscv.LWU:
		*r = it.loadOp(op, rs1+imm)
	case op >= riscv.SB && op <= riscv.SD:
		it.store(rs1+imm, 1<<(op-riscv.SB), rs2)
	case op == riscv.FENCE || op == riscv.FENCE_I:
		// single hart, no instruction cache to synchronize with
	case op >= riscv.ADDI && op <= riscv.SRAIW, op >= riscv.ADD && op <= riscv.SRAW:
		*r = aluOp(op, pc, rs1, rs2, imm)
	case op >= riscv.MUL && op <= riscv.REMUW:
		*r = mulDivOp(op, rs1, rs2)
	case op.IsBranch():
		s.ExitReason = state.ExitDirectBranch
		if branchTaken(op, rs1, rs2) {
			s.ReenterPC = pc + imm
		} else {
			s.ReenterPC = next
		}
		return
	case op == riscv.JAL:
		s.ExitReason = state.ExitDirectBranch
		s.ReenterPC = pc + imm
		*r = next
		return
	case op == riscv.JALR:
		// target before link, rd may equal rs1
		s.ExitReason = state.ExitIndirectBranch
		s.ReenterPC = (rs1 + imm) &^ 1
		*r = next
		return
	case op == riscv.ECALL:
		s.ExitReason = state.ExitEcall
		s.ReenterPC = next
		return
	case op == riscv.EBREAK:
		panic(fmt.Errorf("ebreak at pc %#x", pc))
	case op.IsCSR():
		it.execCSR(s, in)
	case op.IsAtomic():
		*r = it.atomicOp(op, rs1, rs2)
	case op.IsFloat():
		it.execFloat(s, in)
	default:
		panic(fmt.Errorf("unhandled instruction %s at pc %#x", in, pc))
	}
	s.PC = next
}

func (it *Interpreter) loadOp(op riscv.Op, addr uint64) uint64 {
	switch op {
	case riscv.LB:
		return signExtend(it.load(addr, 1), 8)
	case riscv.LH:
		return signExtend(it.load(addr, 2), 16)
	case riscv.LW:
		return signExtend(it.load(addr, 4), 32)
	case riscv.LD:
		return it.load(addr, 8)
	case riscv.LBU:
		return it.load(addr, 1)
	case riscv.LHU:
		return it.load(addr, 2)
	default: // LWU
		return it.load(addr, 4)
	}
}

func aluOp(op riscv.Op, pc, rs1, rs2, imm uint64) uint64 {
	switch op {
	case riscv.ADDI:
		return rs1 + imm
	case riscv.SLLI:
		return rs1 << (imm & 0x3f)
	case riscv.SLTI:
		return b2u(int64(rs1) < int64(imm))
	case riscv.SLTIU:
		return b2u(rs1 < imm)
	case riscv.XORI:
		return rs1 ^ imm
	case riscv.SRLI:
		return rs1 >> (imm & 0x3f)
	case riscv.SRAI:
		return uint64(int64(rs1) >> (imm & 0x3f))
	case riscv.ORI:
		return rs1 | imm
	case riscv.ANDI:
		return rs1 & imm
	case riscv.AUIPC:
		return pc + imm
	case riscv.ADDIW:
		return sext32(rs1 + imm)
	case riscv.SLLIW:
		return sext32(rs1 << (imm & 0x1f))
	case riscv.SRLIW:
		return sext32(uint64(uint32(rs1) >> (imm & 0x1f)))
	case riscv.SRAIW:
		return uint64(int64(int32(rs1) >> (imm & 0x1f)))
	case riscv.ADD:
		return rs1 + rs2
	case riscv.SUB:
		return rs1 - rs2
	case riscv.SLL:
		return rs1 << (rs2 & 0x3f) // only the low 6 bits are considered in RV64I
	case riscv.SLT:
		return b2u(int64(rs1) < int64(rs2))
	case riscv.SLTU:
		return b2u(rs1 < rs2)
	case riscv.XOR:
		return rs1 ^ rs2
	case riscv.SRL:
		return rs1 >> (rs2 & 0x3f)
	case riscv.SRA:
		return uint64(int64(rs1) >> (rs2 & 0x3f))
	case riscv.OR:
		return rs1 | rs2
	case riscv.AND:
		return rs1 & rs2
	case riscv.LUI:
		return imm
	case riscv.ADDW:
		return sext32(rs1 + rs2)
	case riscv.SUBW:
		return sext32(rs1 - rs2)
	case riscv.SLLW:
		return sext32(rs1 << (rs2 & 0x1f))
	case riscv.SRLW:
		return sext32(uint64(uint32(rs1) >> (rs2 & 0x1f)))
	case riscv.SRAW:
		return uint64(int64(int32(rs1) >> (rs2 & 0x1f)))
	}
	panic(fmt.Errorf("not an alu op: %s", op))
}

func mulDivOp(op riscv.Op, rs1, rs2 uint64) uint64 {
	switch op {
	case riscv.MUL:
		return rs1 * rs2
	case riscv.MULH:
		return mulHigh(signExtendTo256(rs1), signExtendTo256(rs2))
	case riscv.MULHSU:
		return mulHigh(signExtendTo256(rs1), uint256.NewInt(rs2))
	case riscv.MULHU:
		return mulHigh(uint256.NewInt(rs1), uint256.NewInt(rs2))
	case riscv.DIV:
		switch {
		case rs2 == 0:
			return math.MaxUint64
		case int64(rs1) == math.MinInt64 && int64(rs2) == -1:
			return rs1
		}
		return uint64(int64(rs1) / int64(rs2))
	case riscv.DIVU:
		if rs2 == 0 {
			return math.MaxUint64
		}
		return rs1 / rs2
	case riscv.REM:
		switch {
		case rs2 == 0:
			return rs1
		case int64(rs1) == math.MinInt64 && int64(rs2) == -1:
			return 0
		}
		return uint64(int64(rs1) % int64(rs2))
	case riscv.REMU:
		if rs2 == 0 {
			return rs1
		}
		return rs1 % rs2
	case riscv.MULW:
		return sext32(rs1 * rs2)
	case riscv.DIVW:
		a, b := int32(rs1), int32(rs2)
		switch {
		case b == 0:
			return math.MaxUint64
		case a == math.MinInt32 && b == -1:
			return uint64(int64(a))
		}
		return uint64(int64(a / b))
	case riscv.DIVUW:
		a, b := uint32(rs1), uint32(rs2)
		if b == 0 {
			return math.MaxUint64
		}
		return sext32(uint64(a / b))
	case riscv.REMW:
		// operands are narrowed before the remainder
		a, b := int32(rs1), int32(rs2)
		switch {
		case b == 0:
			return uint64(int64(a))
		case a == math.MinInt32 && b == -1:
			return 0
		}
		return uint64(int64(a % b))
	case riscv.REMUW:
		a, b := uint32(rs1), uint32(rs2)
		if b == 0 {
			return sext32(uint64(a))
		}
		return sext32(uint64(a % b))
	}
	panic(fmt.Errorf("not a mul/div op: %s", op))
}

// mulHigh returns the upper 64 bits of the 128-bit product of a and b.
func mulHigh(a, b *uint256.Int) uint64 {
	var out uint256.Int
	out.Mul(a, b)
	out.Rsh(&out, 64)
	return out.Uint64()
}

func signExtendTo256(v uint64) *uint256.Int {
	out := uint256.NewInt(v)
	if int64(v) < 0 {
		var hi uint256.Int
		hi.Lsh(new(uint256.Int).Not(new(uint256.Int)), 64)
		out.Or(out, &hi)
	}
	return out
}

func branchTaken(op riscv.Op, rs1, rs2 uint64) bool {
	switch op {
	case riscv.BEQ:
		return rs1 == rs2
	case riscv.BNE:
		return rs1 != rs2
	case riscv.BLT:
		return int64(rs1) < int64(rs2)
	case riscv.BGE:
		return int64(rs1) >= int64(rs2)
	case riscv.BLTU:
		return rs1 < rs2
	default: // BGEU
		return rs1 >= rs2
	}
}

func (it *Interpreter) atomicOp(op riscv.Op, addr, rs2 uint64) uint64 {
	// aq/rl ordering bits are no-ops with a single hart
	word := op <= riscv.AMOMAXU_W
	size := 8
	if word {
		size = 4
	}
	old := it.load(addr, size)
	if word {
		old = sext32(old)
	}
	if op == riscv.LR_W || op == riscv.LR_D {
		return old
	}
	if op == riscv.SC_W || op == riscv.SC_D {
		// the reservation can never be lost without another hart
		it.store(addr, size, rs2)
		return 0
	}
	if word {
		rs2 = sext32(rs2)
	}
	var v uint64
	switch op {
	case riscv.AMOSWAP_W, riscv.AMOSWAP_D:
		v = rs2
	case riscv.AMOADD_W, riscv.AMOADD_D:
		v = old + rs2
	case riscv.AMOXOR_W, riscv.AMOXOR_D:
		v = old ^ rs2
	case riscv.AMOAND_W, riscv.AMOAND_D:
		v = old & rs2
	case riscv.AMOOR_W, riscv.AMOOR_D:
		v = old | rs2
	case riscv.AMOMIN_W, riscv.AMOMIN_D:
		v = pick(int64(old) < int64(rs2), old, rs2)
	case riscv.AMOMAX_W, riscv.AMOMAX_D:
		v = pick(int64(old) > int64(rs2), old, rs2)
	case riscv.AMOMINU_W:
		v = pick(uint32(old) < uint32(rs2), old, rs2)
	case riscv.AMOMAXU_W:
		v = pick(uint32(old) > uint32(rs2), old, rs2)
	case riscv.AMOMINU_D:
		v = pick(old < rs2, old, rs2)
	case riscv.AMOMAXU_D:
		v = pick(old > rs2, old, rs2)
	}
	it.store(addr, size, v)
	return old
}

func (it *Interpreter) execCSR(s *state.State, in riscv.Insn) {
	v := s.Regs[in.Rs1]
	mode := in.Op - riscv.CSRRW + 1
	if in.Op >= riscv.CSRRWI {
		v = uint64(in.Rs1) // zimm
		mode = in.Op - riscv.CSRRWI + 1
	}
	old := it.readCSR(s, in.Csr)
	switch mode {
	case 1: // ?01 = CSRRW(I)
	case 2: // ?10 = CSRRS(I)
		v = old | v
	case 3: // ?11 = CSRRC(I)
		v = old &^ v
	}
	// set and clear with a zero operand do not write
	if mode == 1 || in.Rs1 != 0 {
		it.writeCSR(s, in.Csr, v)
	}
	s.Regs[in.Rd] = old
}

func (it *Interpreter) readCSR(s *state.State, num uint16) uint64 {
	switch num {
	case riscv.CsrFflags:
		return uint64(s.FCSR & 0x1f)
	case riscv.CsrFrm:
		return uint64(s.Frm())
	case riscv.CsrFcsr:
		return uint64(s.FCSR & 0xff)
	case riscv.CsrCycle, riscv.CsrTime, riscv.CsrInstret:
		return it.retired
	}
	panic(fmt.Errorf("unsupported CSR %#x at pc %#x", num, s.PC))
}

func (it *Interpreter) writeCSR(s *state.State, num uint16, v uint64) {
	switch num {
	case riscv.CsrFflags:
		s.FCSR = s.FCSR&^0x1f | uint32(v)&0x1f
	case riscv.CsrFrm:
		s.FCSR = s.FCSR&^0xe0 | (uint32(v)&7)<<5
	case riscv.CsrFcsr:
		s.FCSR = uint32(v) & 0xff
	default:
		panic(fmt.Errorf("cannot write CSR %#x at pc %#x", num, s.PC))
	}
}

func (it *Interpreter) load(addr uint64, size int) uint64 {
	b := it.slice(addr, size)
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func (it *Interpreter) store(addr uint64, size int, v uint64) {
	b := it.slice(addr, size)
	switch size {
	case 1:
		b[0] = uint8(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (it *Interpreter) slice(addr uint64, size int) []byte {
	if addr > uint64(len(it.mem)) || uint64(size) > uint64(len(it.mem))-addr {
		panic(fmt.Errorf("memory access of %d bytes at %#x out of range", size, addr))
	}
	return it.mem[addr : addr+uint64(size)]
}

func signExtend(v uint64, bits uint) uint64 {
	shift := 64 - bits
	return uint64(int64(v<<shift) >> shift)
}

func sext32(v uint64) uint64 {
	return uint64(int64(int32(v)))
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func pick(cond bool, a, b uint64) uint64 {
	if cond {
		return a
	}
	return b
}
