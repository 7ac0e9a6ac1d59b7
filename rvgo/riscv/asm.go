package riscv

import (
	"encoding/binary"
	"fmt"
)

type format uint8

const (
	fmtNone format = iota
	fmtR
	fmtI
	fmtShift
	fmtS
	fmtB
	fmtU
	fmtJ
	fmtFixed // no operands
	fmtCSR
	fmtAMO
	fmtR4
	fmtFRm // FP R-type with rounding mode in funct3
	fmtFUnary // FP with fixed rs2 and rounding mode
	fmtFUnaryFixed
)

type encoding struct {
	format format
	opcode uint32
	funct3 uint32
	funct7 uint32
	rs2    uint32
}

var encodings [NumOps]encoding

func init() {
	set := func(op Op, f format, opcode, funct3, funct7 uint32) {
		encodings[op] = encoding{format: f, opcode: opcode, funct3: funct3, funct7: funct7}
	}
	setUnary := func(op Op, f format, funct3, funct7, rs2 uint32) {
		encodings[op] = encoding{format: f, opcode: 0x53, funct3: funct3, funct7: funct7, rs2: rs2}
	}

	for i, op := range []Op{LB, LH, LW, LD, LBU, LHU, LWU} {
		set(op, fmtI, 0x03, uint32(i), 0)
	}
	for i, op := range []Op{SB, SH, SW, SD} {
		set(op, fmtS, 0x23, uint32(i), 0)
	}
	set(FENCE, fmtFixed, 0x0f, 0, 0)
	set(FENCE_I, fmtFixed, 0x0f, 1, 0)
	set(ECALL, fmtFixed, 0x73, 0, 0)
	encodings[EBREAK] = encoding{format: fmtFixed, opcode: 0x73, rs2: 1}

	set(ADDI, fmtI, 0x13, 0, 0)
	set(SLTI, fmtI, 0x13, 2, 0)
	set(SLTIU, fmtI, 0x13, 3, 0)
	set(XORI, fmtI, 0x13, 4, 0)
	set(ORI, fmtI, 0x13, 6, 0)
	set(ANDI, fmtI, 0x13, 7, 0)
	set(SLLI, fmtShift, 0x13, 1, 0x00)
	set(SRLI, fmtShift, 0x13, 5, 0x00)
	set(SRAI, fmtShift, 0x13, 5, 0x20)
	set(ADDIW, fmtI, 0x1b, 0, 0)
	set(SLLIW, fmtShift, 0x1b, 1, 0x00)
	set(SRLIW, fmtShift, 0x1b, 5, 0x00)
	set(SRAIW, fmtShift, 0x1b, 5, 0x20)
	set(LUI, fmtU, 0x37, 0, 0)
	set(AUIPC, fmtU, 0x17, 0, 0)
	set(JAL, fmtJ, 0x6f, 0, 0)
	set(JALR, fmtI, 0x67, 0, 0)
	for i, op := range []Op{BEQ, BNE, BLT, BGE, BLTU, BGEU} {
		set(op, fmtB, 0x63, [...]uint32{0, 1, 4, 5, 6, 7}[i], 0)
	}

	for i, op := range []Op{ADD, SLL, SLT, SLTU, XOR, SRL, OR, AND} {
		set(op, fmtR, 0x33, uint32(i), 0x00)
	}
	set(SUB, fmtR, 0x33, 0, 0x20)
	set(SRA, fmtR, 0x33, 5, 0x20)
	for i, op := range []Op{MUL, MULH, MULHSU, MULHU, DIV, DIVU, REM, REMU} {
		set(op, fmtR, 0x33, uint32(i), 0x01)
	}
	set(ADDW, fmtR, 0x3b, 0, 0x00)
	set(SLLW, fmtR, 0x3b, 1, 0x00)
	set(SRLW, fmtR, 0x3b, 5, 0x00)
	set(SUBW, fmtR, 0x3b, 0, 0x20)
	set(SRAW, fmtR, 0x3b, 5, 0x20)
	set(MULW, fmtR, 0x3b, 0, 0x01)
	set(DIVW, fmtR, 0x3b, 4, 0x01)
	set(DIVUW, fmtR, 0x3b, 5, 0x01)
	set(REMW, fmtR, 0x3b, 6, 0x01)
	set(REMUW, fmtR, 0x3b, 7, 0x01)

	for i, op := range []Op{CSRRW, CSRRS, CSRRC} {
		set(op, fmtCSR, 0x73, uint32(i+1), 0)
	}
	for i, op := range []Op{CSRRWI, CSRRSI, CSRRCI} {
		set(op, fmtCSR, 0x73, uint32(i+5), 0)
	}

	funct5 := []uint32{0x02, 0x03, 0x01, 0x00, 0x04, 0x0c, 0x08, 0x10, 0x14, 0x18, 0x1c}
	for i, op := range []Op{LR_W, SC_W, AMOSWAP_W, AMOADD_W, AMOXOR_W, AMOAND_W, AMOOR_W, AMOMIN_W, AMOMAX_W, AMOMINU_W, AMOMAXU_W} {
		set(op, fmtAMO, 0x2f, 2, funct5[i])
	}
	for i, op := range []Op{LR_D, SC_D, AMOSWAP_D, AMOADD_D, AMOXOR_D, AMOAND_D, AMOOR_D, AMOMIN_D, AMOMAX_D, AMOMINU_D, AMOMAXU_D} {
		set(op, fmtAMO, 0x2f, 3, funct5[i])
	}

	set(FLW, fmtI, 0x07, 2, 0)
	set(FLD, fmtI, 0x07, 3, 0)
	set(FSW, fmtS, 0x27, 2, 0)
	set(FSD, fmtS, 0x27, 3, 0)
	for i, op := range []Op{FMADD_S, FMSUB_S, FNMSUB_S, FNMADD_S} {
		set(op, fmtR4, 0x43+uint32(i)*4, 0, 0)
	}
	for i, op := range []Op{FMADD_D, FMSUB_D, FNMSUB_D, FNMADD_D} {
		set(op, fmtR4, 0x43+uint32(i)*4, 0, 1)
	}

	// single and double variants differ only in the low funct7 bit
	for d := uint32(0); d < 2; d++ {
		pick := func(s, dd Op) Op {
			if d == 1 {
				return dd
			}
			return s
		}
		set(pick(FADD_S, FADD_D), fmtFRm, 0x53, 0, 0x00|d)
		set(pick(FSUB_S, FSUB_D), fmtFRm, 0x53, 0, 0x04|d)
		set(pick(FMUL_S, FMUL_D), fmtFRm, 0x53, 0, 0x08|d)
		set(pick(FDIV_S, FDIV_D), fmtFRm, 0x53, 0, 0x0c|d)
		setUnary(pick(FSQRT_S, FSQRT_D), fmtFUnary, 0, 0x2c|d, 0)
		set(pick(FSGNJ_S, FSGNJ_D), fmtR, 0x53, 0, 0x10|d)
		set(pick(FSGNJN_S, FSGNJN_D), fmtR, 0x53, 1, 0x10|d)
		set(pick(FSGNJX_S, FSGNJX_D), fmtR, 0x53, 2, 0x10|d)
		set(pick(FMIN_S, FMIN_D), fmtR, 0x53, 0, 0x14|d)
		set(pick(FMAX_S, FMAX_D), fmtR, 0x53, 1, 0x14|d)
		set(pick(FLE_S, FLE_D), fmtR, 0x53, 0, 0x50|d)
		set(pick(FLT_S, FLT_D), fmtR, 0x53, 1, 0x50|d)
		set(pick(FEQ_S, FEQ_D), fmtR, 0x53, 2, 0x50|d)
		for rs2, op := range []Op{pick(FCVT_W_S, FCVT_W_D), pick(FCVT_WU_S, FCVT_WU_D), pick(FCVT_L_S, FCVT_L_D), pick(FCVT_LU_S, FCVT_LU_D)} {
			setUnary(op, fmtFUnary, 0, 0x60|d, uint32(rs2))
		}
		for rs2, op := range []Op{pick(FCVT_S_W, FCVT_D_W), pick(FCVT_S_WU, FCVT_D_WU), pick(FCVT_S_L, FCVT_D_L), pick(FCVT_S_LU, FCVT_D_LU)} {
			setUnary(op, fmtFUnary, 0, 0x68|d, uint32(rs2))
		}
		setUnary(pick(FMV_X_W, FMV_X_D), fmtFUnaryFixed, 0, 0x70|d, 0)
		setUnary(pick(FCLASS_S, FCLASS_D), fmtFUnaryFixed, 1, 0x70|d, 0)
		setUnary(pick(FMV_W_X, FMV_D_X), fmtFUnaryFixed, 0, 0x78|d, 0)
	}
	setUnary(FCVT_S_D, fmtFUnary, 0, 0x20, 1)
	setUnary(FCVT_D_S, fmtFUnary, 0, 0x21, 0)
}

// Encode returns the 32-bit encoding of in. Compressed encodings are not
// produced; use Asm.Half for those.
func Encode(in Insn) uint32 {
	if in.Op >= NumOps {
		panic(fmt.Errorf("cannot encode op %d", in.Op))
	}
	e := encodings[in.Op]
	rd := uint32(in.Rd&0x1f) << 7
	rs1 := uint32(in.Rs1&0x1f) << 15
	rs2 := uint32(in.Rs2&0x1f) << 20
	imm := uint32(in.Imm)
	funct3 := e.funct3 << 12
	switch e.format {
	case fmtR:
		return e.funct7<<25 | rs2 | rs1 | funct3 | rd | e.opcode
	case fmtI:
		return (imm&0xfff)<<20 | rs1 | funct3 | rd | e.opcode
	case fmtShift:
		return e.funct7<<25 | (imm&0x3f)<<20 | rs1 | funct3 | rd | e.opcode
	case fmtS:
		return (imm>>5&0x7f)<<25 | rs2 | rs1 | funct3 | (imm&0x1f)<<7 | e.opcode
	case fmtB:
		return (imm>>12&1)<<31 | (imm>>5&0x3f)<<25 | rs2 | rs1 | funct3 |
			(imm>>1&0xf)<<8 | (imm>>11&1)<<7 | e.opcode
	case fmtU:
		return imm&0xfffff000 | rd | e.opcode
	case fmtJ:
		return (imm>>20&1)<<31 | (imm>>1&0x3ff)<<21 | (imm>>11&1)<<20 | imm&0xff000 | rd | e.opcode
	case fmtFixed:
		return e.rs2<<20 | funct3 | e.opcode
	case fmtCSR:
		return uint32(in.Csr&0xfff)<<20 | rs1 | funct3 | rd | e.opcode
	case fmtAMO:
		return e.funct7<<27 | uint32(in.Rm&3)<<25 | rs2 | rs1 | funct3 | rd | e.opcode
	case fmtR4:
		return uint32(in.Rs3&0x1f)<<27 | e.funct7<<25 | rs2 | rs1 | uint32(in.Rm&7)<<12 | rd | e.opcode
	case fmtFRm:
		return e.funct7<<25 | rs2 | rs1 | uint32(in.Rm&7)<<12 | rd | e.opcode
	case fmtFUnary:
		return e.funct7<<25 | e.rs2<<20 | rs1 | uint32(in.Rm&7)<<12 | rd | e.opcode
	case fmtFUnaryFixed:
		return e.funct7<<25 | rs1 | funct3 | rd | e.opcode
	}
	panic(fmt.Errorf("cannot encode op %s", in.Op))
}

// Asm assembles a little-endian instruction stream, mainly for building test
// programs.
type Asm struct {
	Base uint64
	buf  []byte
}

func NewAsm(base uint64) *Asm {
	return &Asm{Base: base}
}

// PC returns the address of the next instruction.
func (a *Asm) PC() uint64 {
	return a.Base + uint64(len(a.buf))
}

func (a *Asm) Bytes() []byte {
	return a.buf
}

func (a *Asm) Emit(in Insn) *Asm {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, Encode(in))
	return a
}

func (a *Asm) Word(w uint32) *Asm {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, w)
	return a
}

// Half appends a raw compressed instruction.
func (a *Asm) Half(h uint16) *Asm {
	a.buf = binary.LittleEndian.AppendUint16(a.buf, h)
	return a
}

func (a *Asm) R(op Op, rd, rs1, rs2 uint8) *Asm {
	return a.Emit(Insn{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2})
}

func (a *Asm) I(op Op, rd, rs1 uint8, imm int32) *Asm {
	return a.Emit(Insn{Op: op, Rd: rd, Rs1: rs1, Imm: imm})
}

// Store appends a store of rs2 to imm(rs1).
func (a *Asm) Store(op Op, rs2, rs1 uint8, imm int32) *Asm {
	return a.Emit(Insn{Op: op, Rs1: rs1, Rs2: rs2, Imm: imm})
}

// Branch appends a conditional branch to the absolute address target.
func (a *Asm) Branch(op Op, rs1, rs2 uint8, target uint64) *Asm {
	return a.Emit(Insn{Op: op, Rs1: rs1, Rs2: rs2, Imm: int32(target - a.PC())})
}

// Jal appends a jump to the absolute address target.
func (a *Asm) Jal(rd uint8, target uint64) *Asm {
	return a.Emit(Insn{Op: JAL, Rd: rd, Imm: int32(target - a.PC())})
}

func (a *Asm) F(op Op, rd, rs1, rs2 uint8) *Asm {
	return a.Emit(Insn{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2, Rm: RoundDynamic})
}

func (a *Asm) F4(op Op, rd, rs1, rs2, rs3 uint8) *Asm {
	return a.Emit(Insn{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2, Rs3: rs3, Rm: RoundDynamic})
}

func (a *Asm) Ecall() *Asm {
	return a.Emit(Insn{Op: ECALL})
}

// Li loads a sign-extended 32-bit constant into rd.
func (a *Asm) Li(rd uint8, v int32) *Asm {
	if v >= -2048 && v < 2048 {
		return a.I(ADDI, rd, RegZero, v)
	}
	hi := (v + 0x800) &^ 0xfff
	a.Emit(Insn{Op: LUI, Rd: rd, Imm: hi})
	if lo := v - hi; lo != 0 {
		a.I(ADDIW, rd, rd, lo)
	}
	return a
}
