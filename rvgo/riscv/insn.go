package riscv

import "fmt"

// Insn is a decoded instruction. Fields that do not apply to Op are zero.
type Insn struct {
	Op  Op
	Rd  uint8
	Rs1 uint8
	Rs2 uint8
	Rs3 uint8
	// Imm is sign-extended. For LUI and AUIPC it holds the already shifted value.
	Imm int32
	Csr uint16
	// Rm is the rounding mode of FP instructions, or the aq/rl bits of atomics.
	Rm uint8

	Compressed bool
	Terminates bool
}

// Size returns the encoded length in bytes.
func (in Insn) Size() uint64 {
	if in.Compressed {
		return 2
	}
	return 4
}

func (in Insn) String() string {
	op := in.Op
	switch {
	case op == ILLEGAL:
		return "illegal"
	case op == FENCE || op == FENCE_I || op == ECALL || op == EBREAK:
		return op.String()
	case op >= LB && op <= LWU:
		return fmt.Sprintf("%s %s, %d(%s)", op, RegName(in.Rd), in.Imm, RegName(in.Rs1))
	case op >= SB && op <= SD:
		return fmt.Sprintf("%s %s, %d(%s)", op, RegName(in.Rs2), in.Imm, RegName(in.Rs1))
	case op == FLW || op == FLD:
		return fmt.Sprintf("%s f%d, %d(%s)", op, in.Rd, in.Imm, RegName(in.Rs1))
	case op == FSW || op == FSD:
		return fmt.Sprintf("%s f%d, %d(%s)", op, in.Rs2, in.Imm, RegName(in.Rs1))
	case op == LUI || op == AUIPC:
		return fmt.Sprintf("%s %s, 0x%x", op, RegName(in.Rd), uint32(in.Imm)>>12)
	case op == JAL:
		return fmt.Sprintf("%s %s, %d", op, RegName(in.Rd), in.Imm)
	case op == JALR:
		return fmt.Sprintf("%s %s, %d(%s)", op, RegName(in.Rd), in.Imm, RegName(in.Rs1))
	case op.IsBranch():
		return fmt.Sprintf("%s %s, %s, %d", op, RegName(in.Rs1), RegName(in.Rs2), in.Imm)
	case op >= CSRRW && op <= CSRRC:
		return fmt.Sprintf("%s %s, 0x%x, %s", op, RegName(in.Rd), in.Csr, RegName(in.Rs1))
	case op >= CSRRWI && op <= CSRRCI:
		return fmt.Sprintf("%s %s, 0x%x, %d", op, RegName(in.Rd), in.Csr, in.Rs1)
	case op >= ADDI && op <= ANDI, op >= ADDIW && op <= SRAIW:
		return fmt.Sprintf("%s %s, %s, %d", op, RegName(in.Rd), RegName(in.Rs1), in.Imm)
	case op.IsAtomic():
		if op == LR_W || op == LR_D {
			return fmt.Sprintf("%s %s, (%s)", op, RegName(in.Rd), RegName(in.Rs1))
		}
		return fmt.Sprintf("%s %s, %s, (%s)", op, RegName(in.Rd), RegName(in.Rs2), RegName(in.Rs1))
	case op.IsFloat():
		return in.floatString()
	default:
		return fmt.Sprintf("%s %s, %s, %s", op, RegName(in.Rd), RegName(in.Rs1), RegName(in.Rs2))
	}
}

func (in Insn) floatString() string {
	op := in.Op
	switch op {
	case FMADD_S, FMSUB_S, FNMSUB_S, FNMADD_S, FMADD_D, FMSUB_D, FNMSUB_D, FNMADD_D:
		return fmt.Sprintf("%s f%d, f%d, f%d, f%d", op, in.Rd, in.Rs1, in.Rs2, in.Rs3)
	case FSQRT_S, FSQRT_D, FCVT_S_D, FCVT_D_S:
		return fmt.Sprintf("%s f%d, f%d", op, in.Rd, in.Rs1)
	case FCVT_W_S, FCVT_WU_S, FCVT_L_S, FCVT_LU_S, FMV_X_W, FCLASS_S,
		FCVT_W_D, FCVT_WU_D, FCVT_L_D, FCVT_LU_D, FMV_X_D, FCLASS_D:
		return fmt.Sprintf("%s %s, f%d", op, RegName(in.Rd), in.Rs1)
	case FCVT_S_W, FCVT_S_WU, FCVT_S_L, FCVT_S_LU, FMV_W_X,
		FCVT_D_W, FCVT_D_WU, FCVT_D_L, FCVT_D_LU, FMV_D_X:
		return fmt.Sprintf("%s f%d, %s", op, in.Rd, RegName(in.Rs1))
	case FEQ_S, FLT_S, FLE_S, FEQ_D, FLT_D, FLE_D:
		return fmt.Sprintf("%s %s, f%d, f%d", op, RegName(in.Rd), in.Rs1, in.Rs2)
	default:
		return fmt.Sprintf("%s f%d, f%d, f%d", op, in.Rd, in.Rs1, in.Rs2)
	}
}

// DecodeError is raised (as a panic value) when an instruction word does not
// match any supported encoding.
type DecodeError struct {
	Word  uint32
	Field string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unrecognized instruction %08x: unknown %s", e.Word, e.Field)
}

func illegal(word uint32, field string) {
	panic(&DecodeError{Word: word, Field: field})
}
