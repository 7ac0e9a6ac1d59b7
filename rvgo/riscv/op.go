package riscv

// Op is the canonical operation tag of a decoded instruction.
// Compressed encodings decode into these same tags.
type Op uint8

const (
	ILLEGAL Op = iota

	// RV64I
	LB
	LH
	LW
	LD
	LBU
	LHU
	LWU
	FENCE
	FENCE_I
	ADDI
	SLLI
	SLTI
	SLTIU
	XORI
	SRLI
	SRAI
	ORI
	ANDI
	AUIPC
	ADDIW
	SLLIW
	SRLIW
	SRAIW
	SB
	SH
	SW
	SD
	ADD
	SUB
	SLL
	SLT
	SLTU
	XOR
	SRL
	SRA
	OR
	AND
	LUI
	ADDW
	SUBW
	SLLW
	SRLW
	SRAW
	BEQ
	BNE
	BLT
	BGE
	BLTU
	BGEU
	JALR
	JAL
	ECALL
	EBREAK

	// Zicsr
	CSRRW
	CSRRS
	CSRRC
	CSRRWI
	CSRRSI
	CSRRCI

	// RV64M
	MUL
	MULH
	MULHSU
	MULHU
	DIV
	DIVU
	REM
	REMU
	MULW
	DIVW
	DIVUW
	REMW
	REMUW

	// RV64A
	LR_W
	SC_W
	AMOSWAP_W
	AMOADD_W
	AMOXOR_W
	AMOAND_W
	AMOOR_W
	AMOMIN_W
	AMOMAX_W
	AMOMINU_W
	AMOMAXU_W
	LR_D
	SC_D
	AMOSWAP_D
	AMOADD_D
	AMOXOR_D
	AMOAND_D
	AMOOR_D
	AMOMIN_D
	AMOMAX_D
	AMOMINU_D
	AMOMAXU_D

	// RV64F
	FLW
	FSW
	FMADD_S
	FMSUB_S
	FNMSUB_S
	FNMADD_S
	FADD_S
	FSUB_S
	FMUL_S
	FDIV_S
	FSQRT_S
	FSGNJ_S
	FSGNJN_S
	FSGNJX_S
	FMIN_S
	FMAX_S
	FCVT_W_S
	FCVT_WU_S
	FCVT_L_S
	FCVT_LU_S
	FMV_X_W
	FEQ_S
	FLT_S
	FLE_S
	FCLASS_S
	FCVT_S_W
	FCVT_S_WU
	FCVT_S_L
	FCVT_S_LU
	FMV_W_X

	// RV64D
	FLD
	FSD
	FMADD_D
	FMSUB_D
	FNMSUB_D
	FNMADD_D
	FADD_D
	FSUB_D
	FMUL_D
	FDIV_D
	FSQRT_D
	FSGNJ_D
	FSGNJN_D
	FSGNJX_D
	FMIN_D
	FMAX_D
	FCVT_S_D
	FCVT_D_S
	FEQ_D
	FLT_D
	FLE_D
	FCLASS_D
	FCVT_W_D
	FCVT_WU_D
	FCVT_L_D
	FCVT_LU_D
	FMV_X_D
	FCVT_D_W
	FCVT_D_WU
	FCVT_D_L
	FCVT_D_LU
	FMV_D_X

	NumOps
)

var opNames = [NumOps]string{
	ILLEGAL: "illegal",
	LB:      "lb", LH: "lh", LW: "lw", LD: "ld", LBU: "lbu", LHU: "lhu", LWU: "lwu",
	FENCE: "fence", FENCE_I: "fence.i",
	ADDI: "addi", SLLI: "slli", SLTI: "slti", SLTIU: "sltiu", XORI: "xori", SRLI: "srli", SRAI: "srai", ORI: "ori", ANDI: "andi",
	AUIPC: "auipc", ADDIW: "addiw", SLLIW: "slliw", SRLIW: "srliw", SRAIW: "sraiw",
	SB: "sb", SH: "sh", SW: "sw", SD: "sd",
	ADD: "add", SUB: "sub", SLL: "sll", SLT: "slt", SLTU: "sltu", XOR: "xor", SRL: "srl", SRA: "sra", OR: "or", AND: "and",
	LUI: "lui", ADDW: "addw", SUBW: "subw", SLLW: "sllw", SRLW: "srlw", SRAW: "sraw",
	BEQ: "beq", BNE: "bne", BLT: "blt", BGE: "bge", BLTU: "bltu", BGEU: "bgeu",
	JALR: "jalr", JAL: "jal", ECALL: "ecall", EBREAK: "ebreak",
	CSRRW: "csrrw", CSRRS: "csrrs", CSRRC: "csrrc", CSRRWI: "csrrwi", CSRRSI: "csrrsi", CSRRCI: "csrrci",
	MUL: "mul", MULH: "mulh", MULHSU: "mulhsu", MULHU: "mulhu", DIV: "div", DIVU: "divu", REM: "rem", REMU: "remu",
	MULW: "mulw", DIVW: "divw", DIVUW: "divuw", REMW: "remw", REMUW: "remuw",
	LR_W: "lr.w", SC_W: "sc.w", AMOSWAP_W: "amoswap.w", AMOADD_W: "amoadd.w", AMOXOR_W: "amoxor.w", AMOAND_W: "amoand.w",
	AMOOR_W: "amoor.w", AMOMIN_W: "amomin.w", AMOMAX_W: "amomax.w", AMOMINU_W: "amominu.w", AMOMAXU_W: "amomaxu.w",
	LR_D: "lr.d", SC_D: "sc.d", AMOSWAP_D: "amoswap.d", AMOADD_D: "amoadd.d", AMOXOR_D: "amoxor.d", AMOAND_D: "amoand.d",
	AMOOR_D: "amoor.d", AMOMIN_D: "amomin.d", AMOMAX_D: "amomax.d", AMOMINU_D: "amominu.d", AMOMAXU_D: "amomaxu.d",
	FLW: "flw", FSW: "fsw", FMADD_S: "fmadd.s", FMSUB_S: "fmsub.s", FNMSUB_S: "fnmsub.s", FNMADD_S: "fnmadd.s",
	FADD_S: "fadd.s", FSUB_S: "fsub.s", FMUL_S: "fmul.s", FDIV_S: "fdiv.s", FSQRT_S: "fsqrt.s",
	FSGNJ_S: "fsgnj.s", FSGNJN_S: "fsgnjn.s", FSGNJX_S: "fsgnjx.s", FMIN_S: "fmin.s", FMAX_S: "fmax.s",
	FCVT_W_S: "fcvt.w.s", FCVT_WU_S: "fcvt.wu.s", FCVT_L_S: "fcvt.l.s", FCVT_LU_S: "fcvt.lu.s", FMV_X_W: "fmv.x.w",
	FEQ_S: "feq.s", FLT_S: "flt.s", FLE_S: "fle.s", FCLASS_S: "fclass.s",
	FCVT_S_W: "fcvt.s.w", FCVT_S_WU: "fcvt.s.wu", FCVT_S_L: "fcvt.s.l", FCVT_S_LU: "fcvt.s.lu", FMV_W_X: "fmv.w.x",
	FLD: "fld", FSD: "fsd", FMADD_D: "fmadd.d", FMSUB_D: "fmsub.d", FNMSUB_D: "fnmsub.d", FNMADD_D: "fnmadd.d",
	FADD_D: "fadd.d", FSUB_D: "fsub.d", FMUL_D: "fmul.d", FDIV_D: "fdiv.d", FSQRT_D: "fsqrt.d",
	FSGNJ_D: "fsgnj.d", FSGNJN_D: "fsgnjn.d", FSGNJX_D: "fsgnjx.d", FMIN_D: "fmin.d", FMAX_D: "fmax.d",
	FCVT_S_D: "fcvt.s.d", FCVT_D_S: "fcvt.d.s", FEQ_D: "feq.d", FLT_D: "flt.d", FLE_D: "fle.d", FCLASS_D: "fclass.d",
	FCVT_W_D: "fcvt.w.d", FCVT_WU_D: "fcvt.wu.d", FCVT_L_D: "fcvt.l.d", FCVT_LU_D: "fcvt.lu.d", FMV_X_D: "fmv.x.d",
	FCVT_D_W: "fcvt.d.w", FCVT_D_WU: "fcvt.d.wu", FCVT_D_L: "fcvt.d.l", FCVT_D_LU: "fcvt.d.lu", FMV_D_X: "fmv.d.x",
}

func (op Op) String() string {
	if op < NumOps {
		return opNames[op]
	}
	return "unknown"
}

// IsBranch reports whether op is a conditional branch.
func (op Op) IsBranch() bool {
	return op >= BEQ && op <= BGEU
}

func (op Op) IsCSR() bool {
	return op >= CSRRW && op <= CSRRCI
}

// IsAtomic reports whether op belongs to the A extension.
func (op Op) IsAtomic() bool {
	return op >= LR_W && op <= AMOMAXU_D
}

// IsFloat reports whether op belongs to the F or D extension.
func (op Op) IsFloat() bool {
	return op >= FLW && op <= FMV_D_X
}
