package riscv

// Decode decodes a single instruction word. Compressed encodings only use the
// low 16 bits of word. Unsupported encodings panic with a *DecodeError.
func Decode(word uint32) Insn {
	if word&3 != 3 {
		return decodeCompressed(uint16(word))
	}
	return decode32(word)
}

// IsCompressed reports whether the encoding starting with the given
// half-word is 16 bits long.
func IsCompressed(half uint16) bool {
	return half&3 != 3
}

func parseRd(w uint32) uint8     { return uint8((w >> 7) & 0x1f) }
func parseRs1(w uint32) uint8    { return uint8((w >> 15) & 0x1f) }
func parseRs2(w uint32) uint8    { return uint8((w >> 20) & 0x1f) }
func parseRs3(w uint32) uint8    { return uint8((w >> 27) & 0x1f) }
func parseFunct3(w uint32) uint32 { return (w >> 12) & 0x7 }
func parseFunct7(w uint32) uint32 { return (w >> 25) & 0x7f }

func parseImmTypeI(w uint32) int32 {
	return int32(w) >> 20
}

func parseImmTypeS(w uint32) int32 {
	return (int32(w&0xfe000000) >> 20) | int32((w>>7)&0x1f)
}

func parseImmTypeB(w uint32) int32 {
	imm := ((w & 0x80000000) >> 19) | // imm[12]
		((w & 0x80) << 4) | // imm[11]
		((w >> 20) & 0x7e0) | // imm[10:5]
		((w >> 7) & 0x1e) // imm[4:1]
	return int32(imm<<19) >> 19
}

func parseImmTypeU(w uint32) int32 {
	return int32(w & 0xfffff000)
}

func parseImmTypeJ(w uint32) int32 {
	imm := ((w >> 11) & 0x100000) | // imm[20]
		(w & 0xff000) | // imm[19:12]
		((w >> 9) & 0x800) | // imm[11]
		((w >> 20) & 0x7fe) // imm[10:1]
	return int32(imm<<11) >> 11
}

func decode32(w uint32) Insn {
	in := Insn{
		Rd:  parseRd(w),
		Rs1: parseRs1(w),
		Rs2: parseRs2(w),
	}
	funct3 := parseFunct3(w)
	funct7 := parseFunct7(w)

	switch w & 0x7f {
	case 0x03: // 000_0011: memory loading
		in.Imm = parseImmTypeI(w)
		in.Op = [8]Op{LB, LH, LW, LD, LBU, LHU, LWU, ILLEGAL}[funct3]
	case 0x07: // 000_0111: floating point loading
		in.Imm = parseImmTypeI(w)
		switch funct3 {
		case 0x2:
			in.Op = FLW
		case 0x3:
			in.Op = FLD
		}
	case 0x0F: // 000_1111: fence
		switch funct3 {
		case 0x0:
			in.Op = FENCE
		case 0x1:
			in.Op = FENCE_I
		}
	case 0x13: // 001_0011: immediate arithmetic and logic
		in.Imm = parseImmTypeI(w)
		switch funct3 {
		case 0x0:
			in.Op = ADDI
		case 0x1:
			if w>>26 == 0 {
				in.Op = SLLI
				in.Imm &= 0x3f
			}
		case 0x2:
			in.Op = SLTI
		case 0x3:
			in.Op = SLTIU
		case 0x4:
			in.Op = XORI
		case 0x5:
			switch w >> 26 {
			case 0x00: // 000000 = SRLI
				in.Op = SRLI
			case 0x10: // 010000 = SRAI
				in.Op = SRAI
			}
			in.Imm &= 0x3f
		case 0x6:
			in.Op = ORI
		case 0x7:
			in.Op = ANDI
		}
	case 0x17: // 001_0111: AUIPC = Add upper immediate to PC
		in.Op = AUIPC
		in.Imm = parseImmTypeU(w)
	case 0x1B: // 001_1011: immediate arithmetic and logic signed 32 bit
		in.Imm = parseImmTypeI(w)
		switch funct3 {
		case 0x0:
			in.Op = ADDIW
		case 0x1:
			if funct7 == 0 {
				in.Op = SLLIW
			}
		case 0x5:
			switch funct7 {
			case 0x00:
				in.Op = SRLIW
			case 0x20:
				in.Op = SRAIW
			}
		}
		if in.Op != ADDIW {
			in.Imm &= 0x1f
		}
	case 0x23: // 010_0011: memory storing
		in.Imm = parseImmTypeS(w)
		switch funct3 {
		case 0x0:
			in.Op = SB
		case 0x1:
			in.Op = SH
		case 0x2:
			in.Op = SW
		case 0x3:
			in.Op = SD
		}
	case 0x27: // 010_0111: floating point storing
		in.Imm = parseImmTypeS(w)
		switch funct3 {
		case 0x2:
			in.Op = FSW
		case 0x3:
			in.Op = FSD
		}
	case 0x2F: // 010_1111: atomic memory operations
		in.Op = decodeAtomic(w, funct3)
		in.Rm = uint8(funct7 & 3)
	case 0x33: // 011_0011: register arithmetic and logic
		switch funct7 {
		case 0x00:
			in.Op = [8]Op{ADD, SLL, SLT, SLTU, XOR, SRL, OR, AND}[funct3]
		case 0x01:
			in.Op = [8]Op{MUL, MULH, MULHSU, MULHU, DIV, DIVU, REM, REMU}[funct3]
		case 0x20:
			switch funct3 {
			case 0x0:
				in.Op = SUB
			case 0x5:
				in.Op = SRA
			}
		}
	case 0x37: // 011_0111: LUI = Load upper immediate
		in.Op = LUI
		in.Imm = parseImmTypeU(w)
	case 0x3B: // 011_1011: register arithmetic and logic in 32 bits
		switch funct7 {
		case 0x00:
			switch funct3 {
			case 0x0:
				in.Op = ADDW
			case 0x1:
				in.Op = SLLW
			case 0x5:
				in.Op = SRLW
			}
		case 0x01:
			in.Op = [8]Op{MULW, ILLEGAL, ILLEGAL, ILLEGAL, DIVW, DIVUW, REMW, REMUW}[funct3]
		case 0x20:
			switch funct3 {
			case 0x0:
				in.Op = SUBW
			case 0x5:
				in.Op = SRAW
			}
		}
	case 0x43, 0x47, 0x4B, 0x4F: // fused multiply-add family
		in.Rs3 = parseRs3(w)
		in.Rm = uint8(funct3)
		fmtD := (w>>25)&3 == 1
		if (w>>25)&3 > 1 {
			illegal(w, "fma format")
		}
		ops := [4][2]Op{
			{FMADD_S, FMADD_D},
			{FMSUB_S, FMSUB_D},
			{FNMSUB_S, FNMSUB_D},
			{FNMADD_S, FNMADD_D},
		}[(w>>2)&3]
		if fmtD {
			in.Op = ops[1]
		} else {
			in.Op = ops[0]
		}
	case 0x53: // 101_0011: floating point arithmetic
		in.Rm = uint8(funct3)
		in.Op = decodeFloat(w, funct3, funct7)
	case 0x63: // 110_0011: branching
		in.Imm = parseImmTypeB(w)
		in.Op = [8]Op{BEQ, BNE, ILLEGAL, ILLEGAL, BLT, BGE, BLTU, BGEU}[funct3]
		in.Terminates = true
	case 0x67: // 110_0111: JALR = Jump and link register
		if funct3 == 0 {
			in.Op = JALR
		}
		in.Imm = parseImmTypeI(w)
		in.Terminates = true
	case 0x6F: // 110_1111: JAL = Jump and link
		in.Op = JAL
		in.Imm = parseImmTypeJ(w)
		in.Terminates = true
	case 0x73: // 111_0011: environment things
		switch funct3 {
		case 0x0:
			switch w >> 20 {
			case 0x000:
				in.Op = ECALL
			case 0x001:
				in.Op = EBREAK
			}
			in.Terminates = true
		default:
			in.Csr = uint16(w >> 20)
			in.Op = [8]Op{ILLEGAL, CSRRW, CSRRS, CSRRC, ILLEGAL, CSRRWI, CSRRSI, CSRRCI}[funct3]
		}
	default:
		illegal(w, "opcode")
	}
	if in.Op == ILLEGAL {
		illegal(w, "funct")
	}
	clearUnusedFields(&in)
	return in
}

// clearUnusedFields zeroes the register fields the format of in.Op does not
// use, so that equal instructions compare equal.
func clearUnusedFields(in *Insn) {
	switch encodings[in.Op].format {
	case fmtI, fmtShift, fmtCSR:
		in.Rs2 = 0
	case fmtS, fmtB:
		in.Rd = 0
	case fmtU, fmtJ:
		in.Rs1, in.Rs2 = 0, 0
	case fmtFixed:
		in.Rd, in.Rs1, in.Rs2 = 0, 0, 0
	case fmtFUnary:
		in.Rs2 = 0
	case fmtFUnaryFixed:
		in.Rs2, in.Rm = 0, 0
	case fmtR:
		in.Rm = 0
	}
	if in.Op == LR_W || in.Op == LR_D {
		in.Rs2 = 0
	}
}

func decodeAtomic(w uint32, funct3 uint32) Op {
	var wordOps, doubleOps = [...]Op{
		AMOADD_W, AMOSWAP_W, LR_W, SC_W, AMOXOR_W, AMOOR_W, AMOAND_W, AMOMIN_W, AMOMAX_W, AMOMINU_W, AMOMAXU_W,
	}, [...]Op{
		AMOADD_D, AMOSWAP_D, LR_D, SC_D, AMOXOR_D, AMOOR_D, AMOAND_D, AMOMIN_D, AMOMAX_D, AMOMINU_D, AMOMAXU_D,
	}
	var idx int
	switch w >> 27 {
	case 0x00: // 00000 = AMOADD = add
		idx = 0
	case 0x01: // 00001 = AMOSWAP
		idx = 1
	case 0x02: // 00010 = LR = Load Reserved
		idx = 2
	case 0x03: // 00011 = SC = Store Conditional
		idx = 3
	case 0x04: // 00100 = AMOXOR = xor
		idx = 4
	case 0x08: // 01000 = AMOOR = or
		idx = 5
	case 0x0c: // 01100 = AMOAND = and
		idx = 6
	case 0x10: // 10000 = AMOMIN = min signed
		idx = 7
	case 0x14: // 10100 = AMOMAX = max signed
		idx = 8
	case 0x18: // 11000 = AMOMINU = min unsigned
		idx = 9
	case 0x1c: // 11100 = AMOMAXU = max unsigned
		idx = 10
	default:
		illegal(w, "atomic operation")
	}
	switch funct3 {
	case 0x2:
		return wordOps[idx]
	case 0x3:
		return doubleOps[idx]
	}
	illegal(w, "atomic width")
	return ILLEGAL
}

func decodeFloat(w uint32, funct3 uint32, funct7 uint32) Op {
	rs2 := parseRs2(w)
	sd := func(s, d Op) Op {
		if funct7&1 == 1 {
			return d
		}
		return s
	}
	switch funct7 &^ 1 {
	case 0x00:
		return sd(FADD_S, FADD_D)
	case 0x04:
		return sd(FSUB_S, FSUB_D)
	case 0x08:
		return sd(FMUL_S, FMUL_D)
	case 0x0C:
		return sd(FDIV_S, FDIV_D)
	case 0x2C:
		if rs2 == 0 {
			return sd(FSQRT_S, FSQRT_D)
		}
	case 0x10:
		switch funct3 {
		case 0x0:
			return sd(FSGNJ_S, FSGNJ_D)
		case 0x1:
			return sd(FSGNJN_S, FSGNJN_D)
		case 0x2:
			return sd(FSGNJX_S, FSGNJX_D)
		}
	case 0x14:
		switch funct3 {
		case 0x0:
			return sd(FMIN_S, FMIN_D)
		case 0x1:
			return sd(FMAX_S, FMAX_D)
		}
	case 0x20:
		if funct7 == 0x20 && rs2 == 1 {
			return FCVT_S_D
		}
		if funct7 == 0x21 && rs2 == 0 {
			return FCVT_D_S
		}
	case 0x50:
		switch funct3 {
		case 0x0:
			return sd(FLE_S, FLE_D)
		case 0x1:
			return sd(FLT_S, FLT_D)
		case 0x2:
			return sd(FEQ_S, FEQ_D)
		}
	case 0x60:
		switch rs2 {
		case 0:
			return sd(FCVT_W_S, FCVT_W_D)
		case 1:
			return sd(FCVT_WU_S, FCVT_WU_D)
		case 2:
			return sd(FCVT_L_S, FCVT_L_D)
		case 3:
			return sd(FCVT_LU_S, FCVT_LU_D)
		}
	case 0x68:
		switch rs2 {
		case 0:
			return sd(FCVT_S_W, FCVT_D_W)
		case 1:
			return sd(FCVT_S_WU, FCVT_D_WU)
		case 2:
			return sd(FCVT_S_L, FCVT_D_L)
		case 3:
			return sd(FCVT_S_LU, FCVT_D_LU)
		}
	case 0x70:
		switch funct3 {
		case 0x0:
			return sd(FMV_X_W, FMV_X_D)
		case 0x1:
			return sd(FCLASS_S, FCLASS_D)
		}
	case 0x78:
		if funct3 == 0 {
			return sd(FMV_W_X, FMV_D_X)
		}
	}
	illegal(w, "floating point funct7")
	return ILLEGAL
}
