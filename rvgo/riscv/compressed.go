package riscv

// The 3-bit register fields of the compressed formats address x8-x15.
const compressedRegOffset = 8

func crd(c uint32) uint8      { return uint8((c >> 7) & 0x1f) }
func crs2(c uint32) uint8     { return uint8((c >> 2) & 0x1f) }
func crdPrime(c uint32) uint8 { return uint8((c>>2)&0x7) + compressedRegOffset }
func crs1Prime(c uint32) uint8 {
	return uint8((c>>7)&0x7) + compressedRegOffset
}

// signExtend sign-extends the low bits of v.
func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// nzuimm[5:4|9:6|2|3]
func immCIW(c uint32) int32 {
	return int32(((c >> 7) & 0x30) | ((c >> 1) & 0x3c0) | ((c >> 4) & 0x4) | ((c >> 2) & 0x8))
}

// uimm[5:3] at 12:10, uimm[2|6] at 6:5
func immCLW(c uint32) int32 {
	return int32(((c >> 7) & 0x38) | ((c >> 4) & 0x4) | ((c << 1) & 0x40))
}

// uimm[5:3] at 12:10, uimm[7:6] at 6:5
func immCLD(c uint32) int32 {
	return int32(((c >> 7) & 0x38) | ((c << 1) & 0xc0))
}

// imm[5] at 12, imm[4:0] at 6:2
func immCI(c uint32) int32 {
	return signExtend(((c>>7)&0x20)|((c>>2)&0x1f), 6)
}

// nzimm[9] at 12, nzimm[4|6|8:7|5] at 6:2
func immCI16SP(c uint32) int32 {
	imm := ((c >> 3) & 0x200) | // imm[9]
		((c >> 2) & 0x10) | // imm[4]
		((c << 1) & 0x40) | // imm[6]
		((c << 4) & 0x180) | // imm[8:7]
		((c << 3) & 0x20) // imm[5]
	return signExtend(imm, 10)
}

// nzimm[17] at 12, nzimm[16:12] at 6:2
func immCLUI(c uint32) int32 {
	return signExtend(((c<<5)&0x20000)|((c<<10)&0x1f000), 18)
}

// uimm[5] at 12, uimm[4:2|7:6] at 6:2
func immCLWSP(c uint32) int32 {
	return int32(((c >> 7) & 0x20) | ((c >> 2) & 0x1c) | ((c << 4) & 0xc0))
}

// uimm[5] at 12, uimm[4:3|8:6] at 6:2
func immCLDSP(c uint32) int32 {
	return int32(((c >> 7) & 0x20) | ((c >> 2) & 0x18) | ((c << 4) & 0x1c0))
}

// uimm[5:2|7:6] at 12:7
func immCSWSP(c uint32) int32 {
	return int32(((c >> 7) & 0x3c) | ((c >> 1) & 0xc0))
}

// uimm[5:3|8:6] at 12:7
func immCSDSP(c uint32) int32 {
	return int32(((c >> 7) & 0x38) | ((c >> 1) & 0x1c0))
}

// imm[11|4|9:8|10|6|7|3:1|5] at 12:2
func immCJ(c uint32) int32 {
	imm := ((c >> 1) & 0x800) | // imm[11]
		((c >> 7) & 0x10) | // imm[4]
		((c >> 1) & 0x300) | // imm[9:8]
		((c << 2) & 0x400) | // imm[10]
		((c >> 1) & 0x40) | // imm[6]
		((c << 1) & 0x80) | // imm[7]
		((c >> 2) & 0xe) | // imm[3:1]
		((c << 3) & 0x20) // imm[5]
	return signExtend(imm, 12)
}

// imm[8|4:3] at 12:10, imm[7:6|2:1|5] at 6:2
func immCB(c uint32) int32 {
	imm := ((c >> 4) & 0x100) | // imm[8]
		((c >> 7) & 0x18) | // imm[4:3]
		((c << 1) & 0xc0) | // imm[7:6]
		((c >> 2) & 0x6) | // imm[2:1]
		((c << 3) & 0x20) // imm[5]
	return signExtend(imm, 9)
}

// decodeCompressed desugars a 16-bit instruction into its canonical form.
func decodeCompressed(half uint16) Insn {
	c := uint32(half)
	if c == 0 {
		illegal(c, "compressed instruction (all zero)")
	}
	in := Insn{Compressed: true}
	funct3 := (c >> 13) & 0x7

	switch c & 0x3 {
	case 0x0: // C0
		switch funct3 {
		case 0x0: // CIW - C.ADDI4SPN
			in.Op, in.Rd, in.Rs1, in.Imm = ADDI, crdPrime(c), RegSP, immCIW(c)
			if in.Imm == 0 {
				illegal(c, "c.addi4spn immediate")
			}
		case 0x1: // CL - C.FLD
			in.Op, in.Rd, in.Rs1, in.Imm = FLD, crdPrime(c), crs1Prime(c), immCLD(c)
		case 0x2: // CL - C.LW
			in.Op, in.Rd, in.Rs1, in.Imm = LW, crdPrime(c), crs1Prime(c), immCLW(c)
		case 0x3: // CL - C.LD
			in.Op, in.Rd, in.Rs1, in.Imm = LD, crdPrime(c), crs1Prime(c), immCLD(c)
		case 0x5: // CS - C.FSD
			in.Op, in.Rs1, in.Rs2, in.Imm = FSD, crs1Prime(c), crdPrime(c), immCLD(c)
		case 0x6: // CS - C.SW
			in.Op, in.Rs1, in.Rs2, in.Imm = SW, crs1Prime(c), crdPrime(c), immCLW(c)
		case 0x7: // CS - C.SD
			in.Op, in.Rs1, in.Rs2, in.Imm = SD, crs1Prime(c), crdPrime(c), immCLD(c)
		default:
			illegal(c, "C0 funct3")
		}
	case 0x1: // C1
		switch funct3 {
		case 0x0: // CI - C.ADDI, C.NOP
			in.Op, in.Rd, in.Rs1, in.Imm = ADDI, crd(c), crd(c), immCI(c)
		case 0x1: // CI - C.ADDIW
			in.Op, in.Rd, in.Rs1, in.Imm = ADDIW, crd(c), crd(c), immCI(c)
		case 0x2: // CI - C.LI
			in.Op, in.Rd, in.Rs1, in.Imm = ADDI, crd(c), RegZero, immCI(c)
		case 0x3:
			if crd(c) == RegSP { // CI - C.ADDI16SP
				in.Op, in.Rd, in.Rs1, in.Imm = ADDI, RegSP, RegSP, immCI16SP(c)
			} else { // CI - C.LUI
				in.Op, in.Rd, in.Imm = LUI, crd(c), immCLUI(c)
			}
			if in.Imm == 0 {
				illegal(c, "c.lui/c.addi16sp immediate")
			}
		case 0x4:
			in.Rd, in.Rs1 = crs1Prime(c), crs1Prime(c)
			switch (c >> 10) & 0x3 {
			case 0x0: // CB - C.SRLI
				in.Op, in.Imm = SRLI, immCI(c)&0x3f
			case 0x1: // CB - C.SRAI
				in.Op, in.Imm = SRAI, immCI(c)&0x3f
			case 0x2: // CB - C.ANDI
				in.Op, in.Imm = ANDI, immCI(c)
			case 0x3: // CA
				in.Rs2 = crdPrime(c)
				funct2 := (c >> 5) & 0x3
				if (c>>12)&1 == 0 {
					in.Op = [4]Op{SUB, XOR, OR, AND}[funct2]
				} else {
					in.Op = [4]Op{SUBW, ADDW, ILLEGAL, ILLEGAL}[funct2]
				}
			}
		case 0x5: // CJ - C.J
			in.Op, in.Rd, in.Imm = JAL, RegZero, immCJ(c)
			in.Terminates = true
		case 0x6: // CB - C.BEQZ
			in.Op, in.Rs1, in.Rs2, in.Imm = BEQ, crs1Prime(c), RegZero, immCB(c)
			in.Terminates = true
		case 0x7: // CB - C.BNEZ
			in.Op, in.Rs1, in.Rs2, in.Imm = BNE, crs1Prime(c), RegZero, immCB(c)
			in.Terminates = true
		}
	case 0x2: // C2
		switch funct3 {
		case 0x0: // CI - C.SLLI
			in.Op, in.Rd, in.Rs1, in.Imm = SLLI, crd(c), crd(c), immCI(c)&0x3f
		case 0x1: // CI - C.FLDSP
			in.Op, in.Rd, in.Rs1, in.Imm = FLD, crd(c), RegSP, immCLDSP(c)
		case 0x2: // CI - C.LWSP
			in.Op, in.Rd, in.Rs1, in.Imm = LW, crd(c), RegSP, immCLWSP(c)
			if in.Rd == 0 {
				illegal(c, "c.lwsp destination")
			}
		case 0x3: // CI - C.LDSP
			in.Op, in.Rd, in.Rs1, in.Imm = LD, crd(c), RegSP, immCLDSP(c)
			if in.Rd == 0 {
				illegal(c, "c.ldsp destination")
			}
		case 0x4: // CR
			rs1, rs2 := crd(c), crs2(c)
			if (c>>12)&1 == 0 {
				if rs2 == 0 { // C.JR
					if rs1 == 0 {
						illegal(c, "c.jr source")
					}
					in.Op, in.Rd, in.Rs1 = JALR, RegZero, rs1
					in.Terminates = true
				} else { // C.MV
					in.Op, in.Rd, in.Rs1, in.Rs2 = ADD, rs1, RegZero, rs2
				}
			} else {
				switch {
				case rs1 == 0 && rs2 == 0: // C.EBREAK
					in.Op = EBREAK
					in.Terminates = true
				case rs2 == 0: // C.JALR
					in.Op, in.Rd, in.Rs1 = JALR, RegRA, rs1
					in.Terminates = true
				default: // C.ADD
					in.Op, in.Rd, in.Rs1, in.Rs2 = ADD, rs1, rs1, rs2
				}
			}
		case 0x5: // CSS - C.FSDSP
			in.Op, in.Rs1, in.Rs2, in.Imm = FSD, RegSP, crs2(c), immCSDSP(c)
		case 0x6: // CSS - C.SWSP
			in.Op, in.Rs1, in.Rs2, in.Imm = SW, RegSP, crs2(c), immCSWSP(c)
		case 0x7: // CSS - C.SDSP
			in.Op, in.Rs1, in.Rs2, in.Imm = SD, RegSP, crs2(c), immCSDSP(c)
		}
	}
	if in.Op == ILLEGAL {
		illegal(c, "compressed funct")
	}
	return in
}
