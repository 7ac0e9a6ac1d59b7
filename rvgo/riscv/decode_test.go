package riscv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodePanic(t *testing.T, word uint32) (err *DecodeError) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected decode of %08x to fail", word)
		var ok bool
		err, ok = r.(*DecodeError)
		require.True(t, ok, "unexpected panic value %v", r)
	}()
	Decode(word)
	return nil
}

func TestDecodeAddiNegative(t *testing.T) {
	// addi x5, x0, -1
	in := Decode(0xfff00293)
	require.Equal(t, ADDI, in.Op)
	require.Equal(t, uint8(5), in.Rd)
	require.Equal(t, uint8(0), in.Rs1)
	require.Equal(t, int32(-1), in.Imm)
	require.False(t, in.Compressed)
	require.False(t, in.Terminates)
	require.Equal(t, "addi t0, zero, -1", in.String())
}

func TestDecodeKnownWords(t *testing.T) {
	cases := []struct {
		word uint32
		want string
	}{
		{0x00b50533, "add a0, a0, a1"},
		{0x40b50533, "sub a0, a0, a1"},
		{0x02b54533, "div a0, a0, a1"},
		{0x00813083, "ld ra, 8(sp)"},
		{0x00113423, "sd ra, 8(sp)"},
		{0xfe0518e3, "bne a0, zero, -16"},
		{0x00008067, "jalr zero, 0(ra)"},
		{0x00000073, "ecall"},
		{0x000122b7, "lui t0, 0x12"},
		{0x0c05252f, "amoswap.w a0, zero, (a0)"},
		{0x00052507, "flw f10, 0(a0)"},
		{0x02b57553, "fadd.d f10, f10, f11"},
		{0x00302573, "csrrs a0, 0x3, zero"},
	}
	for _, c := range cases {
		t.Run(c.want, func(t *testing.T) {
			require.Equal(t, c.want, Decode(c.word).String())
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for op := LB; op < NumOps; op++ {
		e := encodings[op]
		if e.format == fmtNone {
			continue
		}
		t.Run(op.String(), func(t *testing.T) {
			want := Insn{Op: op}
			switch e.format {
			case fmtR:
				want.Rd, want.Rs1, want.Rs2 = 7, 12, 31
			case fmtI:
				want.Rd, want.Rs1, want.Imm = 3, 9, -77
			case fmtShift:
				want.Rd, want.Rs1, want.Imm = 3, 9, 17
			case fmtS:
				want.Rs1, want.Rs2, want.Imm = 2, 30, -1000
			case fmtB:
				want.Rs1, want.Rs2, want.Imm = 4, 5, -2050
			case fmtU:
				want.Rd, want.Imm = 14, -0x7ffff000
			case fmtJ:
				want.Rd, want.Imm = 1, 0x7fffe
			case fmtCSR:
				want.Rd, want.Rs1, want.Csr = 10, 11, CsrFcsr
			case fmtAMO:
				want.Rd, want.Rs1, want.Rs2, want.Rm = 10, 11, 12, 3
				if op == LR_W || op == LR_D {
					want.Rs2 = 0
				}
			case fmtR4:
				want.Rd, want.Rs1, want.Rs2, want.Rs3, want.Rm = 1, 2, 3, 4, RoundTowardZero
			case fmtFRm:
				want.Rd, want.Rs1, want.Rs2, want.Rm = 8, 9, 10, RoundDynamic
			case fmtFUnary:
				want.Rd, want.Rs1, want.Rm = 8, 9, RoundUp
			case fmtFUnaryFixed:
				want.Rd, want.Rs1 = 8, 9
			}
			if op.IsBranch() || op == JAL || op == JALR || op == ECALL || op == EBREAK {
				want.Terminates = true
			}
			require.Equal(t, want, Decode(Encode(want)))
		})
	}
}

func TestImmediateRoundTrip32(t *testing.T) {
	t.Run("I", func(t *testing.T) {
		for imm := int32(-2048); imm < 2048; imm++ {
			in := Decode(Encode(Insn{Op: ADDI, Rd: 1, Rs1: 2, Imm: imm}))
			require.Equal(t, imm, in.Imm)
		}
	})
	t.Run("S", func(t *testing.T) {
		for imm := int32(-2048); imm < 2048; imm++ {
			in := Decode(Encode(Insn{Op: SD, Rs1: 1, Rs2: 2, Imm: imm}))
			require.Equal(t, imm, in.Imm)
		}
	})
	t.Run("B", func(t *testing.T) {
		for imm := int32(-4096); imm < 4096; imm += 2 {
			in := Decode(Encode(Insn{Op: BLT, Rs1: 1, Rs2: 2, Imm: imm}))
			require.Equal(t, imm, in.Imm)
		}
	})
	t.Run("U", func(t *testing.T) {
		for _, imm := range []int32{0, 0x1000, 0x7ffff000, -0x1000, -0x80000000, 0x12345000} {
			in := Decode(Encode(Insn{Op: AUIPC, Rd: 1, Imm: imm}))
			require.Equal(t, imm, in.Imm)
		}
	})
	t.Run("J", func(t *testing.T) {
		for imm := int32(-1 << 20); imm < 1<<20; imm += 2042 {
			in := Decode(Encode(Insn{Op: JAL, Rd: 1, Imm: imm &^ 1}))
			require.Equal(t, imm&^1, in.Imm)
		}
		for _, imm := range []int32{-1 << 20, (1 << 20) - 2, -2, 2, 0x800, -0x800} {
			in := Decode(Encode(Insn{Op: JAL, Rd: 1, Imm: imm}))
			require.Equal(t, imm, in.Imm)
		}
	})
}

func encCI(funct3, rd uint32, imm int32, quadrant uint32) uint16 {
	i := uint32(imm)
	return uint16(funct3<<13 | (i>>5&1)<<12 | rd<<7 | (i&0x1f)<<2 | quadrant)
}

func encCADDI4SPN(rdp, imm uint32) uint16 {
	return uint16((imm>>4&3)<<11 | (imm>>6&0xf)<<7 | (imm>>2&1)<<6 | (imm>>3&1)<<5 | rdp<<2)
}

func encCLW(funct3, rs1p, rdp, imm uint32) uint16 {
	return uint16(funct3<<13 | (imm>>3&7)<<10 | rs1p<<7 | (imm>>2&1)<<6 | (imm>>6&1)<<5 | rdp<<2)
}

func encCLD(funct3, rs1p, rdp, imm uint32) uint16 {
	return uint16(funct3<<13 | (imm>>3&7)<<10 | rs1p<<7 | (imm>>6&3)<<5 | rdp<<2)
}

func encCLWSP(rd, imm uint32) uint16 {
	return uint16(2<<13 | (imm>>5&1)<<12 | rd<<7 | (imm>>2&7)<<4 | (imm>>6&3)<<2 | 2)
}

func encCLDSP(funct3, rd, imm uint32) uint16 {
	return uint16(funct3<<13 | (imm>>5&1)<<12 | rd<<7 | (imm>>3&3)<<5 | (imm>>6&7)<<2 | 2)
}

func encCSWSP(rs2, imm uint32) uint16 {
	return uint16(6<<13 | (imm>>2&0xf)<<9 | (imm>>6&3)<<7 | rs2<<2 | 2)
}

func encCSDSP(funct3, rs2, imm uint32) uint16 {
	return uint16(funct3<<13 | (imm>>3&7)<<10 | (imm>>6&7)<<7 | rs2<<2 | 2)
}

func encCJ(imm int32) uint16 {
	i := uint32(imm)
	return uint16(5<<13 | (i>>11&1)<<12 | (i>>4&1)<<11 | (i>>8&3)<<9 | (i>>10&1)<<8 |
		(i>>6&1)<<7 | (i>>7&1)<<6 | (i>>1&7)<<3 | (i>>5&1)<<2 | 1)
}

func encCB(funct3, rs1p uint32, imm int32) uint16 {
	i := uint32(imm)
	return uint16(funct3<<13 | (i>>8&1)<<12 | (i>>3&3)<<10 | rs1p<<7 | (i>>6&3)<<5 | (i>>1&3)<<3 | (i>>5&1)<<2 | 1)
}

func encCADDI16SP(imm int32) uint16 {
	i := uint32(imm)
	return uint16(3<<13 | (i>>9&1)<<12 | 2<<7 | (i>>4&1)<<6 | (i>>6&1)<<5 | (i>>7&3)<<3 | (i>>5&1)<<2 | 1)
}

func encCLUI(rd uint32, imm int32) uint16 {
	i := uint32(imm)
	return uint16(3<<13 | (i>>17&1)<<12 | rd<<7 | (i>>12&0x1f)<<2 | 1)
}

func decodeHalf(h uint16) Insn {
	in := Decode(uint32(h))
	if !in.Compressed {
		panic(fmt.Errorf("half %04x decoded as 32-bit", h))
	}
	return in
}

func TestCompressedImmediateRoundTrip(t *testing.T) {
	t.Run("c.addi", func(t *testing.T) {
		for imm := int32(-32); imm < 32; imm++ {
			in := decodeHalf(encCI(0, 9, imm, 1))
			require.Equal(t, Insn{Op: ADDI, Rd: 9, Rs1: 9, Imm: imm, Compressed: true}, in)
		}
	})
	t.Run("c.li", func(t *testing.T) {
		for imm := int32(-32); imm < 32; imm++ {
			in := decodeHalf(encCI(2, 15, imm, 1))
			require.Equal(t, Insn{Op: ADDI, Rd: 15, Rs1: RegZero, Imm: imm, Compressed: true}, in)
		}
	})
	t.Run("c.addiw", func(t *testing.T) {
		for imm := int32(-32); imm < 32; imm++ {
			in := decodeHalf(encCI(1, 5, imm, 1))
			require.Equal(t, ADDIW, in.Op)
			require.Equal(t, imm, in.Imm)
		}
	})
	t.Run("c.slli", func(t *testing.T) {
		for sh := int32(1); sh < 64; sh++ {
			in := decodeHalf(encCI(0, 5, sh, 2))
			require.Equal(t, Insn{Op: SLLI, Rd: 5, Rs1: 5, Imm: sh, Compressed: true}, in)
		}
	})
	t.Run("c.addi4spn", func(t *testing.T) {
		for imm := uint32(4); imm < 1024; imm += 4 {
			in := decodeHalf(encCADDI4SPN(3, imm))
			require.Equal(t, Insn{Op: ADDI, Rd: 11, Rs1: RegSP, Imm: int32(imm), Compressed: true}, in)
		}
	})
	t.Run("c.lw/c.sw", func(t *testing.T) {
		for imm := uint32(0); imm < 128; imm += 4 {
			in := decodeHalf(encCLW(2, 1, 2, imm))
			require.Equal(t, Insn{Op: LW, Rd: 10, Rs1: 9, Imm: int32(imm), Compressed: true}, in)
			in = decodeHalf(encCLW(6, 1, 2, imm))
			require.Equal(t, Insn{Op: SW, Rs1: 9, Rs2: 10, Imm: int32(imm), Compressed: true}, in)
		}
	})
	t.Run("c.ld/c.sd/c.fld/c.fsd", func(t *testing.T) {
		for imm := uint32(0); imm < 256; imm += 8 {
			require.Equal(t, Insn{Op: LD, Rd: 15, Rs1: 8, Imm: int32(imm), Compressed: true}, decodeHalf(encCLD(3, 0, 7, imm)))
			require.Equal(t, Insn{Op: SD, Rs1: 8, Rs2: 15, Imm: int32(imm), Compressed: true}, decodeHalf(encCLD(7, 0, 7, imm)))
			require.Equal(t, Insn{Op: FLD, Rd: 15, Rs1: 8, Imm: int32(imm), Compressed: true}, decodeHalf(encCLD(1, 0, 7, imm)))
			require.Equal(t, Insn{Op: FSD, Rs1: 8, Rs2: 15, Imm: int32(imm), Compressed: true}, decodeHalf(encCLD(5, 0, 7, imm)))
		}
	})
	t.Run("c.lwsp/c.swsp", func(t *testing.T) {
		for imm := uint32(0); imm < 256; imm += 4 {
			require.Equal(t, Insn{Op: LW, Rd: 1, Rs1: RegSP, Imm: int32(imm), Compressed: true}, decodeHalf(encCLWSP(1, imm)))
			require.Equal(t, Insn{Op: SW, Rs1: RegSP, Rs2: 31, Imm: int32(imm), Compressed: true}, decodeHalf(encCSWSP(31, imm)))
		}
	})
	t.Run("c.ldsp/c.sdsp/c.fldsp/c.fsdsp", func(t *testing.T) {
		for imm := uint32(0); imm < 512; imm += 8 {
			require.Equal(t, Insn{Op: LD, Rd: 1, Rs1: RegSP, Imm: int32(imm), Compressed: true}, decodeHalf(encCLDSP(3, 1, imm)))
			require.Equal(t, Insn{Op: FLD, Rd: 4, Rs1: RegSP, Imm: int32(imm), Compressed: true}, decodeHalf(encCLDSP(1, 4, imm)))
			require.Equal(t, Insn{Op: SD, Rs1: RegSP, Rs2: 8, Imm: int32(imm), Compressed: true}, decodeHalf(encCSDSP(7, 8, imm)))
			require.Equal(t, Insn{Op: FSD, Rs1: RegSP, Rs2: 8, Imm: int32(imm), Compressed: true}, decodeHalf(encCSDSP(5, 8, imm)))
		}
	})
	t.Run("c.j", func(t *testing.T) {
		for imm := int32(-2048); imm < 2048; imm += 2 {
			require.Equal(t, Insn{Op: JAL, Rd: RegZero, Imm: imm, Compressed: true, Terminates: true}, decodeHalf(encCJ(imm)))
		}
	})
	t.Run("c.beqz/c.bnez", func(t *testing.T) {
		for imm := int32(-256); imm < 256; imm += 2 {
			require.Equal(t, Insn{Op: BEQ, Rs1: 12, Rs2: RegZero, Imm: imm, Compressed: true, Terminates: true}, decodeHalf(encCB(6, 4, imm)))
			require.Equal(t, Insn{Op: BNE, Rs1: 12, Rs2: RegZero, Imm: imm, Compressed: true, Terminates: true}, decodeHalf(encCB(7, 4, imm)))
		}
	})
	t.Run("c.addi16sp", func(t *testing.T) {
		for imm := int32(-512); imm < 512; imm += 16 {
			if imm == 0 {
				continue
			}
			require.Equal(t, Insn{Op: ADDI, Rd: RegSP, Rs1: RegSP, Imm: imm, Compressed: true}, decodeHalf(encCADDI16SP(imm)))
		}
	})
	t.Run("c.lui", func(t *testing.T) {
		for imm := int32(-32 << 12); imm < 32<<12; imm += 1 << 12 {
			if imm == 0 {
				continue
			}
			require.Equal(t, Insn{Op: LUI, Rd: 5, Imm: imm, Compressed: true}, decodeHalf(encCLUI(5, imm)))
		}
	})
}

func TestCompressedDesugar(t *testing.T) {
	cases := []struct {
		name string
		half uint16
		want Insn
	}{
		{"c.mv", 0x852e, Insn{Op: ADD, Rd: RegA0, Rs1: RegZero, Rs2: RegA1}},
		{"c.add", 0x952e, Insn{Op: ADD, Rd: RegA0, Rs1: RegA0, Rs2: RegA1}},
		{"c.jr", 0x8082, Insn{Op: JALR, Rd: RegZero, Rs1: RegRA, Terminates: true}},
		{"c.jalr", 0x9502, Insn{Op: JALR, Rd: RegRA, Rs1: RegA0, Terminates: true}},
		{"c.li", 0x557d, Insn{Op: ADDI, Rd: RegA0, Rs1: RegZero, Imm: -1}},
		{"c.nop", 0x0001, Insn{Op: ADDI}},
		{"c.ebreak", 0x9002, Insn{Op: EBREAK, Terminates: true}},
		{"c.sub", 0x8d0d, Insn{Op: SUB, Rd: RegA0, Rs1: RegA0, Rs2: RegA1}},
		{"c.xor", 0x8d2d, Insn{Op: XOR, Rd: RegA0, Rs1: RegA0, Rs2: RegA1}},
		{"c.or", 0x8d4d, Insn{Op: OR, Rd: RegA0, Rs1: RegA0, Rs2: RegA1}},
		{"c.and", 0x8d6d, Insn{Op: AND, Rd: RegA0, Rs1: RegA0, Rs2: RegA1}},
		{"c.subw", 0x9d0d, Insn{Op: SUBW, Rd: RegA0, Rs1: RegA0, Rs2: RegA1}},
		{"c.addw", 0x9d2d, Insn{Op: ADDW, Rd: RegA0, Rs1: RegA0, Rs2: RegA1}},
		{"c.srli", 0x8105, Insn{Op: SRLI, Rd: RegA0, Rs1: RegA0, Imm: 1}},
		{"c.srai", 0x9501, Insn{Op: SRAI, Rd: RegA0, Rs1: RegA0, Imm: 32}},
		{"c.andi", 0x997d, Insn{Op: ANDI, Rd: RegA0, Rs1: RegA0, Imm: -1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.want.Compressed = true
			require.Equal(t, c.want, decodeHalf(c.half))
			require.Equal(t, uint64(2), c.want.Size())
		})
	}
}

func TestDecodeIllegal(t *testing.T) {
	for _, w := range []uint32{
		0x00000000, // all-zero compressed word
		0x0000007f, // reserved opcode
		0x00007003, // load with funct3=7
		0x00002063, // branch with funct3=2
		0xfe000033, // OP with unknown funct7
		0x9c41,     // c.subw-reserved slot (funct2=2, bit12 set)
	} {
		t.Run(fmt.Sprintf("%08x", w), func(t *testing.T) {
			err := decodePanic(t, w)
			require.NotNil(t, err)
			require.Contains(t, err.Error(), "unrecognized instruction")
		})
	}
}
