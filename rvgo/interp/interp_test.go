package interp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

const codeBase = 0x1000

func runBlock(t *testing.T, s *state.State, build func(a *riscv.Asm)) (*Interpreter, []byte) {
	t.Helper()
	mem := make([]byte, 1<<16)
	a := riscv.NewAsm(codeBase)
	build(a)
	copy(mem[codeBase:], a.Bytes())
	it := New(mem)
	s.PC = codeBase
	it.ExecBlock(s)
	return it, mem
}

func TestAddiNegativeOne(t *testing.T) {
	in := riscv.Decode(0xfff00293)
	require.Equal(t, riscv.ADDI, in.Op)
	require.Equal(t, uint8(5), in.Rd)
	require.Equal(t, uint8(0), in.Rs1)
	require.Equal(t, int32(-1), in.Imm)

	var s state.State
	runBlock(t, &s, func(a *riscv.Asm) {
		a.Word(0xfff00293).Ecall()
	})
	require.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), s.Regs[5])
	require.Equal(t, state.ExitEcall, s.ExitReason)
	require.Equal(t, uint64(codeBase+8), s.ReenterPC)
	require.Equal(t, uint64(codeBase+4), s.PC, "pc stays at the terminator")
}

func TestRegisterZeroStaysZero(t *testing.T) {
	var s state.State
	runBlock(t, &s, func(a *riscv.Asm) {
		a.I(riscv.ADDI, 0, 0, 5).R(riscv.ADD, 1, 0, 0).Ecall()
	})
	require.Zero(t, s.Regs[0])
	require.Zero(t, s.Regs[1])
}

func TestCompressedBlock(t *testing.T) {
	var s state.State
	it, _ := runBlock(t, &s, func(a *riscv.Asm) {
		a.Half(0x4529) // c.li a0, 10
		a.Half(0x952e) // c.add a0, a1
		a.Half(0x8082) // c.jr ra
	})
	require.Equal(t, uint64(10), s.Regs[riscv.RegA0])
	require.Equal(t, state.ExitIndirectBranch, s.ExitReason)
	require.Zero(t, s.ReenterPC)
	require.Equal(t, uint64(3), it.Retired())
}

func TestBranches(t *testing.T) {
	cases := []struct {
		op       riscv.Op
		rs1, rs2 uint64
		taken    bool
	}{
		{riscv.BEQ, 1, 1, true},
		{riscv.BEQ, 1, 2, false},
		{riscv.BNE, 1, 2, true},
		{riscv.BLT, math.MaxUint64, 0, true},
		{riscv.BLTU, math.MaxUint64, 0, false},
		{riscv.BGE, 0, math.MaxUint64, true},
		{riscv.BGEU, 0, math.MaxUint64, false},
		{riscv.BGEU, 5, 5, true},
	}
	for _, c := range cases {
		t.Run(c.op.String(), func(t *testing.T) {
			var s state.State
			s.Regs[1], s.Regs[2] = c.rs1, c.rs2
			runBlock(t, &s, func(a *riscv.Asm) {
				a.Branch(c.op, 1, 2, codeBase-16)
			})
			require.Equal(t, state.ExitDirectBranch, s.ExitReason)
			if c.taken {
				require.Equal(t, uint64(codeBase-16), s.ReenterPC)
			} else {
				require.Equal(t, uint64(codeBase+4), s.ReenterPC)
			}
		})
	}
}

func TestJumps(t *testing.T) {
	t.Run("jal", func(t *testing.T) {
		var s state.State
		runBlock(t, &s, func(a *riscv.Asm) {
			a.Jal(riscv.RegRA, codeBase+0x800)
		})
		require.Equal(t, state.ExitDirectBranch, s.ExitReason)
		require.Equal(t, uint64(codeBase+0x800), s.ReenterPC)
		require.Equal(t, uint64(codeBase+4), s.Regs[riscv.RegRA])
	})
	t.Run("jalr same register", func(t *testing.T) {
		var s state.State
		s.Regs[5] = 0x2001
		runBlock(t, &s, func(a *riscv.Asm) {
			a.I(riscv.JALR, 5, 5, 0x10)
		})
		require.Equal(t, state.ExitIndirectBranch, s.ExitReason)
		require.Equal(t, uint64(0x2010), s.ReenterPC, "low bit is cleared")
		require.Equal(t, uint64(codeBase+4), s.Regs[5])
	})
}

func TestDivRemEdges(t *testing.T) {
	minInt := uint64(1) << 63
	neg1 := uint64(math.MaxUint64)
	cases := []struct {
		op       riscv.Op
		rs1, rs2 uint64
		want     uint64
	}{
		{riscv.DIV, 7, 0, neg1},
		{riscv.DIVU, 7, 0, neg1},
		{riscv.REM, 7, 0, 7},
		{riscv.REMU, 7, 0, 7},
		{riscv.DIV, minInt, neg1, minInt},
		{riscv.REM, minInt, neg1, 0},
		{riscv.DIV, ^uint64(6), 2, ^uint64(2)},
		{riscv.REM, ^uint64(6), 2, neg1},
		{riscv.DIVW, 0x80000000, neg1, 0xffffffff80000000},
		{riscv.REMW, 0x80000000, neg1, 0},
		{riscv.DIVW, 5, 0, neg1},
		{riscv.DIVUW, 5, 0, neg1},
		{riscv.REMW, 0x1_0000_0005, 0, 5},
		{riscv.REMUW, 0xffffffff, 0, neg1},
		// upper bits are ignored before the remainder
		{riscv.REMW, 0x7_0000_0009, 0x1_0000_0004, 1},
		{riscv.MULW, 0x10000, 0x10000, 0},
		{riscv.MUL, neg1, neg1, 1},
		{riscv.MULH, neg1, neg1, 0},
		{riscv.MULHU, neg1, neg1, neg1 - 1},
		{riscv.MULHSU, neg1, 2, neg1},
		{riscv.MULH, minInt, minInt, 1 << 62},
	}
	for _, c := range cases {
		require.Equal(t, c.want, mulDivOp(c.op, c.rs1, c.rs2), "%s %#x, %#x", c.op, c.rs1, c.rs2)
	}
}

func TestAlu(t *testing.T) {
	cases := []struct {
		op            riscv.Op
		rs1, rs2, imm uint64
		want          uint64
	}{
		{op: riscv.SLLI, rs1: 1, imm: 63, want: 1 << 63},
		{op: riscv.SRAI, rs1: 1 << 63, imm: 63, want: math.MaxUint64},
		{op: riscv.SRLI, rs1: 1 << 63, imm: 63, want: 1},
		{op: riscv.ADDIW, rs1: 0x7fffffff, imm: 1, want: 0xffffffff80000000},
		{op: riscv.SRAIW, rs1: 0x80000000, imm: 4, want: 0xfffffffff8000000},
		{op: riscv.SRLIW, rs1: 0xffffffff_80000000, imm: 4, want: 0x08000000},
		{op: riscv.SLL, rs1: 1, rs2: 65, want: 2},
		{op: riscv.SLTIU, rs1: 1, imm: math.MaxUint64, want: 1},
		{op: riscv.SLTI, rs1: 1, imm: math.MaxUint64, want: 0},
		{op: riscv.SUBW, rs1: 0, rs2: 1, want: math.MaxUint64},
		{op: riscv.SLLW, rs1: 1, rs2: 31, want: 0xffffffff80000000},
		{op: riscv.SRAW, rs1: 0x80000000, rs2: 33, want: 0xffffffffc0000000},
	}
	for _, c := range cases {
		require.Equal(t, c.want, aluOp(c.op, 0, c.rs1, c.rs2, c.imm), "%s", c.op)
	}
}

func TestLoadsAndStores(t *testing.T) {
	var s state.State
	s.Regs[1] = 0x8000
	s.Regs[2] = 0x8877665544332211
	s.Regs[3] = 0x80
	_, mem := runBlock(t, &s, func(a *riscv.Asm) {
		a.Store(riscv.SD, 2, 1, 0)
		a.Store(riscv.SB, 3, 1, 8)
		a.I(riscv.LB, 10, 1, 8)
		a.I(riscv.LBU, 11, 1, 8)
		a.I(riscv.LH, 12, 1, 6)
		a.I(riscv.LHU, 13, 1, 6)
		a.I(riscv.LW, 14, 1, 4)
		a.I(riscv.LWU, 15, 1, 4)
		a.I(riscv.LD, 16, 1, 0)
		a.Ecall()
	})
	require.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x80}, mem[0x8000:0x8009])
	require.Equal(t, uint64(0xffffffffffffff80), s.Regs[10])
	require.Equal(t, uint64(0x80), s.Regs[11])
	require.Equal(t, uint64(0xffffffffffff8877), s.Regs[12])
	require.Equal(t, uint64(0x8877), s.Regs[13])
	require.Equal(t, uint64(0xffffffff88776655), s.Regs[14])
	require.Equal(t, uint64(0x88776655), s.Regs[15])
	require.Equal(t, uint64(0x8877665544332211), s.Regs[16])
}

func TestOutOfRangeAccessPanics(t *testing.T) {
	it := New(make([]byte, 16))
	require.Panics(t, func() { it.load(12, 8) })
	require.Panics(t, func() { it.store(math.MaxUint64, 1, 0) })
}

func TestAtomics(t *testing.T) {
	var s state.State
	s.Regs[1] = 0x8000
	s.Regs[2] = 5
	s.Regs[3] = ^uint64(2)
	_, mem := runBlock(t, &s, func(a *riscv.Asm) {
		a.R(riscv.AMOSWAP_W, 10, 1, 3) // mem = -3
		a.R(riscv.AMOADD_W, 11, 1, 2)  // mem = 2
		a.R(riscv.AMOMINU_W, 12, 1, 3) // mem = 2
		a.R(riscv.AMOMIN_W, 13, 1, 3)  // mem = -3
		a.R(riscv.LR_W, 14, 1, 0)
		a.R(riscv.SC_W, 15, 1, 2) // mem = 5
		a.Ecall()
	})
	require.Zero(t, s.Regs[10])
	require.Equal(t, ^uint64(2), s.Regs[11])
	require.Equal(t, uint64(2), s.Regs[12])
	require.Equal(t, uint64(2), s.Regs[13])
	require.Equal(t, ^uint64(2), s.Regs[14])
	require.Zero(t, s.Regs[15], "sc always succeeds")
	require.Equal(t, []byte{5, 0, 0, 0}, mem[0x8000:0x8004])
}

func TestCSR(t *testing.T) {
	var s state.State
	s.Regs[1] = 0xff
	it, _ := runBlock(t, &s, func(a *riscv.Asm) {
		a.Emit(riscv.Insn{Op: riscv.CSRRW, Rd: 10, Rs1: 1, Csr: riscv.CsrFcsr})
		a.Emit(riscv.Insn{Op: riscv.CSRRCI, Rd: 11, Rs1: 0x1f, Csr: riscv.CsrFflags})
		a.Emit(riscv.Insn{Op: riscv.CSRRSI, Rd: 12, Rs1: 0, Csr: riscv.CsrFrm})
		a.Emit(riscv.Insn{Op: riscv.CSRRS, Rd: 13, Rs1: 0, Csr: riscv.CsrInstret})
		a.Ecall()
	})
	require.Zero(t, s.Regs[10])
	require.Equal(t, uint64(0x1f), s.Regs[11])
	require.Equal(t, uint64(7), s.Regs[12])
	require.Equal(t, uint64(3), s.Regs[13])
	require.Equal(t, uint32(0xe0), s.FCSR)
	require.Equal(t, uint64(5), it.Retired())

	require.Panics(t, func() {
		it.Exec(&s, riscv.Insn{Op: riscv.CSRRS, Rd: 1, Csr: 0x300})
	})
	require.Panics(t, func() {
		it.Exec(&s, riscv.Insn{Op: riscv.CSRRW, Rs1: 1, Csr: riscv.CsrCycle})
	})
}

func TestEbreakIsFatal(t *testing.T) {
	var s state.State
	require.Panics(t, func() {
		runBlock(t, &s, func(a *riscv.Asm) {
			a.Emit(riscv.Insn{Op: riscv.EBREAK})
		})
	})
}

func TestIllegalInstructionIsFatal(t *testing.T) {
	var s state.State
	require.PanicsWithError(t, "unrecognized instruction 00000000: unknown compressed instruction (all zero)", func() {
		runBlock(t, &s, func(a *riscv.Asm) {
			a.Word(0)
		})
	})
}
