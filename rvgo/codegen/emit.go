package codegen

import (
	"fmt"

	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
)

// x returns the C expression reading general purpose register r.
func (g *Generator) x(r uint8) string {
	if r == 0 {
		return "0"
	}
	g.tr.gpRead |= 1 << r
	return fmt.Sprintf("x%d", r)
}

// f returns the C lvalue of floating point register r, for reading.
func (g *Generator) f(r uint8) string {
	g.tr.fpRead |= 1 << r
	return fmt.Sprintf("f%d", r)
}

func (g *Generator) stmt(format string, args ...any) {
	g.body.WriteByte('\t')
	fmt.Fprintf(&g.body, format, args...)
	g.body.WriteByte('\n')
}

// setX assigns expr to rd. Writes to x0 are dropped.
func (g *Generator) setX(rd uint8, format string, args ...any) {
	if rd == 0 {
		return
	}
	g.tr.gpWritten |= 1 << rd
	g.stmt("x%d = %s;", rd, fmt.Sprintf(format, args...))
}

// setF assigns expr to the raw bits of rd.
func (g *Generator) setF(rd uint8, format string, args ...any) {
	g.tr.fpWritten |= 1 << rd
	g.stmt("f%d.bits = %s;", rd, fmt.Sprintf(format, args...))
}

func (g *Generator) call(h helper, args ...string) string {
	g.tr.use(h)
	out := h.String() + "("
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out + ")"
}

// jump transfers control to the code for pc, which is translated later in
// this pass or becomes an exit stub.
func (g *Generator) jump(pc uint64) {
	g.refs[pc] = struct{}{}
	g.push(pc)
	g.stmt("goto insn_%x;", pc)
}

func (g *Generator) exit(reason string, target string) {
	g.stmt("state->exit_reason = %s;", reason)
	g.stmt("state->reenter_pc = %s;", target)
	g.stmt("goto end;")
}

func lit(v uint64) string {
	return fmt.Sprintf("0x%xull", v)
}

// emitInsn translates one instruction at pc and reports whether it ends the
// block.
func (g *Generator) emitInsn(pc uint64, in riscv.Insn) bool {
	op := in.Op
	next := pc + in.Size()
	imm := lit(uint64(int64(in.Imm)))
	sh := in.Imm & 0x3f

	switch op {
	case riscv.LB:
		g.setX(in.Rd, "(u64)(i64)LOAD(i8, %s + %s)", g.x(in.Rs1), imm)
	case riscv.LH:
		g.setX(in.Rd, "(u64)(i64)LOAD(i16, %s + %s)", g.x(in.Rs1), imm)
	case riscv.LW:
		g.setX(in.Rd, "(u64)(i64)LOAD(i32, %s + %s)", g.x(in.Rs1), imm)
	case riscv.LD:
		g.setX(in.Rd, "LOAD(u64, %s + %s)", g.x(in.Rs1), imm)
	case riscv.LBU:
		g.setX(in.Rd, "(u64)LOAD(u8, %s + %s)", g.x(in.Rs1), imm)
	case riscv.LHU:
		g.setX(in.Rd, "(u64)LOAD(u16, %s + %s)", g.x(in.Rs1), imm)
	case riscv.LWU:
		g.setX(in.Rd, "(u64)LOAD(u32, %s + %s)", g.x(in.Rs1), imm)
	case riscv.SB, riscv.SH, riscv.SW, riscv.SD:
		typ := [...]string{"u8", "u16", "u32", "u64"}[op-riscv.SB]
		g.stmt("STORE(%s, %s + %s, %s);", typ, g.x(in.Rs1), imm, g.x(in.Rs2))
	case riscv.FENCE, riscv.FENCE_I:

	case riscv.ADDI:
		g.setX(in.Rd, "%s + %s", g.x(in.Rs1), imm)
	case riscv.SLLI:
		g.setX(in.Rd, "%s << %d", g.x(in.Rs1), sh)
	case riscv.SLTI:
		g.setX(in.Rd, "(i64)%s < (i64)%s", g.x(in.Rs1), imm)
	case riscv.SLTIU:
		g.setX(in.Rd, "%s < %s", g.x(in.Rs1), imm)
	case riscv.XORI:
		g.setX(in.Rd, "%s ^ %s", g.x(in.Rs1), imm)
	case riscv.SRLI:
		g.setX(in.Rd, "%s >> %d", g.x(in.Rs1), sh)
	case riscv.SRAI:
		g.setX(in.Rd, "(u64)((i64)%s >> %d)", g.x(in.Rs1), sh)
	case riscv.ORI:
		g.setX(in.Rd, "%s | %s", g.x(in.Rs1), imm)
	case riscv.ANDI:
		g.setX(in.Rd, "%s & %s", g.x(in.Rs1), imm)
	case riscv.AUIPC:
		g.setX(in.Rd, "%s", lit(pc+uint64(int64(in.Imm))))
	case riscv.LUI:
		g.setX(in.Rd, "%s", imm)
	case riscv.ADDIW:
		g.setX(in.Rd, "(u64)(i64)(i32)(%s + %s)", g.x(in.Rs1), imm)
	case riscv.SLLIW:
		g.setX(in.Rd, "(u64)(i64)(i32)((u32)%s << %d)", g.x(in.Rs1), sh&0x1f)
	case riscv.SRLIW:
		g.setX(in.Rd, "(u64)(i64)(i32)((u32)%s >> %d)", g.x(in.Rs1), sh&0x1f)
	case riscv.SRAIW:
		g.setX(in.Rd, "(u64)(i64)((i32)%s >> %d)", g.x(in.Rs1), sh&0x1f)

	case riscv.ADD:
		g.setX(in.Rd, "%s + %s", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SUB:
		g.setX(in.Rd, "%s - %s", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SLL:
		g.setX(in.Rd, "%s << (%s & 63)", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SLT:
		g.setX(in.Rd, "(i64)%s < (i64)%s", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SLTU:
		g.setX(in.Rd, "%s < %s", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.XOR:
		g.setX(in.Rd, "%s ^ %s", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SRL:
		g.setX(in.Rd, "%s >> (%s & 63)", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SRA:
		g.setX(in.Rd, "(u64)((i64)%s >> (%s & 63))", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.OR:
		g.setX(in.Rd, "%s | %s", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.AND:
		g.setX(in.Rd, "%s & %s", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.ADDW:
		g.setX(in.Rd, "(u64)(i64)(i32)(%s + %s)", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SUBW:
		g.setX(in.Rd, "(u64)(i64)(i32)(%s - %s)", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SLLW:
		g.setX(in.Rd, "(u64)(i64)(i32)((u32)%s << (%s & 31))", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SRLW:
		g.setX(in.Rd, "(u64)(i64)(i32)((u32)%s >> (%s & 31))", g.x(in.Rs1), g.x(in.Rs2))
	case riscv.SRAW:
		g.setX(in.Rd, "(u64)(i64)((i32)%s >> (%s & 31))", g.x(in.Rs1), g.x(in.Rs2))

	case riscv.MUL, riscv.MULH, riscv.MULHSU, riscv.MULHU, riscv.DIV, riscv.DIVU, riscv.REM, riscv.REMU,
		riscv.MULW, riscv.DIVW, riscv.DIVUW, riscv.REMW, riscv.REMUW:
		g.emitMulDiv(in)

	case riscv.BEQ, riscv.BNE, riscv.BLT, riscv.BGE, riscv.BLTU, riscv.BGEU:
		a, b := g.x(in.Rs1), g.x(in.Rs2)
		cond := map[riscv.Op]string{
			riscv.BEQ:  "%s == %s",
			riscv.BNE:  "%s != %s",
			riscv.BLT:  "(i64)%s < (i64)%s",
			riscv.BGE:  "(i64)%s >= (i64)%s",
			riscv.BLTU: "%s < %s",
			riscv.BGEU: "%s >= %s",
		}[op]
		target := pc + uint64(int64(in.Imm))
		g.stmt("if ("+cond+")", a, b)
		g.body.WriteByte('\t')
		g.jump(target)
		// the fall-through is pushed last so that it is translated next
		g.jump(next)
		return true
	case riscv.JAL:
		g.setX(in.Rd, "%s", lit(next))
		g.jump(pc + uint64(int64(in.Imm)))
		return true
	case riscv.JALR:
		g.stmt("{")
		g.stmt("\tu64 t_ = (%s + %s) & ~1ull;", g.x(in.Rs1), imm)
		g.setX(in.Rd, "%s", lit(next))
		g.exit("EXIT_INDIRECT_BRANCH", "t_")
		g.stmt("}")
		return true
	case riscv.ECALL:
		g.exit("EXIT_ECALL", lit(next))
		return true

	default:
		switch {
		case op.IsAtomic():
			g.emitAtomic(in)
		case op.IsFloat():
			if declinedFloat(op) {
				g.exit("EXIT_INTERP", lit(pc))
				return true
			}
			g.emitFloat(in)
		default:
			// CSR access and EBREAK are left to the interpreter
			g.exit("EXIT_INTERP", lit(pc))
			return true
		}
	}
	return false
}

func (g *Generator) emitMulDiv(in riscv.Insn) {
	a, b := g.x(in.Rs1), g.x(in.Rs2)
	switch in.Op {
	case riscv.MUL:
		g.setX(in.Rd, "%s * %s", a, b)
	case riscv.MULH:
		g.setX(in.Rd, "%s", g.call(helperMulh, a, b))
	case riscv.MULHSU:
		g.setX(in.Rd, "%s", g.call(helperMulhsu, a, b))
	case riscv.MULHU:
		g.setX(in.Rd, "%s", g.call(helperMulhu, a, b))
	case riscv.DIV:
		g.setX(in.Rd, "%[2]s == 0 ? ~0ull : (%[1]s == 0x8000000000000000ull && %[2]s == ~0ull) ? %[1]s : (u64)((i64)%[1]s / (i64)%[2]s)", a, b)
	case riscv.DIVU:
		g.setX(in.Rd, "%[2]s == 0 ? ~0ull : %[1]s / %[2]s", a, b)
	case riscv.REM:
		g.setX(in.Rd, "%[2]s == 0 ? %[1]s : (%[1]s == 0x8000000000000000ull && %[2]s == ~0ull) ? 0 : (u64)((i64)%[1]s %% (i64)%[2]s)", a, b)
	case riscv.REMU:
		g.setX(in.Rd, "%[2]s == 0 ? %[1]s : %[1]s %% %[2]s", a, b)
	case riscv.MULW:
		g.setX(in.Rd, "(u64)(i64)(i32)(%s * %s)", a, b)
	case riscv.DIVW:
		g.setX(in.Rd, "(u32)%[2]s == 0 ? ~0ull : ((u32)%[1]s == 0x80000000u && (u32)%[2]s == 0xffffffffu) ? (u64)(i64)(i32)%[1]s : (u64)(i64)((i32)%[1]s / (i32)%[2]s)", a, b)
	case riscv.DIVUW:
		g.setX(in.Rd, "(u32)%[2]s == 0 ? ~0ull : (u64)(i64)(i32)((u32)%[1]s / (u32)%[2]s)", a, b)
	case riscv.REMW:
		g.setX(in.Rd, "(u32)%[2]s == 0 ? (u64)(i64)(i32)%[1]s : ((u32)%[1]s == 0x80000000u && (u32)%[2]s == 0xffffffffu) ? 0 : (u64)(i64)((i32)%[1]s %% (i32)%[2]s)", a, b)
	case riscv.REMUW:
		g.setX(in.Rd, "(u32)%[2]s == 0 ? (u64)(i64)(i32)%[1]s : (u64)(i64)(i32)((u32)%[1]s %% (u32)%[2]s)", a, b)
	}
}

func (g *Generator) emitAtomic(in riscv.Insn) {
	op := in.Op
	word := op <= riscv.AMOMAXU_W
	addr, src := g.x(in.Rs1), g.x(in.Rs2)
	switch op {
	case riscv.LR_W:
		g.setX(in.Rd, "(u64)(i64)LOAD(i32, %s)", addr)
		return
	case riscv.LR_D:
		g.setX(in.Rd, "LOAD(u64, %s)", addr)
		return
	case riscv.SC_W:
		g.stmt("STORE(u32, %s, %s);", addr, src)
		g.setX(in.Rd, "0")
		return
	case riscv.SC_D:
		g.stmt("STORE(u64, %s, %s);", addr, src)
		g.setX(in.Rd, "0")
		return
	}

	// o_ is the old value and v_ the operand, both sign-extended to 64 bits
	g.stmt("{")
	g.stmt("\tu64 a_ = %s;", addr)
	if word {
		g.stmt("\tu64 o_ = (u64)(i64)LOAD(i32, a_);")
		g.stmt("\tu64 v_ = (u64)(i64)(i32)%s;", src)
	} else {
		g.stmt("\tu64 o_ = LOAD(u64, a_);")
		g.stmt("\tu64 v_ = %s;", src)
	}
	var expr string
	switch op {
	case riscv.AMOSWAP_W, riscv.AMOSWAP_D:
		expr = "v_"
	case riscv.AMOADD_W, riscv.AMOADD_D:
		expr = "o_ + v_"
	case riscv.AMOXOR_W, riscv.AMOXOR_D:
		expr = "o_ ^ v_"
	case riscv.AMOAND_W, riscv.AMOAND_D:
		expr = "o_ & v_"
	case riscv.AMOOR_W, riscv.AMOOR_D:
		expr = "o_ | v_"
	case riscv.AMOMIN_W, riscv.AMOMIN_D:
		expr = "(i64)o_ < (i64)v_ ? o_ : v_"
	case riscv.AMOMAX_W, riscv.AMOMAX_D:
		expr = "(i64)o_ > (i64)v_ ? o_ : v_"
	case riscv.AMOMINU_W:
		expr = "(u32)o_ < (u32)v_ ? o_ : v_"
	case riscv.AMOMAXU_W:
		expr = "(u32)o_ > (u32)v_ ? o_ : v_"
	case riscv.AMOMINU_D:
		expr = "o_ < v_ ? o_ : v_"
	case riscv.AMOMAXU_D:
		expr = "o_ > v_ ? o_ : v_"
	}
	if word {
		g.stmt("\tSTORE(u32, a_, %s);", expr)
	} else {
		g.stmt("\tSTORE(u64, a_, %s);", expr)
	}
	if in.Rd != 0 {
		g.tr.gpWritten |= 1 << in.Rd
		g.stmt("\tx%d = o_;", in.Rd)
	}
	g.stmt("}")
}

// declinedFloat reports whether op is handed to the interpreter. Float to
// integer conversions depend on the rounding mode and saturate, and the
// fused forms have no single C operator.
func declinedFloat(op riscv.Op) bool {
	switch op {
	case riscv.FCVT_W_S, riscv.FCVT_WU_S, riscv.FCVT_L_S, riscv.FCVT_LU_S,
		riscv.FCVT_W_D, riscv.FCVT_WU_D, riscv.FCVT_L_D, riscv.FCVT_LU_D,
		riscv.FMADD_S, riscv.FMSUB_S, riscv.FNMSUB_S, riscv.FNMADD_S,
		riscv.FMADD_D, riscv.FMSUB_D, riscv.FNMSUB_D, riscv.FNMADD_D:
		return true
	}
	return false
}

func (g *Generator) emitFloat(in riscv.Insn) {
	op := in.Op
	imm := lit(uint64(int64(in.Imm)))
	nanbox := func(expr string) string { return g.call(helperNanbox, expr) }
	canon := func(expr string) string { return g.call(helperCanonD, expr) }
	fs := func(r uint8) string { return g.f(r) + ".f" }
	fd := func(r uint8) string { return g.f(r) + ".d" }

	switch op {
	case riscv.FLW:
		g.setF(in.Rd, "BOX | LOAD(u32, %s + %s)", g.x(in.Rs1), imm)
	case riscv.FLD:
		g.setF(in.Rd, "LOAD(u64, %s + %s)", g.x(in.Rs1), imm)
	case riscv.FSW:
		g.stmt("STORE(u32, %s + %s, %s.word);", g.x(in.Rs1), imm, g.f(in.Rs2))
	case riscv.FSD:
		g.stmt("STORE(u64, %s + %s, %s.bits);", g.x(in.Rs1), imm, g.f(in.Rs2))

	case riscv.FADD_S:
		g.setF(in.Rd, "%s", nanbox(fs(in.Rs1)+" + "+fs(in.Rs2)))
	case riscv.FSUB_S:
		g.setF(in.Rd, "%s", nanbox(fs(in.Rs1)+" - "+fs(in.Rs2)))
	case riscv.FMUL_S:
		g.setF(in.Rd, "%s", nanbox(fs(in.Rs1)+" * "+fs(in.Rs2)))
	case riscv.FDIV_S:
		g.setF(in.Rd, "%s", nanbox(fs(in.Rs1)+" / "+fs(in.Rs2)))
	case riscv.FSQRT_S:
		g.setF(in.Rd, "%s", nanbox("__builtin_sqrtf("+fs(in.Rs1)+")"))
	case riscv.FADD_D:
		g.setF(in.Rd, "%s", canon(fd(in.Rs1)+" + "+fd(in.Rs2)))
	case riscv.FSUB_D:
		g.setF(in.Rd, "%s", canon(fd(in.Rs1)+" - "+fd(in.Rs2)))
	case riscv.FMUL_D:
		g.setF(in.Rd, "%s", canon(fd(in.Rs1)+" * "+fd(in.Rs2)))
	case riscv.FDIV_D:
		g.setF(in.Rd, "%s", canon(fd(in.Rs1)+" / "+fd(in.Rs2)))
	case riscv.FSQRT_D:
		g.setF(in.Rd, "%s", canon("__builtin_sqrt("+fd(in.Rs1)+")"))

	case riscv.FSGNJ_S:
		g.setF(in.Rd, "BOX | (%s.word & 0x7fffffffu) | (%s.word & 0x80000000u)", g.f(in.Rs1), g.f(in.Rs2))
	case riscv.FSGNJN_S:
		g.setF(in.Rd, "BOX | (%s.word & 0x7fffffffu) | (~%s.word & 0x80000000u)", g.f(in.Rs1), g.f(in.Rs2))
	case riscv.FSGNJX_S:
		g.setF(in.Rd, "BOX | (%s.word ^ (%s.word & 0x80000000u))", g.f(in.Rs1), g.f(in.Rs2))
	case riscv.FSGNJ_D:
		g.setF(in.Rd, "(%s.bits & ~(1ull << 63)) | (%s.bits & (1ull << 63))", g.f(in.Rs1), g.f(in.Rs2))
	case riscv.FSGNJN_D:
		g.setF(in.Rd, "(%s.bits & ~(1ull << 63)) | (~%s.bits & (1ull << 63))", g.f(in.Rs1), g.f(in.Rs2))
	case riscv.FSGNJX_D:
		g.setF(in.Rd, "%s.bits ^ (%s.bits & (1ull << 63))", g.f(in.Rs1), g.f(in.Rs2))

	case riscv.FMIN_S:
		g.setF(in.Rd, "%s", g.call(helperFminS, g.f(in.Rs1), g.f(in.Rs2)))
	case riscv.FMAX_S:
		g.setF(in.Rd, "%s", g.call(helperFmaxS, g.f(in.Rs1), g.f(in.Rs2)))
	case riscv.FMIN_D:
		g.setF(in.Rd, "%s", g.call(helperFminD, g.f(in.Rs1), g.f(in.Rs2)))
	case riscv.FMAX_D:
		g.setF(in.Rd, "%s", g.call(helperFmaxD, g.f(in.Rs1), g.f(in.Rs2)))

	case riscv.FEQ_S:
		g.setX(in.Rd, "%s == %s", fs(in.Rs1), fs(in.Rs2))
	case riscv.FLT_S:
		g.setX(in.Rd, "%s < %s", fs(in.Rs1), fs(in.Rs2))
	case riscv.FLE_S:
		g.setX(in.Rd, "%s <= %s", fs(in.Rs1), fs(in.Rs2))
	case riscv.FEQ_D:
		g.setX(in.Rd, "%s == %s", fd(in.Rs1), fd(in.Rs2))
	case riscv.FLT_D:
		g.setX(in.Rd, "%s < %s", fd(in.Rs1), fd(in.Rs2))
	case riscv.FLE_D:
		g.setX(in.Rd, "%s <= %s", fd(in.Rs1), fd(in.Rs2))

	case riscv.FCLASS_S:
		g.setX(in.Rd, "%s", g.call(helperFclassS, g.f(in.Rs1)+".word"))
	case riscv.FCLASS_D:
		g.setX(in.Rd, "%s", g.call(helperFclassD, g.f(in.Rs1)+".bits"))

	case riscv.FCVT_S_W:
		g.setF(in.Rd, "%s", nanbox("(float)(i32)"+g.x(in.Rs1)))
	case riscv.FCVT_S_WU:
		g.setF(in.Rd, "%s", nanbox("(float)(u32)"+g.x(in.Rs1)))
	case riscv.FCVT_S_L:
		g.setF(in.Rd, "%s", nanbox("(float)(i64)"+g.x(in.Rs1)))
	case riscv.FCVT_S_LU:
		g.setF(in.Rd, "%s", nanbox("(float)(u64)"+g.x(in.Rs1)))
	case riscv.FCVT_D_W:
		g.setF(in.Rd, "%s", canon("(double)(i32)"+g.x(in.Rs1)))
	case riscv.FCVT_D_WU:
		g.setF(in.Rd, "%s", canon("(double)(u32)"+g.x(in.Rs1)))
	case riscv.FCVT_D_L:
		g.setF(in.Rd, "%s", canon("(double)(i64)"+g.x(in.Rs1)))
	case riscv.FCVT_D_LU:
		g.setF(in.Rd, "%s", canon("(double)(u64)"+g.x(in.Rs1)))
	case riscv.FCVT_S_D:
		g.setF(in.Rd, "%s", nanbox("(float)"+fd(in.Rs1)))
	case riscv.FCVT_D_S:
		g.setF(in.Rd, "%s", canon("(double)"+fs(in.Rs1)))

	case riscv.FMV_X_W:
		g.setX(in.Rd, "(u64)(i64)(i32)%s.word", g.f(in.Rs1))
	case riscv.FMV_W_X:
		g.setF(in.Rd, "BOX | (u32)%s", g.x(in.Rs1))
	case riscv.FMV_X_D:
		g.setX(in.Rd, "%s.bits", g.f(in.Rs1))
	case riscv.FMV_D_X:
		g.setF(in.Rd, "%s", g.x(in.Rs1))

	default:
		panic(fmt.Errorf("no translation for %s", in))
	}
}
