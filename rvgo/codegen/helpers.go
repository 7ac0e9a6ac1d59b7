package codegen

import (
	"fmt"

	"github.com/ethereum-optimism/rvjit/rvgo/state"
)

// prelude declares the state block with the same layout as state.State, and
// the memory access macros. It has no dependency on system headers.
var prelude = fmt.Sprintf(`typedef __UINT8_TYPE__ u8;
typedef __UINT16_TYPE__ u16;
typedef __UINT32_TYPE__ u32;
typedef __UINT64_TYPE__ u64;
typedef __INT8_TYPE__ i8;
typedef __INT16_TYPE__ i16;
typedef __INT32_TYPE__ i32;
typedef __INT64_TYPE__ i64;
typedef __UINTPTR_TYPE__ uintptr_t;

typedef union {
	u64 bits;
	u32 word;
	double d;
	float f;
} fp_reg_t;

typedef struct {
	u32 exit_reason;
	u64 reenter_pc;
	u64 gp_regs[32];
	fp_reg_t fp_regs[32];
	u64 pc;
	u64 mem;
	u32 fcsr;
} state_t;

_Static_assert(__builtin_offsetof(state_t, reenter_pc) == %d, "reenter_pc offset");
_Static_assert(__builtin_offsetof(state_t, gp_regs) == %d, "gp_regs offset");
_Static_assert(__builtin_offsetof(state_t, fp_regs) == %d, "fp_regs offset");
_Static_assert(__builtin_offsetof(state_t, pc) == %d, "pc offset");
_Static_assert(__builtin_offsetof(state_t, mem) == %d, "mem offset");
_Static_assert(__builtin_offsetof(state_t, fcsr) == %d, "fcsr offset");
_Static_assert(sizeof(state_t) == %d, "state size");

#define EXIT_NONE %d
#define EXIT_DIRECT_BRANCH %d
#define EXIT_INDIRECT_BRANCH %d
#define EXIT_INTERP %d
#define EXIT_ECALL %d

#define LOAD(T, a) ({ T v_; __builtin_memcpy(&v_, mem + (a), sizeof(T)); v_; })
#define STORE(T, a, v) do { T v_ = (T)(v); __builtin_memcpy(mem + (a), &v_, sizeof(T)); } while (0)
#define BOX 0xffffffff00000000ull
`,
	state.OffsetReenterPC, state.OffsetRegs, state.OffsetFRegs, state.OffsetPC,
	state.OffsetMem, state.OffsetFCSR, state.Size,
	state.ExitNone, state.ExitDirectBranch, state.ExitIndirectBranch, state.ExitInterp, state.ExitEcall)

type helper uint8

const (
	helperMulh helper = iota
	helperMulhsu
	helperMulhu
	helperNanbox
	helperCanonD
	helperFminS
	helperFmaxS
	helperFminD
	helperFmaxD
	helperFclassS
	helperFclassD
	numHelpers
)

var helperNames = [numHelpers]string{
	helperMulh:    "mulh",
	helperMulhsu:  "mulhsu",
	helperMulhu:   "mulhu",
	helperNanbox:  "nanbox",
	helperCanonD:  "canon_d",
	helperFminS:   "fmin_s",
	helperFmaxS:   "fmax_s",
	helperFminD:   "fmin_d",
	helperFmaxD:   "fmax_d",
	helperFclassS: "fclass_s",
	helperFclassD: "fclass_d",
}

func (h helper) String() string {
	return helperNames[h]
}

var helperSource = [numHelpers]string{
	helperMulh: `
static inline u64 mulh(u64 a, u64 b) {
	return (u64)(((__int128)(i64)a * (__int128)(i64)b) >> 64);
}
`,
	helperMulhsu: `
static inline u64 mulhsu(u64 a, u64 b) {
	return (u64)(((__int128)(i64)a * (__int128)b) >> 64);
}
`,
	helperMulhu: `
static inline u64 mulhu(u64 a, u64 b) {
	return (u64)(((unsigned __int128)a * b) >> 64);
}
`,
	helperNanbox: `
static inline u64 nanbox(float f) {
	union { float f; u32 w; } u = { .f = f };
	if (f != f)
		u.w = 0x7fc00000u;
	return BOX | u.w;
}
`,
	helperCanonD: `
static inline u64 canon_d(double d) {
	union { double d; u64 b; } u = { .d = d };
	if (d != d)
		u.b = 0x7ff8000000000000ull;
	return u.b;
}
`,
	helperFminS: minMaxSource("fmin_s", "f", "word", "BOX | ", "0xffffffff7fc00000ull", "|", "<"),
	helperFmaxS: minMaxSource("fmax_s", "f", "word", "BOX | ", "0xffffffff7fc00000ull", "&", ">"),
	helperFminD: minMaxSource("fmin_d", "d", "bits", "", "0x7ff8000000000000ull", "|", "<"),
	helperFmaxD: minMaxSource("fmax_d", "d", "bits", "", "0x7ff8000000000000ull", "&", ">"),
	helperFclassS: `
static inline u64 fclass_s(u32 w) {
	u32 e = (w >> 23) & 0xff, m = w & 0x7fffff;
	int neg = w >> 31;
	if (e == 0xff) {
		if (m)
			return (m & 0x400000) ? 1 << 9 : 1 << 8;
		return neg ? 1 << 0 : 1 << 7;
	}
	if (e == 0)
		return m ? (neg ? 1 << 2 : 1 << 5) : (neg ? 1 << 3 : 1 << 4);
	return neg ? 1 << 1 : 1 << 6;
}
`,
	helperFclassD: `
static inline u64 fclass_d(u64 v) {
	u64 e = (v >> 52) & 0x7ff, m = v & 0xfffffffffffffull;
	int neg = v >> 63;
	if (e == 0x7ff) {
		if (m)
			return (m & (1ull << 51)) ? 1 << 9 : 1 << 8;
		return neg ? 1 << 0 : 1 << 7;
	}
	if (e == 0)
		return m ? (neg ? 1 << 2 : 1 << 5) : (neg ? 1 << 3 : 1 << 4);
	return neg ? 1 << 1 : 1 << 6;
}
`,
}

// minMaxSource renders FMIN/FMAX for one precision. Signed zeros compare
// equal, so their order is resolved on the sign bit: or-ing the bits picks
// -0 and and-ing picks +0.
func minMaxSource(name, member, raw, box, canonical, zeroOp, cmp string) string {
	return fmt.Sprintf(`
static inline u64 %[1]s(fp_reg_t a, fp_reg_t b) {
	if (a.%[2]s != a.%[2]s && b.%[2]s != b.%[2]s)
		return %[5]s;
	if (a.%[2]s != a.%[2]s)
		return %[4]sb.%[3]s;
	if (b.%[2]s != b.%[2]s)
		return %[4]sa.%[3]s;
	if (a.%[2]s == b.%[2]s)
		return %[4]s(a.%[3]s %[6]s b.%[3]s);
	return %[4]s(a.%[2]s %[7]s b.%[2]s ? a.%[3]s : b.%[3]s);
}
`, name, member, raw, box, canonical, zeroOp, cmp)
}
