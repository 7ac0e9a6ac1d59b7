package codegen

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
)

const (
	DefaultMaxInsns  = 512
	DefaultStackSize = 1024
)

// Fetcher reads guest instruction words. Compressed instructions occupy the
// low 16 bits.
type Fetcher interface {
	Fetch(pc uint64) uint32
}

type Config struct {
	// MaxInsns bounds the number of guest instructions translated by one
	// Generate call. Addresses left over become exit stubs.
	MaxInsns int
	// StackSize is the capacity of the block discovery work stack.
	StackSize int
}

func DefaultConfig() Config {
	return Config{MaxInsns: DefaultMaxInsns, StackSize: DefaultStackSize}
}

// Generator translates guest code reachable through direct control flow
// into a single C function. All scratch state is reused across calls, so a
// Generator must not be used concurrently or reentered.
type Generator struct {
	cfg   Config
	fetch Fetcher

	stack   []uint64
	visited map[uint64]struct{}
	refs    map[uint64]struct{}
	emitted int

	tr   tracer
	body bytes.Buffer
	out  bytes.Buffer
}

func New(fetch Fetcher, cfg Config) *Generator {
	if cfg.MaxInsns <= 0 {
		cfg.MaxInsns = DefaultMaxInsns
	}
	if cfg.StackSize <= 0 {
		cfg.StackSize = DefaultStackSize
	}
	return &Generator{
		cfg:     cfg,
		fetch:   fetch,
		stack:   make([]uint64, 0, cfg.StackSize),
		visited: make(map[uint64]struct{}),
		refs:    make(map[uint64]struct{}),
	}
}

// Generate returns the C program for the code reachable from entry. The
// returned slice is only valid until the next call.
func (g *Generator) Generate(entry uint64) []byte {
	g.reset()
	g.push(entry)
	for len(g.stack) > 0 {
		pc := g.stack[len(g.stack)-1]
		g.stack = g.stack[:len(g.stack)-1]
		if _, ok := g.visited[pc]; ok {
			continue
		}
		if g.emitted >= g.cfg.MaxInsns {
			// left for an exit stub
			continue
		}
		g.emitBlock(pc)
	}
	g.emitStubs()
	g.assemble()
	return g.out.Bytes()
}

// Emitted returns the number of guest instructions translated by the last
// Generate call.
func (g *Generator) Emitted() int {
	return g.emitted
}

func (g *Generator) reset() {
	g.stack = g.stack[:0]
	clear(g.visited)
	clear(g.refs)
	g.emitted = 0
	g.tr.reset()
	g.body.Reset()
	g.out.Reset()
}

func (g *Generator) push(pc uint64) {
	if _, ok := g.visited[pc]; ok {
		return
	}
	for _, v := range g.stack {
		if v == pc {
			return
		}
	}
	if len(g.stack) == cap(g.stack) {
		panic(fmt.Errorf("block discovery stack overflow (%d entries) at pc %#x", cap(g.stack), pc))
	}
	g.stack = append(g.stack, pc)
}

// emitBlock translates instructions sequentially from pc until a block
// terminator, code that was already emitted, or the instruction budget.
func (g *Generator) emitBlock(pc uint64) {
	for {
		if _, ok := g.visited[pc]; ok || g.emitted >= g.cfg.MaxInsns {
			g.jump(pc)
			return
		}
		g.visited[pc] = struct{}{}
		g.emitted++
		in := riscv.Decode(g.fetch.Fetch(pc))
		fmt.Fprintf(&g.body, "insn_%x: ; /* %s */\n", pc, in)
		if g.emitInsn(pc, in) {
			return
		}
		pc += in.Size()
	}
}

// emitStubs emits an exit for every label that was jumped to but never
// translated.
func (g *Generator) emitStubs() {
	var missing []uint64
	for pc := range g.refs {
		if _, ok := g.visited[pc]; !ok {
			missing = append(missing, pc)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	for _, pc := range missing {
		fmt.Fprintf(&g.body, "insn_%x:\n", pc)
		g.exit("EXIT_DIRECT_BRANCH", fmt.Sprintf("0x%xull", pc))
	}
}

func (g *Generator) assemble() {
	w := &g.out
	w.WriteString(prelude)
	for h := helper(0); h < numHelpers; h++ {
		if g.tr.helpers&(1<<h) != 0 {
			w.WriteString(helperSource[h])
		}
	}
	w.WriteString("\nvoid start(volatile state_t *restrict state) {\n")
	w.WriteString("\tu8 *mem = (u8 *)(uintptr_t)state->mem;\n")
	for r := 1; r < 32; r++ {
		if g.tr.gpTouched()&(1<<r) != 0 {
			fmt.Fprintf(w, "\tu64 x%d = state->gp_regs[%d];\n", r, r)
		}
	}
	for r := 0; r < 32; r++ {
		if g.tr.fpTouched()&(1<<r) != 0 {
			fmt.Fprintf(w, "\tfp_reg_t f%d; f%d.bits = state->fp_regs[%d].bits;\n", r, r, r)
		}
	}
	w.Write(g.body.Bytes())
	w.WriteString("end:\n")
	for r := 1; r < 32; r++ {
		if g.tr.gpWritten&(1<<r) != 0 {
			fmt.Fprintf(w, "\tstate->gp_regs[%d] = x%d;\n", r, r)
		}
	}
	for r := 0; r < 32; r++ {
		if g.tr.fpWritten&(1<<r) != 0 {
			fmt.Fprintf(w, "\tstate->fp_regs[%d].bits = f%d.bits;\n", r, r)
		}
	}
	w.WriteString("\treturn;\n}\n")
}

// FmtProgram prefixes every line of src with its line number, to line up
// compiler diagnostics with the generated text.
func FmtProgram(src []byte) string {
	var out bytes.Buffer
	for i, line := range bytes.Split(bytes.TrimSuffix(src, []byte("\n")), []byte("\n")) {
		fmt.Fprintf(&out, "%5d  %s\n", i+1, line)
	}
	return out.String()
}
