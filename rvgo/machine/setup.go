package machine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/ethereum-optimism/rvjit/rvgo/riscv"
)

const DefaultStackSize = 32 << 20

// auxv keys
const (
	atNull   = 0
	atPagesz = 6
	atRandom = 25
)

// Setup allocates the process stack and lays out the initial frame the
// way the Linux kernel does: argc, argv pointers and NULL, an empty envp
// and NULL, the auxiliary vector, then the strings and AT_RANDOM bytes at
// the top. sp is 16-byte aligned.
func (m *Machine) Setup(args []string, stackSize uint64) error {
	if stackSize == 0 {
		stackSize = DefaultStackSize
	}
	if len(args) == 0 {
		return fmt.Errorf("at least the program name is required")
	}
	mem := m.Mem
	top := mem.Alloc(stackSize) + stackSize

	sp := top
	argv := make([]uint64, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		sp -= uint64(len(args[i]) + 1)
		mem.Write(sp, append([]byte(args[i]), 0))
		argv[i] = sp
	}
	sp -= 16
	random := sp
	if _, err := rand.Read(mem.Slice(random, 16)); err != nil {
		return fmt.Errorf("failed to seed AT_RANDOM: %w", err)
	}

	words := []uint64{uint64(len(args))}
	words = append(words, argv...)
	words = append(words, 0) // end of argv
	words = append(words, 0) // end of envp
	words = append(words,
		atPagesz, 4096,
		atRandom, random,
		atNull, 0,
	)
	sp = (sp - uint64(len(words))*8) &^ 15
	frame := make([]byte, 0, len(words)*8)
	for _, w := range words {
		frame = binary.LittleEndian.AppendUint64(frame, w)
	}
	mem.Write(sp, frame)

	m.State.Regs[riscv.RegSP] = sp
	return nil
}
