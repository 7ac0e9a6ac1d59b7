package compile

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
)

// DefaultCFlags are passed to the compiler ahead of the fixed arguments that
// read C from stdin and name the output object.
var DefaultCFlags = []string{
	"-O3",
	"-fPIC",
	"-fno-math-errno",
	"-fno-stack-protector",
	"-fno-asynchronous-unwind-tables",
	"-fno-jump-tables",
}

// The output goes to a temporary file: GNU as cannot write an object to a
// pipe, so "-o -" only works with integrated assemblers.
var inputArgs = []string{"-c", "-xc", "-"}

// Toolchain turns C source into a relocatable x86-64 ELF object.
type Toolchain interface {
	Compile(src []byte) ([]byte, error)
	// Argv identifies the exact invocation, for caching objects.
	Argv() []string
}

// Subprocess runs an external C compiler, one process per program.
type Subprocess struct {
	Path  string
	Flags []string
}

var _ Toolchain = (*Subprocess)(nil)

func NewSubprocess(path string, flags []string) *Subprocess {
	if flags == nil {
		flags = DefaultCFlags
	}
	return &Subprocess{Path: path, Flags: flags}
}

// Argv is the invocation without the output path, which changes per call.
func (s *Subprocess) Argv() []string {
	argv := make([]string, 0, 1+len(s.Flags)+len(inputArgs))
	argv = append(argv, s.Path)
	argv = append(argv, s.Flags...)
	return append(argv, inputArgs...)
}

func (s *Subprocess) Compile(src []byte) ([]byte, error) {
	out, err := os.CreateTemp("", "rvjit-*.o")
	if err != nil {
		return nil, fmt.Errorf("failed to create object file: %w", err)
	}
	outPath := out.Name()
	defer os.Remove(outPath)
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to create object file: %w", err)
	}

	argv := append(s.Argv(), "-o", outPath)
	cmd := exec.Command(argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(src)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w\n%s", s.Path, err, stderr.String())
	}
	obj, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read object from %s: %w", s.Path, err)
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("%s produced no object\n%s", s.Path, stderr.String())
	}
	return obj, nil
}
