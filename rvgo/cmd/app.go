package cmd

import "github.com/urfave/cli/v2"

// NewApp returns the rvjit command line. Running it without a command runs
// the program named by the first argument.
func NewApp() *cli.App {
	app := cli.NewApp()
	app.Name = "rvjit"
	app.Usage = "RISC-V emulator with a tiered JIT"
	app.Description = "Run RV64IMAFDC Linux executables. Cold code is interpreted; hot code is translated to C, compiled by the host compiler and run natively."
	app.ArgsUsage = "<elf> [guest args...]"
	app.Flags = RunFlags
	app.Action = Run
	app.Commands = []*cli.Command{
		RunCommand,
		GenCommand,
		InspectCommand,
	}
	return app
}
