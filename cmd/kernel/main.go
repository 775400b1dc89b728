// cmd/kernel is the command-line entry point for the RV32/Sv32 kernel
// simulator. Grounded on the teacher's root main.go/cmd/elsie/main.go:
// the same cli.Commander wiring, generalized from a single "demo"
// sub-command over the LC-3 VM to a "boot" sub-command over this
// kernel's Kernel.
package main

import (
	"context"
	"os"

	"github.com/rv32k/kernel/internal/cli"
	"github.com/rv32k/kernel/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Boot(),
}

func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
