package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rv32k/kernel/internal/cli"
	"github.com/rv32k/kernel/internal/kernel"
	"github.com/rv32k/kernel/internal/log"
	"github.com/rv32k/kernel/internal/sbi"
	"github.com/rv32k/kernel/internal/trap"
)

// Boot returns the "boot" sub-command: load a disk image and a user
// program binary, then run the kernel until it halts. Grounded on
// cmd/exec.go's shape (flags, loadCode via os.ReadFile, a machine
// construct-and-run sequence) generalized from the LC-3 VM to this
// kernel's Kernel.
func Boot() cli.Command {
	return &boot{log: log.DefaultLogger()}
}

type boot struct {
	diskPath string
	userPath string
	logLevel slog.Level
	log      *log.Logger
}

func (boot) Description() string {
	return "boot the kernel with a disk image and a user program"
}

func (boot) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `boot -disk disk.tar -user shell.bin

Boots the kernel: mounts -disk as the virtio-blk device backing the TAR
file system, maps -user at USER_BASE as the first process, then runs
the scheduler until every process has exited.`)

	return err
}

func (b *boot) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	fs.StringVar(&b.diskPath, "disk", "", "path to the virtio-blk disk image")
	fs.StringVar(&b.userPath, "user", "", "path to the user program binary to boot as the first process")
	fs.Func("loglevel", "set log `level`", func(s string) error {
		return b.logLevel.UnmarshalText([]byte(s))
	})

	return fs
}

// Run boots and runs the kernel. It returns 0 if the machine halted
// because every process exited (ErrIdle), matching a clean shutdown, and
// 1 on any other error.
func (b *boot) Run(_ context.Context, _ []string, out io.Writer, logger *log.Logger) int {
	log.LogLevel.Set(b.logLevel)

	disk, err := os.ReadFile(b.diskPath)
	if err != nil {
		logger.Error("reading disk image", "err", err)
		return 1
	}

	user, err := os.ReadFile(b.userPath)
	if err != nil {
		logger.Error("reading user program", "err", err)
		return 1
	}

	console, restore := b.console(out, logger)
	defer restore()

	k, err := kernel.New(disk, console, logger)
	if err != nil {
		logger.Error("kernel init", "err", err)
		return 1
	}

	if _, err := k.Boot(user); err != nil {
		logger.Error("boot", "err", err)
		return 1
	}

	k.Table.Yield()

	err = k.Run()
	if errors.Is(err, kernel.ErrIdle) {
		return 0
	}

	logger.Error("kernel halted", "err", err)

	return 1
}

// console prefers a real raw-mode terminal (sbi.TermConsole); when stdin
// isn't a TTY — piping input in a script, or running under a test runner
// — it falls back to a write-only console over out, since GETCHAR on a
// headless run would otherwise only ever busy-loop forever waiting for
// input that can never arrive, exactly as it would on real hardware with
// nothing wired to the UART's receive line.
func (b *boot) console(out io.Writer, logger *log.Logger) (trap.Console, func()) {
	term, err := sbi.NewTermConsole()
	if err == nil {
		return term, func() { term.Restore() }
	}

	if !errors.Is(err, sbi.ErrNoTTY) {
		logger.Warn("terminal console unavailable, falling back to headless console", "err", err)
	}

	return &headlessConsole{out: out}, func() {}
}

// headlessConsole implements trap.Console without a
// real terminal: PUTCHAR writes through, GETCHAR never has a byte.
type headlessConsole struct {
	out io.Writer
}

func (c *headlessConsole) Putchar(b byte) {
	_, _ = c.out.Write([]byte{b})
}

func (c *headlessConsole) Getchar() (byte, bool) {
	return 0, false
}
