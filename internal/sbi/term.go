package sbi

// term.go is TermConsole, grounded on internal/tty/tty.go's Console: raw
// terminal mode via golang.org/x/term, a background reader goroutine
// feeding a buffered channel, generalized from tty.go's keyboard/display
// device pair down to the SBI console's two calls.

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNoTTY is returned by NewTermConsole if standard input is not a
// terminal, matching tty.go's ErrNoTTY.
var ErrNoTTY = errors.New("sbi: not a TTY")

// TermConsole adapts the host terminal to the kernel's console syscalls:
// Putchar writes directly to standard output; Getchar drains a buffered
// channel fed by a background reader goroutine, returning ok=false rather
// than blocking, so GETCHAR's busy-yield loop (internal/trap) can cooperate
// with the rest of the scheduler instead of stalling on stdin.
type TermConsole struct {
	out   *os.File
	fd    int
	state *term.State
	keyCh chan byte
}

// NewTermConsole puts stdin into raw mode and starts the background
// reader. Callers must call Restore to return the terminal to its original
// state.
func NewTermConsole() (*TermConsole, error) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	c := &TermConsole{
		out:   os.Stdout,
		fd:    fd,
		state: saved,
		keyCh: make(chan byte, 1),
	}

	if err := c.setTerminalParams(1, 0); err != nil {
		return nil, err
	}

	go c.readTerminal()

	return c, nil
}

// Restore returns the terminal to its state prior to NewTermConsole.
func (c *TermConsole) Restore() {
	_ = term.Restore(c.fd, c.state)
}

func (c *TermConsole) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	return nil
}

func (c *TermConsole) readTerminal() {
	_ = syscall.SetNonblock(c.fd, false)

	buf := bufio.NewReader(os.Stdin)

	for {
		b, err := buf.ReadByte()
		if err != nil {
			return
		}

		c.keyCh <- b
	}
}

func (c *TermConsole) Putchar(b byte) {
	_, _ = c.out.Write([]byte{b})
}

func (c *TermConsole) Getchar() (byte, bool) {
	select {
	case b := <-c.keyCh:
		return b, true
	default:
		return 0, false
	}
}
