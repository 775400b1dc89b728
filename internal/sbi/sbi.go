// Package sbi implements the console collaborator spec.md treats as an
// opaque SBI putchar/getchar extension (EID 1 and 2, per spec.md §6):
// MockConsole for tests and scenarios, TermConsole for a real terminal.
// Grounded on internal/tty/tty.go's Console, generalized from a
// keyboard/display device pair to the two-call SBI console contract
// internal/trap dispatches PUTCHAR/GETCHAR through.
package sbi

import "sync"

// MockConsole is an in-memory console for tests and scenario drivers: bytes
// queued by Feed are returned by Getchar in order, and everything written
// via Putchar accumulates in Output.
type MockConsole struct {
	mu     sync.Mutex
	input  []byte
	Output []byte
}

// NewMockConsole creates a console pre-loaded with input, simulating
// keystrokes typed before the kernel ever polls.
func NewMockConsole(input []byte) *MockConsole {
	return &MockConsole{input: append([]byte(nil), input...)}
}

// Feed appends bytes to the console's input queue, as if typed just now.
func (c *MockConsole) Feed(b ...byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.input = append(c.input, b...)
}

func (c *MockConsole) Putchar(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Output = append(c.Output, b)
}

func (c *MockConsole) Getchar() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.input) == 0 {
		return 0, false
	}

	b := c.input[0]
	c.input = c.input[1:]

	return b, true
}
