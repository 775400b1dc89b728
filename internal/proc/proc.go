// Package proc implements the kernel's process table and cooperative
// round-robin scheduler.
//
// proc.go defines the PCB and the fixed-size process table. Grounded on
// 17_refactoring_kernel/src/process.rs's ProcessTable/Process, translated
// from a single global mutable array of value-type Process structs (Rust's
// ownership rules push toward that shape) into a table of *Process,
// which is the idiomatic Go equivalent and lets the scheduler hand a
// pointer to the running process around freely.
package proc

import (
	"errors"
	"fmt"

	"github.com/rv32k/kernel/internal/log"
	"github.com/rv32k/kernel/internal/mem"
	"github.com/rv32k/kernel/internal/rvcpu"
)

//go:generate stringer -type=State

// State is a process's scheduling state.
type State int

const (
	Unused State = iota
	Runnable
	Exited
)

// ProcsMax is the fixed size of the process table, per spec.md.
const ProcsMax = 8

// StackSize is the size of each process's kernel stack. The stack itself
// is never read by the interpreter (there is no literal context switch to
// save into it, see Table.Yield) but its size is kept to match the
// original kernel's PCB layout, since a future direct port to real
// hardware would need it.
const StackSize = 8192

// ErrNoFreeSlots is returned when every PCB in the table is in use.
var ErrNoFreeSlots = errors.New("proc: no free process slots")

// Process is one process control block.
type Process struct {
	Pid   int
	State State

	// SP and Stack mirror the original kernel's context-switch fields.
	// This simulator swaps which CPU the scheduler steps rather than
	// swapping a literal call stack, so these are bookkeeping only; see
	// Table.Yield.
	SP    uint32
	Stack [StackSize]byte

	PageTable *mem.PageTable
	CPU       *rvcpu.CPU
}

func (p *Process) String() string {
	if p == nil {
		return "<nil>"
	}

	return fmt.Sprintf("pid=%d state=%s", p.Pid, p.State)
}

// Table is the fixed-size process table plus scheduler state.
type Table struct {
	processes [ProcsMax]*Process
	idle      *Process
	current   *Process

	log *log.Logger
}

// NewTable creates an empty process table plus its idle process (pid 0),
// matching PROCESS_TABLE.idol in the original kernel. The idle process is
// held outside the slot array and starts as the current process.
func NewTable(logger *log.Logger) *Table {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	idle := &Process{Pid: 0, State: Runnable}

	t := &Table{idle: idle, log: logger}
	t.current = idle

	return t
}

// Current returns the currently scheduled process.
func (t *Table) Current() *Process {
	return t.current
}

// Idle returns the idle process (pid 0).
func (t *Table) Idle() *Process {
	return t.idle
}

// New allocates a PCB, builds a page table mapping image at mem.UserBase,
// and creates the CPU that will execute it starting from mem.UserBase in
// user mode. It returns ErrNoFreeSlots if every slot is in use, matching
// the original's "no free process slots" panic (a program bug here, not a
// recoverable fault, hence still a single sentinel error rather than a
// richer type).
func (t *Table) New(ram *mem.RAM, alloc *mem.Allocator, image []byte) (*Process, error) {
	idx := -1

	for i, p := range t.processes {
		if p == nil {
			idx = i

			break
		}
	}

	if idx == -1 {
		return nil, ErrNoFreeSlots
	}

	pt := mem.NewPageTable(ram, alloc)
	pt.IdentityMap(mem.KernelBase, mem.FreeRamEnd, mem.FlagsRWX)
	pt.MapPage(mem.Vaddr(mem.VirtioBlkPA), mem.VirtioBlkPA, mem.FlagsRW)
	pt.MapImage(image)

	cpu := rvcpu.New(ram, pt, mem.UserBase, t.log)
	cpu.Mode = rvcpu.ModeUser

	proc := &Process{
		Pid:       idx + 1,
		State:     Runnable,
		PageTable: pt,
		CPU:       cpu,
	}

	t.processes[idx] = proc

	t.log.Info("process created", "pid", proc.Pid)

	return proc, nil
}

// Exit marks p as no longer runnable, matching SYS_EXIT's
// current.set_state(ProcExit). The caller is expected to call Yield
// immediately afterward, as the original's handle_syscall does.
func (t *Table) Exit(p *Process) {
	p.State = Exited

	t.log.Info("process exited", "pid", p.Pid)
}

// ExitCurrent marks the currently running process exited. It is a no-op
// if no process is current (the idle process never exits).
func (t *Table) ExitCurrent() {
	if t.current == nil || t.current == t.idle {
		return
	}

	t.Exit(t.current)
}
