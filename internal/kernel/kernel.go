// Package kernel assembles internal/mem, internal/proc, internal/trap,
// internal/virtio, internal/tarfs, internal/sbi and internal/rvcpu into
// the bootable machine. kernel.go generalizes
// 17_refactoring_kernel/src/kernel.rs's kernel_main from a single
// bare-metal `fn() -> !` into a constructible, steppable Go value so a
// test (or cmd/kernel) can drive boot and scheduling under its own
// control instead of never returning.
package kernel

import (
	"errors"
	"fmt"

	"github.com/rv32k/kernel/internal/log"
	"github.com/rv32k/kernel/internal/mem"
	"github.com/rv32k/kernel/internal/proc"
	"github.com/rv32k/kernel/internal/tarfs"
	"github.com/rv32k/kernel/internal/trap"
	"github.com/rv32k/kernel/internal/virtio"
)

// bootBanner is written to the console during New, byte for byte matching
// kernel_main's `println!("\n\nHello {}\n", "World!")`. spec.md's
// Scenario A expects the console's output stream to begin with this
// string followed by the shell process's own "> " prompt.
const bootBanner = "\n\nHello World!\n\n"

// ErrIdle is returned by Run when every process has exited and control
// would return to the idle process, matching kernel_main's
// `panic!("switched to idle process")` — the condition is unreachable in
// the original only because kernel_main never returns; here it's a
// reportable error instead of a real panic.
var ErrIdle = errors.New("kernel: switched to idle process")

// Kernel is the assembled, bootable machine.
type Kernel struct {
	RAM    *mem.RAM
	Alloc  *mem.Allocator
	Disk   *virtio.Device
	Driver *virtio.Driver
	FS     *tarfs.FileSystem
	Table  *proc.Table

	console    trap.Console
	dispatcher *trap.Dispatcher
	log        *log.Logger
}

// New performs everything kernel_main does up to, but not including,
// creating the shell process and the first yield_proc: zero bss (there is
// none to zero here — RAM starts zeroed by construction), print the boot
// banner, install the virtio-blk device and driver (Device::new), mount
// the file system (FileSystem::new), and create the process table's idle
// process. disk is the backing bytes for the simulated block device;
// console is wired to both PUTCHAR/GETCHAR and, via the dispatcher, every
// process's ecall trap.
func New(disk []byte, console trap.Console, logger *log.Logger) (*Kernel, error) {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	for i := 0; i < len(bootBanner); i++ {
		console.Putchar(bootBanner[i])
	}

	ram := mem.NewRAM()
	alloc := mem.NewAllocator(ram, logger)

	dev := virtio.NewDevice(ram, disk)
	ram.MapMMIO(dev)

	driver, err := virtio.NewDriver(ram, alloc, logger)
	if err != nil {
		return nil, fmt.Errorf("kernel: virtio init: %w", err)
	}

	fs, err := tarfs.New(driver, logger)
	if err != nil {
		return nil, fmt.Errorf("kernel: file system mount: %w", err)
	}

	table := proc.NewTable(logger)

	k := &Kernel{
		RAM:     ram,
		Alloc:   alloc,
		Disk:    dev,
		Driver:  driver,
		FS:      fs,
		Table:   table,
		console: console,
		log:     logger,
	}

	k.dispatcher = trap.NewDispatcher(console, fsAdapter{fs}, schedAdapter{table}, logger)

	return k, nil
}

// Boot creates a new process running image, matching
// Process::new(binary_start, binary_size) in kernel_main, and installs the
// kernel's syscall dispatcher on its CPU so an ecall it executes routes
// back here.
func (k *Kernel) Boot(image []byte) (*proc.Process, error) {
	p, err := k.Table.New(k.RAM, k.Alloc, image)
	if err != nil {
		return nil, fmt.Errorf("kernel: create process: %w", err)
	}

	p.CPU.SetECallHandler(k.dispatcher)

	return p, nil
}

// Run steps the currently scheduled process's CPU until a fatal condition
// is reached: an unknown syscall (matching handle_trap's default-case
// panic), a CPU fault such as an illegal instruction or page fault, or
// every booted process has exited and the scheduler falls back to the
// idle process (matching kernel_main's unreachable "switched to idle
// process" panic). A process voluntarily exiting or yielding is not
// fatal: Run simply continues stepping whichever process is current
// afterward.
func (k *Kernel) Run() error {
	for {
		current := k.Table.Current()
		if current == k.Table.Idle() {
			return ErrIdle
		}

		err := current.CPU.Step()
		if err == nil {
			continue
		}

		if errors.Is(err, trap.ErrProcessExited) {
			continue
		}

		if errors.Is(err, trap.ErrUnknownSyscall) {
			k.log.Error("unexpected syscall", "err", err)
		}

		return err
	}
}

// fsAdapter satisfies trap.FileSystem's `Lookup(name string) (trap.File,
// bool)` over tarfs.FileSystem.Lookup, which structurally returns
// `(*tarfs.File, bool)` instead — Go's interface satisfaction considers
// differing return types distinct signatures even though *tarfs.File
// itself already implements trap.File's two-method set. The same
// adaptation trap.Scheduler needs over *proc.Table (schedAdapter, below)
// for the same reason.
type fsAdapter struct {
	fs *tarfs.FileSystem
}

func (a fsAdapter) Lookup(name string) (trap.File, bool) {
	f, ok := a.fs.Lookup(name)
	if !ok {
		return nil, false
	}

	return f, true
}

// schedAdapter satisfies trap.Scheduler over *proc.Table. Table.Yield
// returns the newly current process for the scheduler loop's own use;
// trap.Scheduler's Yield has no return value, so the two can't share a
// method set without this one-line shim.
type schedAdapter struct {
	t *proc.Table
}

func (s schedAdapter) ExitCurrent() { s.t.ExitCurrent() }
func (s schedAdapter) Yield()       { s.t.Yield() }
