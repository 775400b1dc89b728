package trap

// dispatch.go wires the syscall dispatch switch from
// 17_refactoring_kernel/src/kernel.rs's handle_syscall, generalized
// behind three small interfaces — Console, FileSystem, Scheduler — so
// that trap itself doesn't need to import internal/sbi, internal/tarfs,
// or internal/proc. internal/kernel supplies the concrete
// implementations, the way the teacher's MMIO type (internal/vm/io.go)
// dispatches to device interfaces it never names concretely either.

import (
	"errors"
	"fmt"

	"github.com/rv32k/kernel/internal/log"
	"github.com/rv32k/kernel/internal/rvcpu"
)

// Console is the character device behind PUTCHAR/GETCHAR.
type Console interface {
	Putchar(c byte)
	// Getchar returns the next buffered character, or ok=false if none
	// is available yet.
	Getchar() (c byte, ok bool)
}

// File is a single file in the flat file system.
type File interface {
	// Read copies up to len(buf) bytes starting at offset 0 into buf,
	// exactly as the original's READFILE does: it always copies
	// len(buf) bytes from the file's fixed-size backing array
	// regardless of the file's recorded size, rather than clamping to
	// it. Returns the number of bytes copied, always len(buf).
	Read(buf []byte) int

	// Write replaces the file's contents with src and updates its
	// recorded size to the number of bytes it stored, then flushes the
	// whole archive back to disk, as WRITEFILE does. Returns len(src).
	Write(src []byte) int
}

// FileSystem looks files up by name for READFILE/WRITEFILE.
type FileSystem interface {
	Lookup(name string) (File, bool)
}

// Scheduler is the subset of proc.Table the trap dispatcher needs: the
// ability to mark the currently running process exited and to yield to
// the next runnable one.
type Scheduler interface {
	ExitCurrent()
	Yield()
}

// ErrNoFileSystem is returned if READFILE/WRITEFILE is invoked before a
// file system is installed, matching the original's
// `panic!("filesystem not found")`.
var ErrNoFileSystem = errors.New("trap: no file system installed")

// ErrProcessExited is returned by HandleECall after SYS_EXIT yields to
// the next process. internal/kernel's scheduler loop treats it as the
// signal to resume stepping whichever process is now current, not as a
// fatal error.
var ErrProcessExited = errors.New("trap: process exited")

// Dispatcher implements rvcpu.ECallHandler: it is installed on every
// process's CPU via CPU.SetECallHandler so that an ecall trap routes
// here regardless of which process raised it.
type Dispatcher struct {
	Console    Console
	FileSystem FileSystem
	Scheduler  Scheduler

	log *log.Logger
}

// NewDispatcher creates a syscall dispatcher. fs may be nil if the
// kernel hasn't mounted a file system yet; READFILE/WRITEFILE then
// return ErrNoFileSystem.
func NewDispatcher(console Console, fs FileSystem, sched Scheduler, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &Dispatcher{Console: console, FileSystem: fs, Scheduler: sched, log: logger}
}

// HandleECall implements rvcpu.ECallHandler. It reads the syscall number
// from a4, as the kernel's ABI requires, dispatches to the matching
// syscall, and writes any return value back to a0.
func (d *Dispatcher) HandleECall(cpu *rvcpu.CPU) error {
	f := NewTrapFrame(cpu)

	d.log.Debug("ecall", "frame", f)

	switch f.A4 {
	case SysPutchar:
		d.Console.Putchar(byte(f.A0))

	case SysGetchar:
		for {
			c, ok := d.Console.Getchar()
			if ok {
				f.A0 = uint32(int32(c))

				break
			}

			d.Scheduler.Yield()
		}

	case SysYield:
		d.Scheduler.Yield()

	case SysExit:
		d.log.Info("process exited")
		d.Scheduler.ExitCurrent()
		d.Scheduler.Yield()

		return ErrProcessExited

	case SysReadfile, SysWritefile:
		if err := d.handleFileIO(cpu, f); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: a4=%d", ErrUnknownSyscall, f.A4)
	}

	f.WriteBack(cpu)

	return nil
}

// handleFileIO implements READFILE/WRITEFILE. The filename address, its
// length, the user buffer address, and the buffer length come from the
// TrapFrame snapshot's a0-a3; the filename and buffer bytes themselves are
// copied through the CPU's own Sv32 translation.
func (d *Dispatcher) handleFileIO(cpu *rvcpu.CPU, f *TrapFrame) error {
	if d.FileSystem == nil {
		return ErrNoFileSystem
	}

	nameVaddr := f.A0
	nameLen := f.A1
	bufVaddr := f.A2
	bufLen := f.A3

	name := make([]byte, nameLen)
	for i := range name {
		b, err := cpu.LoadUserByte(nameVaddr + uint32(i))
		if err != nil {
			return fmt.Errorf("trap: read filename: %w", err)
		}

		name[i] = b
	}

	file, ok := d.FileSystem.Lookup(string(name))
	if !ok {
		d.log.Warn("file not found", "name", string(name))
		f.A0 = ^uint32(0) // -1

		return nil
	}

	buf := make([]byte, bufLen)

	if f.A4 == SysWritefile {
		for i := range buf {
			b, err := cpu.LoadUserByte(bufVaddr + uint32(i))
			if err != nil {
				return fmt.Errorf("trap: read write-buffer: %w", err)
			}

			buf[i] = b
		}

		file.Write(buf)
	} else {
		file.Read(buf)

		for i, b := range buf {
			if err := cpu.StoreUserByte(bufVaddr+uint32(i), b); err != nil {
				return fmt.Errorf("trap: write read-buffer: %w", err)
			}
		}
	}

	f.A0 = bufLen

	return nil
}
