package rvcpu

// cpu.go is the machine itself, following the shape of the teacher's
// vm.LC3 (internal/vm/cpu.go): a struct of architectural state plus a New
// constructor, but generalized to RV32I registers and Sv32 translation
// instead of an LC-3 register file and a flat 16-bit address space.

import (
	"fmt"

	"github.com/rv32k/kernel/internal/log"
	"github.com/rv32k/kernel/internal/mem"
)

// Mode is the CPU's privilege level. The kernel runs entirely in
// supervisor mode; user processes run in user mode until a trap returns
// control to the kernel.
type Mode uint8

const (
	ModeUser Mode = iota
	ModeSupervisor
)

func (m Mode) String() string {
	if m == ModeSupervisor {
		return "S"
	}

	return "U"
}

// ECallHandler services the ecall exception: reading the syscall number
// and arguments from the trap frame, performing the syscall, and writing
// results back before returning control to user mode. internal/trap
// implements this interface; rvcpu only knows its shape, not its logic.
type ECallHandler interface {
	HandleECall(cpu *CPU) error
}

// CPU is a software model of the RV32/Sv32 processor the kernel targets:
// an integer register file, a program counter, a privilege mode, the
// currently installed page table, and physical memory.
type CPU struct {
	Reg  RegisterFile
	PC   mem.Vaddr
	Mode Mode

	PageTable *mem.PageTable
	RAM       *mem.RAM

	ecall ECallHandler

	log *log.Logger
}

// New creates a CPU with all registers zeroed, PC at entry, running in
// supervisor mode over pt.
func New(ram *mem.RAM, pt *mem.PageTable, entry mem.Vaddr, logger *log.Logger) *CPU {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &CPU{
		PC:        entry,
		Mode:      ModeSupervisor,
		PageTable: pt,
		RAM:       ram,
		log:       logger,
	}
}

// SetECallHandler installs the handler invoked when the CPU executes
// ecall. Called once, during kernel boot, to wire internal/trap in.
func (cpu *CPU) SetECallHandler(h ECallHandler) {
	cpu.ecall = h
}

func (cpu *CPU) String() string {
	return fmt.Sprintf("PC: %#08x MODE: %s A0: %#x A4: %#x",
		uint32(cpu.PC), cpu.Mode, cpu.Reg.Get(A0), cpu.Reg.Get(A4))
}

// fetch loads the 32-bit instruction word at the current PC, translating
// through the active page table. Both user- and supervisor-mode code
// share the same identity mapping in this kernel, so the permission check
// depends only on the access kind, not the current mode.
func (cpu *CPU) fetch() (Instruction, error) {
	paddr, err := cpu.PageTable.Translate(cpu.PC, mem.AccessExecute)
	if err != nil {
		return 0, fmt.Errorf("rvcpu: fetch: %w", err)
	}

	return Instruction(cpu.RAM.Load32(paddr)), nil
}

// LoadUserByte and StoreUserByte translate vaddr through the CPU's active
// page table and access a single byte of RAM. They exist so that a
// syscall handler (internal/trap) can copy a user-supplied buffer —
// a filename, a read/write payload — without reaching past the CPU's
// translation boundary into raw physical memory itself.
func (cpu *CPU) LoadUserByte(vaddr uint32) (byte, error) {
	return cpu.loadByte(mem.Vaddr(vaddr))
}

func (cpu *CPU) StoreUserByte(vaddr uint32, v byte) error {
	return cpu.storeByte(mem.Vaddr(vaddr), v)
}

// loadWord, loadHalf, loadByte and their store counterparts translate a
// virtual address for a data access before touching RAM.
func (cpu *CPU) loadWord(vaddr mem.Vaddr) (uint32, error) {
	paddr, err := cpu.PageTable.Translate(vaddr, mem.AccessRead)
	if err != nil {
		return 0, fmt.Errorf("rvcpu: load: %w", err)
	}

	return cpu.RAM.Load32(paddr), nil
}

func (cpu *CPU) loadHalf(vaddr mem.Vaddr) (uint16, error) {
	paddr, err := cpu.PageTable.Translate(vaddr, mem.AccessRead)
	if err != nil {
		return 0, fmt.Errorf("rvcpu: load: %w", err)
	}

	return cpu.RAM.Load16(paddr), nil
}

func (cpu *CPU) loadByte(vaddr mem.Vaddr) (uint8, error) {
	paddr, err := cpu.PageTable.Translate(vaddr, mem.AccessRead)
	if err != nil {
		return 0, fmt.Errorf("rvcpu: load: %w", err)
	}

	return cpu.RAM.Load8(paddr), nil
}

func (cpu *CPU) storeWord(vaddr mem.Vaddr, v uint32) error {
	paddr, err := cpu.PageTable.Translate(vaddr, mem.AccessWrite)
	if err != nil {
		return fmt.Errorf("rvcpu: store: %w", err)
	}

	cpu.RAM.Store32(paddr, v)

	return nil
}

func (cpu *CPU) storeHalf(vaddr mem.Vaddr, v uint16) error {
	paddr, err := cpu.PageTable.Translate(vaddr, mem.AccessWrite)
	if err != nil {
		return fmt.Errorf("rvcpu: store: %w", err)
	}

	cpu.RAM.Store16(paddr, v)

	return nil
}

func (cpu *CPU) storeByte(vaddr mem.Vaddr, v uint8) error {
	paddr, err := cpu.PageTable.Translate(vaddr, mem.AccessWrite)
	if err != nil {
		return fmt.Errorf("rvcpu: store: %w", err)
	}

	cpu.RAM.Store8(paddr, v)

	return nil
}
