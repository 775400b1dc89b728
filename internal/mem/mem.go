// Package mem implements the kernel's physical memory: a monotonic page
// allocator and an Sv32 two-level page table builder.
//
// mem.go defines the address types and the bump allocator.
package mem

import (
	"fmt"

	"github.com/rv32k/kernel/internal/log"
)

// PageShift and PageSize describe the kernel's fixed 4 KiB frame.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// Paddr and Vaddr distinguish physical and virtual addresses, even though
// both are plain 32-bit words on RV32.
type (
	Paddr uint32
	Vaddr uint32
)

// AlignUp rounds value up to the next multiple of align.
func AlignUp(value, align int) int {
	return (value + align - 1) / align * align
}

// IsAligned reports whether value is a multiple of align.
func IsAligned(value, align int) bool {
	return value%align == 0
}

// Linker-provided symbols, per spec.md §6. A real boot loader would place
// these at link time; the simulator fixes them to addresses chosen so that
// the identity-mapped kernel region, the allocator pool and the virtio MMIO
// page never overlap.
const (
	KernelBase  Paddr = 0x0000_4000
	FreeRam     Paddr = 0x0001_0000
	FreeRamEnd  Paddr = FreeRam + 8*1024*1024
	VirtioBlkPA Paddr = 0x1000_1000
	UserBase    Vaddr = 0x0100_0000
)

// ErrOutOfMemory is returned (by panicking, per spec.md §7) when the bump
// cursor would cross FreeRamEnd.
var ErrOutOfMemory = fmt.Errorf("mem: out of memory")

// Allocator is a monotonic bump allocator over the free RAM region. It never
// frees a page.
type Allocator struct {
	ram    *RAM
	cursor Paddr
	log    *log.Logger
}

// NewAllocator creates an allocator over ram. The cursor initializes to
// FreeRam lazily, on the first call to AllocPages, mirroring the
// spec's "on first call, cursor initializes to __free_ram" wording.
func NewAllocator(ram *RAM, logger *log.Logger) *Allocator {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &Allocator{ram: ram, log: logger}
}

// AllocPages returns the physical address of n contiguous, zeroed 4 KiB
// frames. It panics with ErrOutOfMemory if the bump cursor would cross
// FreeRamEnd.
func (a *Allocator) AllocPages(n int) Paddr {
	if a.cursor == 0 {
		a.cursor = FreeRam
	}

	paddr := a.cursor
	size := Paddr(n * PageSize)

	if a.cursor+size > FreeRamEnd {
		a.log.Error("allocator exhausted", "want", n, "cursor", a.cursor, "end", FreeRamEnd)
		panic(ErrOutOfMemory)
	}

	a.cursor += size

	a.ram.Zero(paddr, int(size))

	a.log.Debug("allocated pages", "n", n, "paddr", fmt.Sprintf("%#x", uint32(paddr)))

	return paddr
}
