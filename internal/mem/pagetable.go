package mem

// pagetable.go builds and walks Sv32 two-level page tables. Grounded on the
// teacher's vm.Memory address-translation split (internal/vm/mem.go): here
// the "privileged" access-control check of that file becomes the Sv32
// permission-bit check on the PTE.

import (
	"errors"
	"fmt"
)

// PTE flag bits, per spec.md §4.2.
const (
	PTEValid    uint32 = 1 << 0
	PTERead     uint32 = 1 << 1
	PTEWrite    uint32 = 1 << 2
	PTEExecute  uint32 = 1 << 3
	PTEUser     uint32 = 1 << 4
	FlagsRW            = PTERead | PTEWrite
	FlagsRWX           = PTERead | PTEWrite | PTEExecute
	FlagsURWX          = FlagsRWX | PTEUser
)

// Access describes the kind of memory operation being translated, so
// Translate can check the matching permission bit.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessExecute
)

// PageFaultError reports a failed Sv32 translation: an invalid, unmapped, or
// permission-denied PTE walk. It wraps ErrPageFault so callers can test with
// errors.Is without caring about the faulting address.
type PageFaultError struct {
	Vaddr  Vaddr
	Access Access
}

func (e *PageFaultError) Error() string {
	return fmt.Sprintf("%s: vaddr=%#x access=%d", ErrPageFault, uint32(e.Vaddr), e.Access)
}

func (e *PageFaultError) Is(err error) bool {
	if err == ErrPageFault {
		return true
	}

	_, ok := err.(*PageFaultError)

	return ok
}

var ErrPageFault = errors.New("mem: page fault")

// PageTable is the root of an Sv32 two-level page table: one 4 KiB directory
// of 1024 4-byte PTEs, each either pointing at a second-level table of 1024
// leaf PTEs or marked invalid.
type PageTable struct {
	Root  Paddr
	ram   *RAM
	alloc *Allocator
}

// NewPageTable allocates an empty root directory.
func NewPageTable(ram *RAM, alloc *Allocator) *PageTable {
	root := alloc.AllocPages(1)

	return &PageTable{Root: root, ram: ram, alloc: alloc}
}

// Satp formats the value to install in the satp CSR for this table, per
// spec.md §4.2: mode bit 31 set (Sv32), PPN in bits [21:0].
func (pt *PageTable) Satp() uint32 {
	return (1 << 31) | (uint32(pt.Root) >> PageShift)
}

// MapPage installs a leaf mapping for the page containing vaddr, allocating
// a second-level table on demand. It panics if vaddr or paddr is not page
// aligned, matching spec.md's "an unaligned argument is a programming
// error" stance for this operation.
func (pt *PageTable) MapPage(vaddr Vaddr, paddr Paddr, flags uint32) {
	if !IsAligned(int(vaddr), PageSize) {
		panic(fmt.Sprintf("mem: unaligned vaddr: %#x", uint32(vaddr)))
	}

	if !IsAligned(int(paddr), PageSize) {
		panic(fmt.Sprintf("mem: unaligned paddr: %#x", uint32(paddr)))
	}

	vpn1 := (uint32(vaddr) >> 22) & 0x3ff
	vpn0 := (uint32(vaddr) >> 12) & 0x3ff

	dirPTE := pt.readPTE(pt.Root, vpn1)

	var table Paddr

	if dirPTE&PTEValid == 0 {
		table = pt.alloc.AllocPages(1)
		pt.writePTE(pt.Root, vpn1, ptePack(table, PTEValid))
	} else {
		table = ptePPN(dirPTE)
	}

	pt.writePTE(table, vpn0, ptePack(paddr, flags|PTEValid))
}

// Translate walks the table rooted at this PageTable for vaddr, returning
// the physical address of the byte (the leaf's frame plus vaddr's in-page
// offset) and an error if the walk faults for the given access kind.
func (pt *PageTable) Translate(vaddr Vaddr, access Access) (Paddr, error) {
	vpn1 := (uint32(vaddr) >> 22) & 0x3ff
	vpn0 := (uint32(vaddr) >> 12) & 0x3ff
	offset := uint32(vaddr) & 0xfff

	dirPTE := pt.readPTE(pt.Root, vpn1)
	if dirPTE&PTEValid == 0 {
		return 0, &PageFaultError{Vaddr: vaddr, Access: access}
	}

	leafPTE := pt.readPTE(ptePPN(dirPTE), vpn0)
	if leafPTE&PTEValid == 0 {
		return 0, &PageFaultError{Vaddr: vaddr, Access: access}
	}

	if !hasPermission(leafPTE, access) {
		return 0, &PageFaultError{Vaddr: vaddr, Access: access}
	}

	return ptePPN(leafPTE) + Paddr(offset), nil
}

func hasPermission(pte uint32, access Access) bool {
	switch access {
	case AccessRead:
		return pte&PTERead != 0
	case AccessWrite:
		return pte&PTEWrite != 0
	case AccessExecute:
		return pte&PTEExecute != 0
	default:
		return false
	}
}

// ptePack encodes a PTE for a leaf or directory entry pointing at paddr.
func ptePack(paddr Paddr, flags uint32) uint32 {
	return (uint32(paddr)>>PageShift)<<10 | flags
}

// ptePPN extracts the physical page number a PTE points at and shifts it
// back into a physical address.
func ptePPN(pte uint32) Paddr {
	return Paddr((pte >> 10) << PageShift)
}

func (pt *PageTable) readPTE(table Paddr, index uint32) uint32 {
	return pt.ram.Load32(table + Paddr(index*4))
}

func (pt *PageTable) writePTE(table Paddr, index uint32, pte uint32) {
	pt.ram.Store32(table+Paddr(index*4), pte)
}

// IdentityMap maps every page in [lo, hi) to itself with flags, per
// spec.md's "identity-map every 4 KiB page in [__kernel_base,
// __free_ram_end)" requirement for the kernel's own address space.
func (pt *PageTable) IdentityMap(lo, hi Paddr, flags uint32) {
	for p := lo; p < hi; p += PageSize {
		pt.MapPage(Vaddr(p), p, flags)
	}
}

// MapImage copies a user program image into freshly allocated frames and
// maps it starting at UserBase with user-accessible R|W|X permissions, per
// spec.md's process-creation sequence.
func (pt *PageTable) MapImage(image []byte) {
	for off := 0; off < len(image); off += PageSize {
		page := pt.alloc.AllocPages(1)

		end := off + PageSize
		if end > len(image) {
			end = len(image)
		}

		pt.ram.CopyIn(page, image[off:end])
		pt.MapPage(UserBase+Vaddr(off), page, FlagsURWX)
	}
}
