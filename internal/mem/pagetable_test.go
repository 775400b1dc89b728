package mem

import (
	"errors"
	"testing"
)

func TestMapPageAndTranslate(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()
	alloc := NewAllocator(ram, nil)
	pt := NewPageTable(ram, alloc)

	vaddr := Vaddr(0x1000_0000)
	paddr := alloc.AllocPages(1)

	pt.MapPage(vaddr, paddr, FlagsURWX)

	got, err := pt.Translate(vaddr+0x10, AccessRead)
	if err != nil {
		tt.Fatalf("Translate: %v", err)
	}

	if want := paddr + 0x10; got != want {
		tt.Errorf("Translate: want %#x, got %#x", uint32(want), uint32(got))
	}
}

func TestTranslateUnmappedFaults(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()
	alloc := NewAllocator(ram, nil)
	pt := NewPageTable(ram, alloc)

	_, err := pt.Translate(0x2000_0000, AccessRead)

	if !errors.Is(err, ErrPageFault) {
		tt.Errorf("err: want ErrPageFault, got %#v", err)
	}

	var pfe *PageFaultError
	if !errors.As(err, &pfe) {
		tt.Fatalf("err: want *PageFaultError, got %T", err)
	}

	if pfe.Vaddr != 0x2000_0000 {
		tt.Errorf("Vaddr: want %#x, got %#x", uint32(0x2000_0000), uint32(pfe.Vaddr))
	}
}

func TestTranslatePermissionDenied(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()
	alloc := NewAllocator(ram, nil)
	pt := NewPageTable(ram, alloc)

	vaddr := Vaddr(0x1000_0000)
	paddr := alloc.AllocPages(1)

	pt.MapPage(vaddr, paddr, PTERead|PTEValid)

	_, err := pt.Translate(vaddr, AccessWrite)
	if !errors.Is(err, ErrPageFault) {
		tt.Errorf("err: want ErrPageFault for denied write, got %#v", err)
	}
}

func TestMapPageUnalignedPanics(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()
	alloc := NewAllocator(ram, nil)
	pt := NewPageTable(ram, alloc)

	defer func() {
		if recover() == nil {
			tt.Fatal("want panic on unaligned vaddr, got none")
		}
	}()

	pt.MapPage(0x1001, alloc.AllocPages(1), FlagsRWX)
}

func TestIdentityMap(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()
	alloc := NewAllocator(ram, nil)
	pt := NewPageTable(ram, alloc)

	pt.IdentityMap(KernelBase, KernelBase+2*PageSize, FlagsRWX)

	got, err := pt.Translate(Vaddr(KernelBase)+4, AccessExecute)
	if err != nil {
		tt.Fatalf("Translate: %v", err)
	}

	if want := KernelBase + 4; got != want {
		tt.Errorf("identity map: want %#x, got %#x", uint32(want), uint32(got))
	}
}

func TestMapImage(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()
	alloc := NewAllocator(ram, nil)
	pt := NewPageTable(ram, alloc)

	image := make([]byte, PageSize+16)
	for i := range image {
		image[i] = byte(i)
	}

	pt.MapImage(image)

	for _, off := range []int{0, 15, PageSize, PageSize + 15} {
		paddr, err := pt.Translate(UserBase+Vaddr(off), AccessRead)
		if err != nil {
			tt.Fatalf("Translate(off=%d): %v", off, err)
		}

		got := ram.Load8(paddr)
		if got != image[off] {
			tt.Errorf("image[%d]: want %#x, got %#x", off, image[off], got)
		}
	}
}

func TestSatp(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()
	alloc := NewAllocator(ram, nil)
	pt := NewPageTable(ram, alloc)

	satp := pt.Satp()

	if satp&(1<<31) == 0 {
		tt.Errorf("satp: mode bit not set: %#x", satp)
	}

	if Paddr(satp&0x3fffff)<<PageShift != pt.Root {
		tt.Errorf("satp: ppn mismatch: want %#x, got %#x", uint32(pt.Root), (satp&0x3fffff)<<PageShift)
	}
}
