package mem

import (
	"errors"
	"testing"
)

func TestAllocPages(tt *testing.T) {
	tt.Parallel()

	tt.Run("first-call-starts-at-free-ram", func(tt *testing.T) {
		ram := NewRAM()
		alloc := NewAllocator(ram, nil)

		got := alloc.AllocPages(1)

		if got != FreeRam {
			tt.Errorf("paddr: want %#x, got %#x", uint32(FreeRam), uint32(got))
		}
	})

	tt.Run("bump-advances-by-page-size", func(tt *testing.T) {
		ram := NewRAM()
		alloc := NewAllocator(ram, nil)

		first := alloc.AllocPages(2)
		second := alloc.AllocPages(1)

		if want := first + 2*PageSize; second != want {
			tt.Errorf("paddr: want %#x, got %#x", uint32(want), uint32(second))
		}
	})

	tt.Run("pages-come-back-zeroed", func(tt *testing.T) {
		ram := NewRAM()
		alloc := NewAllocator(ram, nil)

		paddr := alloc.AllocPages(1)
		ram.Store32(paddr+8, 0xdeadbeef)

		again := alloc.AllocPages(1)
		_ = again // distinct page; check the first one stays as allocator left it

		if got := ram.Load32(paddr + 8); got != 0xdeadbeef {
			tt.Errorf("store: want %#x, got %#x", 0xdeadbeef, got)
		}

		fresh := ram.Load32(again)
		if fresh != 0 {
			tt.Errorf("fresh page: want zero, got %#x", fresh)
		}
	})

	tt.Run("exhaustion-panics-with-ErrOutOfMemory", func(tt *testing.T) {
		ram := NewRAM()
		alloc := NewAllocator(ram, nil)

		huge := int(FreeRamEnd-FreeRam)/PageSize + 1

		defer func() {
			r := recover()
			if r == nil {
				tt.Fatal("want panic, got none")
			}

			err, ok := r.(error)
			if !ok || !errors.Is(err, ErrOutOfMemory) {
				tt.Errorf("panic: want ErrOutOfMemory, got %#v", r)
			}
		}()

		alloc.AllocPages(huge)
	})
}

func TestAlignment(tt *testing.T) {
	tt.Parallel()

	cases := []struct {
		value, align, want int
	}{
		{0, PageSize, 0},
		{1, PageSize, PageSize},
		{PageSize, PageSize, PageSize},
		{PageSize + 1, PageSize, 2 * PageSize},
	}

	for _, c := range cases {
		if got := AlignUp(c.value, c.align); got != c.want {
			tt.Errorf("AlignUp(%d, %d): want %d, got %d", c.value, c.align, c.want, got)
		}
	}

	if !IsAligned(PageSize, PageSize) {
		tt.Errorf("IsAligned(%d, %d): want true", PageSize, PageSize)
	}

	if IsAligned(PageSize+1, PageSize) {
		tt.Errorf("IsAligned(%d, %d): want false", PageSize+1, PageSize)
	}
}

func TestRAMLoadStore(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()

	ram.Store8(KernelBase, 0xab)
	if got := ram.Load8(KernelBase); got != 0xab {
		tt.Errorf("Load8: want %#x, got %#x", 0xab, got)
	}

	ram.Store16(KernelBase+4, 0x1234)
	if got := ram.Load16(KernelBase + 4); got != 0x1234 {
		tt.Errorf("Load16: want %#x, got %#x", 0x1234, got)
	}

	ram.Store32(KernelBase+8, 0xcafef00d)
	if got := ram.Load32(KernelBase + 8); got != 0xcafef00d {
		tt.Errorf("Load32: want %#x, got %#x", 0xcafef00d, got)
	}

	data := []byte{1, 2, 3, 4, 5}
	ram.CopyIn(KernelBase+16, data)

	got := ram.CopyOut(KernelBase+16, len(data))
	for i := range data {
		if got[i] != data[i] {
			tt.Errorf("CopyOut[%d]: want %d, got %d", i, data[i], got[i])
		}
	}
}

func TestRAMOutOfRangePanics(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()

	defer func() {
		if recover() == nil {
			tt.Fatal("want panic on out-of-range access, got none")
		}
	}()

	ram.Load8(FreeRamEnd)
}

type fakeDevice struct {
	base Paddr
	regs [4]uint32
}

func (d *fakeDevice) Base() Paddr  { return d.base }
func (d *fakeDevice) Size() uint32 { return uint32(len(d.regs) * 4) }

func (d *fakeDevice) ReadAt(offset uint32, width int) uint32 {
	return d.regs[offset/4]
}

func (d *fakeDevice) WriteAt(offset uint32, width int, value uint32) {
	d.regs[offset/4] = value
}

func TestRAMRoutesMMIO(tt *testing.T) {
	tt.Parallel()

	ram := NewRAM()
	dev := &fakeDevice{base: VirtioBlkPA}
	ram.MapMMIO(dev)

	ram.Store32(VirtioBlkPA+4, 0x55)
	if dev.regs[1] != 0x55 {
		tt.Errorf("device register: want %#x, got %#x", 0x55, dev.regs[1])
	}

	if got := ram.Load32(VirtioBlkPA + 4); got != 0x55 {
		tt.Errorf("Load32 through MMIO: want %#x, got %#x", 0x55, got)
	}
}
