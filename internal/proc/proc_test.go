package proc

import (
	"errors"
	"testing"

	"github.com/rv32k/kernel/internal/mem"
)

func newTestTable(tt *testing.T) (*Table, *mem.RAM, *mem.Allocator) {
	tt.Helper()

	ram := mem.NewRAM()
	alloc := mem.NewAllocator(ram, nil)
	table := NewTable(nil)

	return table, ram, alloc
}

func TestNewAssignsSequentialPids(tt *testing.T) {
	tt.Parallel()

	table, ram, alloc := newTestTable(tt)
	image := make([]byte, mem.PageSize)

	p1, err := table.New(ram, alloc, image)
	if err != nil {
		tt.Fatalf("New: %v", err)
	}

	p2, err := table.New(ram, alloc, image)
	if err != nil {
		tt.Fatalf("New: %v", err)
	}

	if p1.Pid != 1 {
		tt.Errorf("p1.Pid: want 1, got %d", p1.Pid)
	}

	if p2.Pid != 2 {
		tt.Errorf("p2.Pid: want 2, got %d", p2.Pid)
	}

	if p1.State != Runnable {
		tt.Errorf("p1.State: want Runnable, got %s", p1.State)
	}
}

func TestNewExhaustsSlots(tt *testing.T) {
	tt.Parallel()

	table, ram, alloc := newTestTable(tt)
	image := make([]byte, mem.PageSize)

	for i := 0; i < ProcsMax; i++ {
		if _, err := table.New(ram, alloc, image); err != nil {
			tt.Fatalf("New[%d]: %v", i, err)
		}
	}

	_, err := table.New(ram, alloc, image)
	if !errors.Is(err, ErrNoFreeSlots) {
		tt.Errorf("err: want ErrNoFreeSlots, got %v", err)
	}
}

func TestNewMapsImageAtUserBase(tt *testing.T) {
	tt.Parallel()

	table, ram, alloc := newTestTable(tt)

	image := []byte{0xde, 0xad, 0xbe, 0xef}
	p, err := table.New(ram, alloc, image)
	if err != nil {
		tt.Fatalf("New: %v", err)
	}

	paddr, err := p.PageTable.Translate(mem.UserBase, mem.AccessRead)
	if err != nil {
		tt.Fatalf("Translate: %v", err)
	}

	if got := ram.Load8(paddr); got != 0xde {
		tt.Errorf("image byte 0: want %#x, got %#x", 0xde, got)
	}

	if p.CPU.PC != mem.UserBase {
		tt.Errorf("CPU.PC: want %#x, got %#x", uint32(mem.UserBase), uint32(p.CPU.PC))
	}
}

func TestYieldRoundRobinsOverRunnable(tt *testing.T) {
	tt.Parallel()

	table, ram, alloc := newTestTable(tt)
	image := make([]byte, mem.PageSize)

	p1, _ := table.New(ram, alloc, image)
	p2, _ := table.New(ram, alloc, image)

	table.current = p1

	got := table.Yield()
	if got != p2 {
		tt.Errorf("Yield: want p2 (pid=%d), got pid=%d", p2.Pid, got.Pid)
	}
}

func TestYieldFallsBackToIdleWhenNoneRunnable(tt *testing.T) {
	tt.Parallel()

	table, ram, alloc := newTestTable(tt)
	image := make([]byte, mem.PageSize)

	p1, _ := table.New(ram, alloc, image)
	table.Exit(p1)
	table.current = p1

	got := table.Yield()
	if got != table.Idle() {
		tt.Errorf("Yield: want idle, got pid=%d state=%s", got.Pid, got.State)
	}
}

func TestExitMarksExited(tt *testing.T) {
	tt.Parallel()

	table, ram, alloc := newTestTable(tt)
	image := make([]byte, mem.PageSize)

	p, _ := table.New(ram, alloc, image)
	table.Exit(p)

	if p.State != Exited {
		tt.Errorf("State: want Exited, got %s", p.State)
	}
}
