package trap

import (
	"errors"
	"testing"

	"github.com/rv32k/kernel/internal/mem"
	"github.com/rv32k/kernel/internal/rvcpu"
)

type testHarness struct{ *testing.T }

func (t testHarness) newCPU() *rvcpu.CPU {
	t.Helper()

	ram := mem.NewRAM()
	alloc := mem.NewAllocator(ram, nil)
	pt := mem.NewPageTable(ram, alloc)
	pt.IdentityMap(mem.KernelBase, mem.KernelBase+mem.PageSize, mem.FlagsRWX)

	return rvcpu.New(ram, pt, mem.Vaddr(mem.KernelBase), nil)
}

type mockConsole struct {
	out []byte
	in  []byte
}

func (c *mockConsole) Putchar(b byte) { c.out = append(c.out, b) }

func (c *mockConsole) Getchar() (byte, bool) {
	if len(c.in) == 0 {
		return 0, false
	}

	b := c.in[0]
	c.in = c.in[1:]

	return b, true
}

type mockFile struct {
	data []byte
	size int
}

func (f *mockFile) Read(buf []byte) int {
	n := copy(buf, f.data)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}

	return len(buf)
}

func (f *mockFile) Write(src []byte) int {
	f.data = append([]byte(nil), src...)
	f.size = len(src)

	return len(src)
}

type mockFS struct {
	files map[string]*mockFile
}

func (fs *mockFS) Lookup(name string) (File, bool) {
	f, ok := fs.files[name]

	return f, ok
}

type mockScheduler struct {
	exited  bool
	yields  int
	getchar func() // called every time Yield runs, to unblock GETCHAR loops
}

func (s *mockScheduler) ExitCurrent() { s.exited = true }

func (s *mockScheduler) Yield() {
	s.yields++

	if s.getchar != nil {
		s.getchar()
	}
}

func TestPutchar(tt *testing.T) {
	tt.Parallel()

	t := testHarness{tt}
	cpu := t.newCPU()
	console := &mockConsole{}

	d := NewDispatcher(console, nil, &mockScheduler{}, nil)

	cpu.Reg.Set(rvcpu.A4, SysPutchar)
	cpu.Reg.Set(rvcpu.A0, 'x')

	if err := d.HandleECall(cpu); err != nil {
		tt.Fatalf("HandleECall: %v", err)
	}

	if len(console.out) != 1 || console.out[0] != 'x' {
		tt.Errorf("console.out: want [x], got %v", console.out)
	}
}

func TestGetcharBlocksUntilAvailable(tt *testing.T) {
	tt.Parallel()

	t := testHarness{tt}
	cpu := t.newCPU()
	console := &mockConsole{}

	sched := &mockScheduler{getchar: func() { console.in = []byte{'z'} }}
	d := NewDispatcher(console, nil, sched, nil)

	cpu.Reg.Set(rvcpu.A4, SysGetchar)

	if err := d.HandleECall(cpu); err != nil {
		tt.Fatalf("HandleECall: %v", err)
	}

	if got := cpu.Reg.Get(rvcpu.A0); got != uint32('z') {
		tt.Errorf("a0: want %d, got %d", 'z', got)
	}

	if sched.yields != 1 {
		tt.Errorf("yields: want 1, got %d", sched.yields)
	}
}

func TestExitYieldsAndReturnsErrProcessExited(tt *testing.T) {
	tt.Parallel()

	t := testHarness{tt}
	cpu := t.newCPU()
	sched := &mockScheduler{}

	d := NewDispatcher(&mockConsole{}, nil, sched, nil)

	cpu.Reg.Set(rvcpu.A4, SysExit)

	err := d.HandleECall(cpu)
	if !errors.Is(err, ErrProcessExited) {
		tt.Errorf("err: want ErrProcessExited, got %v", err)
	}

	if !sched.exited || sched.yields != 1 {
		tt.Errorf("scheduler: want exited=true yields=1, got exited=%v yields=%d", sched.exited, sched.yields)
	}
}

func TestReadfileCopiesFromFileIntoUserBuffer(tt *testing.T) {
	tt.Parallel()

	t := testHarness{tt}
	cpu := t.newCPU()

	fs := &mockFS{files: map[string]*mockFile{
		"hello.txt": {data: []byte("hi"), size: 2},
	}}

	d := NewDispatcher(&mockConsole{}, fs, &mockScheduler{}, nil)

	nameAddr := uint32(mem.KernelBase) + 256
	bufAddr := uint32(mem.KernelBase) + 512
	name := "hello.txt"

	for i := 0; i < len(name); i++ {
		if err := cpu.StoreUserByte(nameAddr+uint32(i), name[i]); err != nil {
			tt.Fatalf("StoreUserByte: %v", err)
		}
	}

	cpu.Reg.Set(rvcpu.A4, SysReadfile)
	cpu.Reg.Set(rvcpu.A0, nameAddr)
	cpu.Reg.Set(rvcpu.A1, uint32(len(name)))
	cpu.Reg.Set(rvcpu.A2, bufAddr)
	cpu.Reg.Set(rvcpu.A3, 4)

	if err := d.HandleECall(cpu); err != nil {
		tt.Fatalf("HandleECall: %v", err)
	}

	if got := cpu.Reg.Get(rvcpu.A0); got != 4 {
		tt.Errorf("a0 (bytes returned): want 4, got %d", got)
	}

	want := []byte{'h', 'i', 0, 0}

	for i, w := range want {
		got, err := cpu.LoadUserByte(bufAddr + uint32(i))
		if err != nil {
			tt.Fatalf("LoadUserByte: %v", err)
		}

		if got != w {
			tt.Errorf("buf[%d]: want %d, got %d", i, w, got)
		}
	}
}

func TestReadfileMissingFileReturnsMinusOne(tt *testing.T) {
	tt.Parallel()

	t := testHarness{tt}
	cpu := t.newCPU()

	fs := &mockFS{files: map[string]*mockFile{}}
	d := NewDispatcher(&mockConsole{}, fs, &mockScheduler{}, nil)

	nameAddr := uint32(mem.KernelBase) + 256

	cpu.Reg.Set(rvcpu.A4, SysReadfile)
	cpu.Reg.Set(rvcpu.A0, nameAddr)
	cpu.Reg.Set(rvcpu.A1, 0)
	cpu.Reg.Set(rvcpu.A2, 0)
	cpu.Reg.Set(rvcpu.A3, 0)

	if err := d.HandleECall(cpu); err != nil {
		tt.Fatalf("HandleECall: %v", err)
	}

	if got := int32(cpu.Reg.Get(rvcpu.A0)); got != -1 {
		tt.Errorf("a0: want -1, got %d", got)
	}
}

func TestWritefileUpdatesFile(tt *testing.T) {
	tt.Parallel()

	t := testHarness{tt}
	cpu := t.newCPU()

	f := &mockFile{}
	fs := &mockFS{files: map[string]*mockFile{"out.txt": f}}
	d := NewDispatcher(&mockConsole{}, fs, &mockScheduler{}, nil)

	nameAddr := uint32(mem.KernelBase) + 256
	bufAddr := uint32(mem.KernelBase) + 512
	name := "out.txt"
	payload := []byte("hey")

	for i := 0; i < len(name); i++ {
		_ = cpu.StoreUserByte(nameAddr+uint32(i), name[i])
	}

	for i, b := range payload {
		_ = cpu.StoreUserByte(bufAddr+uint32(i), b)
	}

	cpu.Reg.Set(rvcpu.A4, SysWritefile)
	cpu.Reg.Set(rvcpu.A0, nameAddr)
	cpu.Reg.Set(rvcpu.A1, uint32(len(name)))
	cpu.Reg.Set(rvcpu.A2, bufAddr)
	cpu.Reg.Set(rvcpu.A3, uint32(len(payload)))

	if err := d.HandleECall(cpu); err != nil {
		tt.Fatalf("HandleECall: %v", err)
	}

	if string(f.data) != "hey" {
		tt.Errorf("file data: want %q, got %q", "hey", string(f.data))
	}

	if got := cpu.Reg.Get(rvcpu.A0); got != uint32(len(payload)) {
		tt.Errorf("a0: want %d, got %d", len(payload), got)
	}
}

func TestYieldCallsScheduler(tt *testing.T) {
	tt.Parallel()

	t := testHarness{tt}
	cpu := t.newCPU()
	sched := &mockScheduler{}

	d := NewDispatcher(&mockConsole{}, nil, sched, nil)
	cpu.Reg.Set(rvcpu.A4, SysYield)

	if err := d.HandleECall(cpu); err != nil {
		tt.Fatalf("HandleECall: %v", err)
	}

	if sched.yields != 1 {
		tt.Errorf("yields: want 1, got %d", sched.yields)
	}
}

func TestUnknownSyscall(tt *testing.T) {
	tt.Parallel()

	t := testHarness{tt}
	cpu := t.newCPU()

	d := NewDispatcher(&mockConsole{}, nil, &mockScheduler{}, nil)
	cpu.Reg.Set(rvcpu.A4, 99)

	err := d.HandleECall(cpu)
	if !errors.Is(err, ErrUnknownSyscall) {
		tt.Errorf("err: want ErrUnknownSyscall, got %v", err)
	}
}
