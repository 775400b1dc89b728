package mem

// ram.go is the kernel's physical address bus: a byte-addressed backing
// store for the identity-mapped kernel region and the allocator pool, plus
// a hook for memory-mapped devices such as virtio-blk. Grounded on the
// teacher's vm.Memory/vm.MMIO split (internal/vm/mem.go, internal/vm/io.go):
// there, logical addresses above IOPageAddr are routed to device drivers
// instead of the backing array; here, one fixed physical window is.

import (
	"encoding/binary"
	"fmt"
)

// MMIODevice is implemented by a device mapped into the physical address
// space at a fixed base, such as the virtio-blk driver.
type MMIODevice interface {
	Base() Paddr
	Size() uint32
	ReadAt(offset uint32, width int) uint32
	WriteAt(offset uint32, width int, value uint32)
}

// RAM is the byte-addressed backing store for [KernelBase, FreeRamEnd). Reads
// and writes to an address claimed by a mapped MMIODevice are routed there
// instead.
type RAM struct {
	base  Paddr
	bytes []byte
	mmio  MMIODevice
}

// NewRAM allocates the backing array for [KernelBase, FreeRamEnd).
func NewRAM() *RAM {
	return &RAM{
		base:  KernelBase,
		bytes: make([]byte, FreeRamEnd-KernelBase),
	}
}

// MapMMIO installs a device that intercepts accesses to its own address
// window. Only one device is supported since the kernel drives a single
// virtio-blk device.
func (r *RAM) MapMMIO(dev MMIODevice) {
	r.mmio = dev
}

func (r *RAM) deviceFor(addr Paddr) (MMIODevice, uint32, bool) {
	if r.mmio == nil {
		return nil, 0, false
	}

	base := r.mmio.Base()
	size := r.mmio.Size()

	if uint32(addr) >= uint32(base) && uint32(addr) < uint32(base)+size {
		return r.mmio, uint32(addr) - uint32(base), true
	}

	return nil, 0, false
}

func (r *RAM) index(addr Paddr) int {
	if addr < r.base || int(addr-r.base) >= len(r.bytes) {
		panic(fmt.Sprintf("mem: physical address out of range: %#x", uint32(addr)))
	}

	return int(addr - r.base)
}

// Zero clears n bytes starting at addr. Used by the allocator to hand back
// zeroed frames.
func (r *RAM) Zero(addr Paddr, n int) {
	if dev, off, ok := r.deviceFor(addr); ok {
		_ = dev
		_ = off

		return
	}

	i := r.index(addr)
	clear(r.bytes[i : i+n])
}

// Load8/16/32 read a little-endian value from physical memory, routing
// through a mapped MMIO device when the address falls in its window.
func (r *RAM) Load8(addr Paddr) uint8 {
	if dev, off, ok := r.deviceFor(addr); ok {
		return uint8(dev.ReadAt(off, 1))
	}

	i := r.index(addr)

	return r.bytes[i]
}

func (r *RAM) Load16(addr Paddr) uint16 {
	if dev, off, ok := r.deviceFor(addr); ok {
		return uint16(dev.ReadAt(off, 2))
	}

	i := r.index(addr)

	return binary.LittleEndian.Uint16(r.bytes[i:])
}

func (r *RAM) Load32(addr Paddr) uint32 {
	if dev, off, ok := r.deviceFor(addr); ok {
		return dev.ReadAt(off, 4)
	}

	i := r.index(addr)

	return binary.LittleEndian.Uint32(r.bytes[i:])
}

func (r *RAM) Load64(addr Paddr) uint64 {
	if dev, off, ok := r.deviceFor(addr); ok {
		lo := uint64(dev.ReadAt(off, 4))
		hi := uint64(dev.ReadAt(off+4, 4))

		return lo | hi<<32
	}

	i := r.index(addr)

	return binary.LittleEndian.Uint64(r.bytes[i:])
}

func (r *RAM) Store8(addr Paddr, v uint8) {
	if dev, off, ok := r.deviceFor(addr); ok {
		dev.WriteAt(off, 1, uint32(v))

		return
	}

	i := r.index(addr)
	r.bytes[i] = v
}

func (r *RAM) Store16(addr Paddr, v uint16) {
	if dev, off, ok := r.deviceFor(addr); ok {
		dev.WriteAt(off, 2, uint32(v))

		return
	}

	i := r.index(addr)
	binary.LittleEndian.PutUint16(r.bytes[i:], v)
}

func (r *RAM) Store64(addr Paddr, v uint64) {
	if dev, off, ok := r.deviceFor(addr); ok {
		dev.WriteAt(off, 4, uint32(v))
		dev.WriteAt(off+4, 4, uint32(v>>32))

		return
	}

	i := r.index(addr)
	binary.LittleEndian.PutUint64(r.bytes[i:], v)
}

func (r *RAM) Store32(addr Paddr, v uint32) {
	if dev, off, ok := r.deviceFor(addr); ok {
		dev.WriteAt(off, 4, v)

		return
	}

	i := r.index(addr)
	binary.LittleEndian.PutUint32(r.bytes[i:], v)
}

// CopyIn copies src into physical memory starting at addr. Used to load a
// user image into freshly allocated frames.
func (r *RAM) CopyIn(addr Paddr, src []byte) {
	i := r.index(addr)
	copy(r.bytes[i:i+len(src)], src)
}

// CopyOut copies n bytes starting at addr out of physical memory.
func (r *RAM) CopyOut(addr Paddr, n int) []byte {
	i := r.index(addr)
	out := make([]byte, n)
	copy(out, r.bytes[i:i+n])

	return out
}
