package virtio

// driver.go is the guest-side counterpart of virtio.go: the object
// internal/kernel holds and calls into, grounded on disk.rs's Device::new
// and read_write_disk. Every register access goes through *mem.RAM at
// mem.VirtioBlkPA, exactly as the original's virtio_reg_read32/write32
// helpers dereference VIRTIO_BLK_PADDR+offset — there is no separate "driver
// memory" here, only the RAM bus a Device is mapped into.

import (
	"errors"
	"fmt"

	"github.com/rv32k/kernel/internal/log"
	"github.com/rv32k/kernel/internal/mem"
)

// ErrBadDevice is returned by NewDriver when the magic, version, or device
// ID register doesn't match a legacy virtio-blk device. The original panics
// here; a host-side driver returns an error instead so tests can assert on
// the specific mismatch.
var ErrBadDevice = errors.New("virtio: invalid device")

// ErrSectorOutOfRange is returned by ReadWriteDisk when the requested sector
// falls outside the device's capacity. Per spec.md §7 this is non-fatal:
// the caller gets a warning, not a panic, and the buffer is left untouched.
var ErrSectorOutOfRange = errors.New("virtio: sector out of range")

// ErrRequestFailed is returned when the device reports a non-zero status
// byte for a completed request. Also non-fatal per spec.md §7.
var ErrRequestFailed = errors.New("virtio: request failed")

// Driver is the guest-side virtio-blk driver: the handshake sequence from
// Device::new, plus read_write_disk's three-descriptor request protocol.
type Driver struct {
	ram   *mem.RAM
	alloc *mem.Allocator

	vqBase  mem.Paddr
	reqBase mem.Paddr

	lastUsedIndex uint16

	log *log.Logger
}

// NewDriver performs the legacy MMIO handshake against the device mapped at
// mem.VirtioBlkPA: verify identity, negotiate status bits, allocate and
// publish the virtqueue, then allocate the shared request buffer.
func NewDriver(ram *mem.RAM, alloc *mem.Allocator, logger *log.Logger) (*Driver, error) {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	d := &Driver{ram: ram, alloc: alloc, log: logger}

	if got := d.reg32(RegMagicValue); got != MagicValue {
		return nil, fmt.Errorf("%w: magic=%#x", ErrBadDevice, got)
	}

	if got := d.reg32(RegVersion); got != LegacyVersion {
		return nil, fmt.Errorf("%w: version=%d", ErrBadDevice, got)
	}

	if got := d.reg32(RegDeviceID); got != DeviceIDBlk {
		return nil, fmt.Errorf("%w: device-id=%d", ErrBadDevice, got)
	}

	d.setReg32(RegDeviceStatus, 0)
	d.fetchOr32(RegDeviceStatus, StatusAck)
	d.fetchOr32(RegDeviceStatus, StatusDriver)
	d.fetchOr32(RegDeviceStatus, StatusFeatureOK)

	vqSize := usedOff + 4 + QueueEntryNum*usedElemSz
	vqPages := mem.AlignUp(vqSize, mem.PageSize) / mem.PageSize
	d.vqBase = alloc.AllocPages(vqPages)

	d.setReg32(RegQueueSel, 0)
	d.setReg32(RegQueueNum, QueueEntryNum)
	d.setReg32(RegQueueAlign, 0)
	d.setReg32(RegQueuePFN, uint32(d.vqBase)/mem.PageSize)

	d.setReg32(RegDeviceStatus, StatusDriverOK)

	reqPages := mem.AlignUp(reqTotalSize, mem.PageSize) / mem.PageSize
	d.reqBase = alloc.AllocPages(reqPages)

	d.log.Info("virtio-blk: capacity", "bytes", d.Capacity())

	return d, nil
}

// Capacity returns the device's capacity in bytes, read from its config
// space.
func (d *Driver) Capacity() int {
	lo := d.reg32(RegDeviceConfig)

	return int(lo) * SectorSize
}

func (d *Driver) reg32(offset uint32) uint32 {
	return d.ram.Load32(mem.VirtioBlkPA + mem.Paddr(offset))
}

func (d *Driver) setReg32(offset uint32, v uint32) {
	d.ram.Store32(mem.VirtioBlkPA+mem.Paddr(offset), v)
}

func (d *Driver) fetchOr32(offset uint32, bit uint32) {
	d.setReg32(offset, d.reg32(offset)|bit)
}

// ReadWriteDisk performs one synchronous sector transfer. buf must be
// exactly SectorSize bytes. isWrite selects the direction: false reads the
// sector into buf, true writes buf to the sector.
func (d *Driver) ReadWriteDisk(buf []byte, sector int, isWrite bool) error {
	if sector >= d.Capacity()/SectorSize {
		d.log.Warn("virtio: sector out of range", "sector", sector, "capacity-sectors", d.Capacity()/SectorSize)

		return fmt.Errorf("%w: sector=%d", ErrSectorOutOfRange, sector)
	}

	reqType := uint32(BlkTypeIn)
	if isWrite {
		reqType = BlkTypeOut
	}

	d.ram.Store32(d.reqBase, reqType)
	d.ram.Store32(d.reqBase+4, 0) // reserved
	d.ram.Store64(d.reqBase+8, uint64(sector))

	if isWrite {
		for i, b := range buf {
			d.ram.Store8(d.reqBase+reqDataOff+mem.Paddr(i), b)
		}
	}

	d.buildDescriptors(isWrite)
	d.kick()

	for d.lastUsedIndex != d.ram.Load16(d.vqBase+usedOff+2) {
		// Processing happens synchronously inside kick's MMIO write in
		// this simulator, so this loop never actually spins; a real
		// virtio device would complete the request asynchronously.
	}

	if status := d.ram.Load8(d.reqBase + reqStatusOff); status != 0 {
		d.log.Warn("virtio: request failed", "sector", sector, "status", status)

		return fmt.Errorf("%w: sector=%d status=%d", ErrRequestFailed, sector, status)
	}

	if !isWrite {
		for i := range buf {
			buf[i] = d.ram.Load8(d.reqBase + reqDataOff + mem.Paddr(i))
		}
	}

	return nil
}

// buildDescriptors threads the three descriptors (header, data, status)
// into the request buffer, matching disk.rs's read_write_disk exactly.
func (d *Driver) buildDescriptors(isWrite bool) {
	dataFlags := uint32(DescFNext)
	if !isWrite {
		dataFlags |= DescFWrite
	}

	d.writeDesc(0, uint64(d.reqBase), reqHeaderSize, DescFNext, 1)
	d.writeDesc(1, uint64(d.reqBase+reqDataOff), SectorSize, uint16(dataFlags), 2)
	d.writeDesc(2, uint64(d.reqBase+reqStatusOff), 1, DescFWrite, 0)
}

func (d *Driver) writeDesc(index int, addr uint64, length uint32, flags uint16, next uint16) {
	base := d.vqBase + mem.Paddr(index)*descSize

	d.ram.Store64(base, addr)
	d.ram.Store32(base+8, length)
	d.ram.Store16(base+12, flags)
	d.ram.Store16(base+14, next)
}

// kick publishes descriptor 0 (the request head) in the avail ring and
// notifies the device. last_used_index is incremented immediately after the
// notify write, before the device's completion is observed — disk.rs's
// documented pre-increment quirk (see spec.md §9), preserved rather than
// corrected.
func (d *Driver) kick() {
	availIdx := d.ram.Load16(d.vqBase + availOff + 2)
	ringOff := d.vqBase + availOff + 4 + mem.Paddr(availIdx%QueueEntryNum)*2

	d.ram.Store16(ringOff, 0)
	d.ram.Store16(d.vqBase+availOff+2, availIdx+1)

	// A sequentially consistent fence sits here in the original, between
	// the avail-ring update and the notify write. This simulator runs
	// single-threaded, so there is no reordering to fence against.

	d.setReg32(RegQueueNotify, 0)
	d.lastUsedIndex++
}
