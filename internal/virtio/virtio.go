// Package virtio implements a legacy (version 1) virtio-blk device and the
// guest-side driver that talks to it, grounded on
// 17_refactoring_kernel/src/disk.rs.
//
// The original only implements the driver half — QEMU supplies the device.
// A host-side simulator has no QEMU, so this package splits disk.rs's single
// Device type in two: virtio.Device is the simulated hardware (register
// file, virtqueue processing, backing sectors), and virtio.Driver is the
// guest-side object the kernel holds, which performs the same register
// handshake and read_write_disk protocol the original does, through
// mem.RAM rather than raw volatile pointers.
package virtio

import "github.com/rv32k/kernel/internal/mem"

// Legacy MMIO register offsets, per the VirtIO 1.0 legacy transport layout
// referenced in spec.md §6.
const (
	RegMagicValue     = 0x000
	RegVersion        = 0x004
	RegDeviceID       = 0x008
	RegVendorID       = 0x00c
	RegHostFeatures   = 0x010
	RegGuestFeatures  = 0x020
	RegGuestPageSize  = 0x028
	RegQueueSel       = 0x030
	RegQueueNumMax    = 0x034
	RegQueueNum       = 0x038
	RegQueueAlign     = 0x03c
	RegQueuePFN       = 0x040
	RegQueueNotify    = 0x050
	RegInterruptState = 0x060
	RegInterruptACK   = 0x064
	RegDeviceStatus   = 0x070
	RegDeviceConfig   = 0x100
)

const (
	MagicValue    = 0x74726976
	LegacyVersion = 1
	DeviceIDBlk   = 2
)

// Device status bits. The driver ORs in ACK, DRIVER and FEATURES_OK during
// the handshake, then writes DRIVER_OK on its own.
const (
	StatusAck       = 1
	StatusDriver    = 2
	StatusDriverOK  = 4
	StatusFeatureOK = 8
)

// Descriptor flags.
const (
	DescFNext  = 1
	DescFWrite = 2
)

// Block request types, carried in VirtioBlkReq.Type.
const (
	BlkTypeIn  = 0 // read: device writes into the data descriptor
	BlkTypeOut = 1 // write: device reads from the data descriptor
)

const (
	QueueEntryNum = 16
	SectorSize    = 512
)

// Virtqueue layout offsets within the page-aligned region the driver
// allocates, matching disk.rs's VirtioVirtq: descs, then avail, then padding
// up to the next page boundary, then used.
const (
	descSize   = 16 // addr(8) + len(4) + flags(2) + next(2)
	descsOff   = 0
	availOff   = descsOff + QueueEntryNum*descSize
	usedOff    = mem.PageSize // padded to the page boundary, per spec.md §3
	usedElemSz = 8            // id(4) + len(4)
)

// Block request buffer layout, matching disk.rs's VirtioBlkReq.
const (
	reqHeaderSize = 16 // type(4) + reserved(4) + sector(8)
	reqDataOff    = reqHeaderSize
	reqStatusOff  = reqHeaderSize + SectorSize
	reqTotalSize  = reqStatusOff + 1
)

// Device is the simulated virtio-blk hardware: a register file, one
// virtqueue's worth of processing logic, and a backing sector store. It
// implements mem.MMIODevice so *mem.RAM can route accesses to
// mem.VirtioBlkPA here.
type Device struct {
	ram  *mem.RAM
	disk []byte

	status   uint32
	queueSel uint32
	queuePFN mem.Paddr // base physical address of the virtqueue region
}

// NewDevice creates a virtio-blk device backed by disk, which must already
// hold the sector data the device should serve (e.g. a TAR archive). disk is
// mutated in place by writes.
func NewDevice(ram *mem.RAM, disk []byte) *Device {
	return &Device{ram: ram, disk: disk}
}

func (d *Device) Base() mem.Paddr { return mem.VirtioBlkPA }
func (d *Device) Size() uint32    { return mem.PageSize }

// Capacity returns the device's advertised capacity in bytes, sectors ×
// SectorSize.
func (d *Device) Capacity() int {
	return (len(d.disk) / SectorSize) * SectorSize
}

func (d *Device) ReadAt(offset uint32, width int) uint32 {
	switch offset {
	case RegMagicValue:
		return MagicValue
	case RegVersion:
		return LegacyVersion
	case RegDeviceID:
		return DeviceIDBlk
	case RegQueueNumMax:
		return QueueEntryNum
	case RegDeviceStatus:
		return d.status
	case RegDeviceConfig:
		return uint32(d.Capacity() / SectorSize)
	case RegDeviceConfig + 4:
		return 0 // sector count high word; disks here never exceed 2^32 sectors
	default:
		return 0
	}
}

func (d *Device) WriteAt(offset uint32, width int, value uint32) {
	switch offset {
	case RegDeviceStatus:
		// A plain store, not an OR: the driver performs its own
		// read-modify-write (Driver.fetchOr32) when it wants to set bits
		// without clobbering others. Matches disk.rs's final
		// `virtio_reg_write32(VIRTIO_REG_DEVICE_STATUS, VIRTIO_STATUS_DRIVER_OK)`,
		// which really does overwrite the earlier ACK|DRIVER|FEATURES_OK bits.
		d.status = value
	case RegQueueSel:
		d.queueSel = value
	case RegQueuePFN:
		d.queuePFN = mem.Paddr(value) * mem.PageSize
	case RegQueueNotify:
		d.processRequest()
	default:
		// QueueNum, QueueAlign, GuestFeatures, GuestPageSize: the device
		// doesn't need to remember these for a single fixed-size queue.
	}
}

// processRequest services the descriptor chain most recently published in
// the avail ring. Exactly one request is ever outstanding at a time (per
// spec.md §9's open question on last_used_index), so the head descriptor is
// always avail.ring[(avail.index-1) % QueueEntryNum].
func (d *Device) processRequest() {
	vq := d.queuePFN

	availIdx := d.ram.Load16(vq + availOff + 2)
	slot := (availIdx - 1) % QueueEntryNum
	headIdx := d.ram.Load16(vq + availOff + 4 + mem.Paddr(slot)*2)

	reqAddr := mem.Paddr(d.ram.Load64(vq + mem.Paddr(headIdx)*descSize))

	reqType := d.ram.Load32(reqAddr)
	sector := d.ram.Load64(reqAddr + 8)

	status := byte(0)

	off := int(sector) * SectorSize
	if off < 0 || off+SectorSize > len(d.disk) {
		status = 1
	} else if reqType == BlkTypeOut {
		for i := 0; i < SectorSize; i++ {
			d.disk[off+i] = d.ram.Load8(reqAddr + reqDataOff + mem.Paddr(i))
		}
	} else {
		for i := 0; i < SectorSize; i++ {
			d.ram.Store8(reqAddr+reqDataOff+mem.Paddr(i), d.disk[off+i])
		}
	}

	d.ram.Store8(reqAddr+reqStatusOff, status)

	usedIdx := d.ram.Load16(vq + usedOff + 2)
	elemOff := vq + usedOff + 4 + mem.Paddr(usedIdx%QueueEntryNum)*usedElemSz
	d.ram.Store32(elemOff, uint32(headIdx))
	d.ram.Store32(elemOff+4, SectorSize)
	d.ram.Store16(vq+usedOff+2, usedIdx+1)
}
