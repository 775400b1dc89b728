package tarfs

// fs.go is FileSystem and File, grounded on fs.rs's FileSystem/File: read
// the whole archive at mount, serve in-memory lookups, and flush the whole
// archive back to disk on every write — nothing here is demand-paged or
// incremental, matching spec.md §4.6 exactly.

import (
	"errors"
	"fmt"

	"github.com/rv32k/kernel/internal/log"
	"github.com/rv32k/kernel/internal/mem"
)

const (
	// DataSize is the fixed per-file backing buffer, matching fs.rs's
	// File.data: [u8; 1024].
	DataSize = 1024

	// FilesMax is the fixed file table size, per spec.md §3.
	FilesMax = 2

	// SectorSize matches internal/virtio.SectorSize; duplicated rather
	// than imported so tarfs depends on BlockDevice structurally, not on
	// internal/virtio concretely.
	SectorSize = 512
)

// fileRecordSize approximates fs.rs's sizeof(File) (name + data + a
// machine word for size) closely enough to size the disk buffer; the exact
// padding a Rust repr produces isn't load-bearing here, only "big enough to
// hold FilesMax files with header room to spare".
const fileRecordSize = nameLen + DataSize + 8

// DiskMaxSize is the size of the in-memory archive buffer, sector-aligned,
// per spec.md §3's "Disk buffer".
var DiskMaxSize = mem.AlignUp(fileRecordSize*FilesMax, SectorSize)

// BlockDevice is the subset of internal/virtio.Driver the file system
// needs: synchronous single-sector transfers.
type BlockDevice interface {
	ReadWriteDisk(buf []byte, sector int, isWrite bool) error
}

// ErrInvalidMagic is returned when a TAR header's magic field isn't
// "ustar", matching fs.rs's `panic!("invalid tar header: magic={}")`. The
// original panics; a host-side file system returns an error so the kernel
// decides how fatal that is.
var ErrInvalidMagic = errors.New("tarfs: invalid tar header magic")

// File is one flat file system entry.
type File struct {
	inUse bool
	name  string
	data  [DataSize]byte
	size  int

	fs *FileSystem
}

// Read copies len(buf) bytes out of the file's fixed backing array starting
// at offset 0, regardless of the file's recorded size — READFILE's
// documented quirk (spec.md §9): it never clamps to the actual size, and
// the kernel's trap dispatcher always reports len(buf) bytes transferred.
func (f *File) Read(buf []byte) int {
	n := copy(buf, f.data[:])
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}

	return len(buf)
}

// Write replaces the file's contents with src (truncated to DataSize),
// updates its recorded size, marks it in use, and flushes the whole
// archive back to disk — matching WRITEFILE's effect in spec.md §4.4.
func (f *File) Write(src []byte) int {
	var data [DataSize]byte
	n := copy(data[:], src)

	f.data = data
	f.size = n
	f.inUse = true

	if f.fs != nil {
		f.fs.Flush()
	}

	return len(src)
}

// FileSystem is the in-memory mirror of the archive on device, read whole
// at mount and flushed whole on every write.
type FileSystem struct {
	files  [FilesMax]File
	disk   []byte
	device BlockDevice

	log *log.Logger
}

// New reads DiskMaxSize bytes off device sector by sector, then walks the
// TAR entries it finds, populating the file table in order — fs.rs's
// FileSystem::new.
func New(device BlockDevice, logger *log.Logger) (*FileSystem, error) {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	fs := &FileSystem{disk: make([]byte, DiskMaxSize), device: device, log: logger}

	for sector := 0; sector < DiskMaxSize/SectorSize; sector++ {
		off := sector * SectorSize
		if err := device.ReadWriteDisk(fs.disk[off:off+SectorSize], sector, false); err != nil {
			return nil, fmt.Errorf("tarfs: mount: %w", err)
		}
	}

	fs.log.Info("tarfs: read archive", "bytes", DiskMaxSize)

	offset := 0

	for i := range fs.files {
		header := fs.disk[offset : offset+HeaderSize]
		if isEmptyHeader(header) {
			break
		}

		if magic := headerMagic(header); magic != "ustar" {
			return nil, fmt.Errorf("%w: magic=%q", ErrInvalidMagic, magic)
		}

		size := headerSize(header)
		name := headerName(header)

		f := &fs.files[i]
		f.inUse = true
		f.name = name
		f.size = size
		f.fs = fs

		dataStart := offset + HeaderSize
		copy(f.data[:size], fs.disk[dataStart:dataStart+size])

		fs.log.Info("tarfs: file", "name", name, "size", size)

		offset += mem.AlignUp(HeaderSize+size, SectorSize)
	}

	return fs, nil
}

// Lookup finds a file by exact name match, fs.rs's lookup.
func (fs *FileSystem) Lookup(name string) (*File, bool) {
	for i := range fs.files {
		f := &fs.files[i]
		if f.inUse && f.name == name {
			return f, true
		}
	}

	return nil, false
}

// Flush rewrites the entire disk buffer from the in-memory file table and
// writes it back to the device sector by sector — fs.rs's flush. It is
// always a whole-archive rewrite, never an incremental patch.
func (fs *FileSystem) Flush() {
	clear(fs.disk)

	offset := 0

	for i := range fs.files {
		f := &fs.files[i]
		if !f.inUse {
			continue
		}

		header := fs.disk[offset : offset+HeaderSize]

		setHeaderName(header, f.name)
		setHeaderMode(header, "000644")
		setHeaderMagic(header, "ustar")
		setHeaderVersion(header, "00")
		header[typeOff] = '0'
		setHeaderSize(header, f.size)
		setHeaderChecksum(header, checksumOf(header))

		copy(fs.disk[offset+HeaderSize:offset+HeaderSize+f.size], f.data[:f.size])

		offset += mem.AlignUp(HeaderSize+f.size, SectorSize)
	}

	for sector := 0; sector < DiskMaxSize/SectorSize; sector++ {
		off := sector * SectorSize
		if err := fs.device.ReadWriteDisk(fs.disk[off:off+SectorSize], sector, true); err != nil {
			fs.log.Error("tarfs: flush: write failed", "sector", sector, "err", err)

			return
		}
	}

	fs.log.Info("tarfs: wrote archive", "bytes", DiskMaxSize)
}
