package flash

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// FileImage is a Device backed by an *os.File or an in-memory buffer. It
// represents a raw image file rather than live flash: IsFlash returns
// false, EraseSector/SetWriteProtect are no-ops, and the address
// convertor is accepted but ignored on Read/Write: the chunks are
// already contiguous in the file, so callers address them directly.
type FileImage struct {
	f          *os.File
	mem        []byte
	sectorSize int64
	convertor  *AddressConvertor
}

// NewFileImage opens path for read/write and wraps it as a Device.
// sectorSize is the nominal erase granularity used only for locator
// scanning and alignment math — there is no real erase operation on a
// plain file.
func NewFileImage(path string, sectorSize int64) (*FileImage, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open image file")
	}
	return &FileImage{f: f, sectorSize: sectorSize}, nil
}

// NewMemoryImage wraps an in-memory byte slice as a Device. Useful for
// tests and for staging a modified source image in memory before a
// burn.
func NewMemoryImage(data []byte, sectorSize int64) *FileImage {
	return &FileImage{mem: data, sectorSize: sectorSize}
}

// Bytes returns the backing buffer for a memory-backed FileImage. Panics
// if this FileImage is file-backed.
func (fi *FileImage) Bytes() []byte {
	if fi.mem == nil {
		panic("flash: Bytes() called on a file-backed FileImage")
	}
	return fi.mem
}

func (fi *FileImage) Close() error {
	if fi.f != nil {
		return fi.f.Close()
	}
	return nil
}

func (fi *FileImage) Read(addr int64, buf []byte, n int) error {
	if addr < 0 || addr+int64(n) > fi.Size() {
		return &OpError{Op: "read", Addr: addr, Err: ErrOutOfRange}
	}
	if fi.mem != nil {
		copy(buf[:n], fi.mem[addr:addr+int64(n)])
		return nil
	}
	if _, err := fi.f.Seek(addr, io.SeekStart); err != nil {
		return &OpError{Op: "read", Addr: addr, Err: err}
	}
	if _, err := io.ReadFull(fi.f, buf[:n]); err != nil {
		return &OpError{Op: "read", Addr: addr, Err: err}
	}
	return nil
}

func (fi *FileImage) Write(addr int64, buf []byte, n int, phys bool) error {
	if addr < 0 || addr+int64(n) > fi.Size() {
		return &OpError{Op: "write", Addr: addr, Err: ErrOutOfRange}
	}
	if fi.mem != nil {
		copy(fi.mem[addr:addr+int64(n)], buf[:n])
		return nil
	}
	if _, err := fi.f.Seek(addr, io.SeekStart); err != nil {
		return &OpError{Op: "write", Addr: addr, Err: err}
	}
	if _, err := fi.f.Write(buf[:n]); err != nil {
		return &OpError{Op: "write", Addr: addr, Err: err}
	}
	return nil
}

func (fi *FileImage) EraseSector(addr int64) error { return nil }

func (fi *FileImage) Size() int64 {
	if fi.mem != nil {
		return int64(len(fi.mem))
	}
	info, err := fi.f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (fi *FileImage) SectorSize() int64 { return fi.sectorSize }
func (fi *FileImage) IsFlash() bool     { return false }

func (fi *FileImage) SetWriteProtect(bank int, wp WriteProtect) error { return nil }
func (fi *FileImage) GetWriteProtect() ([]WriteProtect, error)        { return nil, nil }

func (fi *FileImage) SetAddressConvertor(conv *AddressConvertor) { fi.convertor = conv }

func (fi *FileImage) GetPhysFromCont(addr int64, chunkLog2 byte, inSecondSlot bool) int64 {
	conv := &AddressConvertor{ChunkLog2: chunkLog2, InSecondSlot: inSecondSlot}
	return conv.ToPhys(addr)
}

var _ Device = (*FileImage)(nil)
