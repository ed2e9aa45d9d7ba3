package wire

import "encoding/binary"

// BootAreaSize is the packed size of the boot area header.
const BootAreaSize = 8

// BootArea is the fixed-offset header at the very start of the image,
// immediately following the magic pattern.
type BootArea struct {
	ChunkLog2          byte
	VerMajor           byte
	VerMinor           byte
	BootCodeSizeDwords uint32
}

// Pack serializes the boot area to its on-flash bytes.
func (b *BootArea) Pack() [BootAreaSize]byte {
	var out [BootAreaSize]byte
	out[0] = b.ChunkLog2
	out[1] = b.VerMajor
	out[2] = b.VerMinor
	binary.BigEndian.PutUint32(out[4:8], b.BootCodeSizeDwords)
	return out
}

// UnpackBootArea deserializes the boot area.
func UnpackBootArea(buf [BootAreaSize]byte) BootArea {
	return BootArea{
		ChunkLog2:          buf[0],
		VerMajor:           buf[1],
		VerMinor:           buf[2],
		BootCodeSizeDwords: binary.BigEndian.Uint32(buf[4:8]),
	}
}

// IsUninitialized reports the "(0,0) accept" escape hatch: a boot area
// whose version is zero/zero is treated as uninitialized rather than
// rejected outright.
func (b *BootArea) IsUninitialized() bool { return b.VerMajor == 0 && b.VerMinor == 0 }

// BootCodeSizeBytes is the boot code length in bytes.
func (b *BootArea) BootCodeSizeBytes() int64 { return int64(b.BootCodeSizeDwords) * 4 }

// HWPointerEntrySize is the packed size of one hardware pointer record.
const HWPointerEntrySize = 6

// HWPointerTableSize is the packed size of the full pointer table.
const HWPointerTableSize = HWPointerCount * HWPointerEntrySize

// HWPointer is one (pointer, crc) record in the FS4 hardware pointer
// table.
type HWPointer struct {
	Value uint32
	CRC   uint16
}

// Absent reports whether this pointer slot is unused.
func (p HWPointer) Absent() bool { return p.Value == HWPointerAbsent }

// HWPointerTable holds the 16 pointer records (13 named, 3 reserved)
// immediately following the boot area.
type HWPointerTable struct {
	Pointers [HWPointerCount]HWPointer
}

// Pack serializes the pointer table.
func (t *HWPointerTable) Pack() []byte {
	out := make([]byte, HWPointerTableSize)
	for i, p := range t.Pointers {
		off := i * HWPointerEntrySize
		binary.BigEndian.PutUint32(out[off:off+4], p.Value)
		binary.BigEndian.PutUint16(out[off+4:off+6], p.CRC)
	}
	return out
}

// UnpackHWPointerTable deserializes the pointer table from exactly
// HWPointerTableSize bytes.
func UnpackHWPointerTable(buf []byte) HWPointerTable {
	var t HWPointerTable
	for i := 0; i < HWPointerCount; i++ {
		off := i * HWPointerEntrySize
		t.Pointers[i] = HWPointer{
			Value: binary.BigEndian.Uint32(buf[off : off+4]),
			CRC:   binary.BigEndian.Uint16(buf[off+4 : off+6]),
		}
	}
	return t
}

// ToolsAreaSize is the packed size of the tools area record.
const ToolsAreaSize = 8

// ToolsArea determines the chunk size used to convert logical to physical
// addresses.
type ToolsArea struct {
	Log2ImageSlotSize byte
	VerMajor          byte
	VerMinor          byte
	CRC               uint16
}

// Pack serializes the tools area, recomputing nothing — callers must set
// CRC themselves via crc.SoftwareCRC16Bytes over bytes[0:6].
func (t *ToolsArea) Pack() [ToolsAreaSize]byte {
	var out [ToolsAreaSize]byte
	out[0] = t.Log2ImageSlotSize
	out[1] = t.VerMajor
	out[2] = t.VerMinor
	binary.BigEndian.PutUint16(out[6:8], t.CRC)
	return out
}

// UnpackToolsArea deserializes the tools area.
func UnpackToolsArea(buf [ToolsAreaSize]byte) ToolsArea {
	return ToolsArea{
		Log2ImageSlotSize: buf[0],
		VerMajor:          buf[1],
		VerMinor:          buf[2],
		CRC:               binary.BigEndian.Uint16(buf[6:8]),
	}
}

// CRCBytes returns the span the tools-area CRC covers.
func (t *ToolsArea) CRCBytes() []byte {
	packed := t.Pack()
	out := make([]byte, 6)
	copy(out, packed[:6])
	return out
}

// TocHeader is the 32-byte header preceding a sequence of TOC entries
//").
type TocHeader struct {
	Signature          [4]byte
	RandomWords        [3]uint32
	FlashLayoutVersion uint32
	HeaderCRC          uint16
}

// Pack serializes the TOC header.
func (h *TocHeader) Pack() [TocHeaderSize]byte {
	var out [TocHeaderSize]byte
	copy(out[0:4], h.Signature[:])
	binary.BigEndian.PutUint32(out[4:8], h.RandomWords[0])
	binary.BigEndian.PutUint32(out[8:12], h.RandomWords[1])
	binary.BigEndian.PutUint32(out[12:16], h.RandomWords[2])
	binary.BigEndian.PutUint32(out[16:20], h.FlashLayoutVersion)
	// out[20:30] reserved.
	binary.BigEndian.PutUint16(out[30:32], h.HeaderCRC)
	return out
}

// UnpackTocHeader deserializes a TOC header.
func UnpackTocHeader(buf [TocHeaderSize]byte) TocHeader {
	var h TocHeader
	copy(h.Signature[:], buf[0:4])
	h.RandomWords[0] = binary.BigEndian.Uint32(buf[4:8])
	h.RandomWords[1] = binary.BigEndian.Uint32(buf[8:12])
	h.RandomWords[2] = binary.BigEndian.Uint32(buf[12:16])
	h.FlashLayoutVersion = binary.BigEndian.Uint32(buf[16:20])
	h.HeaderCRC = binary.BigEndian.Uint16(buf[30:32])
	return h
}

// CRCBytes returns the span the header CRC covers: bytes 0..30, the
// same convention the entry CRC uses.
func (h *TocHeader) CRCBytes() []byte {
	packed := h.Pack()
	out := make([]byte, 30)
	copy(out, packed[:30])
	return out
}

// MatchesSignature reports whether the header's signature equals want.
func (h *TocHeader) MatchesSignature(want [4]byte) bool { return h.Signature == want }
