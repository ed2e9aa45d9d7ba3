package wire

import "encoding/binary"

// Entry is the in-memory form of a packed 32-byte TOC entry. Pack and
// Unpack are inverse functions of each other byte for byte: unpacking a
// packed entry and repacking it must reproduce the original 32 bytes
// exactly.
type Entry struct {
	Type              SectionType
	SizeInDwords      uint32 // 22 bits
	Param0            uint32
	Param1            uint32
	FlashAddrInDwords uint32 // 29 bits
	RelativeAddr      bool
	Zipped            bool
	CacheLineCRC      bool
	Encrypted         bool
	DeviceData        bool
	NoCRC             bool
	CRCMode           CRCMode
	SectionCRC        uint16
	EntryCRC          uint16
}

// Pack serializes an Entry to its 32-byte on-flash representation.
func (e *Entry) Pack() [TocEntrySize]byte {
	var b [TocEntrySize]byte

	binary.BigEndian.PutUint32(b[0:4], (uint32(e.Type)<<24)|(e.SizeInDwords&0x3fffff))
	binary.BigEndian.PutUint32(b[4:8], e.Param0)
	binary.BigEndian.PutUint32(b[8:12], e.Param1)
	// b[12:16] reserved, left zero.

	dword4 := (e.FlashAddrInDwords & 0x1fffffff) << 3
	if e.RelativeAddr {
		dword4 |= 1 << 2
	}
	if e.Zipped {
		dword4 |= 1 << 1
	}
	if e.CacheLineCRC {
		dword4 |= 1
	}
	binary.BigEndian.PutUint32(b[16:20], dword4)

	var dword5 uint32
	if e.Encrypted {
		dword5 |= 1 << 31
	}
	if e.DeviceData {
		dword5 |= 1 << 30
	}
	if e.NoCRC {
		dword5 |= 1 << 29
	}
	dword5 |= uint32(e.CRCMode&0x3) << 27
	binary.BigEndian.PutUint32(b[20:24], dword5)

	binary.BigEndian.PutUint16(b[24:26], e.SectionCRC)
	// b[26:30] reserved, left zero.
	binary.BigEndian.PutUint16(b[30:32], e.EntryCRC)

	return b
}

// Unpack deserializes a 32-byte packed TOC entry.
func Unpack(b [TocEntrySize]byte) Entry {
	dword0 := binary.BigEndian.Uint32(b[0:4])
	dword4 := binary.BigEndian.Uint32(b[16:20])
	dword5 := binary.BigEndian.Uint32(b[20:24])

	return Entry{
		Type:              SectionType(dword0 >> 24),
		SizeInDwords:      dword0 & 0x3fffff,
		Param0:            binary.BigEndian.Uint32(b[4:8]),
		Param1:            binary.BigEndian.Uint32(b[8:12]),
		FlashAddrInDwords: (dword4 >> 3) & 0x1fffffff,
		RelativeAddr:      dword4&(1<<2) != 0,
		Zipped:            dword4&(1<<1) != 0,
		CacheLineCRC:      dword4&1 != 0,
		Encrypted:         dword5&(1<<31) != 0,
		DeviceData:        dword5&(1<<30) != 0,
		NoCRC:             dword5&(1<<29) != 0,
		CRCMode:           CRCMode((dword5 >> 27) & 0x3),
		SectionCRC:        binary.BigEndian.Uint16(b[24:26]),
		EntryCRC:          binary.BigEndian.Uint16(b[30:32]),
	}
}

// CRCBytes returns the first 30 bytes of the packed entry, the span
// EntryCRC itself covers.
func (e *Entry) CRCBytes() []byte {
	packed := e.Pack()
	out := make([]byte, 30)
	copy(out, packed[:30])
	return out
}

// SizeBytes is the section's byte length (size_in_dwords * 4).
func (e *Entry) SizeBytes() int64 { return int64(e.SizeInDwords) * 4 }

// FlashAddrBytes is the section's byte address (flash_addr_in_dwords * 4).
func (e *Entry) FlashAddrBytes() int64 { return int64(e.FlashAddrInDwords) * 4 }

// IsEnd reports whether this entry is the TOC-terminating END marker.
func (e *Entry) IsEnd() bool { return e.Type == SectionEnd }
