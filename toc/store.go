package toc

import (
	"sort"

	"github.com/dakota-m/mstflint/crc"
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/flash"
	"github.com/dakota-m/mstflint/image"
	"github.com/dakota-m/mstflint/wire"
)

// Kind distinguishes the two tables of contents.
type Kind int

const (
	KindITOC Kind = iota
	KindDTOC
)

func (k Kind) String() string {
	if k == KindDTOC {
		return "DTOC"
	}
	return "ITOC"
}

// Signature returns the 4-byte header signature this kind requires.
func (k Kind) Signature() [4]byte {
	if k == KindDTOC {
		return wire.DTOCSignature
	}
	return wire.ITOCSignature
}

// SectionEntry bundles a TOC entry with its on-device placement and the
// section's decoded bytes. Entries live in the Store in TOC order, which
// parsing does not re-sort; the END marker is not stored, it is synthesized on pack.
type SectionEntry struct {
	Entry     wire.Entry
	EntryAddr int64 // absolute address of the packed 32-byte entry
	Packed    [wire.TocEntrySize]byte
	Data      []byte // section bytes; nil until read
}

// SectionAddr returns the section's absolute address: relative entries
// are offset by the image start of the active slot, absolute entries are
// used as-is.
func (se *SectionEntry) SectionAddr(imageStart int64) int64 {
	if se.Entry.RelativeAddr {
		return imageStart + se.Entry.FlashAddrBytes()
	}
	return se.Entry.FlashAddrBytes()
}

// Store holds one parsed TOC: its header, where it sits, and its entries
// with their section bytes.
type Store struct {
	Kind       Kind
	Header     wire.TocHeader
	HeaderAddr int64
	Entries    []*SectionEntry

	img *image.Image
}

// Image returns the image this store was parsed from.
func (s *Store) Image() *image.Image { return s.img }

// Find returns the first entry of the given type, or nil.
func (s *Store) Find(t wire.SectionType) *SectionEntry {
	for _, se := range s.Entries {
		if se.Entry.Type == t {
			return se
		}
	}
	return nil
}

// FindAll returns every entry of the given type, in store order.
func (s *Store) FindAll(t wire.SectionType) []*SectionEntry {
	var out []*SectionEntry
	for _, se := range s.Entries {
		if se.Entry.Type == t {
			out = append(out, se)
		}
	}
	return out
}

// indexOf returns the position of the first entry of type t, or -1.
func (s *Store) indexOf(t wire.SectionType) int {
	for i, se := range s.Entries {
		if se.Entry.Type == t {
			return i
		}
	}
	return -1
}

// CheckNoOverlap verifies that no two sections overlap when sorted by
// absolute address, evaluated under both possible slot origins for
// relative entries. Returns an Internal error naming the colliding types
// on violation.
func (s *Store) CheckNoOverlap(chunkSize int64) error {
	for _, origin := range []int64{0, chunkSize} {
		type span struct {
			lo, hi int64
			t      wire.SectionType
		}
		spans := make([]span, 0, len(s.Entries))
		for _, se := range s.Entries {
			lo := se.SectionAddr(origin)
			spans = append(spans, span{lo: lo, hi: lo + se.Entry.SizeBytes(), t: se.Entry.Type})
		}
		sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })
		for i := 1; i < len(spans); i++ {
			if spans[i].lo < spans[i-1].hi {
				return &errkind.Internal{
					Location: "toc.CheckNoOverlap",
					Msg:      spans[i-1].t.String() + " overlaps " + spans[i].t.String(),
				}
			}
		}
	}
	return nil
}

// LastSectionEnd returns the highest end address among entries matching
// deviceData, under slot origin 0. Used for the image-size bounds: the
// last non-device section must leave six sectors of headroom below the
// slot boundary, and the smallest device-data address must stay inside
// the top slot.
func (s *Store) LastSectionEnd(deviceData bool) int64 {
	var end int64
	for _, se := range s.Entries {
		if se.Entry.DeviceData != deviceData {
			continue
		}
		if e := se.Entry.FlashAddrBytes() + se.Entry.SizeBytes(); e > end {
			end = e
		}
	}
	return end
}

// SmallestSectionAddr returns the lowest absolute section address among
// all entries, or -1 if there are none. Callers apply it to the DTOC,
// whose entries are device data.
func (s *Store) SmallestSectionAddr() int64 {
	min := int64(-1)
	for _, se := range s.Entries {
		a := se.Entry.FlashAddrBytes()
		if min < 0 || a < min {
			min = a
		}
	}
	return min
}

// ensureData lazy-loads an entry's section bytes from the device at its
// current address. Mutations that refresh CRCs must call this before
// touching an entry a partial parse left unread.
func (s *Store) ensureData(se *SectionEntry) error {
	if se.Data != nil {
		return nil
	}
	data := make([]byte, se.Entry.SizeBytes())
	if err := s.img.Dev.Read(se.SectionAddr(s.img.Start), data, len(data)); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	se.Data = data
	return nil
}

// recomputeCRCs applies the CRC recomputation policy to one entry whose
// Data was just changed: refresh the section CRC according to the entry's
// CRC mode, then the entry CRC, then the packed bytes.
//
// An encrypted section with cache-line CRC is treated as NOCRC here; its
// integrity lives in per-cache-line CRCs outside this layer.
func (se *SectionEntry) recomputeCRCs() {
	mode := se.Entry.CRCMode
	if se.Entry.NoCRC || (se.Entry.CacheLineCRC && se.Entry.Encrypted) {
		mode = wire.CRCModeNoCRC
	}
	switch mode {
	case wire.CRCModeInTocEntry:
		se.Entry.SectionCRC = crc.SoftwareCRC16Bytes(se.Data)
	case wire.CRCModeInSection:
		if n := len(se.Data); n >= 4 {
			sum := crc.SoftwareCRC16Bytes(se.Data[:n-4])
			se.Data[n-4] = 0
			se.Data[n-3] = 0
			se.Data[n-2] = byte(sum >> 8)
			se.Data[n-1] = byte(sum)
		}
	}
	se.Entry.EntryCRC = crc.SoftwareCRC16Bytes(se.Entry.CRCBytes())
	se.Packed = se.Entry.Pack()
}

// packHeader refreshes the header CRC and returns the packed header.
func (s *Store) packHeader() [wire.TocHeaderSize]byte {
	s.Header.HeaderCRC = crc.SoftwareCRC16Bytes(s.Header.CRCBytes())
	return s.Header.Pack()
}

// Pack serializes the whole TOC — header, entries in store order, then
// the all-0xFF END marker — ready to be written at HeaderAddr.
func (s *Store) Pack() []byte {
	out := make([]byte, 0, wire.TocHeaderSize+(len(s.Entries)+1)*wire.TocEntrySize)
	hdr := s.packHeader()
	out = append(out, hdr[:]...)
	for _, se := range s.Entries {
		out = append(out, se.Packed[:]...)
	}
	var end [wire.TocEntrySize]byte
	for i := range end {
		end[i] = 0xFF
	}
	out = append(out, end[:]...)
	return out
}

// WriteTo rewrites the TOC on dev at its header address, then writes
// every entry's section bytes at its resolved address. The write is
// physical; callers sequencing a fail-safe burn install the convertor
// themselves and call the write steps in burn order instead.
func (s *Store) WriteTo(dev flash.Device) error {
	packed := s.Pack()
	if err := dev.Write(s.HeaderAddr, packed, len(packed), true); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	for _, se := range s.Entries {
		if se.Data == nil {
			continue
		}
		addr := se.SectionAddr(s.img.Start)
		if err := dev.Write(addr, se.Data, len(se.Data), true); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
	}
	return nil
}

func roundUpToSector(n, sector int64) int64 {
	if sector <= 0 {
		return n
	}
	return (n + sector - 1) / sector * sector
}
