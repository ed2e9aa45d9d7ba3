package secureboot

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"

	"github.com/dakota-m/mstflint/crc"
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/image"
	"github.com/dakota-m/mstflint/toc"
	"github.com/dakota-m/mstflint/wire"
)

// HTOC layout: a 16-byte header, up to MaxHTOCEntries fixed-size entries,
// and a trailing dword whose low 16 bits CRC the header plus entries.
const (
	htocHeaderSize = 16
	htocEntrySize  = 8 + sha512.Size // type u32, flags u32, digest
	// MaxHTOCEntries bounds the hash table the same way MaxTocEntries
	// bounds a TOC.
	MaxHTOCEntries = 28
)

// HTOCSignature opens the hashes-table header.
var HTOCSignature = [4]byte{'H', 'T', 'O', 'C'}

// HTOCEntry maps one section type to its SHA-512 digest. The ITOC itself
// is represented with the SectionITOC type.
type HTOCEntry struct {
	Type   wire.SectionType
	Digest [sha512.Size]byte
}

// HTOC is the decoded hashes table plus its placement.
type HTOC struct {
	Addr    int64
	Version uint32
	Entries []HTOCEntry
}

// Find returns the entry for a section type, or nil.
func (h *HTOC) Find(t wire.SectionType) *HTOCEntry {
	for i := range h.Entries {
		if h.Entries[i].Type == t {
			return &h.Entries[i]
		}
	}
	return nil
}

func (h *HTOC) size() int {
	return htocHeaderSize + len(h.Entries)*htocEntrySize + 4
}

// Pack serializes the table, recomputing the header CRC and the trailing
// body CRC.
func (h *HTOC) Pack() []byte {
	out := make([]byte, h.size())
	copy(out[0:4], HTOCSignature[:])
	binary.BigEndian.PutUint32(out[4:8], h.Version)
	binary.BigEndian.PutUint32(out[8:12], uint32(len(h.Entries)))
	binary.BigEndian.PutUint16(out[14:16], crc.SoftwareCRC16Bytes(out[:14]))
	for i, e := range h.Entries {
		off := htocHeaderSize + i*htocEntrySize
		binary.BigEndian.PutUint32(out[off:], uint32(e.Type))
		copy(out[off+8:], e.Digest[:])
	}
	body := out[:len(out)-4]
	binary.BigEndian.PutUint16(out[len(out)-2:], crc.SoftwareCRC16Bytes(body))
	return out
}

// ReadHTOC loads and verifies the hashes table named by the hardware
// pointer table: header CRC first, then the entry array, then the body
// CRC in the trailing dword.
func ReadHTOC(img *image.Image, onVerify toc.VerifyFunc) (*HTOC, error) {
	p := img.HWPointers.Pointers[wire.PtrHashesTable]
	if p.Absent() || p.Value == 0 {
		return nil, &errkind.Internal{Location: "secureboot.ReadHTOC", Msg: "no hashes-table pointer"}
	}
	addr := img.Start + int64(p.Value)*4

	var hdr [htocHeaderSize]byte
	if err := img.Dev.Read(addr, hdr[:], len(hdr)); err != nil {
		return nil, &errkind.FlashOp{Inner: err}
	}
	if !bytes.Equal(hdr[0:4], HTOCSignature[:]) {
		return nil, &errkind.BadCrc{Where: errkind.WhereHashes}
	}
	wantHdr := crc.SoftwareCRC16Bytes(hdr[:14])
	gotHdr := binary.BigEndian.Uint16(hdr[14:16])
	if onVerify != nil {
		onVerify(errkind.WhereHashes, addr, htocHeaderSize, gotHdr, wantHdr, false)
	}
	if wantHdr != gotHdr {
		return nil, &errkind.BadCrc{Where: errkind.WhereHashes, Expected: wantHdr, Actual: gotHdr}
	}

	count := binary.BigEndian.Uint32(hdr[8:12])
	if count > MaxHTOCEntries {
		count = MaxHTOCEntries
	}

	h := &HTOC{
		Addr:    addr,
		Version: binary.BigEndian.Uint32(hdr[4:8]),
		Entries: make([]HTOCEntry, count),
	}
	raw := make([]byte, h.size())
	if err := img.Dev.Read(addr, raw, len(raw)); err != nil {
		return nil, &errkind.FlashOp{Inner: err}
	}
	for i := range h.Entries {
		off := htocHeaderSize + i*htocEntrySize
		h.Entries[i].Type = wire.SectionType(binary.BigEndian.Uint32(raw[off:]))
		copy(h.Entries[i].Digest[:], raw[off+8:off+8+sha512.Size])
	}

	wantBody := crc.SoftwareCRC16Bytes(raw[:len(raw)-4])
	gotBody := binary.BigEndian.Uint16(raw[len(raw)-2:])
	if onVerify != nil {
		onVerify(errkind.WhereHashes, addr, int64(len(raw)), gotBody, wantBody, false)
	}
	if wantBody != gotBody {
		return nil, &errkind.BadCrc{Where: errkind.WhereHashes, Expected: wantBody, Actual: gotBody}
	}
	return h, nil
}

// VerifyHashesTable checks the digest chain: every ITOC section whose
// type appears in the HTOC must hash to its stored digest, and the HTOC
// must carry a digest for the packed ITOC itself.
func VerifyHashesTable(img *image.Image, itoc *toc.Store, onVerify toc.VerifyFunc) error {
	h, err := ReadHTOC(img, onVerify)
	if err != nil {
		return err
	}

	for _, se := range itoc.Entries {
		he := h.Find(se.Entry.Type)
		if he == nil || se.Data == nil {
			continue
		}
		if sha512.Sum512(se.Data) != he.Digest {
			return &errkind.BadCrc{Where: errkind.WhereHashes}
		}
	}

	ie := h.Find(wire.SectionITOC)
	if ie == nil {
		return &errkind.BadCrc{Where: errkind.WhereHashes}
	}
	if sha512.Sum512(itoc.Pack()) != ie.Digest {
		return &errkind.BadCrc{Where: errkind.WhereHashes}
	}
	return nil
}

// UpdateSectionHash refreshes a modified section's digest in the HTOC,
// recomputes the ITOC digest, and writes the table back with a fresh
// trailing CRC. Call after any section mutation on an HTOC image.
func UpdateSectionHash(img *image.Image, itoc *toc.Store, t wire.SectionType, data []byte) error {
	h, err := ReadHTOC(img, nil)
	if err != nil {
		return err
	}
	he := h.Find(t)
	if he == nil {
		return &errkind.Internal{Location: "secureboot.UpdateSectionHash", Msg: "section type not in hashes table: " + t.String()}
	}
	he.Digest = sha512.Sum512(data)

	if ie := h.Find(wire.SectionITOC); ie != nil {
		ie.Digest = sha512.Sum512(itoc.Pack())
	}
	return writeHTOC(img, h)
}

// writeHTOC rewrites the table in place with a read-modify-write of the
// covering sectors; the HTOC may share its sector with neighbors that
// must survive the erase.
func writeHTOC(img *image.Image, h *HTOC) error {
	packed := h.Pack()
	sector := img.Dev.SectorSize()
	lo := h.Addr / sector * sector
	hi := (h.Addr + int64(len(packed)) + sector - 1) / sector * sector

	span := make([]byte, hi-lo)
	if err := img.Dev.Read(lo, span, len(span)); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	copy(span[h.Addr-lo:], packed)
	for a := lo; a < hi; a += sector {
		if err := img.Dev.EraseSector(a); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
	}
	if err := img.Dev.Write(lo, span, len(span), true); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	return nil
}
