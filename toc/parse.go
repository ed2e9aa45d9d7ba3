package toc

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dakota-m/mstflint/crc"
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/image"
	"github.com/dakota-m/mstflint/wire"
)

// VerifyFunc observes every CRC comparison the parser makes. ignore=true
// means the mismatch (or anomaly) was accepted and parsing continued.
type VerifyFunc func(what errkind.Where, addr, size int64, actual, expected uint16, ignore bool)

// ParseOptions tunes a TOC walk.
type ParseOptions struct {
	// OnVerify, when non-nil, is invoked for every CRC check.
	OnVerify VerifyFunc
	// IgnoreCRC downgrades CRC mismatches from errors to OnVerify calls
	// with ignore=true.
	IgnoreCRC bool
	// Interesting, when non-nil, restricts section reads to the listed
	// types; other sections keep Data==nil and skip their body CRC
	// check. A nil map reads and checks everything.
	Interesting map[wire.SectionType]bool
}

func (o *ParseOptions) verify(what errkind.Where, addr, size int64, actual, expected uint16, ignore bool) {
	if o != nil && o.OnVerify != nil {
		o.OnVerify(what, addr, size, actual, expected, ignore)
	}
}

func (o *ParseOptions) wants(t wire.SectionType) bool {
	if o == nil || o.Interesting == nil {
		return true
	}
	return o.Interesting[t]
}

// itocCandidateAddr computes where the ITOC header should start. FS4
// images name it in the hardware pointer table; FS3 places it after the
// boot area plus boot code plus one sector of padding.
func itocCandidateAddr(img *image.Image) (int64, error) {
	if img.Variant == image.VariantFS4 {
		if !img.HWPointersReady {
			return 0, &errkind.Internal{Location: "toc.itocCandidateAddr", Msg: "FS4 hardware pointers not parsed"}
		}
		p := img.HWPointers.Pointers[wire.PtrITOC]
		if p.Absent() || p.Value == 0 {
			return 0, &errkind.NoValidItoc{}
		}
		return img.Start + int64(p.Value)*4, nil
	}
	sector := img.Dev.SectorSize()
	raw := img.Start + 16 + wire.BootAreaSize + img.Boot.BootCodeSizeBytes() + sector
	return roundUpToSector(raw, sector), nil
}

// ParseITOC locates, verifies and loads the ITOC. The header is tried at
// its computed sector and, if the signature does not match there, at the
// next sector — older layouts sometimes leave the first ITOC sector
// empty. Which of the two was used is recorded on img.FirstITOCEmpty so
// a fail-safe rewrite can alternate between them.
func ParseITOC(img *image.Image, opts *ParseOptions) (*Store, error) {
	addr, err := itocCandidateAddr(img)
	if err != nil {
		return nil, err
	}
	sector := img.Dev.SectorSize()

	hdr, herr := readHeader(img, addr, wire.ITOCSignature)
	if herr != nil {
		if _, bad := herr.(*errkind.NoValidItoc); !bad {
			return nil, herr
		}
		addr += sector
		hdr, herr = readHeader(img, addr, wire.ITOCSignature)
		if herr != nil {
			return nil, &errkind.NoValidItoc{}
		}
		img.FirstITOCEmpty = true
	}

	s := &Store{Kind: KindITOC, Header: hdr, HeaderAddr: addr, img: img}
	if err := s.parseEntries(opts); err != nil {
		return nil, errors.Wrap(err, "parse ITOC entries")
	}
	return s, nil
}

// ParseDTOC loads the DTOC from its fixed home in the last flash sector
// and enforces the device-data integrity rules: MFG_INFO must exist, and
// exactly one of the two DEV_INFO copies must carry the valid signature
// quartet.
func ParseDTOC(img *image.Image, opts *ParseOptions) (*Store, error) {
	addr := img.Dev.Size() - img.Dev.SectorSize()
	hdr, err := readHeader(img, addr, wire.DTOCSignature)
	if err != nil {
		return nil, err
	}

	s := &Store{Kind: KindDTOC, Header: hdr, HeaderAddr: addr, img: img}
	if err := s.parseEntries(opts); err != nil {
		return nil, errors.Wrap(err, "parse DTOC entries")
	}

	if s.Find(wire.SectionMFGInfo) == nil {
		return nil, &errkind.NoMfgInfo{}
	}
	switch n := s.ValidDevInfoCount(); {
	case n == 0:
		return nil, &errkind.NoValidDeviceInfo{}
	case n > 1:
		return nil, &errkind.TwoValidDeviceInfo{}
	}
	return s, nil
}

// readHeader reads and validates a TOC header at addr: signature, the
// three fixed random words, and the header CRC.
func readHeader(img *image.Image, addr int64, sig [4]byte) (wire.TocHeader, error) {
	var buf [wire.TocHeaderSize]byte
	if err := img.Dev.Read(addr, buf[:], len(buf)); err != nil {
		return wire.TocHeader{}, &errkind.FlashOp{Inner: err}
	}
	hdr := wire.UnpackTocHeader(buf)
	if !hdr.MatchesSignature(sig) || hdr.RandomWords != wire.TocRandomWords {
		return wire.TocHeader{}, &errkind.NoValidItoc{}
	}
	want := crc.SoftwareCRC16Bytes(hdr.CRCBytes())
	if want != hdr.HeaderCRC {
		return wire.TocHeader{}, &errkind.BadCrc{Where: errkind.WhereTocHeader, Expected: want, Actual: hdr.HeaderCRC}
	}
	return hdr, nil
}

// parseEntries walks the entry array after the header until the END
// marker, checking entry CRCs and section CRCs as it goes.
func (s *Store) parseEntries(opts *ParseOptions) error {
	addr := s.HeaderAddr + wire.TocHeaderSize
	for i := 0; i < wire.MaxTocEntries; i++ {
		var buf [wire.TocEntrySize]byte
		if err := s.img.Dev.Read(addr, buf[:], len(buf)); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
		e := wire.Unpack(buf)
		if e.IsEnd() {
			return nil
		}

		want := crc.SoftwareCRC16Bytes(e.CRCBytes())
		if want != e.EntryCRC {
			opts.verify(errkind.WhereTocEntry, addr, wire.TocEntrySize, e.EntryCRC, want, opts != nil && opts.IgnoreCRC)
			if opts == nil || !opts.IgnoreCRC {
				return &errkind.BadCrc{Where: errkind.WhereTocEntry, Expected: want, Actual: e.EntryCRC}
			}
		} else {
			opts.verify(errkind.WhereTocEntry, addr, wire.TocEntrySize, e.EntryCRC, want, false)
		}

		// Some broken-but-recoverable binaries clear device_data on
		// entries whose type is plainly a device-data type. Accept
		// them, but surface the anomaly.
		if s.Kind == KindITOC && !e.DeviceData && isDeviceDataType(e.Type) {
			opts.verify(errkind.WhereTocEntry, addr, wire.TocEntrySize, e.EntryCRC, e.EntryCRC, true)
		}

		se := &SectionEntry{Entry: e, EntryAddr: addr, Packed: buf}
		if opts.wants(e.Type) {
			if err := s.readSection(se, opts); err != nil {
				return err
			}
		}
		s.Entries = append(s.Entries, se)
		addr += wire.TocEntrySize
	}
	return &errkind.Internal{Location: "toc.parseEntries", Msg: "no END marker within entry limit"}
}

// readSection loads a section's bytes and applies its CRC mode.
func (s *Store) readSection(se *SectionEntry, opts *ParseOptions) error {
	n := int(se.Entry.SizeBytes())
	if n == 0 {
		se.Data = []byte{}
		return nil
	}
	addr := se.SectionAddr(s.img.Start)
	data := make([]byte, n)
	if err := s.img.Dev.Read(addr, data, n); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	se.Data = data

	mode := se.Entry.CRCMode
	if se.Entry.NoCRC || (se.Entry.CacheLineCRC && se.Entry.Encrypted) {
		mode = wire.CRCModeNoCRC
	}
	switch mode {
	case wire.CRCModeInTocEntry:
		actual := crc.SoftwareCRC16Bytes(data)
		ok := actual == se.Entry.SectionCRC
		opts.verify(errkind.WhereSection, addr, int64(n), se.Entry.SectionCRC, actual, !ok && opts != nil && opts.IgnoreCRC)
		if !ok && (opts == nil || !opts.IgnoreCRC) {
			return &errkind.BadCrc{Where: errkind.WhereSection, Expected: actual, Actual: se.Entry.SectionCRC}
		}
	case wire.CRCModeInSection:
		if n < 4 {
			return &errkind.Internal{Location: "toc.readSection", Msg: "INSECTION CRC on section shorter than one dword"}
		}
		actual := crc.SoftwareCRC16Bytes(data[:n-4])
		stored := binary.BigEndian.Uint16(data[n-2:])
		ok := actual == stored
		opts.verify(errkind.WhereSection, addr, int64(n), stored, actual, !ok && opts != nil && opts.IgnoreCRC)
		if !ok && (opts == nil || !opts.IgnoreCRC) {
			return &errkind.BadCrc{Where: errkind.WhereSection, Expected: actual, Actual: stored}
		}
	}
	return nil
}

// ValidDevInfoCount counts DEV_INFO copies whose first four dwords equal
// the signature quartet. Entries whose bytes were not read count as
// invalid.
func (s *Store) ValidDevInfoCount() int {
	count := 0
	for _, se := range s.FindAll(wire.SectionDevInfo) {
		if DevInfoHasValidSignature(se.Data) {
			count++
		}
	}
	return count
}

// DevInfoHasValidSignature reports whether data starts with the DEV_INFO
// signature quartet.
func DevInfoHasValidSignature(data []byte) bool {
	if len(data) < 16 {
		return false
	}
	for i, want := range wire.DevInfoSignature {
		if binary.BigEndian.Uint32(data[i*4:]) != want {
			return false
		}
	}
	return true
}

func isDeviceDataType(t wire.SectionType) bool {
	for _, d := range wire.DeviceDataSectionTypes {
		if t == d {
			return true
		}
	}
	return false
}
