package toc

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dakota-m/mstflint/crc"
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/flash"
	"github.com/dakota-m/mstflint/image"
	"github.com/dakota-m/mstflint/wire"
)

const (
	testSector = int64(0x1000)
	testSlot   = int64(0x200000)
	// With boot code size 0, the first ITOC candidate sector lands here.
	testITOCAddr = int64(0x2000)
)

type fixtureSection struct {
	typ      wire.SectionType
	addr     int64 // relative (ITOC) or absolute (DTOC) byte address
	data     []byte
	mode     wire.CRCMode
	devData  bool
	relative bool
}

func packEntry(fs fixtureSection) wire.Entry {
	e := wire.Entry{
		Type:              fs.typ,
		SizeInDwords:      uint32(len(fs.data) / 4),
		FlashAddrInDwords: uint32(fs.addr / 4),
		RelativeAddr:      fs.relative,
		DeviceData:        fs.devData,
		CRCMode:           fs.mode,
	}
	switch fs.mode {
	case wire.CRCModeInTocEntry:
		e.SectionCRC = crc.SoftwareCRC16Bytes(fs.data)
	case wire.CRCModeInSection:
		sum := crc.SoftwareCRC16Bytes(fs.data[:len(fs.data)-4])
		binary.BigEndian.PutUint16(fs.data[len(fs.data)-2:], sum)
	}
	e.EntryCRC = crc.SoftwareCRC16Bytes(e.CRCBytes())
	return e
}

func writeToc(dev flash.Device, hdrAddr int64, sig [4]byte, sections []fixtureSection, imgStart int64) {
	hdr := wire.TocHeader{Signature: sig, RandomWords: wire.TocRandomWords, FlashLayoutVersion: 1}
	hdr.HeaderCRC = crc.SoftwareCRC16Bytes(hdr.CRCBytes())
	packed := hdr.Pack()
	_ = dev.Write(hdrAddr, packed[:], len(packed), true)

	addr := hdrAddr + wire.TocHeaderSize
	for _, fs := range sections {
		e := packEntry(fs)
		pe := e.Pack()
		_ = dev.Write(addr, pe[:], len(pe), true)
		secAddr := fs.addr
		if fs.relative {
			secAddr += imgStart
		}
		_ = dev.Write(secAddr, fs.data, len(fs.data), true)
		addr += wire.TocEntrySize
	}
	var end [wire.TocEntrySize]byte
	for i := range end {
		end[i] = 0xFF
	}
	_ = dev.Write(addr, end[:], len(end), true)
}

func sectionBytes(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func devInfoBytes(valid bool) []byte {
	b := make([]byte, 0x200)
	if valid {
		for i, w := range wire.DevInfoSignature {
			binary.BigEndian.PutUint32(b[i*4:], w)
		}
	}
	return b
}

func newTestImage(t *testing.T) (*image.Image, *flash.MemoryFlash) {
	t.Helper()
	dev := flash.NewMemoryFlash(2*testSlot, testSector)
	_ = dev.Write(0, wire.MagicPattern[:], len(wire.MagicPattern), true)
	boot := wire.BootArea{ChunkLog2: 21, VerMajor: 1}
	pb := boot.Pack()
	_ = dev.Write(16, pb[:], len(pb), true)
	img, err := image.OpenAt(dev, image.VariantFS3, 0)
	if err != nil {
		t.Fatalf("open image: %v", err)
	}
	return img, dev
}

func TestParseITOCVerifiesEntriesAndSections(t *testing.T) {
	img, dev := newTestImage(t)
	writeToc(dev, testITOCAddr, wire.ITOCSignature, []fixtureSection{
		{typ: wire.SectionPCICode, addr: 0x5000, data: sectionBytes(0x1000, 0xAA), mode: wire.CRCModeInTocEntry, relative: true},
		{typ: wire.SectionMainCode, addr: 0x6000, data: sectionBytes(0x2000, 0xBB), mode: wire.CRCModeInSection, relative: true},
	}, 0)

	s, err := ParseITOC(img, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(s.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(s.Entries))
	}
	if img.FirstITOCEmpty {
		t.Fatalf("first ITOC sector was populated, flag should be false")
	}
	if got := s.Entries[1].Entry.Type; got != wire.SectionMainCode {
		t.Fatalf("entry order wrong: got %v", got)
	}
}

func TestParseITOCSecondSectorFallback(t *testing.T) {
	img, dev := newTestImage(t)
	writeToc(dev, testITOCAddr+testSector, wire.ITOCSignature, []fixtureSection{
		{typ: wire.SectionPCICode, addr: 0x5000, data: sectionBytes(0x100, 0x11), mode: wire.CRCModeInTocEntry, relative: true},
	}, 0)

	s, err := ParseITOC(img, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !img.FirstITOCEmpty {
		t.Fatalf("expected FirstITOCEmpty when header lives in the second candidate sector")
	}
	if s.HeaderAddr != testITOCAddr+testSector {
		t.Fatalf("wrong header addr 0x%x", s.HeaderAddr)
	}
}

func TestParseITOCNoHeaderAnywhere(t *testing.T) {
	img, _ := newTestImage(t)

	_, err := ParseITOC(img, nil)
	if _, ok := err.(*errkind.NoValidItoc); !ok {
		t.Fatalf("expected NoValidItoc, got %v", err)
	}
}

func TestParseITOCEntryCRCMismatch(t *testing.T) {
	img, dev := newTestImage(t)
	writeToc(dev, testITOCAddr, wire.ITOCSignature, []fixtureSection{
		{typ: wire.SectionPCICode, addr: 0x5000, data: sectionBytes(0x100, 0x11), mode: wire.CRCModeInTocEntry, relative: true},
	}, 0)
	// Clear one bit of the entry's type byte without updating the entry
	// CRC. NOR writes can only clear bits, so AND in a mask.
	entryAddr := testITOCAddr + wire.TocHeaderSize
	_ = dev.Write(entryAddr, []byte{0xFE}, 1, true)

	_, err := ParseITOC(img, nil)
	var bad *errkind.BadCrc
	if !errors.As(err, &bad) || bad.Where != errkind.WhereTocEntry {
		t.Fatalf("expected toc_entry BadCrc, got %v", err)
	}
}

func TestParseITOCIgnoreCRCReportsButContinues(t *testing.T) {
	img, dev := newTestImage(t)
	writeToc(dev, testITOCAddr, wire.ITOCSignature, []fixtureSection{
		{typ: wire.SectionPCICode, addr: 0x5000, data: sectionBytes(0x100, 0x11), mode: wire.CRCModeInTocEntry, relative: true},
	}, 0)
	_ = dev.Write(testITOCAddr+wire.TocHeaderSize, []byte{0xFE}, 1, true)

	var ignored int
	opts := &ParseOptions{
		IgnoreCRC: true,
		OnVerify: func(what errkind.Where, addr, size int64, actual, expected uint16, ignore bool) {
			if ignore {
				ignored++
			}
		},
	}
	if _, err := ParseITOC(img, opts); err != nil {
		t.Fatalf("expected ignore-crc parse to succeed, got %v", err)
	}
	if ignored == 0 {
		t.Fatalf("expected at least one ignored verify callback")
	}
}

func TestParseDTOCRules(t *testing.T) {
	dtocAddr := 2*testSlot - testSector

	cases := []struct {
		name     string
		sections []fixtureSection
		wantErr  func(error) bool
	}{
		{
			name: "healthy",
			sections: []fixtureSection{
				{typ: wire.SectionMFGInfo, addr: 0x3f0000, data: sectionBytes(0x140, 0x22), mode: wire.CRCModeInTocEntry, devData: true},
				{typ: wire.SectionDevInfo, addr: 0x3f1000, data: devInfoBytes(true), mode: wire.CRCModeInTocEntry, devData: true},
				{typ: wire.SectionDevInfo, addr: 0x3f2000, data: devInfoBytes(false), mode: wire.CRCModeInTocEntry, devData: true},
			},
			wantErr: func(err error) bool { return err == nil },
		},
		{
			name: "missing mfg info",
			sections: []fixtureSection{
				{typ: wire.SectionDevInfo, addr: 0x3f1000, data: devInfoBytes(true), mode: wire.CRCModeInTocEntry, devData: true},
				{typ: wire.SectionDevInfo, addr: 0x3f2000, data: devInfoBytes(false), mode: wire.CRCModeInTocEntry, devData: true},
			},
			wantErr: func(err error) bool { _, ok := err.(*errkind.NoMfgInfo); return ok },
		},
		{
			name: "no valid dev info",
			sections: []fixtureSection{
				{typ: wire.SectionMFGInfo, addr: 0x3f0000, data: sectionBytes(0x140, 0x22), mode: wire.CRCModeInTocEntry, devData: true},
				{typ: wire.SectionDevInfo, addr: 0x3f1000, data: devInfoBytes(false), mode: wire.CRCModeInTocEntry, devData: true},
				{typ: wire.SectionDevInfo, addr: 0x3f2000, data: devInfoBytes(false), mode: wire.CRCModeInTocEntry, devData: true},
			},
			wantErr: func(err error) bool { _, ok := err.(*errkind.NoValidDeviceInfo); return ok },
		},
		{
			name: "two valid dev info",
			sections: []fixtureSection{
				{typ: wire.SectionMFGInfo, addr: 0x3f0000, data: sectionBytes(0x140, 0x22), mode: wire.CRCModeInTocEntry, devData: true},
				{typ: wire.SectionDevInfo, addr: 0x3f1000, data: devInfoBytes(true), mode: wire.CRCModeInTocEntry, devData: true},
				{typ: wire.SectionDevInfo, addr: 0x3f2000, data: devInfoBytes(true), mode: wire.CRCModeInTocEntry, devData: true},
			},
			wantErr: func(err error) bool { _, ok := err.(*errkind.TwoValidDeviceInfo); return ok },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img, dev := newTestImage(t)
			writeToc(dev, dtocAddr, wire.DTOCSignature, tc.sections, 0)
			_, err := ParseDTOC(img, nil)
			if !tc.wantErr(err) {
				t.Fatalf("unexpected result: %v", err)
			}
		})
	}
}

func TestStoreCheckNoOverlap(t *testing.T) {
	img, dev := newTestImage(t)
	writeToc(dev, testITOCAddr, wire.ITOCSignature, []fixtureSection{
		{typ: wire.SectionPCICode, addr: 0x5000, data: sectionBytes(0x1000, 0xAA), mode: wire.CRCModeInTocEntry, relative: true},
		{typ: wire.SectionMainCode, addr: 0x6000, data: sectionBytes(0x2000, 0xBB), mode: wire.CRCModeInTocEntry, relative: true},
	}, 0)

	s, err := ParseITOC(img, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := s.CheckNoOverlap(testSlot); err != nil {
		t.Fatalf("expected no overlap, got %v", err)
	}

	// Force an overlap and re-check.
	s.Entries[1].Entry.FlashAddrInDwords = s.Entries[0].Entry.FlashAddrInDwords
	if err := s.CheckNoOverlap(testSlot); err == nil {
		t.Fatalf("expected overlap error")
	}
}
