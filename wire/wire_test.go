package wire

import (
	"testing"

	"github.com/dakota-m/mstflint/crc"
)

func TestEntryPackUnpackBijection(t *testing.T) {
	cases := []Entry{
		{Type: SectionMainCode, SizeInDwords: 0x4000, Param0: 1, Param1: 2, FlashAddrInDwords: 0x1800, RelativeAddr: true, CRCMode: CRCModeInTocEntry, SectionCRC: 0xbeef, EntryCRC: 0xcafe},
		{Type: SectionEnd},
		{Type: SectionDevInfo, DeviceData: true, CRCMode: CRCModeInSection, CacheLineCRC: true, Encrypted: true},
	}

	for _, want := range cases {
		packed := want.Pack()
		got := Unpack(packed)
		repacked := got.Pack()
		if repacked != packed {
			t.Fatalf("pack/unpack not a bijection for %+v: %x vs %x", want, packed, repacked)
		}
	}
}

func TestTocHeaderCRCFixture(t *testing.T) {
	// ITOC header with signature MTFW, the fixed random words,
	// flash_layout_version=1, header CRC over bytes[0..30].
	h := TocHeader{
		Signature:          ITOCSignature,
		RandomWords:        TocRandomWords,
		FlashLayoutVersion: 1,
	}
	h.HeaderCRC = crc.SoftwareCRC16Bytes(h.CRCBytes())

	packed := h.Pack()
	roundTripped := UnpackTocHeader(packed)

	gotCRC := crc.SoftwareCRC16Bytes(roundTripped.CRCBytes())
	if gotCRC != roundTripped.HeaderCRC {
		t.Fatalf("header crc mismatch after round trip: got %04x want %04x", gotCRC, roundTripped.HeaderCRC)
	}

	// Flipping a bit in bytes[0..30] without updating the CRC must be
	// detectable.
	packed[5] ^= 0x01
	corrupted := UnpackTocHeader(packed)
	if crc.SoftwareCRC16Bytes(corrupted.CRCBytes()) == corrupted.HeaderCRC {
		t.Fatalf("expected corrupted header to fail crc check")
	}
}

func TestHWPointerTableRoundTrip(t *testing.T) {
	var table HWPointerTable
	table.Pointers[PtrITOC] = HWPointer{Value: 0x1000, CRC: 0x1234}
	table.Pointers[PtrHashesTable] = HWPointer{Value: HWPointerAbsent, CRC: 0}

	packed := table.Pack()
	got := UnpackHWPointerTable(packed)

	if got != table {
		t.Fatalf("hw pointer table round trip mismatch: got %+v want %+v", got, table)
	}
}
