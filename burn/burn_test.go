package burn

import (
	"bytes"
	"context"
	"testing"

	"github.com/dakota-m/mstflint/crc"
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/flash"
	"github.com/dakota-m/mstflint/image"
	"github.com/dakota-m/mstflint/query"
	"github.com/dakota-m/mstflint/wire"
)

const (
	testSector = int64(0x1000)
	testSlot   = int64(0x200000)
	itocAddr   = int64(0x2000)
)

type imageParams struct {
	psid  string
	major uint16
	minor uint16
	sub   uint16
	hwids []uint32
}

// writeImageAt lays a minimal valid image down at start: magic, boot
// area, ITOC with an IMAGE_INFO and a MAIN_CODE section.
func writeImageAt(dev flash.Device, start int64, p imageParams) {
	_ = dev.Write(start, wire.MagicPattern[:], len(wire.MagicPattern), true)
	boot := wire.BootArea{ChunkLog2: 21, VerMajor: 1}
	pb := boot.Pack()
	_ = dev.Write(start+16, pb[:], len(pb), true)

	ii := query.PackImageInfo(&query.ImageInfo{
		FWVersion:      query.FWVersion{Major: p.major, Minor: p.minor, Subminor: p.sub, Year: 2026, Month: 8, Day: 5},
		PSID:           p.psid,
		SupportedHWIDs: p.hwids,
	})
	main := make([]byte, 0x1000)
	for i := range main {
		main[i] = 0xB0
	}

	hdr := wire.TocHeader{Signature: wire.ITOCSignature, RandomWords: wire.TocRandomWords, FlashLayoutVersion: 1}
	hdr.HeaderCRC = crc.SoftwareCRC16Bytes(hdr.CRCBytes())
	ph := hdr.Pack()
	_ = dev.Write(start+itocAddr, ph[:], len(ph), true)

	entryAddr := start + itocAddr + wire.TocHeaderSize
	for _, sec := range []struct {
		typ  wire.SectionType
		addr int64
		data []byte
	}{
		{wire.SectionImageInfo, 0x5000, ii},
		{wire.SectionMainCode, 0x6000, main},
	} {
		e := wire.Entry{
			Type:              sec.typ,
			SizeInDwords:      uint32(len(sec.data) / 4),
			FlashAddrInDwords: uint32(sec.addr / 4),
			RelativeAddr:      true,
			CRCMode:           wire.CRCModeInTocEntry,
			SectionCRC:        crc.SoftwareCRC16Bytes(sec.data),
		}
		e.EntryCRC = crc.SoftwareCRC16Bytes(e.CRCBytes())
		pe := e.Pack()
		_ = dev.Write(entryAddr, pe[:], len(pe), true)
		_ = dev.Write(start+sec.addr, sec.data, len(sec.data), true)
		entryAddr += wire.TocEntrySize
	}
	var end [wire.TocEntrySize]byte
	for i := range end {
		end[i] = 0xFF
	}
	_ = dev.Write(entryAddr, end[:], len(end), true)
}

func openEngine(t *testing.T, dev flash.Device, start int64) *query.Engine {
	t.Helper()
	img, err := image.OpenAt(dev, image.VariantFS3, start)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := query.New(img)
	if _, err := e.Query(true); err != nil {
		t.Fatalf("query: %v", err)
	}
	return e
}

func newSource(t *testing.T, p imageParams) *query.Engine {
	t.Helper()
	buf := make([]byte, testSlot)
	for i := range buf {
		buf[i] = 0xFF
	}
	dev := flash.NewMemoryImage(buf, testSector)
	writeImageAt(dev, 0, p)
	return openEngine(t, dev, 0)
}

func newTarget(t *testing.T, p imageParams) (*flash.MemoryFlash, *query.Engine) {
	t.Helper()
	dev := flash.NewMemoryFlash(2*testSlot, testSector)
	writeImageAt(dev, 0, p)
	return dev, openEngine(t, dev, 0)
}

func hasMagic(dev *flash.MemoryFlash, addr int64) bool {
	return bytes.Equal(dev.RawBytes()[addr:addr+16], wire.MagicPattern[:])
}

func baseParams() imageParams {
	return imageParams{psid: "MT_0000000001", major: 16, minor: 30, sub: 1000, hwids: []uint32{0x20d}}
}

// TestFailsafeBurnSlotSwap: device active in slot 0, burn lands in slot
// 1, and after the commit+invalidate steps only the new magic remains.
// At no point during the burn is the flash left without any magic.
func TestFailsafeBurnSlotSwap(t *testing.T) {
	dev, tgt := newTarget(t, baseParams())
	src := newSource(t, baseParams())

	sawNoMagic := false
	cb := &query.Callbacks{
		Progress: func(stage string, done, total int64) bool {
			if !hasMagic(dev, 0) && !hasMagic(dev, testSlot) {
				sawNoMagic = true
			}
			return true
		},
	}
	p := New(WithCallbacks(cb))
	if err := p.Burn(context.Background(), dev, tgt, src); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if !hasMagic(dev, testSlot) {
		t.Fatalf("new slot magic missing after burn")
	}
	if hasMagic(dev, 0) {
		t.Fatalf("old slot magic not invalidated")
	}
	if sawNoMagic {
		t.Fatalf("flash was observed with no magic at all mid-burn")
	}

	// The new image must verify.
	if _, err := image.OpenAt(dev, image.VariantFS3, testSlot); err != nil {
		t.Fatalf("burnt image does not open: %v", err)
	}
}

// TestBurnCrashLeavesBootableImage cancels the burn at every stage in
// turn and checks some bootable image still exists on flash.
func TestBurnCrashLeavesBootableImage(t *testing.T) {
	stages := []string{StageWriteImage, StageCommit, StageInvalidate}
	for _, crashAt := range stages {
		t.Run(crashAt, func(t *testing.T) {
			dev, tgt := newTarget(t, baseParams())
			src := newSource(t, baseParams())

			cb := &query.Callbacks{
				Progress: func(stage string, done, total int64) bool {
					return stage != crashAt
				},
			}
			p := New(WithCallbacks(cb))
			err := p.Burn(context.Background(), dev, tgt, src)
			if err == nil {
				t.Fatalf("expected cancellation error")
			}

			bootable := false
			for _, start := range []int64{0, testSlot} {
				if !hasMagic(dev, start) {
					continue
				}
				if _, oerr := image.OpenAt(dev, image.VariantFS3, start); oerr == nil {
					bootable = true
				}
			}
			if !bootable {
				t.Fatalf("no bootable image after crash at %s", crashAt)
			}
		})
	}
}

func TestBurnOntoBlankFlash(t *testing.T) {
	dev := flash.NewMemoryFlash(2*testSlot, testSector)
	src := newSource(t, baseParams())

	p := New()
	if err := p.Burn(context.Background(), dev, nil, src); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if !hasMagic(dev, 0) {
		t.Fatalf("blank-flash burn should land in slot 0")
	}
}

func TestBurnRefusesPSIDMismatch(t *testing.T) {
	dev, tgt := newTarget(t, baseParams())
	other := baseParams()
	other.psid = "MT_0000000002"
	src := newSource(t, other)

	p := New()
	err := p.Burn(context.Background(), dev, tgt, src)
	if _, ok := err.(*errkind.DeviceImageMismatch); !ok {
		t.Fatalf("expected DeviceImageMismatch, got %v", err)
	}

	p = New(WithAllowPSIDChange())
	if err := p.Burn(context.Background(), dev, tgt, src); err != nil {
		t.Fatalf("AllowPSIDChange burn failed: %v", err)
	}
}

func TestBurnRefusesVersionDowngrade(t *testing.T) {
	newer := baseParams()
	newer.minor = 31
	dev, tgt := newTarget(t, newer)
	src := newSource(t, baseParams())

	p := New()
	err := p.Burn(context.Background(), dev, tgt, src)
	if _, ok := err.(*errkind.DeviceImageMismatch); !ok {
		t.Fatalf("expected version-downgrade refusal, got %v", err)
	}

	p = New(WithIgnoreVersion())
	if err := p.Burn(context.Background(), dev, tgt, src); err != nil {
		t.Fatalf("IgnoreVersion burn failed: %v", err)
	}
}

func TestBurnChecksHWDeviceID(t *testing.T) {
	dev, tgt := newTarget(t, baseParams())
	src := newSource(t, baseParams())

	p := New(WithHWDeviceID(0x999))
	err := p.Burn(context.Background(), dev, tgt, src)
	if _, ok := err.(*errkind.DeviceImageMismatch); !ok {
		t.Fatalf("expected HW-id refusal, got %v", err)
	}

	p = New(WithHWDeviceID(0x20d))
	if err := p.Burn(context.Background(), dev, tgt, src); err != nil {
		t.Fatalf("matching HW id burn failed: %v", err)
	}
}

func TestBurnRomPolicyFromDevice(t *testing.T) {
	dev, tgt := newTarget(t, baseParams())
	// Give the device a ROM by splicing one into its queried store.
	rom := make([]byte, 0x800)
	copy(rom, []byte("mlxsign:"))
	rom[8], rom[9], rom[10], rom[11] = 0x00, 0x10, 0x00, 0x0f
	if err := tgt.ITOC.Insert(wire.SectionMainCode, wire.Entry{
		Type:         wire.SectionROMCode,
		RelativeAddr: true,
		CRCMode:      wire.CRCModeInTocEntry,
	}, rom); err != nil {
		t.Fatalf("seed rom: %v", err)
	}

	src := newSource(t, baseParams())
	p := New(WithRomPolicy(RomPolicyFromDeviceIfExists))
	if err := p.Burn(context.Background(), dev, tgt, src); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if src.ITOC.Find(wire.SectionROMCode) == nil {
		t.Fatalf("ROM was not carried over into the source")
	}

	// The burnt image must reparse with the ROM in place.
	e := openEngine(t, dev, testSlot)
	if e.ITOC.Find(wire.SectionROMCode) == nil {
		t.Fatalf("burnt image lacks ROM section")
	}
}

func TestBurnVSDOverride(t *testing.T) {
	dev, tgt := newTarget(t, baseParams())
	src := newSource(t, baseParams())

	p := New(WithVSDOverride("custom vendor data"))
	if err := p.Burn(context.Background(), dev, tgt, src); err != nil {
		t.Fatalf("burn: %v", err)
	}

	e := openEngine(t, dev, testSlot)
	if e.Info.VSD != "custom vendor data" {
		t.Fatalf("VSD not patched, got %q", e.Info.VSD)
	}
}
