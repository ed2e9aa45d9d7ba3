package image

import (
	"testing"

	"github.com/dakota-m/mstflint/flash"
	"github.com/dakota-m/mstflint/wire"
)

func writeMagic(dev flash.Device, addr int64) {
	_ = dev.Write(addr, wire.MagicPattern[:], len(wire.MagicPattern), true)
}

func writeBootArea(dev flash.Device, addr int64, b wire.BootArea) {
	packed := b.Pack()
	_ = dev.Write(addr+bootAreaOffset, packed[:], len(packed), true)
}

// TestLocateEmptyFlash: all-0xFF flash yields NoValidImage.
func TestLocateEmptyFlash(t *testing.T) {
	dev := flash.NewMemoryFlash(0x1000000, 0x1000)

	_, err := Locate(dev)
	if err == nil {
		t.Fatalf("expected NoValidImage on empty flash")
	}
}

// TestLocateSingleValidImage: exactly one magic pattern present.
func TestLocateSingleValidImage(t *testing.T) {
	dev := flash.NewMemoryFlash(0x400000, 0x1000)
	writeMagic(dev, 0)

	start, err := Locate(dev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 0 {
		t.Fatalf("expected start 0, got 0x%x", start)
	}
}

func TestLocateMultipleValidImages(t *testing.T) {
	dev := flash.NewMemoryFlash(0x400000, 0x1000)
	writeMagic(dev, 0)
	writeMagic(dev, 0x200000)

	_, err := Locate(dev)
	if err == nil {
		t.Fatalf("expected MultipleValidImages error")
	}
}

func TestOpenAtParsesBootArea(t *testing.T) {
	dev := flash.NewMemoryFlash(0x400000, 0x1000)
	writeMagic(dev, 0)
	writeBootArea(dev, 0, wire.BootArea{ChunkLog2: 21, VerMajor: 1, VerMinor: 0})

	img, err := OpenAt(dev, VariantFS3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.ChunkSize() != 0x200000 {
		t.Fatalf("expected chunk size 0x200000, got 0x%x", img.ChunkSize())
	}
	if img.InSecondSlot() {
		t.Fatalf("expected slot 0")
	}
}

func TestOpenAtRejectsUnsupportedVersion(t *testing.T) {
	dev := flash.NewMemoryFlash(0x400000, 0x1000)
	writeMagic(dev, 0)
	writeBootArea(dev, 0, wire.BootArea{ChunkLog2: 21, VerMajor: 9, VerMinor: 0})

	if _, err := OpenAt(dev, VariantFS3, 0); err == nil {
		t.Fatalf("expected unsupported binary version error")
	}
}

func TestOpenAtAcceptsUninitializedVersion(t *testing.T) {
	dev := flash.NewMemoryFlash(0x400000, 0x1000)
	writeMagic(dev, 0)
	writeBootArea(dev, 0, wire.BootArea{ChunkLog2: 21, VerMajor: 0, VerMinor: 0})

	if _, err := OpenAt(dev, VariantFS3, 0); err != nil {
		t.Fatalf("unexpected error for (0,0) uninitialized version: %v", err)
	}
}
