package image

import (
	"github.com/dakota-m/mstflint/flash"
	"github.com/dakota-m/mstflint/wire"
)

// Variant names the two on-flash format families this engine supports.
type Variant int

const (
	VariantFS3 Variant = iota
	VariantFS4
)

func (v Variant) String() string {
	if v == VariantFS4 {
		return "FS4"
	}
	return "FS3"
}

// Image is the parsed result of locating and header parsing: a Device,
// the chosen image start offset, its boot area, and — for FS4 — its
// hardware pointer table and tools area. It carries no TOC/section
// state; toc.Store is layered on top of this.
type Image struct {
	Dev             flash.Device
	Variant         Variant
	Start           int64
	Boot            wire.BootArea
	HWPointers      wire.HWPointerTable
	HWPointersReady bool
	Tools           wire.ToolsArea
	ToolsReady      bool
	// FirstITOCEmpty records which of the two candidate ITOC sectors
	// was used, an artifact of a historical layout where the first
	// ITOC sector may be empty. The burn path does not read it: a burn
	// writes the ITOC at the source image's own ITOC offset in the new
	// slot, whichever sector that is.
	FirstITOCEmpty bool
}

// ChunkSize returns 2^chunk_log2, the size of one fail-safe slot. On
// FS4 the tools area is authoritative when present; the boot area value
// is the fallback.
func (img *Image) ChunkSize() int64 {
	return int64(1) << img.ChunkLog2()
}

// ChunkLog2 returns the active log2 slot size.
func (img *Image) ChunkLog2() byte {
	if img.ToolsReady && img.Tools.Log2ImageSlotSize != 0 {
		return img.Tools.Log2ImageSlotSize
	}
	return img.Boot.ChunkLog2
}

// InSecondSlot reports whether Start lies in the upper half of the
// device (slot 1) rather than the lower half (slot 0).
func (img *Image) InSecondSlot() bool {
	return img.Start >= img.ChunkSize()
}

// Convertor returns the address convertor matching this image's current
// slot selection.
func (img *Image) Convertor() *flash.AddressConvertor {
	return &flash.AddressConvertor{ChunkLog2: img.ChunkLog2(), InSecondSlot: img.InSecondSlot()}
}

// Open runs the locator and then the header/pointer parser against dev
// and returns a ready-to-use Image.
func Open(dev flash.Device, variant Variant) (*Image, error) {
	start, err := Locate(dev)
	if err != nil {
		return nil, err
	}
	return OpenAt(dev, variant, start)
}

// OpenAt skips the locate step — useful when the caller already knows
// the start offset, or is disambiguating multiple magic-pattern hits by
// trying each one.
func OpenAt(dev flash.Device, variant Variant, start int64) (*Image, error) {
	boot, err := parseBootArea(dev, start)
	if err != nil {
		return nil, err
	}

	img := &Image{Dev: dev, Variant: variant, Start: start, Boot: boot}

	if variant == VariantFS4 {
		hw, err := parseHWPointerTable(dev, start)
		if err != nil {
			return nil, err
		}
		img.HWPointers = hw
		img.HWPointersReady = true

		if !hw.Pointers[wire.PtrTools].Absent() {
			tools, err := parseToolsArea(dev, img, hw.Pointers[wire.PtrTools].Value)
			if err == nil {
				img.Tools = tools
				img.ToolsReady = true
			}
		}
	}

	return img, nil
}
