package image

import (
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/flash"
	"github.com/dakota-m/mstflint/wire"
)

// Locate scans dev at every sector boundary looking for the 16-byte
// magic pattern. It returns the single valid image start offset,
// errkind.NoValidImage if none was found, or
// errkind.MultipleValidImages if more than one candidate start has a
// valid magic pattern.
//
// "Valid" here means only "the magic bytes match" — locate does not
// parse headers. A caller wanting the stronger guarantee that exactly
// one candidate also has a coherent ITOC calls OpenAt and then
// toc.ParseITOC on each candidate and keeps the ones that don't error.
func Locate(dev flash.Device) (int64, error) {
	hits, err := scanForMagic(dev)
	if err != nil {
		return 0, err
	}

	switch len(hits) {
	case 0:
		return 0, &errkind.NoValidImage{}
	case 1:
		return hits[0], nil
	default:
		return 0, &errkind.MultipleValidImages{Offsets: hits}
	}
}

// ScanMagic returns every sector-boundary offset whose first 16 bytes
// equal wire.MagicPattern. The burn path uses it to find stale images
// whose magic must be cleared.
func ScanMagic(dev flash.Device) ([]int64, error) {
	return scanForMagic(dev)
}

// scanForMagic returns every sector-boundary offset whose first 16 bytes
// equal wire.MagicPattern.
func scanForMagic(dev flash.Device) ([]int64, error) {
	sectorSize := dev.SectorSize()
	if sectorSize <= 0 {
		sectorSize = 0x1000
	}

	var hits []int64
	var buf [16]byte
	for addr := int64(0); addr+16 <= dev.Size(); addr += sectorSize {
		if err := dev.Read(addr, buf[:], 16); err != nil {
			return nil, &errkind.FlashOp{Inner: err}
		}
		if buf == wire.MagicPattern {
			hits = append(hits, addr)
		}
	}
	return hits, nil
}
