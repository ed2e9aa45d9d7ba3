package image

import (
	"github.com/dakota-m/mstflint/crc"
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/flash"
	"github.com/dakota-m/mstflint/wire"
)

// bootAreaOffset is the fixed offset of the boot area relative to an
// image's start, immediately after the 16-byte magic pattern.
const bootAreaOffset = 16

// hwPointerTableOffset is the fixed offset of the hardware pointer
// table relative to an image's start, directly after the boot area.
const hwPointerTableOffset = bootAreaOffset + wire.BootAreaSize

// parseBootArea reads and validates the boot area at start.
func parseBootArea(dev flash.Device, start int64) (wire.BootArea, error) {
	var buf [wire.BootAreaSize]byte
	if err := dev.Read(start+bootAreaOffset, buf[:], len(buf)); err != nil {
		return wire.BootArea{}, &errkind.FlashOp{Inner: err}
	}

	boot := wire.UnpackBootArea(buf)
	if boot.IsUninitialized() {
		return boot, nil
	}
	if boot.VerMajor < wire.MinBinVersionMajor || boot.VerMajor > wire.MaxBinVersionMajor {
		return wire.BootArea{}, &errkind.UnsupportedBinVersion{Major: boot.VerMajor, Minor: boot.VerMinor}
	}
	return boot, nil
}

// parseHWPointerTable reads the FS4 hardware pointer table and validates
// each present pointer's hw-CRC. Pointers whose value is
// wire.HWPointerAbsent have their CRC ignored and are zeroed in memory.
func parseHWPointerTable(dev flash.Device, start int64) (wire.HWPointerTable, error) {
	buf := make([]byte, wire.HWPointerTableSize)
	if err := dev.Read(start+hwPointerTableOffset, buf, len(buf)); err != nil {
		return wire.HWPointerTable{}, &errkind.FlashOp{Inner: err}
	}

	table := wire.UnpackHWPointerTable(buf)
	for i, p := range table.Pointers {
		if p.Absent() {
			table.Pointers[i] = wire.HWPointer{}
			continue
		}
		var rec [6]byte
		off := i * wire.HWPointerEntrySize
		copy(rec[:], buf[off:off+wire.HWPointerEntrySize])
		// Zero out the CRC field itself before checksumming the record.
		rec[4], rec[5] = 0, 0
		want := crc.HardwareCRC16(rec)
		if want != p.CRC {
			return wire.HWPointerTable{}, &errkind.BadCrc{Where: errkind.WhereHwPointer, Expected: want, Actual: p.CRC}
		}
	}
	return table, nil
}

// toolsAreaOffsetFromPointer converts the tools pointer's raw value,
// stored as a dword offset in the hardware pointer table, into a byte
// offset relative to the image start.
func toolsAreaOffsetFromPointer(ptr uint32) int64 {
	return int64(ptr) * 4
}

// parseToolsArea reads and validates the FS4 tools area, whose
// log2_image_slot_size determines the chunk size used for logical/
// physical address translation.
func parseToolsArea(dev flash.Device, img *Image, toolsPtr uint32) (wire.ToolsArea, error) {
	var buf [wire.ToolsAreaSize]byte
	off := img.Start + toolsAreaOffsetFromPointer(toolsPtr)
	if err := dev.Read(off, buf[:], len(buf)); err != nil {
		return wire.ToolsArea{}, &errkind.FlashOp{Inner: err}
	}

	tools := wire.UnpackToolsArea(buf)
	want := crc.SoftwareCRC16Bytes(tools.CRCBytes())
	if want != tools.CRC {
		return wire.ToolsArea{}, &errkind.BadCrc{Where: errkind.WhereToolsArea, Expected: want, Actual: tools.CRC}
	}
	return tools, nil
}
