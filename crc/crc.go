package crc

import (
	"encoding/binary"

	"github.com/sigurn/crc16"
)

// softwareParams backs the "software CRC" used for TOC headers, TOC
// entries, and INITOCENTRY/INSECTION section bodies. The algorithm scans
// 32-bit words rather than raw bytes: each dword is folded in big-endian.
var softwareParams = crc16.Params{
	Poly:   0x100b,
	Init:   0xffff,
	RefIn:  false,
	RefOut: false,
	XorOut: 0xffff,
	Name:   "mstflint-sw",
}

// hardwareParams backs the per-pointer CRC in the FS4 hardware pointer
// table: a 6-byte record (4-byte pointer + its own 2-byte CRC field zeroed
// out) is checksummed as plain bytes, not words.
var hardwareParams = crc16.Params{
	Poly:   0x100b,
	Init:   0xffff,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x0,
	Name:   "mstflint-hw",
}

// legacyPrebootParams reproduces a historical generator bug in the preboot
// block CRC: an older image-building tool emitted a reflected CRC-16 with
// polynomial 0x8005 and zero init instead of the software CRC the current
// tool uses. Verify accepts either value; Write always emits the software
// one.
var legacyPrebootParams = crc16.Params{
	Poly:   0x8005,
	Init:   0x0,
	RefIn:  true,
	RefOut: true,
	XorOut: 0x0,
	Name:   "mstflint-legacy-preboot",
}

var (
	softwareTable = crc16.MakeTable(softwareParams)
	hardwareTable = crc16.MakeTable(hardwareParams)
	legacyTable   = crc16.MakeTable(legacyPrebootParams)
)

// SoftwareCRC16 computes the 16-bit "software CRC" over a slice of
// big-endian 32-bit words, as used for TOC header CRC, TOC entry CRC, and
// INITOCENTRY/INSECTION section CRCs.
func SoftwareCRC16(words []uint32) uint16 {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[i*4:], w)
	}
	return crc16.Checksum(buf, softwareTable)
}

// SoftwareCRC16Bytes is SoftwareCRC16 over a raw byte slice whose length
// must be a multiple of 4; it's the form section-store code uses since
// sections are already held as bytes.
func SoftwareCRC16Bytes(data []byte) uint16 {
	return crc16.Checksum(data, softwareTable)
}

// HardwareCRC16 computes the CRC over a 6-byte hardware-pointer-table
// record: 4 bytes of pointer value, 2 bytes that are the CRC field itself
// (the caller zeroes those 2 bytes before calling, and compares the
// result against the value originally stored there).
func HardwareCRC16(record [6]byte) uint16 {
	return crc16.Checksum(record[:], hardwareTable)
}

// LegacyPrebootCRC16 computes the historical preboot-block CRC variant.
// Verify should accept either this or SoftwareCRC16Bytes; Write should
// always emit SoftwareCRC16Bytes.
func LegacyPrebootCRC16(data []byte) uint16 {
	return crc16.Checksum(data, legacyTable)
}
