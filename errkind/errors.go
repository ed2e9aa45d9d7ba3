// Package errkind defines the transport-neutral error kinds shared across
// the image engine. The engine's fallible operations return one of these
// (wrapped with a one-line context string via github.com/pkg/errors), so
// callers can branch on kind with errors.As. Burn cancellation by the
// progress callback and activation-register failures are plain wrapped
// errors, not errkind kinds.
package errkind

import "fmt"

// NoValidImage means the magic-pattern scan found zero valid image starts.
type NoValidImage struct{}

func (e *NoValidImage) Error() string { return "no valid image found" }

// MultipleValidImages means the scan found more than one valid image start.
type MultipleValidImages struct {
	Offsets []int64
}

func (e *MultipleValidImages) Error() string {
	return fmt.Sprintf("multiple valid images found at offsets %v", e.Offsets)
}

// Where identifies which structure a CRC check covers.
type Where string

const (
	WhereHwPointer Where = "hw_pointer"
	WhereToolsArea Where = "tools_area"
	WhereTocHeader Where = "toc_header"
	WhereTocEntry  Where = "toc_entry"
	WhereSection   Where = "section"
	WhereHashes    Where = "hashes_table"
)

// BadCrc is returned for any CRC mismatch.
type BadCrc struct {
	Where    Where
	Expected uint16
	Actual   uint16
}

func (e *BadCrc) Error() string {
	return fmt.Sprintf("crc mismatch in %s: expected 0x%04X, got 0x%04X", e.Where, e.Expected, e.Actual)
}

// UnknownSectVersion is returned when an informational section carries a
// layout version this engine doesn't recognize.
type UnknownSectVersion struct {
	Which string
	Major byte
	Minor byte
}

func (e *UnknownSectVersion) Error() string {
	return fmt.Sprintf("unknown %s section version %d.%d", e.Which, e.Major, e.Minor)
}

// UnsupportedBinVersion is returned when the boot-area binary version is
// outside the supported [min,max] range.
type UnsupportedBinVersion struct {
	Major byte
	Minor byte
}

func (e *UnsupportedBinVersion) Error() string {
	return fmt.Sprintf("unsupported binary format version %d.%d", e.Major, e.Minor)
}

// NoMfgInfo means the DTOC has no MFG_INFO entry.
type NoMfgInfo struct{}

func (e *NoMfgInfo) Error() string { return "no MFG_INFO entry in DTOC" }

// NoValidDeviceInfo means zero DEV_INFO copies carry a valid signature.
type NoValidDeviceInfo struct{}

func (e *NoValidDeviceInfo) Error() string { return "no valid DEV_INFO copy found" }

// TwoValidDeviceInfo means both DEV_INFO copies carry a valid signature.
type TwoValidDeviceInfo struct{}

func (e *TwoValidDeviceInfo) Error() string { return "two valid DEV_INFO copies found" }

// NoValidItoc means the ITOC header signature was invalid at both
// candidate sector locations.
type NoValidItoc struct{}

func (e *NoValidItoc) Error() string { return "no valid ITOC header found at either candidate sector" }

// DeviceImageMismatch covers HW-id, PSID, chunk-size and binning mismatches
// between a source image and a target device at burn time.
type DeviceImageMismatch struct {
	Reason string
}

func (e *DeviceImageMismatch) Error() string { return "device/image mismatch: " + e.Reason }

// ImageTooLarge is raised when section content crosses the size bound
// the burn layout reserves at the top of a slot or of the flash.
type ImageTooLarge struct {
	Actual int64
	Max    int64
}

func (e *ImageTooLarge) Error() string {
	return fmt.Sprintf("image too large: %d bytes exceeds maximum %d", e.Actual, e.Max)
}

// DtocOverwritesChunk is raised when the smallest DTOC section address
// falls below flash_size - slot_size and would collide with the image
// chunk.
type DtocOverwritesChunk struct{}

func (e *DtocOverwritesChunk) Error() string { return "DTOC sections overwrite the other flash chunk" }

// UnsupportedBurnMode covers operations an encrypted or otherwise
// restricted image can't support, e.g. rewriting ITOC sections directly.
type UnsupportedBurnMode struct {
	Reason string
}

func (e *UnsupportedBurnMode) Error() string { return "unsupported burn mode: " + e.Reason }

// WriteProtected means the requested write needs write protection lifted
// first and the caller didn't authorize that.
type WriteProtected struct{}

func (e *WriteProtected) Error() string { return "flash region is write-protected" }

// FlashOp wraps a lower-level block-device error as it crosses into the
// image engine.
type FlashOp struct {
	Inner error
}

func (e *FlashOp) Error() string { return "flash operation failed: " + e.Inner.Error() }
func (e *FlashOp) Unwrap() error { return e.Inner }

// OcrRequired means an operation that mutates device data outside the
// fail-safe path needs the explicit "open with cache replace" flag.
type OcrRequired struct{}

func (e *OcrRequired) Error() string {
	return "operation requires -ocr (open with cache replace) to bypass fail-safe"
}

// Internal marks an invariant that should be unreachable in correct code.
// It always carries a location string identifying where it was raised.
type Internal struct {
	Location string
	Msg      string
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal error at %s: %s", e.Location, e.Msg)
}
