package query

import (
	"strings"

	"github.com/dakota-m/mstflint/image"
)

// FWVersion is a firmware version triple plus its build date.
type FWVersion struct {
	Major    uint16
	Minor    uint16
	Subminor uint16
	Year     uint16
	Month    byte
	Day      byte
}

// MICVersion is the tools-chain version an image was produced with.
type MICVersion struct {
	Major uint16
	Minor uint16
}

// GUIDLayout tags which of the two MFG_INFO / DEV_INFO GUID layouts a
// section uses: the single-allocation layout of pre-ConnectX-4 images or
// the allocation-array layout introduced with ConnectX-4.
type GUIDLayout int

const (
	GUIDLayoutLegacy GUIDLayout = iota
	GUIDLayoutConnectX4
)

func (l GUIDLayout) String() string {
	if l == GUIDLayoutConnectX4 {
		return "connectx4"
	}
	return "legacy"
}

// GUIDAllocation is one UID allocation: a base value plus a per-port
// count and stride.
type GUIDAllocation struct {
	UID  uint64
	Num  byte
	Step byte
}

// UIDs carries the GUID and MAC allocations of one MFG_INFO or DEV_INFO
// section.
type UIDs struct {
	Layout GUIDLayout
	GUIDs  [2]GUIDAllocation
	MACs   [2]GUIDAllocation
}

// ROMEntry describes one expansion-ROM image found inside ROM_CODE.
type ROMEntry struct {
	Type  uint16
	Major uint16
	Minor uint16
	Build uint16
}

// LifeCycle is the device's secure life-cycle state, readable only on a
// live device.
type LifeCycle int

const (
	LifeCycleUnknown LifeCycle = iota
	LifeCycleProduction
	LifeCycleGASecured
	LifeCycleRMA
)

// Info is the structured result of a query: everything the informational
// sections expose, in one flat summary.
type Info struct {
	Variant   image.Variant
	Start     int64
	ChunkLog2 byte
	Encrypted bool

	FWVersion       FWVersion
	MICVersion      MICVersion
	ProductVersion  string
	PSID            string
	VSD             string
	SecurityVersion uint32
	SupportedHWIDs  []uint32

	MFGUIDs UIDs
	DevUIDs UIDs

	ROMInfo []ROMEntry

	// Device-only fields; zero on file images.
	LifeCycle   LifeCycle
	ImageStatus uint32
}

// trimFixed trims a fixed-size field of its NUL/space padding. PSID and
// VSD comparisons must not be sensitive to which pad byte the producing
// tool used.
func trimFixed(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}

// PSIDMatches compares two PSIDs with pad-insensitivity on both sides.
func PSIDMatches(a, b string) bool {
	return strings.TrimRight(a, "\x00 ") == strings.TrimRight(b, "\x00 ")
}

// MACFromGUID derives the MAC base from a GUID base by dropping the
// 16-bit middle field: low 24 bits of the low half joined with the upper
// 24 bits of the high half.
func MACFromGUID(guid uint64) uint64 {
	low := guid & 0xffffff
	high := (guid >> 32) & 0xffffff00
	return low | high<<16
}
