package query

import (
	"bytes"
	"encoding/binary"

	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/wire"
)

// IMAGE_INFO layout. One layout version is currently defined; the major
// must match or the section is rejected as UnknownSectVersion.
const (
	imageInfoVersionMajor = 1

	imageInfoSize = 0x400

	offImageInfoVersion     = 0x00 // major u8, minor u8
	offImageInfoFWVersion   = 0x04 // major u16, minor u16, subminor u16
	offImageInfoDate        = 0x0c // year u16, month u8, day u8
	offImageInfoMICVersion  = 0x10 // major u16, minor u16
	offImageInfoSecurityVer = 0x14
	offImageInfoProductVer  = 0x20 // 16 bytes
	offImageInfoPSID        = 0x30 // 16 bytes
	offImageInfoVSD         = 0x40 // 208 bytes
	offImageInfoHWIDCount   = 0x110
	offImageInfoHWIDs       = 0x114 // up to maxSupportedHWIDs u32s
	maxSupportedHWIDs       = 8
)

// ImageInfo is the decoded IMAGE_INFO section.
type ImageInfo struct {
	FWVersion       FWVersion
	MICVersion      MICVersion
	SecurityVersion uint32
	ProductVersion  string
	PSID            string
	VSD             string
	SupportedHWIDs  []uint32
}

// ParseImageInfo decodes an IMAGE_INFO section.
func ParseImageInfo(data []byte) (*ImageInfo, error) {
	if len(data) < imageInfoSize {
		return nil, &errkind.Internal{Location: "query.ParseImageInfo", Msg: "section too short"}
	}
	if maj := data[offImageInfoVersion]; maj != imageInfoVersionMajor {
		return nil, &errkind.UnknownSectVersion{Which: "IMAGE_INFO", Major: maj, Minor: data[offImageInfoVersion+1]}
	}

	info := &ImageInfo{
		FWVersion: FWVersion{
			Major:    binary.BigEndian.Uint16(data[offImageInfoFWVersion:]),
			Minor:    binary.BigEndian.Uint16(data[offImageInfoFWVersion+2:]),
			Subminor: binary.BigEndian.Uint16(data[offImageInfoFWVersion+4:]),
			Year:     binary.BigEndian.Uint16(data[offImageInfoDate:]),
			Month:    data[offImageInfoDate+2],
			Day:      data[offImageInfoDate+3],
		},
		MICVersion: MICVersion{
			Major: binary.BigEndian.Uint16(data[offImageInfoMICVersion:]),
			Minor: binary.BigEndian.Uint16(data[offImageInfoMICVersion+2:]),
		},
		SecurityVersion: binary.BigEndian.Uint32(data[offImageInfoSecurityVer:]),
		ProductVersion:  trimFixed(data[offImageInfoProductVer : offImageInfoProductVer+16]),
		PSID:            trimFixed(data[offImageInfoPSID : offImageInfoPSID+wire.PSIDLength]),
		VSD:             trimFixed(data[offImageInfoVSD : offImageInfoVSD+wire.VSDLength]),
	}

	n := binary.BigEndian.Uint32(data[offImageInfoHWIDCount:])
	if n > maxSupportedHWIDs {
		n = maxSupportedHWIDs
	}
	for i := uint32(0); i < n; i++ {
		info.SupportedHWIDs = append(info.SupportedHWIDs, binary.BigEndian.Uint32(data[offImageInfoHWIDs+4*i:]))
	}
	return info, nil
}

// PackImageInfo encodes an IMAGE_INFO section. The inverse of
// ParseImageInfo for every field the parser reads.
func PackImageInfo(info *ImageInfo) []byte {
	data := make([]byte, imageInfoSize)
	data[offImageInfoVersion] = imageInfoVersionMajor
	binary.BigEndian.PutUint16(data[offImageInfoFWVersion:], info.FWVersion.Major)
	binary.BigEndian.PutUint16(data[offImageInfoFWVersion+2:], info.FWVersion.Minor)
	binary.BigEndian.PutUint16(data[offImageInfoFWVersion+4:], info.FWVersion.Subminor)
	binary.BigEndian.PutUint16(data[offImageInfoDate:], info.FWVersion.Year)
	data[offImageInfoDate+2] = info.FWVersion.Month
	data[offImageInfoDate+3] = info.FWVersion.Day
	binary.BigEndian.PutUint16(data[offImageInfoMICVersion:], info.MICVersion.Major)
	binary.BigEndian.PutUint16(data[offImageInfoMICVersion+2:], info.MICVersion.Minor)
	binary.BigEndian.PutUint32(data[offImageInfoSecurityVer:], info.SecurityVersion)
	copy(data[offImageInfoProductVer:offImageInfoProductVer+16], info.ProductVersion)
	copy(data[offImageInfoPSID:offImageInfoPSID+wire.PSIDLength], info.PSID)
	copy(data[offImageInfoVSD:offImageInfoVSD+wire.VSDLength], info.VSD)
	binary.BigEndian.PutUint32(data[offImageInfoHWIDCount:], uint32(len(info.SupportedHWIDs)))
	for i, id := range info.SupportedHWIDs {
		binary.BigEndian.PutUint32(data[offImageInfoHWIDs+4*i:], id)
	}
	return data
}

// SetVSD overwrites the VSD field of a packed IMAGE_INFO section in
// place, padding with NULs. The caller re-CRCs the section afterwards.
func SetVSD(data []byte, vsd string) error {
	if len(data) < offImageInfoVSD+wire.VSDLength {
		return &errkind.Internal{Location: "query.SetVSD", Msg: "section too short"}
	}
	if len(vsd) > wire.VSDLength {
		return &errkind.Internal{Location: "query.SetVSD", Msg: "vsd longer than 208 bytes"}
	}
	field := data[offImageInfoVSD : offImageInfoVSD+wire.VSDLength]
	for i := range field {
		field[i] = 0
	}
	copy(field, vsd)
	return nil
}

// MFG_INFO / DEV_INFO layouts. The format-version word selects between
// the single-allocation layout and the allocation-array layout.
const (
	mfgInfoSize = 0x140
	devInfoSize = 0x200

	guidFormatLegacy    = 0
	guidFormatConnectX4 = 1

	offMFGFormat = 0x00
	offMFGGuids  = 0x10
	offMFGMacs   = 0x30
	offMFGPSID   = 0x60

	offDevFormat = 0x10 // after the 16-byte signature quartet
	offDevGuids  = 0x20
	offDevMacs   = 0x40
	offDevVSD    = 0x80

	guidAllocSize = 0x10 // uid u64, num u8, step u8, 6 reserved
)

func parseAlloc(data []byte) GUIDAllocation {
	return GUIDAllocation{
		UID:  binary.BigEndian.Uint64(data),
		Num:  data[8],
		Step: data[9],
	}
}

func packAlloc(data []byte, a GUIDAllocation) {
	binary.BigEndian.PutUint64(data, a.UID)
	data[8] = a.Num
	data[9] = a.Step
}

func parseUIDs(data []byte, format uint32, guidOff, macOff int) (UIDs, error) {
	var u UIDs
	switch format {
	case guidFormatLegacy:
		u.Layout = GUIDLayoutLegacy
		u.GUIDs[0] = parseAlloc(data[guidOff:])
		u.MACs[0] = parseAlloc(data[macOff:])
	case guidFormatConnectX4:
		u.Layout = GUIDLayoutConnectX4
		for i := 0; i < 2; i++ {
			u.GUIDs[i] = parseAlloc(data[guidOff+i*guidAllocSize:])
			u.MACs[i] = parseAlloc(data[macOff+i*guidAllocSize:])
		}
	default:
		return u, &errkind.UnknownSectVersion{Which: "GUIDS", Major: byte(format)}
	}
	return u, nil
}

// MFGInfo is the decoded MFG_INFO section: the manufacturing-time UID
// allocations and the production PSID, immutable post-production.
type MFGInfo struct {
	UIDs UIDs
	PSID string
}

// ParseMFGInfo decodes an MFG_INFO section.
func ParseMFGInfo(data []byte) (*MFGInfo, error) {
	if len(data) < mfgInfoSize {
		return nil, &errkind.Internal{Location: "query.ParseMFGInfo", Msg: "section too short"}
	}
	format := binary.BigEndian.Uint32(data[offMFGFormat:])
	uids, err := parseUIDs(data, format, offMFGGuids, offMFGMacs)
	if err != nil {
		return nil, err
	}
	return &MFGInfo{
		UIDs: uids,
		PSID: trimFixed(data[offMFGPSID : offMFGPSID+wire.PSIDLength]),
	}, nil
}

// PackMFGInfo encodes an MFG_INFO section.
func PackMFGInfo(info *MFGInfo) []byte {
	data := make([]byte, mfgInfoSize)
	switch info.UIDs.Layout {
	case GUIDLayoutLegacy:
		binary.BigEndian.PutUint32(data[offMFGFormat:], guidFormatLegacy)
		packAlloc(data[offMFGGuids:], info.UIDs.GUIDs[0])
		packAlloc(data[offMFGMacs:], info.UIDs.MACs[0])
	case GUIDLayoutConnectX4:
		binary.BigEndian.PutUint32(data[offMFGFormat:], guidFormatConnectX4)
		for i := 0; i < 2; i++ {
			packAlloc(data[offMFGGuids+i*guidAllocSize:], info.UIDs.GUIDs[i])
			packAlloc(data[offMFGMacs+i*guidAllocSize:], info.UIDs.MACs[i])
		}
	}
	copy(data[offMFGPSID:offMFGPSID+wire.PSIDLength], info.PSID)
	return data
}

// DevInfo is the decoded DEV_INFO section: the mutable device UID
// allocations and the device VSD. Valid reports whether this copy
// carries the signature quartet.
type DevInfo struct {
	Valid bool
	UIDs  UIDs
	VSD   string
}

// ParseDevInfo decodes a DEV_INFO section.
func ParseDevInfo(data []byte) (*DevInfo, error) {
	if len(data) < devInfoSize {
		return nil, &errkind.Internal{Location: "query.ParseDevInfo", Msg: "section too short"}
	}
	valid := true
	for i, want := range wire.DevInfoSignature {
		if binary.BigEndian.Uint32(data[i*4:]) != want {
			valid = false
			break
		}
	}
	format := binary.BigEndian.Uint32(data[offDevFormat:])
	uids, err := parseUIDs(data, format, offDevGuids, offDevMacs)
	if err != nil {
		return nil, err
	}
	return &DevInfo{
		Valid: valid,
		UIDs:  uids,
		VSD:   trimFixed(data[offDevVSD : offDevVSD+wire.VSDLength]),
	}, nil
}

// PackDevInfo encodes a DEV_INFO section. A valid copy gets the
// signature quartet; an invalidated copy gets all-zero signature words.
func PackDevInfo(info *DevInfo) []byte {
	data := make([]byte, devInfoSize)
	if info.Valid {
		for i, w := range wire.DevInfoSignature {
			binary.BigEndian.PutUint32(data[i*4:], w)
		}
	}
	switch info.UIDs.Layout {
	case GUIDLayoutLegacy:
		binary.BigEndian.PutUint32(data[offDevFormat:], guidFormatLegacy)
		packAlloc(data[offDevGuids:], info.UIDs.GUIDs[0])
		packAlloc(data[offDevMacs:], info.UIDs.MACs[0])
	case GUIDLayoutConnectX4:
		binary.BigEndian.PutUint32(data[offDevFormat:], guidFormatConnectX4)
		for i := 0; i < 2; i++ {
			packAlloc(data[offDevGuids+i*guidAllocSize:], info.UIDs.GUIDs[i])
			packAlloc(data[offDevMacs+i*guidAllocSize:], info.UIDs.MACs[i])
		}
	}
	copy(data[offDevVSD:offDevVSD+wire.VSDLength], info.VSD)
	return data
}

// romSignTag marks the start of one expansion-ROM info record inside
// ROM_CODE. Each record carries a product type and a version triple.
var romSignTag = []byte("mlxsign:")

// ParseROMInfo scans ROM_CODE for signed ROM records. A ROM without any
// tag yields an empty list, not an error — plain option ROMs are legal.
func ParseROMInfo(data []byte) []ROMEntry {
	var out []ROMEntry
	for off := 0; ; {
		i := bytes.Index(data[off:], romSignTag)
		if i < 0 {
			return out
		}
		rec := off + i + len(romSignTag)
		if rec+8 > len(data) {
			return out
		}
		out = append(out, ROMEntry{
			Type:  binary.BigEndian.Uint16(data[rec:]),
			Major: binary.BigEndian.Uint16(data[rec+2:]),
			Minor: binary.BigEndian.Uint16(data[rec+4:]),
			Build: binary.BigEndian.Uint16(data[rec+6:]),
		})
		off = rec + 8
	}
}
