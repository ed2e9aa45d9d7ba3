package wire

// MagicPattern is the fixed 16-byte tag that marks the start of a valid
// image chunk. Its presence is the atomic "commit"
// point of a fail-safe burn.
var MagicPattern = [16]byte{
	0x4d, 0x54, 0x46, 0x57, 0x41, 0x42, 0x43, 0x44,
	0x45, 0x46, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
}

// ITOCSignature and DTOCSignature are the 4-byte TOC header signatures.
var (
	ITOCSignature = [4]byte{'M', 'T', 'F', 'W'}
	DTOCSignature = [4]byte{'D', 'T', 'O', 'C'}
)

// TocRandomWords are the three fixed "random" words that follow the TOC
// header signature, used as an additional sanity check beyond the
// signature bytes themselves.
var TocRandomWords = [3]uint32{0x288, 0x5a00, 0x6a6b7193}

// MaxTocEntries is the hard limit on the number of entries a single ITOC
// or DTOC may hold.
const MaxTocEntries = 128

// TocEntrySize is the packed size, in bytes, of one TOC entry.
const TocEntrySize = 32

// TocHeaderSize is the packed size, in bytes, of a TOC header.
const TocHeaderSize = 32

// Binary format version bounds.
const (
	MinBinVersionMajor = 1
	MaxBinVersionMajor = 4
)

// Chunk-size shifts tied to specific flash generations, kept as data so
// a new flash part means a new constant, not a new branch.
var (
	// CX4ChunkShiftDwords is the logical-to-physical dword shift applied
	// on 16 MiB CX4-generation flash layouts.
	CX4ChunkShiftDwords uint32 = 0x8000
	// LegacyChunkShiftDwords is the shift used by the older 60 KiB
	// flash-layout generation.
	LegacyChunkShiftDwords uint32 = 0xf000
)

// HWPointerCount is the number of (pointer, crc) pairs in the FS4
// hardware pointer table. Thirteen slots are named; the remaining three
// are reserved and carry the absent sentinel on current images.
const HWPointerCount = 16

// HWPointerAbsent is the sentinel pointer value meaning "not present";
// its CRC field is ignored when the pointer carries this value.
const HWPointerAbsent = 0xFFFFFFFF

// HWPointerIndex names the sixteen hardware pointer table slots (thirteen
// named pointers and three reserved), in on-flash order.
type HWPointerIndex int

const (
	PtrBootRecord HWPointerIndex = iota
	PtrBoot2
	PtrITOC
	PtrTools
	PtrAuthenticationStart
	PtrAuthenticationEnd
	PtrDigestMDK
	PtrDigestRecoveryKey
	PtrPublicKey
	PtrFWSecurityVersion
	PtrGCMIVDelta
	PtrHashesTable
	PtrHMACStart
	PtrReserved13
	PtrReserved14
	PtrReserved15
)

// SectionType enumerates the known TOC entry types.
type SectionType byte

const (
	SectionEnd               SectionType = 0xFF
	SectionITOC              SectionType = 0x01
	SectionBootCode          SectionType = 0x02
	SectionPCICode           SectionType = 0x03
	SectionMainCode          SectionType = 0x04
	SectionPCIeLinkCode      SectionType = 0x05
	SectionIronPrepCode      SectionType = 0x06
	SectionPostIronBootCode  SectionType = 0x07
	SectionUpgradeCode       SectionType = 0x08
	SectionHWBootCfg         SectionType = 0x09
	SectionHWMainCfg         SectionType = 0x0a
	SectionPhyUcCode         SectionType = 0x0b
	SectionPhyUcConsts       SectionType = 0x0c
	SectionImageInfo         SectionType = 0x0d
	SectionFWBootCfg         SectionType = 0x0e
	SectionFWMainCfg         SectionType = 0x0f
	SectionROMCode           SectionType = 0x10
	SectionResetInfo         SectionType = 0x11
	SectionDbgFWIni          SectionType = 0x12
	SectionDbgFWParams       SectionType = 0x13
	SectionFWAdb             SectionType = 0x14
	SectionMFGInfo           SectionType = 0x15
	SectionDevInfo           SectionType = 0x16
	SectionNVData0           SectionType = 0x17
	SectionVPDR0             SectionType = 0x18
	SectionNVData1           SectionType = 0x19
	SectionFWNVLog           SectionType = 0x1a
	SectionNVData2           SectionType = 0x1b
	SectionPublicKeys2048    SectionType = 0x1c
	SectionPublicKeys4096    SectionType = 0x1d
	SectionImageSignature256 SectionType = 0x1e
	SectionImageSignature512 SectionType = 0x1f
	SectionForbiddenVersions SectionType = 0x20
	SectionRSAPublicKey      SectionType = 0x21
	SectionRSA4096Signatures SectionType = 0x22
)

// String gives a human-readable section type name, used in log lines and
// error messages.
func (t SectionType) String() string {
	if name, ok := sectionTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

var sectionTypeNames = map[SectionType]string{
	SectionEnd:               "END",
	SectionITOC:              "ITOC",
	SectionBootCode:          "BOOT_CODE",
	SectionPCICode:           "PCI_CODE",
	SectionMainCode:          "MAIN_CODE",
	SectionPCIeLinkCode:      "PCIE_LINK_CODE",
	SectionIronPrepCode:      "IRON_PREP_CODE",
	SectionPostIronBootCode:  "POST_IRON_BOOT_CODE",
	SectionUpgradeCode:       "UPGRADE_CODE",
	SectionHWBootCfg:         "HW_BOOT_CFG",
	SectionHWMainCfg:         "HW_MAIN_CFG",
	SectionPhyUcCode:         "PHY_UC_CODE",
	SectionPhyUcConsts:       "PHY_UC_CONSTS",
	SectionImageInfo:         "IMAGE_INFO",
	SectionFWBootCfg:         "FW_BOOT_CFG",
	SectionFWMainCfg:         "FW_MAIN_CFG",
	SectionROMCode:           "ROM_CODE",
	SectionResetInfo:         "RESET_INFO",
	SectionDbgFWIni:          "DBG_FW_INI",
	SectionDbgFWParams:       "DBG_FW_PARAMS",
	SectionFWAdb:             "FW_ADB",
	SectionMFGInfo:           "MFG_INFO",
	SectionDevInfo:           "DEV_INFO",
	SectionNVData0:           "NV_DATA0",
	SectionVPDR0:             "VPD_R0",
	SectionNVData1:           "NV_DATA1",
	SectionFWNVLog:           "FW_NV_LOG",
	SectionNVData2:           "NV_DATA2",
	SectionPublicKeys2048:    "PUBLIC_KEYS_2048",
	SectionPublicKeys4096:    "PUBLIC_KEYS_4096",
	SectionImageSignature256: "IMAGE_SIGNATURE_256",
	SectionImageSignature512: "IMAGE_SIGNATURE_512",
	SectionForbiddenVersions: "FORBIDDEN_VERSIONS",
	SectionRSAPublicKey:      "RSA_PUBLIC_KEY",
	SectionRSA4096Signatures: "RSA_4096_SIGNATURES",
}

// DeviceDataSectionTypes are the DTOC section types the shift/align
// bulk-migration operations recognize by name.
var DeviceDataSectionTypes = []SectionType{
	SectionFWNVLog,
	SectionNVData0,
	SectionNVData1,
	SectionNVData2,
	SectionDevInfo,
	SectionMFGInfo,
	SectionVPDR0,
}

// CRCMode is the per-entry CRC scheme selector: no CRC at all, a CRC
// held in the TOC entry, or a CRC in the section's last dword.
type CRCMode byte

const (
	CRCModeNoCRC      CRCMode = 0
	CRCModeInTocEntry CRCMode = 1
	CRCModeInSection  CRCMode = 2
)

// PSIDLength and VSDLength are the fixed field sizes used by IMAGE_INFO.
const (
	PSIDLength = 16
	VSDLength  = 208
)

// DevInfoSignature is the four-word signature quartet that marks a valid
// DEV_INFO copy. Exactly one of the two DEV_INFO sections on a healthy
// device carries it; the stale copy has its first word zeroed.
var DevInfoSignature = [4]uint32{0x6d446576, 0x496e666f, 0x2342cafa, 0xbacafe00}
