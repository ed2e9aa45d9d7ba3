package query

import (
	"testing"
)

func TestImageInfoRoundTrip(t *testing.T) {
	want := &ImageInfo{
		FWVersion:       FWVersion{Major: 16, Minor: 35, Subminor: 2000, Year: 2026, Month: 8, Day: 5},
		MICVersion:      MICVersion{Major: 4, Minor: 22},
		SecurityVersion: 7,
		ProductVersion:  "rel-16_35_2000",
		PSID:            "MT_0000000540",
		VSD:             "vendor specific",
		SupportedHWIDs:  []uint32{0x20d, 0x20f},
	}

	got, err := ParseImageInfo(PackImageInfo(want))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.FWVersion != want.FWVersion || got.MICVersion != want.MICVersion {
		t.Fatalf("version mismatch: %+v vs %+v", got, want)
	}
	if got.PSID != want.PSID || got.VSD != want.VSD || got.ProductVersion != want.ProductVersion {
		t.Fatalf("string field mismatch: %+v", got)
	}
	if got.SecurityVersion != want.SecurityVersion {
		t.Fatalf("security version mismatch")
	}
	if len(got.SupportedHWIDs) != 2 || got.SupportedHWIDs[0] != 0x20d {
		t.Fatalf("hw ids mismatch: %v", got.SupportedHWIDs)
	}
}

func TestImageInfoRejectsUnknownVersion(t *testing.T) {
	data := PackImageInfo(&ImageInfo{})
	data[0] = 9
	if _, err := ParseImageInfo(data); err == nil {
		t.Fatalf("expected UnknownSectVersion")
	}
}

func TestSetVSDPatchesInPlace(t *testing.T) {
	data := PackImageInfo(&ImageInfo{VSD: "old data"})
	if err := SetVSD(data, "new data"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := ParseImageInfo(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.VSD != "new data" {
		t.Fatalf("VSD not patched: %q", got.VSD)
	}
}

func TestMFGInfoBothLayouts(t *testing.T) {
	cases := []struct {
		name string
		info MFGInfo
	}{
		{
			name: "legacy",
			info: MFGInfo{
				PSID: "MT_0000000540",
				UIDs: UIDs{
					Layout: GUIDLayoutLegacy,
					GUIDs:  [2]GUIDAllocation{{UID: 0x0002c90300100000, Num: 4, Step: 1}},
					MACs:   [2]GUIDAllocation{{UID: 0x0002c9100000, Num: 4, Step: 1}},
				},
			},
		},
		{
			name: "connectx4",
			info: MFGInfo{
				PSID: "MT_0000000540",
				UIDs: UIDs{
					Layout: GUIDLayoutConnectX4,
					GUIDs: [2]GUIDAllocation{
						{UID: 0x0002c90300100000, Num: 8, Step: 1},
						{UID: 0x0002c90300100008, Num: 8, Step: 1},
					},
					MACs: [2]GUIDAllocation{
						{UID: 0x0002c9100000, Num: 8, Step: 1},
						{UID: 0x0002c9100008, Num: 8, Step: 1},
					},
				},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseMFGInfo(PackMFGInfo(&tc.info))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.PSID != tc.info.PSID {
				t.Fatalf("psid mismatch: %q", got.PSID)
			}
			if got.UIDs.Layout != tc.info.UIDs.Layout {
				t.Fatalf("layout mismatch")
			}
			if got.UIDs.GUIDs[0] != tc.info.UIDs.GUIDs[0] {
				t.Fatalf("guid alloc mismatch: %+v", got.UIDs.GUIDs[0])
			}
		})
	}
}

func TestDevInfoSignatureValidity(t *testing.T) {
	valid := PackDevInfo(&DevInfo{Valid: true, UIDs: UIDs{Layout: GUIDLayoutConnectX4}})
	invalid := PackDevInfo(&DevInfo{Valid: false, UIDs: UIDs{Layout: GUIDLayoutConnectX4}})

	di, err := ParseDevInfo(valid)
	if err != nil || !di.Valid {
		t.Fatalf("expected valid copy, got %+v err %v", di, err)
	}
	di, err = ParseDevInfo(invalid)
	if err != nil || di.Valid {
		t.Fatalf("expected invalid copy, got %+v err %v", di, err)
	}
}

func TestMACFromGUID(t *testing.T) {
	base := uint64(0x0002c90300100000)
	want := (base & 0xffffff) | (((base >> 32) & 0xffffff00) << 16)
	if got := MACFromGUID(base); got != want {
		t.Fatalf("MACFromGUID: got %012x want %012x", got, want)
	}
	// The middle 16 bits of the GUID must be dropped.
	if MACFromGUID(base) == base {
		t.Fatalf("MAC should differ from GUID")
	}
}

func TestParseROMInfo(t *testing.T) {
	rom := make([]byte, 0x1000)
	copy(rom[0x100:], "mlxsign:")
	rom[0x108], rom[0x109] = 0x00, 0x10 // type
	rom[0x10a], rom[0x10b] = 0x00, 0x0e // major
	rom[0x10c], rom[0x10d] = 0x00, 0x20 // minor
	rom[0x10e], rom[0x10f] = 0x00, 0x19 // build

	entries := ParseROMInfo(rom)
	if len(entries) != 1 {
		t.Fatalf("expected one ROM entry, got %d", len(entries))
	}
	if entries[0].Type != 0x10 || entries[0].Major != 0x0e {
		t.Fatalf("bad entry: %+v", entries[0])
	}

	if got := ParseROMInfo(make([]byte, 0x100)); len(got) != 0 {
		t.Fatalf("plain ROM should yield no entries")
	}
}

func TestPSIDMatchesPadInsensitive(t *testing.T) {
	if !PSIDMatches("MT_0000000540\x00\x00", "MT_0000000540   ") {
		t.Fatalf("pad bytes should not affect PSID comparison")
	}
	if PSIDMatches("MT_0000000540", "MT_0000000541") {
		t.Fatalf("different PSIDs must not match")
	}
}
