package query

import (
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/toc"
	"github.com/dakota-m/mstflint/wire"
)

// UpdateMFGGuids rewrites the MFG_INFO section of a DTOC store with a
// fresh allocation-array layout derived from a single base GUID: port 0
// gets the base, port 1 gets base+num, and the MAC allocations use the
// MAC base derived from the GUID base. Section and entry CRCs are
// refreshed by the store.
func UpdateMFGGuids(s *toc.Store, base uint64, num, step byte) error {
	se := s.Find(wire.SectionMFGInfo)
	if se == nil || se.Data == nil {
		return &errkind.NoMfgInfo{}
	}
	existing, err := ParseMFGInfo(se.Data)
	if err != nil {
		return err
	}

	macBase := MACFromGUID(base)
	fresh := &MFGInfo{
		PSID: existing.PSID,
		UIDs: UIDs{
			Layout: GUIDLayoutConnectX4,
			GUIDs: [2]GUIDAllocation{
				{UID: base, Num: num, Step: step},
				{UID: base + uint64(num), Num: num, Step: step},
			},
			MACs: [2]GUIDAllocation{
				{UID: macBase, Num: num, Step: step},
				{UID: macBase + uint64(num), Num: num, Step: step},
			},
		},
	}
	return s.Replace(wire.SectionMFGInfo, PackMFGInfo(fresh))
}

// UpdateDevGuids mirrors UpdateMFGGuids for the valid DEV_INFO copy.
func UpdateDevGuids(s *toc.Store, base uint64, num, step byte) error {
	var target *toc.SectionEntry
	for _, se := range s.FindAll(wire.SectionDevInfo) {
		if toc.DevInfoHasValidSignature(se.Data) {
			target = se
			break
		}
	}
	if target == nil {
		return &errkind.NoValidDeviceInfo{}
	}
	existing, err := ParseDevInfo(target.Data)
	if err != nil {
		return err
	}

	macBase := MACFromGUID(base)
	fresh := &DevInfo{
		Valid: true,
		VSD:   existing.VSD,
		UIDs: UIDs{
			Layout: GUIDLayoutConnectX4,
			GUIDs: [2]GUIDAllocation{
				{UID: base, Num: num, Step: step},
				{UID: base + uint64(num), Num: num, Step: step},
			},
			MACs: [2]GUIDAllocation{
				{UID: macBase, Num: num, Step: step},
				{UID: macBase + uint64(num), Num: num, Step: step},
			},
		},
	}
	return s.ReplaceEntry(target, PackDevInfo(fresh))
}
