package toc

import (
	"sort"

	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/flash"
	"github.com/dakota-m/mstflint/wire"
)

// ShiftDevData moves every device-data section down by offset bytes:
// each entry's flash address is decremented, the section bytes are
// written at the new address, and only after all sections have moved is
// the DTOC itself rewritten. Sections move in ascending address order so
// a move never lands on top of data that has not been relocated yet.
//
// This is the bulk migration used when an older layout is carried onto a
// flash generation with a different write-protect granularity.
func (s *Store) ShiftDevData(offset int64) error {
	if s.Kind != KindDTOC {
		return &errkind.Internal{Location: "toc.ShiftDevData", Msg: "shift on non-DTOC store"}
	}
	if offset%4 != 0 {
		return &errkind.Internal{Location: "toc.ShiftDevData", Msg: "offset not dword-aligned"}
	}

	order := make([]*SectionEntry, len(s.Entries))
	copy(order, s.Entries)
	sort.Slice(order, func(i, j int) bool {
		return order[i].Entry.FlashAddrBytes() < order[j].Entry.FlashAddrBytes()
	})

	for _, se := range order {
		if err := s.ensureData(se); err != nil {
			return err
		}
		se.Entry.FlashAddrInDwords -= uint32(offset / 4)
		se.recomputeCRCs()
		if err := s.eraseAndWrite(se.Entry.FlashAddrBytes(), se.Data); err != nil {
			return err
		}
	}
	return s.writeTocBytes()
}

// eraseAndWrite erases the destination sectors and writes data there.
// Ascending move order guarantees the destination's previous occupant
// has already been relocated.
func (s *Store) eraseAndWrite(addr int64, data []byte) error {
	sector := s.img.Dev.SectorSize()
	for a := addr / sector * sector; a < addr+int64(len(data)); a += sector {
		if err := s.img.Dev.EraseSector(a); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
	}
	if err := s.img.Dev.Write(addr, data, len(data), true); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	return nil
}

// AlignTarget prescribes a new absolute address for one device-data
// section copy. Copy disambiguates between the two DEV_INFO sections.
type AlignTarget struct {
	Type    wire.SectionType
	Copy    int
	NewAddr int64
}

// AlignDevData reassigns the fixed known device-data sections to a new
// prescribed address set. The new ranges must not overlap each other nor
// any DTOC entry that is not being moved. Write protection is lifted for
// the duration of the writes and restored on every path out.
func (s *Store) AlignDevData(targets []AlignTarget) (err error) {
	if s.Kind != KindDTOC {
		return &errkind.Internal{Location: "toc.AlignDevData", Msg: "align on non-DTOC store"}
	}

	moved := make(map[*SectionEntry]int64)
	for _, t := range targets {
		copies := s.FindAll(t.Type)
		if t.Copy >= len(copies) {
			return &errkind.Internal{Location: "toc.AlignDevData", Msg: "no copy " + t.Type.String()}
		}
		moved[copies[t.Copy]] = t.NewAddr
	}

	type span struct{ lo, hi int64 }
	var newSpans []span
	for se, addr := range moved {
		newSpans = append(newSpans, span{addr, addr + se.Entry.SizeBytes()})
	}
	sort.Slice(newSpans, func(i, j int) bool { return newSpans[i].lo < newSpans[j].lo })
	for i := 1; i < len(newSpans); i++ {
		if newSpans[i].lo < newSpans[i-1].hi {
			return &errkind.Internal{Location: "toc.AlignDevData", Msg: "new ranges overlap"}
		}
	}
	for _, se := range s.Entries {
		if _, ok := moved[se]; ok {
			continue
		}
		lo := se.Entry.FlashAddrBytes()
		hi := lo + se.Entry.SizeBytes()
		for _, sp := range newSpans {
			if sp.lo < hi && sp.hi > lo {
				return &errkind.Internal{Location: "toc.AlignDevData", Msg: "new range overlaps " + se.Entry.Type.String()}
			}
		}
	}

	restore, gerr := liftWriteProtect(s.img.Dev)
	if gerr != nil {
		return gerr
	}
	defer func() {
		if rerr := restore(); err == nil {
			err = rerr
		}
	}()

	order := make([]*SectionEntry, 0, len(moved))
	for se := range moved {
		order = append(order, se)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].Entry.FlashAddrBytes() < order[j].Entry.FlashAddrBytes()
	})

	for _, se := range order {
		if rerr := s.ensureData(se); rerr != nil {
			return rerr
		}
		se.Entry.FlashAddrInDwords = uint32(moved[se] / 4)
		se.recomputeCRCs()
		if werr := s.eraseAndWrite(se.Entry.FlashAddrBytes(), se.Data); werr != nil {
			return werr
		}
	}
	return s.writeTocBytes()
}

// writeTocBytes rewrites only the TOC header + entries + END marker,
// leaving section bytes alone. The covered sectors are erased first; a
// NOR write can only clear bits over what is already there.
func (s *Store) writeTocBytes() error {
	packed := s.Pack()
	sector := s.img.Dev.SectorSize()
	for a := s.HeaderAddr; a < s.HeaderAddr+int64(len(packed)); a += sector {
		if err := s.img.Dev.EraseSector(a); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
	}
	if err := s.img.Dev.Write(s.HeaderAddr, packed, len(packed), true); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	return nil
}

// liftWriteProtect clears write protection on every bank and returns a
// function that puts the saved descriptors back.
func liftWriteProtect(dev flash.Device) (func() error, error) {
	saved, err := dev.GetWriteProtect()
	if err != nil {
		return nil, &errkind.FlashOp{Inner: err}
	}
	for bank := range saved {
		if err := dev.SetWriteProtect(bank, flash.WriteProtect{}); err != nil {
			return nil, &errkind.FlashOp{Inner: err}
		}
	}
	return func() error {
		for bank, wp := range saved {
			if err := dev.SetWriteProtect(bank, wp); err != nil {
				return &errkind.FlashOp{Inner: err}
			}
		}
		return nil
	}, nil
}
