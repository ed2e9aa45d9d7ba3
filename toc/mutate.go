package toc

import (
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/wire"
)

// Replace swaps the bytes of the section of the given type and refreshes
// its CRCs. The entry's size field follows the new byte length; data must
// be dword-aligned.
func (s *Store) Replace(t wire.SectionType, data []byte) error {
	se := s.Find(t)
	if se == nil {
		return &errkind.Internal{Location: "toc.Replace", Msg: "no entry of type " + t.String()}
	}
	return s.ReplaceEntry(se, data)
}

// ReplaceEntry is Replace for a specific entry, needed when a type
// appears more than once (the two DEV_INFO copies).
func (s *Store) ReplaceEntry(se *SectionEntry, data []byte) error {
	if len(data)%4 != 0 {
		return &errkind.Internal{Location: "toc.ReplaceEntry", Msg: "section bytes not dword-aligned"}
	}
	se.Data = append([]byte(nil), data...)
	se.Entry.SizeInDwords = uint32(len(data) / 4)
	se.recomputeCRCs()
	return nil
}

// Insert adds a new entry before the entry of type beforeType, placing
// the new section at that entry's current address and ripple-shifting
// every following relative entry up by the new section's size rounded to
// a sector. If beforeType is not present, the new section is appended
// after the last entry's end, rounded up to a sector, with no shifts.
// This is the mechanism by which ROM code is merged into an image.
func (s *Store) Insert(beforeType wire.SectionType, e wire.Entry, data []byte) error {
	if len(s.Entries) >= wire.MaxTocEntries-1 {
		return &errkind.Internal{Location: "toc.Insert", Msg: "TOC entry limit reached"}
	}
	if len(data)%4 != 0 {
		return &errkind.Internal{Location: "toc.Insert", Msg: "section bytes not dword-aligned"}
	}
	sector := s.img.Dev.SectorSize()
	e.SizeInDwords = uint32(len(data) / 4)
	shift := roundUpToSector(int64(len(data)), sector)

	idx := s.indexOf(beforeType)
	if idx < 0 {
		var addr int64
		if n := len(s.Entries); n > 0 {
			last := s.Entries[n-1]
			addr = roundUpToSector(last.Entry.FlashAddrBytes()+last.Entry.SizeBytes(), sector)
		}
		e.FlashAddrInDwords = uint32(addr / 4)
		se := &SectionEntry{Entry: e, Data: append([]byte(nil), data...)}
		se.recomputeCRCs()
		s.Entries = append(s.Entries, se)
		s.renumberEntryAddrs()
		return nil
	}

	e.FlashAddrInDwords = s.Entries[idx].Entry.FlashAddrInDwords
	for _, se := range s.Entries[idx:] {
		if !se.Entry.RelativeAddr {
			continue
		}
		// A quick query leaves uninteresting sections unread; pull the
		// bytes in before the CRC refresh or the section CRC would be
		// recomputed over nothing.
		if err := s.ensureData(se); err != nil {
			return err
		}
		se.Entry.FlashAddrInDwords += uint32(shift / 4)
		se.recomputeCRCs()
	}
	se := &SectionEntry{Entry: e, Data: append([]byte(nil), data...)}
	se.recomputeCRCs()
	s.Entries = append(s.Entries, nil)
	copy(s.Entries[idx+1:], s.Entries[idx:])
	s.Entries[idx] = se
	s.renumberEntryAddrs()
	return nil
}

// Remove deletes the entry of the given type and ripple-shifts every
// following relative entry down by the removed section's size rounded to
// a sector, mirroring Insert.
func (s *Store) Remove(t wire.SectionType) error {
	idx := s.indexOf(t)
	if idx < 0 {
		return &errkind.Internal{Location: "toc.Remove", Msg: "no entry of type " + t.String()}
	}
	sector := s.img.Dev.SectorSize()
	shift := roundUpToSector(s.Entries[idx].Entry.SizeBytes(), sector)

	for _, se := range s.Entries[idx+1:] {
		if !se.Entry.RelativeAddr {
			continue
		}
		if err := s.ensureData(se); err != nil {
			return err
		}
		se.Entry.FlashAddrInDwords -= uint32(shift / 4)
		se.recomputeCRCs()
	}
	s.Entries = append(s.Entries[:idx], s.Entries[idx+1:]...)
	s.renumberEntryAddrs()
	return nil
}

// renumberEntryAddrs refreshes each entry's EntryAddr after the array
// changed shape; entries are laid out back to back after the header.
func (s *Store) renumberEntryAddrs() {
	addr := s.HeaderAddr + wire.TocHeaderSize
	for _, se := range s.Entries {
		se.EntryAddr = addr
		addr += wire.TocEntrySize
	}
}
