package flash

import "testing"

func TestAddressConvertorSelectsSlot(t *testing.T) {
	conv := &AddressConvertor{ChunkLog2: 21, InSecondSlot: false}
	if got := conv.ToPhys(0x200500); got != 0x500 {
		t.Fatalf("expected slot-0 address to mask off chunk bit, got 0x%x", got)
	}

	conv.InSecondSlot = true
	if got := conv.ToPhys(0x500); got != 0x200500 {
		t.Fatalf("expected slot-1 address to set chunk bit, got 0x%x", got)
	}
}

func TestMemoryFlashWriteRequiresErase(t *testing.T) {
	m := NewMemoryFlash(0x10000, 0x1000)

	if err := m.Write(0, []byte{0x00}, 1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var buf [1]byte
	_ = m.Read(0, buf[:], 1)
	if buf[0] != 0x00 {
		t.Fatalf("expected byte to be cleared, got 0x%02x", buf[0])
	}

	// Without erasing, writing 0xFF can't set the bit back.
	if err := m.Write(0, []byte{0xFF}, 1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = m.Read(0, buf[:], 1)
	if buf[0] != 0x00 {
		t.Fatalf("expected NOR semantics: byte should remain 0x00 without erase, got 0x%02x", buf[0])
	}

	_ = m.EraseSector(0)
	_ = m.Read(0, buf[:], 1)
	if buf[0] != 0xFF {
		t.Fatalf("expected erased byte to read 0xFF, got 0x%02x", buf[0])
	}
}

func TestMemoryFlashWriteProtect(t *testing.T) {
	m := NewMemoryFlash(0x10000, 0x1000)
	_ = m.SetWriteProtect(0, WriteProtect{SectorsNum: 1, IsBottom: true})

	err := m.Write(0, []byte{0x00}, 1, true)
	if err == nil {
		t.Fatalf("expected write to protected region to fail")
	}

	if err := m.Write(0x1000, []byte{0x00}, 1, true); err != nil {
		t.Fatalf("unexpected error writing outside protected region: %v", err)
	}
}

func TestMemoryFlashLogicalWriteUsesConvertor(t *testing.T) {
	m := NewMemoryFlash(0x400000, 0x1000)
	m.SetAddressConvertor(&AddressConvertor{ChunkLog2: 21, InSecondSlot: true})

	if err := m.Write(0x10, []byte{0x00}, 1, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw := m.RawBytes()
	if raw[0x200010] != 0x00 {
		t.Fatalf("expected logical write to land at physical slot-1 offset")
	}
	if raw[0x10] != 0xFF {
		t.Fatalf("slot-0 should be untouched")
	}
}
