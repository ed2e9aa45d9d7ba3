package flash

// MemoryFlash simulates a live flash device entirely in memory: erase
// sets a sector to all-0xFF, writes bitwise-AND into existing cell state
// (real NOR flash can only clear bits until the next erase), and the
// installed address convertor is actually applied on logical (phys=false)
// operations, unlike FileImage. It exists so burn-protocol tests can
// exercise the fail-safe write order and crash-injection scenarios
// without a real device driver.
type MemoryFlash struct {
	data       []byte
	sectorSize int64
	banks      []WriteProtect
	convertor  *AddressConvertor
}

// NewMemoryFlash creates a simulated flash device of the given size,
// erased (all 0xFF) to start, with a single write-protect bank.
func NewMemoryFlash(size, sectorSize int64) *MemoryFlash {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &MemoryFlash{
		data:       data,
		sectorSize: sectorSize,
		banks:      []WriteProtect{{}},
	}
}

func (m *MemoryFlash) resolve(addr int64, phys bool) int64 {
	if phys || m.convertor == nil {
		return addr
	}
	return m.convertor.ToPhys(addr)
}

func (m *MemoryFlash) Read(addr int64, buf []byte, n int) error {
	a := m.resolve(addr, false)
	if a < 0 || a+int64(n) > int64(len(m.data)) {
		return &OpError{Op: "read", Addr: addr, Err: ErrOutOfRange}
	}
	copy(buf[:n], m.data[a:a+int64(n)])
	return nil
}

func (m *MemoryFlash) Write(addr int64, buf []byte, n int, phys bool) error {
	a := m.resolve(addr, phys)
	if a < 0 || a+int64(n) > int64(len(m.data)) {
		return &OpError{Op: "write", Addr: addr, Err: ErrOutOfRange}
	}
	if m.isProtected(a, int64(n)) {
		return &OpError{Op: "write", Addr: addr, Err: ErrWriteProtected}
	}
	for i := 0; i < n; i++ {
		m.data[a+int64(i)] &= buf[i]
	}
	return nil
}

func (m *MemoryFlash) EraseSector(addr int64) error {
	a := m.resolve(addr, false)
	start := (a / m.sectorSize) * m.sectorSize
	for i := start; i < start+m.sectorSize && i < int64(len(m.data)); i++ {
		m.data[i] = 0xFF
	}
	return nil
}

func (m *MemoryFlash) Size() int64       { return int64(len(m.data)) }
func (m *MemoryFlash) SectorSize() int64 { return m.sectorSize }
func (m *MemoryFlash) IsFlash() bool     { return true }

func (m *MemoryFlash) isProtected(addr, n int64) bool {
	for _, wp := range m.banks {
		if wp.SectorsNum == 0 {
			continue
		}
		protectedBytes := int64(wp.SectorsNum) * m.sectorSize
		var lo, hi int64
		if wp.IsBottom {
			lo, hi = 0, protectedBytes
		} else {
			lo, hi = int64(len(m.data))-protectedBytes, int64(len(m.data))
		}
		if addr < hi && addr+n > lo {
			return true
		}
	}
	return false
}

func (m *MemoryFlash) SetWriteProtect(bank int, wp WriteProtect) error {
	for bank >= len(m.banks) {
		m.banks = append(m.banks, WriteProtect{})
	}
	m.banks[bank] = wp
	return nil
}

func (m *MemoryFlash) GetWriteProtect() ([]WriteProtect, error) {
	out := make([]WriteProtect, len(m.banks))
	copy(out, m.banks)
	return out, nil
}

func (m *MemoryFlash) SetAddressConvertor(conv *AddressConvertor) { m.convertor = conv }

func (m *MemoryFlash) GetPhysFromCont(addr int64, chunkLog2 byte, inSecondSlot bool) int64 {
	conv := &AddressConvertor{ChunkLog2: chunkLog2, InSecondSlot: inSecondSlot}
	return conv.ToPhys(addr)
}

// RawBytes exposes the underlying buffer directly, bypassing the address
// convertor — used by tests to inspect physical flash state (e.g. to
// check which magic patterns survive a simulated crash).
func (m *MemoryFlash) RawBytes() []byte { return m.data }

var _ Device = (*MemoryFlash)(nil)
