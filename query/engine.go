package query

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dakota-m/mstflint/crc"
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/image"
	"github.com/dakota-m/mstflint/secureboot"
	"github.com/dakota-m/mstflint/toc"
	"github.com/dakota-m/mstflint/wire"
)

// failSafeHeadroomSectors is how many trailing sectors of a slot must
// stay free of non-device sections so a fail-safe rewrite always has
// scratch room.
const failSafeHeadroomSectors = 6

// Engine drives the verification pass over one opened image and extracts
// its informational summary.
type Engine struct {
	img        *image.Image
	log        *logrus.Entry
	cb         *Callbacks
	ignoreDTOC bool
	ignoreCRC  bool
	statusFn   func() (LifeCycle, uint32, error)

	// ITOC and DTOC are populated by Query and stay valid until the
	// engine is dropped; burn reads sections out of them.
	ITOC      *toc.Store
	DTOC      *toc.Store
	Encrypted bool
	// Info caches the last Query result.
	Info *Info
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallbacks installs the verify/progress/print hooks.
func WithCallbacks(cb *Callbacks) Option {
	return func(e *Engine) { e.cb = cb }
}

// WithLogger attaches a logrus entry; the engine adds per-stage fields.
// A nil logger keeps the engine silent.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// WithIgnoreDTOC skips DTOC parsing and its integrity rules.
func WithIgnoreDTOC() Option {
	return func(e *Engine) { e.ignoreDTOC = true }
}

// WithIgnoreCRC downgrades CRC mismatches to verify-callback warnings.
func WithIgnoreCRC() Option {
	return func(e *Engine) { e.ignoreCRC = true }
}

// WithDeviceStatus supplies the register-backed life-cycle / image
// status reader available only on live devices.
func WithDeviceStatus(fn func() (LifeCycle, uint32, error)) Option {
	return func(e *Engine) { e.statusFn = fn }
}

// New builds an Engine over an already-opened image.
func New(img *image.Image, opts ...Option) *Engine {
	e := &Engine{img: img}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Image returns the underlying opened image.
func (e *Engine) Image() *image.Image { return e.img }

func (e *Engine) logDebug(msg string, fields logrus.Fields) {
	if e.log != nil {
		e.log.WithFields(fields).Debug(msg)
	}
}

// interestingSections is the quick-query filter: only the sections the
// Info summary is built from are read.
var interestingSections = map[wire.SectionType]bool{
	wire.SectionImageInfo: true,
	wire.SectionMFGInfo:   true,
	wire.SectionDevInfo:   true,
	wire.SectionROMCode:   true,
}

// Query runs the verification pass and returns the Info summary. With
// full=true every section is read so all body CRCs are checked; with
// full=false only the informational sections are materialized.
func (e *Engine) Query(full bool) (*Info, error) {
	info := &Info{
		Variant:   e.img.Variant,
		Start:     e.img.Start,
		ChunkLog2: e.img.ChunkLog2(),
	}

	popts := &toc.ParseOptions{IgnoreCRC: e.ignoreCRC}
	if e.cb != nil {
		popts.OnVerify = e.cb.verify
	}
	if !full {
		popts.Interesting = interestingSections
	}

	if e.img.Variant == image.VariantFS4 {
		if err := e.checkPreboot(); err != nil {
			return nil, err
		}
	}

	itoc, err := toc.ParseITOC(e.img, popts)
	if err != nil {
		if _, noToc := err.(*errkind.NoValidItoc); noToc && e.img.Variant == image.VariantFS4 {
			// An encrypted image's ITOC header is ciphertext, so the
			// signature check cannot pass. Everything still knowable
			// comes from the DTOC.
			e.Encrypted = true
			info.Encrypted = true
			e.logDebug("no plaintext ITOC header, treating image as encrypted", logrus.Fields{"start": e.img.Start})
		} else {
			return nil, err
		}
	} else {
		e.ITOC = itoc
	}

	if e.img.Variant == image.VariantFS4 && !e.ignoreDTOC && e.img.Dev.Size() > e.img.ChunkSize() {
		dtoc, err := toc.ParseDTOC(e.img, popts)
		if err != nil {
			return nil, err
		}
		e.DTOC = dtoc
	}

	if e.ITOC != nil {
		if err := e.checkPlacement(info); err != nil {
			return nil, err
		}
		if err := e.ITOC.CheckNoOverlap(e.img.ChunkSize()); err != nil {
			return nil, err
		}
		if e.img.Variant == image.VariantFS4 && !e.img.HWPointers.Pointers[wire.PtrHashesTable].Absent() {
			onVerify := toc.VerifyFunc(nil)
			if e.cb != nil {
				onVerify = e.cb.verify
			}
			if err := secureboot.VerifyHashesTable(e.img, e.ITOC, onVerify); err != nil {
				return nil, err
			}
		}
	}

	if err := e.extractInfo(info); err != nil {
		return nil, err
	}

	if e.img.Dev.IsFlash() && e.statusFn != nil {
		lc, status, err := e.statusFn()
		if err != nil {
			return nil, errors.Wrap(err, "read device status")
		}
		info.LifeCycle = lc
		info.ImageStatus = status
	}
	e.Info = info
	return info, nil
}

// checkPlacement enforces the two size bounds: the last non-device
// section must leave six sectors of headroom below the slot boundary,
// and the smallest DTOC address must stay inside the top slot.
func (e *Engine) checkPlacement(info *Info) error {
	sector := e.img.Dev.SectorSize()
	slot := e.img.ChunkSize()

	if end := e.ITOC.LastSectionEnd(false); end >= slot-failSafeHeadroomSectors*sector {
		return &errkind.ImageTooLarge{Actual: end, Max: slot - failSafeHeadroomSectors*sector}
	}
	if e.DTOC != nil {
		flashSize := e.img.Dev.Size()
		if min := e.DTOC.SmallestSectionAddr(); min >= 0 && min < flashSize-slot {
			return &errkind.DtocOverwritesChunk{}
		}
	}
	return nil
}

// checkPreboot validates the boot2 block named by the hardware pointer
// table. Its trailing dword stores a CRC over the body; a historical
// generator emitted a different variant, so either value passes here
// while writes always emit the current one.
func (e *Engine) checkPreboot() error {
	p := e.img.HWPointers.Pointers[wire.PtrBoot2]
	if p.Absent() || p.Value == 0 {
		return nil
	}
	addr := e.img.Start + int64(p.Value)*4

	var hdr [8]byte
	if err := e.img.Dev.Read(addr, hdr[:], len(hdr)); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	sizeDwords := binary.BigEndian.Uint32(hdr[4:8])
	if sizeDwords == 0 || sizeDwords > 0x100000 {
		return nil
	}
	body := make([]byte, int(sizeDwords)*4)
	if err := e.img.Dev.Read(addr+8, body, len(body)); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	stored := binary.BigEndian.Uint16(body[len(body)-2:])
	current := crc.SoftwareCRC16Bytes(body[:len(body)-4])
	legacy := crc.LegacyPrebootCRC16(body[:len(body)-4])

	ok := stored == current || stored == legacy
	if e.cb != nil {
		e.cb.verify(errkind.WhereSection, addr, int64(len(body)), stored, current, !ok && e.ignoreCRC)
	}
	if !ok && !e.ignoreCRC {
		return &errkind.BadCrc{Where: errkind.WhereSection, Expected: current, Actual: stored}
	}
	return nil
}

// extractInfo folds the informational sections into the summary.
func (e *Engine) extractInfo(info *Info) error {
	if e.ITOC != nil {
		if se := e.ITOC.Find(wire.SectionImageInfo); se != nil && se.Data != nil {
			ii, err := ParseImageInfo(se.Data)
			if err != nil {
				return err
			}
			info.FWVersion = ii.FWVersion
			info.MICVersion = ii.MICVersion
			info.SecurityVersion = ii.SecurityVersion
			info.ProductVersion = ii.ProductVersion
			info.PSID = ii.PSID
			info.VSD = ii.VSD
			info.SupportedHWIDs = ii.SupportedHWIDs
		}
		if se := e.ITOC.Find(wire.SectionROMCode); se != nil && se.Data != nil {
			info.ROMInfo = ParseROMInfo(se.Data)
		}
	}

	if e.DTOC != nil {
		if se := e.DTOC.Find(wire.SectionMFGInfo); se != nil && se.Data != nil {
			mi, err := ParseMFGInfo(se.Data)
			if err != nil {
				return err
			}
			info.MFGUIDs = mi.UIDs
			if info.PSID == "" {
				info.PSID = mi.PSID
			}
		}
		for _, se := range e.DTOC.FindAll(wire.SectionDevInfo) {
			if se.Data == nil {
				continue
			}
			di, err := ParseDevInfo(se.Data)
			if err != nil {
				return err
			}
			if di.Valid {
				info.DevUIDs = di.UIDs
			}
		}
	}
	return nil
}
