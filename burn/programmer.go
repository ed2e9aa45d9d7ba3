package burn

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/flash"
	"github.com/dakota-m/mstflint/image"
	"github.com/dakota-m/mstflint/query"
	"github.com/dakota-m/mstflint/secureboot"
	"github.com/dakota-m/mstflint/toc"
	"github.com/dakota-m/mstflint/wire"
)

// Burn stages, in write order. The order is a strict total order; the
// fail-safe property depends on it and it is never reordered.
const (
	StageWriteImage   = "write_image"
	StageWriteDevData = "write_dev_data"
	StageSign         = "sign"
	StageCommit       = "commit"
	StageInvalidate   = "invalidate"
	StageActivate     = "activate"
)

// secVerBypassEnv disables the security-version downgrade check. It is
// read once at Programmer construction, never per call.
const secVerBypassEnv = "MLX_DISABLE_SEC_VER_CHECK"

// writeChunk is the granularity of image writes; progress and
// cancellation are consulted between chunks, never inside one.
const writeChunk = 0x10000

// Programmer orchestrates image burns onto flash devices.
type Programmer struct {
	config       Config
	secVerBypass bool
}

// New creates a Programmer with the given options.
func New(opts ...Option) *Programmer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Programmer{
		config:       cfg,
		secVerBypass: os.Getenv(secVerBypassEnv) != "",
	}
}

func (p *Programmer) logInfo(msg string, fields logrus.Fields) {
	if p.config.Logger != nil {
		p.config.Logger.WithFields(fields).Info(msg)
	}
}

func (p *Programmer) print(line string) {
	if p.config.Callbacks != nil && p.config.Callbacks.Print != nil {
		p.config.Callbacks.Print(line)
	}
}

// checkpoint is the between-writes cancellation point: context first,
// then the progress callback's verdict.
func (p *Programmer) checkpoint(ctx context.Context, stage string, done, total int64) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "burn cancelled")
	}
	if cb := p.config.Callbacks; cb != nil && cb.Progress != nil {
		if !cb.Progress(stage, done, total) {
			return errors.New("burn cancelled by progress callback")
		}
	}
	return nil
}

// Burn writes the source image onto dev following the six-step order:
// content without magic, device data, signatures, magic commit, stale
// magic invalidation, activation. tgt is the device's current queried
// state; nil means blank flash. Both engines must have completed Query.
func (p *Programmer) Burn(ctx context.Context, dev flash.Device, tgt, src *query.Engine) error {
	if src == nil || src.Info == nil {
		return &errkind.Internal{Location: "burn.Burn", Msg: "source not queried"}
	}
	if err := p.preflight(dev, tgt, src); err != nil {
		return err
	}

	if err := p.applyRomPolicy(tgt, src); err != nil {
		return err
	}
	if err := p.applyVSDOverride(src); err != nil {
		return err
	}

	srcImg := src.Image()
	chunk := srcImg.ChunkSize()
	newStart := p.selectSlot(tgt, chunk)

	raw, extent, err := p.sourceChunkBytes(src)
	if err != nil {
		return err
	}
	// Never write into the device-data region at the top of flash.
	if limit := p.devDataFloor(dev, tgt); newStart+extent > limit {
		extent = limit - newStart
	}
	if extent <= 16 {
		return &errkind.Internal{Location: "burn.Burn", Msg: "nothing to write after bounding to device data"}
	}

	p.logInfo("starting burn", logrus.Fields{
		"slot_start": newStart,
		"extent":     extent,
		"failsafe":   p.config.Failsafe,
	})

	var ctrl CacheReplaceControl
	if p.config.CacheReplacement {
		ctrl = p.config.CacheReplaceCtrl
	}
	if err := withCacheReplace(ctrl, func() error {
		return p.writeSequence(ctx, dev, tgt, src, newStart, raw, extent)
	}); err != nil {
		return err
	}

	p.logInfo("burn complete", logrus.Fields{"slot_start": newStart})
	return nil
}

// writeSequence is the ordered body of the burn: the six steps run under
// whatever raw-access lease the caller scoped around them.
func (p *Programmer) writeSequence(ctx context.Context, dev flash.Device, tgt, src *query.Engine, newStart int64, raw []byte, extent int64) error {
	// Step 1: everything except the 16-byte magic pattern.
	if err := p.writeImageContent(ctx, dev, newStart, raw, extent); err != nil {
		return err
	}

	// Step 2: device data from the source, at absolute addresses.
	if p.config.UseImageDevData && src.DTOC != nil {
		if err := p.writeDevData(ctx, dev, src.DTOC); err != nil {
			return err
		}
	}

	// Step 3: signatures into the already-written image.
	if p.config.Signer != nil && src.ITOC != nil {
		if err := p.checkpoint(ctx, StageSign, 0, 1); err != nil {
			return err
		}
		if err := p.insertSignatures(dev, newStart, src); err != nil {
			return err
		}
	}

	// Step 4: the commit point. After this write the new image boots.
	if err := p.checkpoint(ctx, StageCommit, 0, 1); err != nil {
		return err
	}
	if err := dev.Write(newStart, wire.MagicPattern[:], len(wire.MagicPattern), true); err != nil {
		return &errkind.FlashOp{Inner: err}
	}

	// Step 5: clear stale magics. The new image is already bootable, so
	// a crash in here still leaves a good image.
	if err := p.checkpoint(ctx, StageInvalidate, 0, 1); err != nil {
		return err
	}
	if err := p.invalidateStale(dev, tgt, newStart); err != nil {
		return err
	}

	// Step 6: point the device at the new image.
	if p.config.Activator != nil {
		if err := p.checkpoint(ctx, StageActivate, 0, 1); err != nil {
			return err
		}
		if err := p.config.Activator.Activate(newStart); err != nil {
			return errors.Wrap(err, "activate new image")
		}
	}
	return nil
}

// preflight runs every compatibility check before a single byte is
// written.
func (p *Programmer) preflight(dev flash.Device, tgt, src *query.Engine) error {
	cfg := &p.config
	srcInfo := src.Info

	if tgt != nil && tgt.Info != nil {
		tgtInfo := tgt.Info
		if tgt.Image().Variant != src.Image().Variant {
			return &errkind.DeviceImageMismatch{Reason: "image format differs from device format"}
		}
		if !query.PSIDMatches(srcInfo.PSID, tgtInfo.PSID) {
			if !cfg.AllowPSIDChange {
				return &errkind.DeviceImageMismatch{Reason: "PSID mismatch: " + srcInfo.PSID + " vs " + tgtInfo.PSID}
			}
			p.print("Warning: burning image with different PSID (" + srcInfo.PSID + ")")
		}
		if cfg.Failsafe && tgtInfo.ChunkLog2 != srcInfo.ChunkLog2 {
			return &errkind.DeviceImageMismatch{Reason: "chunk size differs, fail-safe burn impossible"}
		}
		if cfg.Failsafe && !cfg.IgnoreVersion && fwOlder(srcInfo.FWVersion, tgtInfo.FWVersion) {
			return &errkind.DeviceImageMismatch{Reason: "image firmware older than device firmware"}
		}
	}

	if cfg.HWDeviceID != 0 && !cfg.IgnoreDevID && len(srcInfo.SupportedHWIDs) > 0 {
		found := false
		for _, id := range srcInfo.SupportedHWIDs {
			if id == cfg.HWDeviceID {
				found = true
				break
			}
		}
		if !found {
			return &errkind.DeviceImageMismatch{Reason: "device hardware id not in image's supported list"}
		}
	}

	if srcInfo.SecurityVersion < cfg.DeviceSecurityVersion && !p.secVerBypass {
		return &errkind.DeviceImageMismatch{Reason: "image security version older than device efuse version"}
	}

	if src.Encrypted {
		if cfg.VSDOverride || cfg.RomPolicy == RomPolicyFromDeviceIfExists {
			return &errkind.UnsupportedBurnMode{Reason: "operation requires rewriting ITOC sections of an encrypted image"}
		}
	} else if src.ITOC == nil {
		return &errkind.NoValidItoc{}
	}

	if cfg.UseImageDevData {
		if protected, err := anyBankProtected(dev); err != nil {
			return err
		} else if protected {
			return &errkind.WriteProtected{}
		}
		if !cfg.Failsafe && !cfg.CacheReplacement {
			return &errkind.OcrRequired{}
		}
	}
	return nil
}

// selectSlot picks the slot to burn into: the one not currently active,
// or slot 1 for a non-failsafe burn without cache replacement.
func (p *Programmer) selectSlot(tgt *query.Engine, chunk int64) int64 {
	switch {
	case tgt == nil:
		return 0
	case tgt.Image().Start == 0:
		return chunk
	case !p.config.Failsafe && !p.config.CacheReplacement:
		return chunk
	default:
		return 0
	}
}

// devDataFloor returns the lowest address the burn must not cross: the
// smallest device-data section on the target, or the device end.
func (p *Programmer) devDataFloor(dev flash.Device, tgt *query.Engine) int64 {
	limit := dev.Size()
	if tgt != nil && tgt.DTOC != nil && !p.config.UseImageDevData {
		if min := tgt.DTOC.SmallestSectionAddr(); min >= 0 && min < limit {
			limit = min
		}
	}
	return limit
}

// sourceChunkBytes materializes the source image chunk with any
// in-memory section mutations overlaid on the raw bytes, and computes
// how far the content actually extends.
func (p *Programmer) sourceChunkBytes(src *query.Engine) ([]byte, int64, error) {
	srcImg := src.Image()
	chunk := srcImg.ChunkSize()
	n := chunk
	if avail := srcImg.Dev.Size() - srcImg.Start; avail < n {
		n = avail
	}
	raw := make([]byte, n)
	if err := srcImg.Dev.Read(srcImg.Start, raw, int(n)); err != nil {
		return nil, 0, &errkind.FlashOp{Inner: err}
	}

	sector := srcImg.Dev.SectorSize()
	extent := roundUp(16+wire.BootAreaSize+srcImg.Boot.BootCodeSizeBytes(), sector)

	if src.ITOC != nil {
		packed := src.ITOC.Pack()
		tocOff := src.ITOC.HeaderAddr - srcImg.Start
		copy(raw[tocOff:], packed)
		if e := tocOff + int64(len(packed)); e > extent {
			extent = e
		}
		for _, se := range src.ITOC.Entries {
			if !se.Entry.RelativeAddr {
				continue
			}
			off := se.Entry.FlashAddrBytes()
			if se.Data != nil && off+int64(len(se.Data)) <= n {
				copy(raw[off:], se.Data)
				if p.config.Signer != nil && isSignatureHolder(se.Entry.Type) {
					blank(raw[off : off+int64(len(se.Data))])
				}
			}
			if e := off + se.Entry.SizeBytes(); e > extent {
				extent = e
			}
		}
	} else {
		// Encrypted image: content extent is unknowable, burn the
		// whole chunk and let the device-data floor bound it.
		extent = n
	}
	return raw, roundUp(extent, sector), nil
}

// writeImageContent erases the destination and writes raw[16:extent] at
// the physical addresses newStart+16 onward (phys=true, so no address
// convertor is involved), leaving the magic pattern bytes untouched.
func (p *Programmer) writeImageContent(ctx context.Context, dev flash.Device, newStart int64, raw []byte, extent int64) error {
	sector := dev.SectorSize()
	for a := newStart; a < newStart+extent; a += sector {
		if err := dev.EraseSector(a); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
	}

	if int64(len(raw)) < extent {
		extent = int64(len(raw))
	}
	for off := int64(16); off < extent; off += writeChunk {
		if err := p.checkpoint(ctx, StageWriteImage, off, extent); err != nil {
			return err
		}
		end := off + writeChunk
		if end > extent {
			end = extent
		}
		if err := dev.Write(newStart+off, raw[off:end], int(end-off), true); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
	}
	return p.checkpoint(ctx, StageWriteImage, extent, extent)
}

// writeDevData writes the source DTOC's sections and then the DTOC
// itself at the device's last sector, with write protection lifted for
// the duration and restored on every path out.
func (p *Programmer) writeDevData(ctx context.Context, dev flash.Device, dtoc *toc.Store) (err error) {
	restore, err := liftWriteProtect(dev)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := restore(); err == nil {
			err = rerr
		}
	}()

	sector := dev.SectorSize()
	total := int64(len(dtoc.Entries) + 1)
	for i, se := range dtoc.Entries {
		if err := p.checkpoint(ctx, StageWriteDevData, int64(i), total); err != nil {
			return err
		}
		if se.Data == nil {
			continue
		}
		addr := se.Entry.FlashAddrBytes()
		for a := addr / sector * sector; a < addr+int64(len(se.Data)); a += sector {
			if err := dev.EraseSector(a); err != nil {
				return &errkind.FlashOp{Inner: err}
			}
		}
		if err := dev.Write(addr, se.Data, len(se.Data), true); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
	}

	if err := p.checkpoint(ctx, StageWriteDevData, total-1, total); err != nil {
		return err
	}
	hdrAddr := dev.Size() - sector
	if err := dev.EraseSector(hdrAddr); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	packed := dtoc.Pack()
	if err := dev.Write(hdrAddr, packed, len(packed), true); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	return nil
}

// insertSignatures signs the source's regions and writes the signature
// sections into the already-written flash content. The signature
// holders carry no CRC, so nothing else on flash changes.
func (p *Programmer) insertSignatures(dev flash.Device, newStart int64, src *query.Engine) error {
	srcImg := src.Image()
	if !srcImg.HWPointers.Pointers[wire.PtrHashesTable].Absent() {
		if err := secureboot.SignVersion2(srcImg, src.ITOC, p.config.Signer); err != nil {
			return err
		}
	} else {
		if err := secureboot.SignVersion1(srcImg, src.ITOC, p.config.Signer, p.config.SignatureUUID); err != nil {
			return err
		}
	}

	for _, se := range src.ITOC.Entries {
		if !isSignatureHolder(se.Entry.Type) || se.Data == nil {
			continue
		}
		addr := newStart + se.Entry.FlashAddrBytes()
		if err := dev.Write(addr, se.Data, len(se.Data), true); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
	}
	return nil
}

// invalidateStale clears old magic patterns: only the previously active
// slot on a fail-safe burn, every other magic hit otherwise.
func (p *Programmer) invalidateStale(dev flash.Device, tgt *query.Engine, newStart int64) error {
	var zero [16]byte
	if p.config.Failsafe {
		if tgt == nil {
			return nil
		}
		old := tgt.Image().Start
		if old == newStart {
			return nil
		}
		if err := dev.Write(old, zero[:], len(zero), true); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
		return nil
	}

	hits, err := image.ScanMagic(dev)
	if err != nil {
		return err
	}
	for _, h := range hits {
		if h == newStart {
			continue
		}
		if err := dev.Write(h, zero[:], len(zero), true); err != nil {
			return &errkind.FlashOp{Inner: err}
		}
	}
	return nil
}

// applyRomPolicy splices the device's ROM into a source that lacks one,
// when the policy asks for it.
func (p *Programmer) applyRomPolicy(tgt, src *query.Engine) error {
	if p.config.RomPolicy != RomPolicyFromDeviceIfExists {
		return nil
	}
	if tgt == nil || tgt.ITOC == nil || src.ITOC == nil {
		return nil
	}
	if src.ITOC.Find(wire.SectionROMCode) != nil {
		return nil
	}
	devRom := tgt.ITOC.Find(wire.SectionROMCode)
	if devRom == nil || devRom.Data == nil {
		return nil
	}
	p.print("Preserving ROM from device")
	return src.ITOC.Insert(wire.SectionPCICode, wire.Entry{
		Type:         wire.SectionROMCode,
		RelativeAddr: true,
		CRCMode:      wire.CRCModeInTocEntry,
	}, devRom.Data)
}

// applyVSDOverride patches the source IMAGE_INFO's VSD field in memory
// before the burn.
func (p *Programmer) applyVSDOverride(src *query.Engine) error {
	if !p.config.VSDOverride {
		return nil
	}
	if src.ITOC == nil {
		return &errkind.UnsupportedBurnMode{Reason: "cannot override VSD without a plaintext ITOC"}
	}
	se := src.ITOC.Find(wire.SectionImageInfo)
	if se == nil || se.Data == nil {
		return &errkind.Internal{Location: "burn.applyVSDOverride", Msg: "source has no IMAGE_INFO"}
	}
	data := append([]byte(nil), se.Data...)
	if err := query.SetVSD(data, p.config.UserVSD); err != nil {
		return err
	}
	return src.ITOC.Replace(wire.SectionImageInfo, data)
}

func fwOlder(a, b query.FWVersion) bool {
	if a.Major != b.Major {
		return a.Major < b.Major
	}
	if a.Minor != b.Minor {
		return a.Minor < b.Minor
	}
	return a.Subminor < b.Subminor
}

func isSignatureHolder(t wire.SectionType) bool {
	switch t {
	case wire.SectionImageSignature256, wire.SectionImageSignature512,
		wire.SectionRSAPublicKey, wire.SectionRSA4096Signatures:
		return true
	}
	return false
}

func blank(b []byte) {
	for i := range b {
		b[i] = 0xFF
	}
}

func roundUp(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return (n + align - 1) / align * align
}
