package secureboot

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/image"
	"github.com/dakota-m/mstflint/toc"
	"github.com/dakota-m/mstflint/wire"
)

// Signer is the RSA backend, consumed as a pure function: it receives a
// SHA-512 digest and returns the signature. Engine-backed and software
// signers both fit behind it.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
	PublicKey() []byte
}

// HMACKeySize is the development-part HMAC key length.
const HMACKeySize = 64

// criticalTypes are the sections whose concatenation forms the
// "critical" signed region.
var criticalTypes = []wire.SectionType{
	wire.SectionHWBootCfg,
	wire.SectionPCIeLinkCode,
	wire.SectionPhyUcCode,
}

// signatureExemptTypes never contribute to the non-critical region: the
// signature holders themselves.
var signatureExemptTypes = map[wire.SectionType]bool{
	wire.SectionImageSignature256: true,
	wire.SectionImageSignature512: true,
	wire.SectionRSA4096Signatures: true,
}

func pad8(b []byte) []byte {
	for len(b)%8 != 0 {
		b = append(b, 0xFF)
	}
	return b
}

// CriticalSections concatenates the critical section bytes in their
// fixed order, each padded to 8-byte alignment with 0xFF.
func CriticalSections(itoc *toc.Store) []byte {
	var out []byte
	for _, t := range criticalTypes {
		if se := itoc.Find(t); se != nil && se.Data != nil {
			out = append(out, pad8(append([]byte(nil), se.Data...))...)
		}
	}
	return out
}

// NonCriticalSections concatenates everything else, skipping the
// critical set and the signature holders.
func NonCriticalSections(itoc *toc.Store) []byte {
	critical := make(map[wire.SectionType]bool, len(criticalTypes))
	for _, t := range criticalTypes {
		critical[t] = true
	}
	var out []byte
	for _, se := range itoc.Entries {
		if critical[se.Entry.Type] || signatureExemptTypes[se.Entry.Type] || se.Data == nil {
			continue
		}
		out = append(out, pad8(append([]byte(nil), se.Data...))...)
	}
	return out
}

// BootRegion reads the boot-area byte span the version-1 scheme signs:
// authentication_start through authentication_end, inclusive.
func BootRegion(img *image.Image) ([]byte, error) {
	start := img.HWPointers.Pointers[wire.PtrAuthenticationStart]
	end := img.HWPointers.Pointers[wire.PtrAuthenticationEnd]
	if start.Absent() || end.Absent() || end.Value < start.Value {
		return nil, &errkind.Internal{Location: "secureboot.BootRegion", Msg: "authentication pointers not set"}
	}
	lo := img.Start + int64(start.Value)*4
	n := int64(end.Value-start.Value+1) * 4
	buf := make([]byte, n)
	if err := img.Dev.Read(lo, buf, len(buf)); err != nil {
		return nil, &errkind.FlashOp{Inner: err}
	}
	return buf, nil
}

// BootRegionV2 synthesizes the boot area the HTOC-era scheme signs: the
// boot-version dword, the bare pointer values without their CRCs, the
// boot record, boot2, and the packed hashes table.
func BootRegionV2(img *image.Image) ([]byte, error) {
	var out []byte

	var verDword [4]byte
	if err := img.Dev.Read(img.Start+16, verDword[:], 4); err != nil {
		return nil, &errkind.FlashOp{Inner: err}
	}
	out = append(out, verDword[:]...)

	for _, p := range img.HWPointers.Pointers {
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], p.Value)
		out = append(out, v[:]...)
	}

	rec := img.HWPointers.Pointers[wire.PtrBootRecord]
	b2 := img.HWPointers.Pointers[wire.PtrBoot2]
	if !rec.Absent() && !b2.Absent() && b2.Value > rec.Value {
		n := int64(b2.Value-rec.Value) * 4
		buf := make([]byte, n)
		if err := img.Dev.Read(img.Start+int64(rec.Value)*4, buf, len(buf)); err != nil {
			return nil, &errkind.FlashOp{Inner: err}
		}
		out = append(out, buf...)
	}
	if !b2.Absent() && b2.Value != 0 {
		addr := img.Start + int64(b2.Value)*4
		var hdr [8]byte
		if err := img.Dev.Read(addr, hdr[:], len(hdr)); err != nil {
			return nil, &errkind.FlashOp{Inner: err}
		}
		sizeDwords := binary.BigEndian.Uint32(hdr[4:8])
		buf := make([]byte, 8+int(sizeDwords)*4)
		if err := img.Dev.Read(addr, buf, len(buf)); err != nil {
			return nil, &errkind.FlashOp{Inner: err}
		}
		out = append(out, buf...)
	}

	h, err := ReadHTOC(img, nil)
	if err != nil {
		return nil, errors.Wrap(err, "hashes table for boot region")
	}
	out = append(out, h.Pack()...)
	return out, nil
}

// SignVersion1 runs the pre-HTOC signing chain: RSA over the SHA-512 of
// the boot area, the critical concatenation and the non-critical
// concatenation; the three signatures land in RSA_4096_SIGNATURES and
// the public key plus its UUID in RSA_PUBLIC_KEY.
func SignVersion1(img *image.Image, itoc *toc.Store, signer Signer, uuid [16]byte) error {
	boot, err := BootRegion(img)
	if err != nil {
		return err
	}

	regions := [][]byte{boot, CriticalSections(itoc), NonCriticalSections(itoc)}
	var sigs []byte
	for _, r := range regions {
		digest := sha512.Sum512(r)
		sig, err := signer.Sign(digest[:])
		if err != nil {
			return errors.Wrap(err, "rsa sign")
		}
		sigs = append(sigs, sig...)
	}
	if err := replaceKeepSize(itoc, wire.SectionRSA4096Signatures, sigs); err != nil {
		return err
	}

	keyBlock := append([]byte(nil), uuid[:]...)
	keyBlock = append(keyBlock, signer.PublicKey()...)
	return replaceKeepSize(itoc, wire.SectionRSAPublicKey, keyBlock)
}

// replaceKeepSize writes new content into a signature-holder section
// without growing it: the block is padded with 0xFF to the section's
// existing size so the TOC entry — and therefore the flash bytes around
// it — stay untouched.
func replaceKeepSize(itoc *toc.Store, t wire.SectionType, block []byte) error {
	se := itoc.Find(t)
	if se == nil {
		return &errkind.Internal{Location: "secureboot.replaceKeepSize", Msg: "image has no " + t.String() + " section"}
	}
	size := int(se.Entry.SizeBytes())
	if len(block) > size {
		return &errkind.Internal{Location: "secureboot.replaceKeepSize", Msg: t.String() + " section too small for signature block"}
	}
	padded := make([]byte, size)
	for i := range padded {
		padded[i] = 0xFF
	}
	copy(padded, block)
	return itoc.ReplaceEntry(se, padded)
}

// SignVersion2 runs the HTOC-era signing: only the synthesized boot
// region is RSA-signed; section integrity hangs off the digest chain.
// The signature is stored in IMAGE_SIGNATURE_512.
func SignVersion2(img *image.Image, itoc *toc.Store, signer Signer) error {
	boot, err := BootRegionV2(img)
	if err != nil {
		return err
	}
	digest := sha512.Sum512(boot)
	sig, err := signer.Sign(digest[:])
	if err != nil {
		return errors.Wrap(err, "rsa sign")
	}
	return replaceKeepSize(itoc, wire.SectionImageSignature512, sig)
}

// SignHMAC computes HMAC-SHA256 digests of the boot area, critical and
// non-critical regions with a 64-byte development key and writes them at
// the recovery-key digest pointer.
func SignHMAC(img *image.Image, itoc *toc.Store, key []byte) error {
	if len(key) != HMACKeySize {
		return &errkind.Internal{Location: "secureboot.SignHMAC", Msg: "hmac key must be 64 bytes"}
	}
	p := img.HWPointers.Pointers[wire.PtrDigestRecoveryKey]
	if p.Absent() || p.Value == 0 {
		return &errkind.Internal{Location: "secureboot.SignHMAC", Msg: "no recovery-key digest pointer"}
	}

	boot, err := BootRegion(img)
	if err != nil {
		return err
	}
	regions := [][]byte{boot, CriticalSections(itoc), NonCriticalSections(itoc)}

	var digests []byte
	for _, r := range regions {
		mac := hmac.New(sha256.New, key)
		mac.Write(r)
		digests = append(digests, mac.Sum(nil)...)
	}

	addr := img.Start + int64(p.Value)*4
	if err := img.Dev.Write(addr, digests, len(digests), true); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	return nil
}
