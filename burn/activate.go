package burn

import (
	"github.com/pkg/errors"
)

// Activator switches the device over to a freshly burnt image.
type Activator interface {
	Activate(newImageStart int64) error
}

// ErrBadParam is the status old firmware returns for an activation
// register it does not support; Activate treats it as success from
// either MFAI or MFRL because those parts reboot anyway.
var ErrBadParam = errors.New("register access: bad parameter")

// RegisterAccess exposes the two activation registers as opaque calls.
type RegisterAccess interface {
	// WriteMFAI sets the new image address; useAddress=false asks the
	// device to rescan instead.
	WriteMFAI(addr uint32, useAddress bool) error
	// WriteMFRL requests a reset; warmBoot sets the warm-boot level
	// bit.
	WriteMFRL(warmBoot bool) error
}

// RegisterActivator performs in-situ activation through MFAI + MFRL on
// platforms that support it.
type RegisterActivator struct {
	Regs RegisterAccess
}

// Activate points MFAI at the new image and requests a warm boot. A
// bad-parameter status from either register is silently treated as
// success for old-firmware compatibility.
func (a *RegisterActivator) Activate(newImageStart int64) error {
	if err := a.Regs.WriteMFAI(uint32(newImageStart), true); err != nil {
		if errors.Is(err, ErrBadParam) {
			return nil
		}
		return errors.Wrap(err, "MFAI")
	}
	if err := a.Regs.WriteMFRL(true); err != nil {
		if errors.Is(err, ErrBadParam) {
			return nil
		}
		return errors.Wrap(err, "MFRL")
	}
	return nil
}

// BootPointerUpdater is the flash-driver fallback: the driver rewrites
// its boot pointer register to the new image start.
type BootPointerUpdater interface {
	UpdateBootAddr(addr int64) error
}

// BootPointerActivator activates by telling the flash driver to move its
// boot address.
type BootPointerActivator struct {
	Driver BootPointerUpdater
}

func (a *BootPointerActivator) Activate(newImageStart int64) error {
	return errors.Wrap(a.Driver.UpdateBootAddr(newImageStart), "update boot addr")
}
