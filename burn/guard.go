package burn

import (
	"time"

	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/flash"
)

// writeProtectPolls bounds how many times a protect-state change is
// re-read before giving up; flash parts need a settle delay after
// status-register writes.
const (
	writeProtectPolls    = 5
	writeProtectInterval = 200 * time.Millisecond
)

// CacheReplaceControl is the driver hook behind raw flash access: some
// devices route flash reads through a cache that must be bypassed while
// the engine rewrites device data outside the fail-safe path.
type CacheReplaceControl interface {
	Acquire() error
	Release() error
}

// withCacheReplace scopes a cache-replace lease around fn; the lease is
// released on every path out, error returns included.
func withCacheReplace(ctrl CacheReplaceControl, fn func() error) (err error) {
	if ctrl == nil {
		return fn()
	}
	if err := ctrl.Acquire(); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	defer func() {
		if rerr := ctrl.Release(); err == nil && rerr != nil {
			err = &errkind.FlashOp{Inner: rerr}
		}
	}()
	return fn()
}

// anyBankProtected reports whether any bank currently protects sectors.
func anyBankProtected(dev flash.Device) (bool, error) {
	banks, err := dev.GetWriteProtect()
	if err != nil {
		return false, &errkind.FlashOp{Inner: err}
	}
	for _, wp := range banks {
		if wp.SectorsNum != 0 {
			return true, nil
		}
	}
	return false, nil
}

// setWriteProtectPolled applies a protect descriptor and polls until the
// device reports it, bounded by writeProtectPolls.
func setWriteProtectPolled(dev flash.Device, bank int, wp flash.WriteProtect) error {
	if err := dev.SetWriteProtect(bank, wp); err != nil {
		return &errkind.FlashOp{Inner: err}
	}
	for i := 0; i < writeProtectPolls; i++ {
		banks, err := dev.GetWriteProtect()
		if err != nil {
			return &errkind.FlashOp{Inner: err}
		}
		if bank < len(banks) && banks[bank] == wp {
			return nil
		}
		time.Sleep(writeProtectInterval)
	}
	return &errkind.FlashOp{Inner: flash.ErrWriteProtected}
}

// liftWriteProtect clears protection on every bank and returns the
// restore function; the caller defers it so the protect state comes back
// on every path out, error paths included.
func liftWriteProtect(dev flash.Device) (func() error, error) {
	saved, err := dev.GetWriteProtect()
	if err != nil {
		return nil, &errkind.FlashOp{Inner: err}
	}
	for bank := range saved {
		if saved[bank].SectorsNum == 0 {
			continue
		}
		if err := setWriteProtectPolled(dev, bank, flash.WriteProtect{}); err != nil {
			return nil, err
		}
	}
	restore := func() error {
		for bank, wp := range saved {
			if wp.SectorsNum == 0 {
				continue
			}
			if err := setWriteProtectPolled(dev, bank, wp); err != nil {
				return err
			}
		}
		return nil
	}
	return restore, nil
}
