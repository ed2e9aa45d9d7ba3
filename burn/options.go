package burn

import (
	"github.com/sirupsen/logrus"

	"github.com/dakota-m/mstflint/query"
	"github.com/dakota-m/mstflint/secureboot"
)

// RomPolicy selects how ROM_CODE is treated when source and device
// disagree about having one.
type RomPolicy int

const (
	// RomPolicyDefault burns the source as-is.
	RomPolicyDefault RomPolicy = iota
	// RomPolicyFromDeviceIfExists splices the device's ROM into a
	// source that lacks one.
	RomPolicyFromDeviceIfExists
	// RomPolicyNone never carries ROM over.
	RomPolicyNone
)

// Config holds the programmer configuration.
type Config struct {
	// Failsafe enables the ordered two-slot write protocol.
	Failsafe bool

	// UseImageDevData takes DTOC sections from the source image instead
	// of preserving the device's.
	UseImageDevData bool

	// AllowPSIDChange downgrades a PSID mismatch to a printed warning.
	AllowPSIDChange bool

	// IgnoreDevID skips the HW-device-id compatibility check.
	IgnoreDevID bool

	// IgnoreVersion skips the version-downgrade check.
	IgnoreVersion bool

	// RomPolicy controls ROM carry-over.
	RomPolicy RomPolicy

	// VSDOverride patches IMAGE_INFO's VSD field with UserVSD before
	// the burn.
	VSDOverride bool
	UserVSD     string

	// CacheReplacement authorizes raw flash access for operations that
	// modify device data outside the fail-safe path.
	CacheReplacement bool

	// CacheReplaceCtrl is the driver lease behind CacheReplacement; it
	// is acquired for the duration of the write sequence and released
	// on every path out.
	CacheReplaceCtrl CacheReplaceControl

	// IgnoreCRCCheck is recorded on the Config; Burn does not read it.
	// CRC handling of the source happens when its query.Engine is
	// queried (query.WithIgnoreCRC).
	IgnoreCRCCheck bool

	// HWDeviceID is the target's hardware device id; zero skips the
	// supported-id check the same way IgnoreDevID does.
	HWDeviceID uint32

	// DeviceSecurityVersion is the device's efuse security version; an
	// image with a lower security version is refused.
	DeviceSecurityVersion uint32

	// Signer, when set, re-signs the image on flash after the content
	// writes; nil burns the source's signatures as they are.
	Signer secureboot.Signer

	// SignatureUUID is stored alongside the public key when Signer
	// runs the pre-HTOC signing chain.
	SignatureUUID [16]byte

	// Activator switches the device to the new image after the commit;
	// nil leaves activation to the caller.
	Activator Activator

	// Callbacks are the verify/progress/print hooks; Progress may
	// cancel the burn between writes.
	Callbacks *query.Callbacks

	// Logger is used for operation logging; nil keeps the programmer
	// silent.
	Logger *logrus.Entry
}

func defaultConfig() Config {
	return Config{Failsafe: true}
}

// Option is a functional option for configuring the Programmer.
type Option func(*Config)

// WithFailsafe toggles the fail-safe protocol; it is on by default.
func WithFailsafe(on bool) Option {
	return func(c *Config) { c.Failsafe = on }
}

// WithUseImageDevData burns the source's DTOC sections instead of
// preserving the device's.
func WithUseImageDevData() Option {
	return func(c *Config) { c.UseImageDevData = true }
}

// WithAllowPSIDChange permits burning across product lines.
func WithAllowPSIDChange() Option {
	return func(c *Config) { c.AllowPSIDChange = true }
}

// WithIgnoreDevID skips the hardware-device-id check.
func WithIgnoreDevID() Option {
	return func(c *Config) { c.IgnoreDevID = true }
}

// WithIgnoreVersion permits burning an older firmware over a newer one.
func WithIgnoreVersion() Option {
	return func(c *Config) { c.IgnoreVersion = true }
}

// WithRomPolicy selects ROM carry-over behavior.
func WithRomPolicy(p RomPolicy) Option {
	return func(c *Config) { c.RomPolicy = p }
}

// WithVSDOverride patches the image's VSD before burning.
func WithVSDOverride(vsd string) Option {
	return func(c *Config) {
		c.VSDOverride = true
		c.UserVSD = vsd
	}
}

// WithCacheReplacement authorizes raw flash access (-ocr). ctrl may be
// nil when the device needs no cache bypass.
func WithCacheReplacement(ctrl CacheReplaceControl) Option {
	return func(c *Config) {
		c.CacheReplacement = true
		c.CacheReplaceCtrl = ctrl
	}
}

// WithIgnoreCRCCheck sets Config.IgnoreCRCCheck, which Burn does not read.
func WithIgnoreCRCCheck() Option {
	return func(c *Config) { c.IgnoreCRCCheck = true }
}

// WithHWDeviceID supplies the target's hardware device id for the
// supported-id check.
func WithHWDeviceID(id uint32) Option {
	return func(c *Config) { c.HWDeviceID = id }
}

// WithDeviceSecurityVersion supplies the device's efuse security
// version for the downgrade check.
func WithDeviceSecurityVersion(v uint32) Option {
	return func(c *Config) { c.DeviceSecurityVersion = v }
}

// WithSigner re-signs the image on flash after the content writes.
func WithSigner(s secureboot.Signer) Option {
	return func(c *Config) { c.Signer = s }
}

// WithSignatureUUID sets the key UUID stored with the public key.
func WithSignatureUUID(uuid [16]byte) Option {
	return func(c *Config) { c.SignatureUUID = uuid }
}

// WithActivator installs the register- or driver-backed activation step.
func WithActivator(a Activator) Option {
	return func(c *Config) { c.Activator = a }
}

// WithCallbacks installs the verify/progress/print hooks.
func WithCallbacks(cb *query.Callbacks) Option {
	return func(c *Config) { c.Callbacks = cb }
}

// WithLogger attaches a logrus entry for operation logging.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Config) { c.Logger = log }
}
