// Package burn writes a verified image onto a flash device. The
// fail-safe protocol never leaves the device unbootable: everything but
// the 16-byte magic pattern is written first into the inactive slot,
// device data and signatures follow, and only then is the new magic
// committed and the old one cleared. A crash between any two steps
// leaves at least one bootable image on flash.
//
// Programmer is configured with functional options and drives the whole
// sequence: pre-flight compatibility checks (format, PSID, HW id, chunk
// size, version, security version), slot selection, the ordered write
// steps with progress/cancellation between writes, and activation via
// the caller's register or boot-pointer backend.
package burn
