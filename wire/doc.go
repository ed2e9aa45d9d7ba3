// Package wire holds the on-flash byte layout this engine reads and
// writes: the magic pattern, boot area, hardware pointer table, tools
// area, and the 32-byte TOC entry representation. Everything here is pure
// data shape plus pack/unpack — no I/O, no CRC policy, no section
// semantics. Higher packages (image, toc, query, burn) interpret these
// shapes; wire just guarantees the byte-for-byte round trip.
package wire
