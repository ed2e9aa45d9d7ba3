// Package crc implements the three CRC-16 variants the flash image format
// relies on: the software CRC used for TOC headers, TOC entries and
// INITOCENTRY/INSECTION section bodies, the hardware-pointer CRC used for
// the FS4 hardware pointer table, and a legacy preboot variant kept for
// backward compatibility with a historical generator bug.
//
// All three are table-driven CRC-16 computations built on top of
// github.com/sigurn/crc16 rather than hand-rolled bit loops, the way a
// production flash tool would pull from an existing CRC library instead of
// re-deriving the polynomial math inline.
package crc
