// Package toc parses, verifies and rewrites the two tables of contents an
// image carries: the ITOC, whose entries address firmware sections through
// slot-relative addresses, and the DTOC, whose entries address device-data
// sections (MFG info, GUIDs, NV logs, VPD) at absolute flash addresses.
//
// The package is two layers in one: the parse/verify layer walks a TOC on
// a device, checks the header CRC, every entry CRC and every section CRC
// under the entry's CRC mode, and materializes section bytes into a Store;
// the mutation layer (Replace, Insert, Remove, ShiftDevData, AlignDevData)
// edits the Store with automatic CRC recomputation and ripple-update of
// sibling entries, then packs everything back to bytes for the burn path.
package toc
