// Package query runs the end-to-end verification pass over an image —
// locator, headers, hardware pointers, tools area, ITOC, DTOC, hashes
// table — and folds the well-known informational sections (IMAGE_INFO,
// MFG_INFO, DEV_INFO, ROM_CODE) into a structured Info summary.
//
// Two depths are offered: a quick query reads only the informational
// sections, a full query reads every section so all body CRCs are
// checked. An encrypted image is recognized by the absence of a valid
// ITOC header at its expected address; the engine then reports what the
// DTOC alone can tell and flags the image so ITOC-touching operations
// are refused downstream.
package query
