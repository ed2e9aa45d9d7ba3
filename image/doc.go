// Package image implements the image locator and the boot-area /
// hardware-pointer-table parser, and ties them together into the
// top-level Image type that the toc, query and burn packages build on. It models the FS3/FS4 format
// split as a sealed variant: Variant carries the format tag, and
// format-specific fields (HWPointers, Tools, HTOC-adjacent bits) are
// simply absent/zero on FS3 images.
package image
