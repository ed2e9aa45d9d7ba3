// Package flash provides the uniform byte-addressed block device
// abstraction the rest of the engine reads and
// writes through. It deliberately knows nothing about TOC entries,
// sections, or fail-safe semantics — those live in the toc/burn packages.
// Device is the narrow interface a live flash driver implements. Two
// implementations are provided: FileImage, a file- or memory-backed
// device used for offline image manipulation and tests, and MemoryFlash,
// an in-memory NOR flash simulation. Neither is the flash driver itself; the physical erase/write/poll sequencing belongs to an
// external driver behind the Device interface.
package flash
