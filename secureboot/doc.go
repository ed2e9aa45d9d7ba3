// Package secureboot keeps a signed image's verification chain
// consistent. It covers the hashes table (HTOC): parsing, per-section
// SHA-512 digest verification and refresh, and the table's trailing CRC;
// and the two signing generations: the critical/non-critical/boot-area
// RSA triple stored into RSA_4096_SIGNATURES, and the HTOC-era scheme
// where only the boot area is signed and all section integrity hangs off
// the per-section digest chain. An HMAC-SHA256 path over the same
// regions serves development parts keyed with a 64-byte secret.
//
// Cryptographic primitives are consumed as pure functions: the Signer
// interface wraps whatever RSA backend the caller has, and digests come
// from crypto/sha512 directly.
package secureboot
