// Checksums for entry payloads, the footer, and whole-file fingerprints.
//
// Payload and footer checksums only detect corruption; they are xxh3 with
// a fixed seed so that the same bytes always produce the same value across
// processes and machines. Fingerprint is a BLAKE2b-256 digest of the entire
// file image and exists for comparing archives byte for byte.
package quire

import (
	"encoding/hex"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// ChecksumSeed is the xxh3 seed used for every stored checksum. Changing it
// invalidates every existing archive.
const ChecksumSeed uint64 = 0x71756972652d3031 // "quire-01"

// checksum returns the stored checksum of b.
func checksum(b []byte) uint64 {
	return xxh3.HashSeed(b, ChecksumSeed)
}

// fingerprint returns the hex BLAKE2b-256 digest of b.
func fingerprint(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}
