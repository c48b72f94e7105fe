// Package quire implements an append-only, zstd-compressed container file
// ("archive") and a three-tier stack of archives that bounds rewrite cost
// under frequent updates.
//
// An archive is a single memory-mapped file. It starts with a fixed
// leading frame recording the length and checksum of the footer, followed
// by a content region of entry records, free space, and finally the footer
// itself, which ends exactly at the end of the file. Every entry record is
// three consecutive zstd frames: a skippable frame carrying the path, a
// skippable frame carrying an xxh3 checksum of the payload, and the
// compressed payload frame. Because generic zstd decoders skip the
// metadata frames, the content region is itself a valid zstd stream.
//
// Writes only ever append records and then replace the footer. If the
// leading frame does not validate against the footer on load, the footer
// is rebuilt by scanning records from the start of the content region and
// stopping at the first one that fails a check, so a torn write loses only
// the unrecoverable suffix. Compaction writes the live records into a new
// file and renames it over the original.
//
// A Stack layers three archives (hot, warm, cold). New writes land in the
// hot tier and compaction demotes whole tiers towards cold once they
// outgrow their budget, so each rewrite is bounded by a tier's own size.
package quire

import "errors"

// Sentinel errors for programmatic handling. Callers can use errors.Is to
// distinguish logical conditions (ErrNotFound, ErrShortBuffer) from
// corruption (ErrChecksum, ErrCorruptRecord, ErrDecompress).
var (
	ErrNotFound       = errors.New("entry not found")
	ErrExists         = errors.New("entry already exists")
	ErrInvalidPath    = errors.New("invalid entry path")
	ErrShortBuffer    = errors.New("destination buffer too small")
	ErrChecksum       = errors.New("checksum mismatch")
	ErrCorruptRecord  = errors.New("corrupt record")
	ErrCorruptFooter  = errors.New("corrupt footer")
	ErrCompress       = errors.New("compression failed")
	ErrDecompress     = errors.New("decompression failed")
	ErrDictionary     = errors.New("invalid dictionary")
	ErrClosed         = errors.New("archive is closed")
	ErrLocked         = errors.New("archive is locked by another process")
	ErrNeedsRecovery  = errors.New("archive footer needs recovery")
	ErrInvalidPattern = errors.New("invalid search pattern")
)
