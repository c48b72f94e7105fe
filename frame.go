// Frame-level layout of the archive file.
//
// Every byte range in an archive is a zstd frame. Metadata lives in
// skippable frames (magic 0x184D2A5?, where the low nibble is a tag),
// which zstd decoders are required to ignore:
//
//	[skippable tag 0: footer length u64 LE, footer checksum u64 LE]   leading frame, 24 bytes
//	[skippable tag 1: path bytes]                                     \
//	[skippable tag 2: payload checksum u64 LE]                         > one entry record
//	[zstd frame: compressed payload]                                  /
//	... more records ...
//	[free space]
//	[footer]                                                          ends at end of file
//
// frameLength is the only place that understands the internals of an
// ordinary zstd frame. Recovery uses it to find how many bytes of a
// possibly truncated buffer make up one complete payload frame.
package quire

import (
	"encoding/binary"
	"unicode/utf8"
)

// Skippable frame tags. The tag occupies the low nibble of the magic.
const (
	tagIndex    = 0x0
	tagFilename = 0x1
	tagChecksum = 0x2
)

const (
	skippableMagic = 0x184D2A50
	zstdMagic      = 0xFD2FB528

	// skippableHeaderSize is the magic plus the u32 data length.
	skippableHeaderSize = 8

	// leadingFrameSize is the fixed frame at offset 0 that validates the footer.
	leadingFrameSize = skippableHeaderSize + 16

	// checksumFrameSize is the skippable frame holding one u64 checksum.
	checksumFrameSize = skippableHeaderSize + 8

	// maxBlockSize is the largest block a zstd frame may contain.
	maxBlockSize = 128 << 10
)

// MaxPathSize is the maximum length of an entry path in bytes.
const MaxPathSize = 4096

// recordOverhead is the number of metadata bytes that precede the payload
// frame of an entry stored under path.
func recordOverhead(path string) int {
	return skippableHeaderSize + len(path) + checksumFrameSize
}

// putSkippable writes a skippable frame header for tag with n data bytes.
func putSkippable(b []byte, tag uint32, n int) {
	binary.LittleEndian.PutUint32(b[0:4], skippableMagic|tag)
	binary.LittleEndian.PutUint32(b[4:8], uint32(n))
}

// readSkippable parses a skippable frame with the given tag at the start of
// b and returns its data. ok is false if the magic or tag differ or the
// frame runs past the end of b.
func readSkippable(b []byte, tag uint32) (data []byte, ok bool) {
	if len(b) < skippableHeaderSize {
		return nil, false
	}
	if binary.LittleEndian.Uint32(b[0:4]) != skippableMagic|tag {
		return nil, false
	}
	n := uint64(binary.LittleEndian.Uint32(b[4:8]))
	if n > uint64(len(b)-skippableHeaderSize) {
		return nil, false
	}
	return b[skippableHeaderSize : skippableHeaderSize+int(n)], true
}

// putLeading encodes the leading frame describing a footer.
func putLeading(b []byte, footerLen int, footerSum uint64) {
	putSkippable(b, tagIndex, 16)
	binary.LittleEndian.PutUint64(b[8:16], uint64(footerLen))
	binary.LittleEndian.PutUint64(b[16:24], footerSum)
}

// readLeading decodes the leading frame.
func readLeading(b []byte) (footerLen uint64, footerSum uint64, ok bool) {
	data, ok := readSkippable(b, tagIndex)
	if !ok || len(data) != 16 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint64(data[0:8]), binary.LittleEndian.Uint64(data[8:16]), true
}

// putRecordHeader writes the filename and checksum frames for an entry.
// b must be at least recordOverhead(path) bytes.
func putRecordHeader(b []byte, path string, sum uint64) {
	putSkippable(b, tagFilename, len(path))
	n := copy(b[skippableHeaderSize:], path)
	c := b[skippableHeaderSize+n:]
	putSkippable(c, tagChecksum, 8)
	binary.LittleEndian.PutUint64(c[8:16], sum)
}

// recordHeader is the parsed metadata of one entry record.
type recordHeader struct {
	path string
	sum  uint64
	size int // bytes consumed by both metadata frames
}

// readRecordHeader parses the filename and checksum frames at the start of b.
func readRecordHeader(b []byte) (recordHeader, bool) {
	name, ok := readSkippable(b, tagFilename)
	if !ok || len(name) == 0 || !utf8.Valid(name) {
		return recordHeader{}, false
	}
	rest := b[skippableHeaderSize+len(name):]
	sum, ok := readSkippable(rest, tagChecksum)
	if !ok || len(sum) != 8 {
		return recordHeader{}, false
	}
	return recordHeader{
		path: string(name),
		sum:  binary.LittleEndian.Uint64(sum),
		size: skippableHeaderSize + len(name) + checksumFrameSize,
	}, true
}

// frameLength reports the length of the complete zstd frame at the start of
// b. It returns false if b does not start with a zstd frame or the frame is
// cut short.
func frameLength(b []byte) (int, bool) {
	if len(b) < 5 || binary.LittleEndian.Uint32(b) != zstdMagic {
		return 0, false
	}
	fhd := b[4]
	if fhd&0x08 != 0 {
		return 0, false // reserved bit
	}
	single := fhd&0x20 != 0
	hasChecksum := fhd&0x04 != 0

	pos := 5
	if !single {
		pos++ // window descriptor
	}
	pos += [4]int{0, 1, 2, 4}[fhd&0x03]
	switch fhd >> 6 {
	case 0:
		if single {
			pos++
		}
	case 1:
		pos += 2
	case 2:
		pos += 4
	case 3:
		pos += 8
	}

	for {
		if pos+3 > len(b) {
			return 0, false
		}
		h := uint32(b[pos]) | uint32(b[pos+1])<<8 | uint32(b[pos+2])<<16
		pos += 3
		last := h&1 != 0
		size := int(h >> 3)
		switch (h >> 1) & 0x03 {
		case 0, 2: // raw, compressed
			if size > maxBlockSize {
				return 0, false
			}
			pos += size
		case 1: // rle
			pos++
		default:
			return 0, false
		}
		if pos > len(b) {
			return 0, false
		}
		if last {
			break
		}
	}

	if hasChecksum {
		pos += 4
	}
	if pos > len(b) {
		return 0, false
	}
	return pos, true
}
