// Write primitives for the append-only content region.
//
// Records are always written at the content end recorded in the footer
// being built, in the free space between the last record and the
// installed footer. Nothing an installed footer refers to is ever
// overwritten. A mutation becomes visible only in commit, which writes the
// new footer at the end of the file, reads it back, and then points the
// leading frame at it. A crash before the leading frame is updated leaves
// a mismatch that Load repairs by scanning records.
package quire

import (
	"errors"
	"fmt"
)

// footerSlack is reserved beyond a new record so the footer that follows
// usually fits without a second grow.
func footerSlack(path string) int64 {
	return int64(len(path)) + 64
}

// free returns the offset where the installed footer begins. Bytes before it
// and after the content end are free.
func (a *Archive) free() int64 {
	return a.region.size() - int64(a.footerLen)
}

// reserve makes sure the free space extends to at least end.
func (a *Archive) reserve(end int64) error {
	if end <= a.free() {
		return nil
	}
	if err := a.region.grow(end+int64(a.footerLen), a.footerLen); err != nil {
		return err
	}
	a.log.Debug("grew archive", "size", a.region.size())
	return nil
}

// estimate sizes the first compression attempt from the ratio observed so
// far in this session, falling back to the zstd worst case.
func (a *Archive) estimate(n int) int64 {
	if a.rawBytes == 0 {
		return int64(compressBound(n))
	}
	ratio := float64(a.packBytes) / float64(a.rawBytes)
	return int64(float64(n)*ratio*1.25) + 128
}

func (a *Archive) observe(raw, packed int) {
	a.rawBytes += int64(raw)
	a.packBytes += int64(packed)
}

// appendRecord compresses content and writes a complete record for path at
// next's content end, then records it in next. Nothing is committed.
func (a *Archive) appendRecord(next *Footer, path string, content []byte) error {
	start := int64(next.Meta.ContentEnd)
	payloadOff := start + int64(recordOverhead(path))

	if err := a.reserve(payloadOff + a.estimate(len(content)) + footerSlack(path)); err != nil {
		return err
	}
	n, err := a.codec.Compress(a.region.bytes()[payloadOff:a.free()], content)
	if errors.Is(err, ErrShortBuffer) {
		// n is the size the frame actually needs.
		if err := a.reserve(payloadOff + int64(n) + footerSlack(path)); err != nil {
			return err
		}
		n, err = a.codec.Compress(a.region.bytes()[payloadOff:a.free()], content)
	}
	if err != nil {
		return err
	}

	b := a.region.bytes()
	end := payloadOff + int64(n)
	putRecordHeader(b[start:payloadOff], path, checksum(b[payloadOff:end]))
	next.put(path, Span{Offset: uint64(payloadOff), Len: uint64(n)}, uint64(end))
	a.observe(len(content), n)
	return nil
}

// appendRaw writes an already encoded record (both metadata frames and the
// payload frame) for path at next's content end and records it in next.
func (a *Archive) appendRaw(next *Footer, path string, record []byte) error {
	start := int64(next.Meta.ContentEnd)
	end := start + int64(len(record))
	if err := a.reserve(end + footerSlack(path)); err != nil {
		return err
	}
	copy(a.region.bytes()[start:end], record)
	payloadOff := start + int64(recordOverhead(path))
	next.put(path, Span{Offset: uint64(payloadOff), Len: uint64(end - payloadOff)}, uint64(end))
	return nil
}

// scrub zeroes free space written by a mutation that failed, so a later
// recovery scan cannot mistake it for records.
func (a *Archive) scrub(from int64) {
	b := a.region.bytes()
	if to := a.free(); from < to {
		clear(b[from:to])
	}
}

// commit installs next. Its records must already be in place. The new
// footer is written at the end of the file and decoded again before the
// leading frame is switched to it; if that check fails the previous footer
// bytes are restored.
func (a *Archive) commit(next Footer) error {
	enc, err := next.encode()
	if err != nil {
		return err
	}
	need := int64(next.Meta.ContentEnd) + int64(len(enc))
	if need > a.region.size() {
		if err := a.region.grow(need, a.footerLen); err != nil {
			return err
		}
	}

	b := a.region.bytes()
	size := int64(len(b))
	at := size - int64(len(enc))
	copy(b[at:], enc)

	if _, err := decodeFooter(b[at:]); err != nil {
		a.restoreFooter()
		return fmt.Errorf("commit: %w", err)
	}
	putLeading(b, len(enc), checksum(b[at:]))

	// Leftover bytes of a longer previous footer.
	if old := size - int64(a.footerLen); old < at && a.footerLen > 0 {
		clear(b[old:at])
	}
	if err := a.region.flush(); err != nil {
		return err
	}
	a.install(next, len(enc))
	return nil
}

// restoreFooter rewrites the installed footer's bytes at the end of the
// file. If even that fails, the archive must be recovered.
func (a *Archive) restoreFooter() {
	if a.footerLen == 0 {
		return
	}
	enc, err := a.footer.encode()
	if err != nil || len(enc) != a.footerLen {
		a.state = stateNeedsRecovery
		return
	}
	b := a.region.bytes()
	copy(b[len(b)-len(enc):], enc)
}
