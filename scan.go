// Linear record scanning.
//
// The content region is a sequence of three-frame records starting right
// after the leading frame. scan walks it from the start and stops at the
// first position that is not a complete, checksummed record: missing or
// malformed metadata frames, a payload frame cut short, or a payload whose
// checksum does not match. Zeroed free space and the footer both fail the
// first check, so the walk ends at the content end of an intact archive
// and at the last complete record of a torn one.
package quire

import "iter"

// scanned is one complete record found by scan.
type scanned struct {
	path  string
	start int // first byte of the filename frame
	span  Span
}

// scan yields every complete record in b in file order.
func scan(b []byte) iter.Seq[scanned] {
	return func(yield func(scanned) bool) {
		pos := leadingFrameSize
		for pos < len(b) {
			hdr, ok := readRecordHeader(b[pos:])
			if !ok {
				return
			}
			payload := pos + hdr.size
			n, ok := frameLength(b[payload:])
			if !ok {
				return
			}
			if checksum(b[payload:payload+n]) != hdr.sum {
				return
			}
			rec := scanned{
				path:  hdr.path,
				start: pos,
				span:  Span{Offset: uint64(payload), Len: uint64(n)},
			}
			if !yield(rec) {
				return
			}
			pos = payload + n
		}
	}
}

// rebuild returns the footer describing every record scan accepts, with
// later records for a path superseding earlier ones.
func rebuild(b []byte) (Footer, int) {
	f := emptyFooter()
	n := 0
	for rec := range scan(b) {
		f.put(rec.path, rec.span, rec.span.Offset+rec.span.Len)
		n++
	}
	return f, n
}
