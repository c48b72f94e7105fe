// Entry retrieval.
//
// A read resolves the payload span from the footer, re-derives the two
// metadata frames in front of it and checks that they name the same path
// and carry a checksum matching the payload bytes. Only then is the frame
// decompressed. Nothing is written to a caller's buffer unless the whole
// entry decodes and fits.
package quire

import "fmt"

// record returns the verified payload frame of path. The slice aliases the
// mapping and is only valid until the next mutation.
func (a *Archive) record(path string) ([]byte, error) {
	frame, sum, err := a.frame(path)
	if err != nil {
		return nil, err
	}
	if checksum(frame) != sum {
		return nil, fmt.Errorf("%q: %w", path, ErrChecksum)
	}
	return frame, nil
}

// frame returns the unverified payload frame of path and its stored checksum.
func (a *Archive) frame(path string) ([]byte, uint64, error) {
	if err := a.ready(); err != nil {
		return nil, 0, err
	}
	s, ok := a.footer.Entries[path]
	if !ok {
		return nil, 0, ErrNotFound
	}
	b := a.region.bytes()
	start, end := recordSpan(path, s)
	if end > uint64(len(b)) {
		return nil, 0, fmt.Errorf("%q: %w", path, ErrCorruptRecord)
	}
	hdr, ok := readRecordHeader(b[start:s.Offset])
	if !ok || hdr.path != path {
		return nil, 0, fmt.Errorf("%q: %w: metadata frames", path, ErrCorruptRecord)
	}
	return b[s.Offset:end], hdr.sum, nil
}

// rawRecord returns the whole verified record of path (metadata frames and
// payload). The slice aliases the mapping.
func (a *Archive) rawRecord(path string) ([]byte, error) {
	if _, err := a.record(path); err != nil {
		return nil, err
	}
	start, end := recordSpan(path, a.footer.Entries[path])
	return a.region.bytes()[start:end], nil
}

// GetFile returns the content stored under path.
func (a *Archive) GetFile(path string) ([]byte, error) {
	frame, err := a.record(path)
	if err != nil {
		return nil, err
	}
	n, err := contentSize(frame)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	dst := make([]byte, n)
	written, err := a.codec.Decompress(dst, frame)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	return dst[:written], nil
}

// GetFileTo decompresses the content stored under path into dst and
// returns its length. dst is left untouched on any error, including
// ErrShortBuffer when the content does not fit.
func (a *Archive) GetFileTo(path string, dst []byte) (int, error) {
	frame, err := a.record(path)
	if err != nil {
		return 0, err
	}
	n, err := contentSize(frame)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", path, err)
	}
	if n > int64(len(dst)) {
		return 0, ErrShortBuffer
	}
	written, err := a.codec.Decompress(dst, frame)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", path, err)
	}
	return written, nil
}

// GetFileSize returns the decompressed size of path as recorded in its
// payload frame header.
func (a *Archive) GetFileSize(path string) (int64, error) {
	frame, _, err := a.frame(path)
	if err != nil {
		return 0, err
	}
	n, err := contentSize(frame)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", path, err)
	}
	return n, nil
}
