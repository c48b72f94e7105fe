// Compaction rewrites the archive with only its live records.
//
// Superseded and deleted records are never reclaimed in place: overwriting
// committed bytes would break the rule that a crash leaves the archive as
// it was before the interrupted operation. Instead the live records are
// copied, contiguous and ordered by their original offset (so write-order
// locality survives), into a fresh image that is written to a temp file and
// renamed over the original. A crash before the rename leaves the original
// untouched and a stale temp file that the next Load removes.
//
// The image is a pure function of the live records and the footer, and the
// footer is encoded deterministically, so compacting identical archives
// yields identical bytes.
package quire

import "fmt"

// Compact rewrites the archive if its file is larger than its live content
// times bloat, plus fixed overhead, by at least one page. A bloat of 0
// compacts unconditionally. It reports whether a rewrite happened.
func (a *Archive) Compact(bloat float64) (bool, error) {
	if err := a.ready(); err != nil {
		return false, err
	}
	size := a.region.size()
	if bloat > 0 {
		limit := float64(a.footer.Meta.TotalContentSize)*bloat + float64(leadingFrameSize+a.footerLen)
		if float64(size) < limit+float64(pageSize) {
			return false, nil
		}
	}

	image, err := a.compactImage()
	if err != nil {
		return false, fmt.Errorf("compact: %w", err)
	}
	if err := a.swap(image); err != nil {
		return false, fmt.Errorf("compact: %w", err)
	}
	a.log.Info("compacted archive", "before", size, "after", len(image), "entries", len(a.footer.Entries))
	return true, nil
}

// Clear replaces the archive with an empty one.
func (a *Archive) Clear() error {
	if err := a.ready(); err != nil {
		return err
	}
	image, err := buildImage(emptyFooter(), nil)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := a.swap(image); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// compactImage assembles the live records into a new file image. Every
// record is verified first; a corrupt live record aborts compaction rather
// than being dropped silently.
func (a *Archive) compactImage() ([]byte, error) {
	next := emptyFooter()
	content := make([]byte, 0, a.footer.Meta.TotalContentSize)
	pos := uint64(leadingFrameSize)
	for _, path := range a.footer.byOffset() {
		rec, err := a.rawRecord(path)
		if err != nil {
			return nil, err
		}
		content = append(content, rec...)
		payloadOff := pos + uint64(recordOverhead(path))
		end := pos + uint64(len(rec))
		next.put(path, Span{Offset: payloadOff, Len: end - payloadOff}, end)
		pos = end
	}
	return buildImage(next, content)
}

// buildImage lays out leading frame, content and footer in a page-sized
// image with the footer ending at the last byte.
func buildImage(f Footer, content []byte) ([]byte, error) {
	enc, err := f.encode()
	if err != nil {
		return nil, err
	}
	size := roundPages(int64(leadingFrameSize + len(content) + len(enc)))
	image := make([]byte, size)
	copy(image[leadingFrameSize:], content)
	at := size - int64(len(enc))
	copy(image[at:], enc)
	putLeading(image, len(enc), checksum(enc))
	return image, nil
}

// swap renames image over the archive file and installs its footer.
func (a *Archive) swap(image []byte) error {
	if err := a.region.replace(image); err != nil {
		return err
	}
	if err := a.lock.moveTo(a.region.f); err != nil {
		a.state = stateNeedsRecovery
		return err
	}
	f, n, err := a.readFooter()
	if err != nil {
		a.state = stateNeedsRecovery
		return err
	}
	a.install(f, n)
	return nil
}
