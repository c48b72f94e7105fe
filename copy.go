// Record copying between archives.
//
// Records are copied as raw bytes, metadata frames included, so moving an
// entry between archives (tier demotion in a Stack) costs no
// decompression or recompression. Each source record is verified before
// it is copied so corruption does not spread.
package quire

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// CopyFiles copies the named entries of from into a, superseding any
// entries a already has under those paths. Paths missing from from are
// skipped. It returns the number of entries copied.
func (a *Archive) CopyFiles(paths []string, from *Archive) (int, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}
	if from == a {
		return 0, errors.New("copy: source and destination are the same archive")
	}
	if err := from.ready(); err != nil {
		return 0, fmt.Errorf("copy: source: %w", err)
	}

	// Preserve the source's write order.
	present := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := from.footer.Entries[p]; ok {
			present = append(present, p)
		}
	}
	slices.SortFunc(present, func(x, y string) int {
		return cmp.Compare(from.footer.Entries[x].Offset, from.footer.Entries[y].Offset)
	})
	present = slices.Compact(present)
	if len(present) == 0 {
		return 0, nil
	}

	var total int64
	for _, p := range present {
		start, end := recordSpan(p, from.footer.Entries[p])
		total += int64(end-start) + footerSlack(p)
	}
	start := int64(a.footer.Meta.ContentEnd)
	if err := a.reserve(start + total); err != nil {
		return 0, fmt.Errorf("copy: %w", err)
	}

	next := a.footer.clone()
	buf := make([]byte, 0, 64<<10)
	for _, p := range present {
		if _, err := from.record(p); err != nil {
			a.scrub(start)
			return 0, fmt.Errorf("copy %q: %w", p, err)
		}
		recStart, recEnd := recordSpan(p, from.footer.Entries[p])
		buf = slices.Grow(buf[:0], int(recEnd-recStart))[:recEnd-recStart]
		if _, err := from.region.read(buf, int64(recStart)); err != nil {
			a.scrub(start)
			return 0, fmt.Errorf("copy %q: %w", p, err)
		}
		if err := a.appendRaw(&next, p, buf); err != nil {
			a.scrub(start)
			return 0, fmt.Errorf("copy %q: %w", p, err)
		}
	}
	if err := a.commit(next); err != nil {
		a.scrub(start)
		return 0, fmt.Errorf("copy: %w", err)
	}
	return len(present), nil
}
