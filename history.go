// Version history from superseded records.
//
// AddFile never overwrites an older record for the same path, so until the
// next compaction every version ever written is still physically present.
// History walks the content region and returns all of them in write order.
// Compaction keeps only the live version.
package quire

import "fmt"

// Version is one record written for a path.
type Version struct {
	Content []byte
	Offset  int64 // payload frame offset
	Live    bool  // referenced by the current footer
}

// History returns every intact version of path still present in the file,
// oldest first. A deleted path can still have history.
func (a *Archive) History(path string) ([]Version, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	live, hasLive := a.footer.Entries[path]

	var versions []Version
	b := a.region.bytes()[:a.footer.Meta.ContentEnd]
	for rec := range scan(b) {
		if rec.path != path {
			continue
		}
		frame := b[rec.span.Offset : rec.span.Offset+rec.span.Len]
		n, err := contentSize(frame)
		if err != nil {
			return nil, fmt.Errorf("history %q: %w", path, err)
		}
		content := make([]byte, n)
		if _, err := a.codec.Decompress(content, frame); err != nil {
			return nil, fmt.Errorf("history %q: %w", path, err)
		}
		versions = append(versions, Version{
			Content: content,
			Offset:  int64(rec.span.Offset),
			Live:    hasLive && rec.span == live,
		})
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions, nil
}
