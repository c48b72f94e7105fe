// Footer encoding.
//
// The footer is a CBOR map stored so that it ends at the last byte of the
// file. It is encoded with Core Deterministic Encoding (sorted map keys,
// shortest integers) so the same index always yields the same bytes, which
// makes compaction output reproducible.
//
// A Footer value is never mutated once it has been installed on an archive:
// every change builds a new Footer (see clone and without) and replaces the
// old one only after its bytes have been written and read back.
package quire

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// Span locates an entry's payload frame.
type Span struct {
	Offset uint64 `cbor:"offset"`
	Len    uint64 `cbor:"len"`
}

// Meta summarises the content region.
type Meta struct {
	ContentEnd       uint64 `cbor:"content_end"`
	TotalContentSize uint64 `cbor:"total_content_size"`
}

// Footer is the trailing index of an archive.
type Footer struct {
	Entries map[string]Span `cbor:"entries"`
	Meta    Meta            `cbor:"meta"`
}

var (
	footerEnc cbor.EncMode
	footerDec cbor.DecMode
)

func init() {
	var err error
	footerEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("quire: CBOR encoder initialization failed: " + err.Error())
	}
	footerDec, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 1 << 24,
	}.DecMode()
	if err != nil {
		panic("quire: CBOR decoder initialization failed: " + err.Error())
	}
}

// emptyFooter is the footer of an archive with no entries.
func emptyFooter() Footer {
	return Footer{
		Entries: map[string]Span{},
		Meta:    Meta{ContentEnd: leadingFrameSize},
	}
}

// encode serialises the footer.
func (f Footer) encode() ([]byte, error) {
	b, err := footerEnc.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode footer: %w", err)
	}
	return b, nil
}

// decodeFooter parses footer bytes and checks the invariants the rest of
// the archive relies on. Any failure means the footer must be rebuilt.
func decodeFooter(b []byte) (Footer, error) {
	var f Footer
	if err := footerDec.Unmarshal(b, &f); err != nil {
		return Footer{}, fmt.Errorf("%w: %w", ErrCorruptFooter, err)
	}
	if f.Entries == nil {
		f.Entries = map[string]Span{}
	}
	if f.Meta.ContentEnd < leadingFrameSize {
		return Footer{}, fmt.Errorf("%w: content end %d inside leading frame", ErrCorruptFooter, f.Meta.ContentEnd)
	}
	for path, s := range f.Entries {
		start := s.Offset - uint64(recordOverhead(path))
		if s.Offset < uint64(recordOverhead(path)) || start < leadingFrameSize ||
			s.Offset > f.Meta.ContentEnd || s.Len > f.Meta.ContentEnd-s.Offset {
			return Footer{}, fmt.Errorf("%w: entry %q out of range", ErrCorruptFooter, path)
		}
	}
	return f, nil
}

// recordSpan returns the start and end of the whole record stored under path.
func recordSpan(path string, s Span) (start, end uint64) {
	return s.Offset - uint64(recordOverhead(path)), s.Offset + s.Len
}

// clone returns a footer that shares nothing with f.
func (f Footer) clone() Footer {
	return Footer{Entries: maps.Clone(f.Entries), Meta: f.Meta}
}

// put points path at s, superseding any prior entry for path, and extends
// the content region to end. It mutates f and is only used on footers that
// have not been installed yet.
func (f *Footer) put(path string, s Span, end uint64) {
	if old, ok := f.Entries[path]; ok {
		f.Meta.TotalContentSize -= old.Len + uint64(recordOverhead(path))
	}
	f.Entries[path] = s
	f.Meta.TotalContentSize += s.Len + uint64(recordOverhead(path))
	if end > f.Meta.ContentEnd {
		f.Meta.ContentEnd = end
	}
}

// without returns a copy of f with the given paths removed and the number
// of entries that were actually present.
func (f Footer) without(paths []string) (Footer, int) {
	next := f.clone()
	removed := 0
	for _, p := range paths {
		old, ok := next.Entries[p]
		if !ok {
			continue
		}
		delete(next.Entries, p)
		next.Meta.TotalContentSize -= old.Len + uint64(recordOverhead(p))
		removed++
	}
	return next, removed
}

// byOffset returns the entry paths ordered by payload offset.
func (f Footer) byOffset() []string {
	paths := slices.Collect(maps.Keys(f.Entries))
	slices.SortFunc(paths, func(a, b string) int {
		return cmp.Compare(f.Entries[a].Offset, f.Entries[b].Offset)
	})
	return paths
}
