// Entry renaming without recompression.
//
// The payload frame does not depend on the entry's path, so Rename appends
// a copy of the record with a new filename frame in front of the same
// checksum and payload bytes, then drops the old path from the footer in
// the same commit.
package quire

import "fmt"

// Rename moves the entry at old to new. It returns ErrNotFound if old is
// not live and ErrExists if new already is.
func (a *Archive) Rename(old, new string) error {
	if err := a.ready(); err != nil {
		return err
	}
	if err := validatePath(new); err != nil {
		return fmt.Errorf("rename %q: %w", new, err)
	}
	if _, ok := a.footer.Entries[new]; ok {
		return ErrExists
	}
	frame, err := a.record(old)
	if err != nil {
		return fmt.Errorf("rename %q: %w", old, err)
	}

	rec := make([]byte, recordOverhead(new)+len(frame))
	putRecordHeader(rec, new, checksum(frame))
	copy(rec[recordOverhead(new):], frame)

	start := int64(a.footer.Meta.ContentEnd)
	next, _ := a.footer.without([]string{old})
	if err := a.appendRaw(&next, new, rec); err != nil {
		a.scrub(start)
		return fmt.Errorf("rename: %w", err)
	}
	if err := a.commit(next); err != nil {
		a.scrub(start)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
