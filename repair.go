// Footer recovery.
//
// RewriteFooter is the disaster path: it discards whatever footer the file
// claims to have and derives a new one from the records themselves. It is
// also how a brand new archive gets its first footer, since an empty file
// simply scans to zero records.
//
// Recovery cannot tell a deleted entry from a live one, because deletion
// only ever touched the footer. Entries deleted since the last compaction
// therefore reappear after a recovery; superseded versions do not, because
// the scan keeps the last record written for each path.
package quire

import "fmt"

// RewriteFooter rebuilds the footer by scanning the content region and
// installs it. Bytes past the last complete record are zeroed.
func (a *Archive) RewriteFooter() error {
	if a.state == stateClosed {
		return ErrClosed
	}
	a.log.Debug("rebuilding footer", "state", a.state)
	a.state = stateNeedsRecovery

	if a.region.size() < leadingFrameSize {
		if err := a.region.grow(pageSize, 0); err != nil {
			return fmt.Errorf("rewrite footer: %w", err)
		}
	}

	b := a.region.bytes()
	next, records := rebuild(b)
	clear(b[:leadingFrameSize])
	clear(b[next.Meta.ContentEnd:])

	// Nothing at the end of the file is a trusted footer any more.
	a.footerLen = 0
	if err := a.commit(next); err != nil {
		return fmt.Errorf("rewrite footer: %w", err)
	}
	a.log.Info("rebuilt footer", "records", records, "entries", len(next.Entries), "content_end", next.Meta.ContentEnd)
	return nil
}
