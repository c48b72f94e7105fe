// Entry deletion.
//
// Deleting only drops paths from the live index. The record bytes stay in
// the file until compaction, so a footer rebuilt by recovery scanning can
// bring a deleted entry back.
package quire

import "fmt"

// DeleteFiles removes paths from the archive and returns how many were
// live. Unknown paths are ignored.
func (a *Archive) DeleteFiles(paths ...string) (int, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}
	next, removed := a.footer.without(paths)
	if removed == 0 {
		return 0, nil
	}
	if err := a.commit(next); err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return removed, nil
}
