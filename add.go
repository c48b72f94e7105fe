// Entry creation and replacement.
//
// AddFile always appends a new record; it never touches an older record
// for the same path. The new footer simply points the path at the new
// record, leaving the old one orphaned until the next compaction. Until
// then History can still read it, and recovery after a torn write falls
// back to it.
//
// AddFiles amortises the footer rewrite across many entries. All paths are
// validated before anything is written.
package quire

import (
	"fmt"
	"unicode/utf8"
)

// File is a path and content pair accepted by AddFiles.
type File struct {
	Path    string
	Content []byte
}

// validatePath checks path constraints before any write.
func validatePath(path string) error {
	if path == "" || len(path) > MaxPathSize {
		return ErrInvalidPath
	}
	if !utf8.ValidString(path) {
		return ErrInvalidPath
	}
	return nil
}

// AddFile stores content under path, superseding any previous entry.
func (a *Archive) AddFile(path string, content []byte) error {
	return a.AddFiles(File{Path: path, Content: content})
}

// AddFiles stores every file and commits them with a single footer write.
// Files are written in slice order; a later duplicate path wins.
func (a *Archive) AddFiles(files ...File) error {
	if err := a.ready(); err != nil {
		return err
	}
	for _, f := range files {
		if err := validatePath(f.Path); err != nil {
			return fmt.Errorf("add %q: %w", f.Path, err)
		}
	}
	if len(files) == 0 {
		return nil
	}

	start := int64(a.footer.Meta.ContentEnd)
	next := a.footer.clone()
	for _, f := range files {
		if err := a.appendRecord(&next, f.Path, f.Content); err != nil {
			a.scrub(start)
			return fmt.Errorf("add %q: %w", f.Path, err)
		}
	}
	if err := a.commit(next); err != nil {
		a.scrub(start)
		return fmt.Errorf("add: %w", err)
	}
	return nil
}
