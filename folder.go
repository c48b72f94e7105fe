// Bulk import from and export to directories.
//
// Entry paths are slash separated and relative, exactly as io/fs names
// them, regardless of the host OS. Export goes through an os.Root so an
// entry path can never write outside the target directory.
package quire

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
)

// listFolder returns the slash-separated paths of every regular file under
// dir in lexical order.
func listFolder(dir string) ([]string, error) {
	var files []string
	err := fs.WalkDir(os.DirFS(dir), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// readFolder reads the named files from dir.
func readFolder(dir string, names []string) ([]File, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	files := make([]File, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(root.FS(), name)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: name, Content: content})
	}
	return files, nil
}

// CreateFromFolder replaces the archive's contents with every regular file
// under dir and returns the number of entries written.
func (a *Archive) CreateFromFolder(dir string) (int, error) {
	names, err := listFolder(dir)
	if err != nil {
		return 0, fmt.Errorf("create from folder: %w", err)
	}
	return a.CreateFromFolderWithFiles(dir, names)
}

// CreateFromFolderWithFiles replaces the archive's contents with the named
// files, given as slash-separated paths relative to dir.
func (a *Archive) CreateFromFolderWithFiles(dir string, names []string) (int, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}
	files, err := readFolder(dir, names)
	if err != nil {
		return 0, fmt.Errorf("create from folder: %w", err)
	}
	if err := a.replace(files); err != nil {
		return 0, fmt.Errorf("create from folder: %w", err)
	}
	a.log.Info("imported folder", "dir", dir, "files", len(files))
	return len(files), nil
}

// replace clears the archive and stores files with a single commit.
func (a *Archive) replace(files []File) error {
	if err := a.ready(); err != nil {
		return err
	}
	if a.Len() > 0 || a.ContentEnd() > leadingFrameSize {
		if err := a.Clear(); err != nil {
			return err
		}
	}
	return a.AddFiles(files...)
}

// All yields every live entry with its content in lexical path order.
// Callers can break early to stop.
func (a *Archive) All() iter.Seq2[File, error] {
	return func(yield func(File, error) bool) {
		for _, p := range a.Entries() {
			content, err := a.GetFile(p)
			if !yield(File{Path: p, Content: content}, err) {
				return
			}
		}
	}
}

// ExtractToFolder writes every live entry below dir, creating directories
// as needed, and returns the number of files written.
func (a *Archive) ExtractToFolder(dir string) (int, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}
	return extract(dir, a.All())
}

// extract writes files below dir.
func extract(dir string, files iter.Seq2[File, error]) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}
	defer root.Close()

	n := 0
	for f, err := range files {
		if err != nil {
			return n, fmt.Errorf("extract %q: %w", f.Path, err)
		}
		name := filepath.FromSlash(f.Path)
		if parent := path.Dir(f.Path); parent != "." {
			if err := root.MkdirAll(filepath.FromSlash(parent), 0o755); err != nil {
				return n, fmt.Errorf("extract %q: %w", f.Path, err)
			}
		}
		if err := root.WriteFile(name, f.Content, 0o644); err != nil {
			return n, fmt.Errorf("extract %q: %w", f.Path, err)
		}
		n++
	}
	return n, nil
}
