//go:build darwin || linux

// Memory-mapped backing store for an archive file.
//
// A region maps the whole file MAP_SHARED and read-write, so the archive
// reads and writes the file as a plain byte slice. The mapping always
// covers exactly the file length: growing truncates the file up and remaps
// it, which invalidates every slice previously obtained from bytes(). The
// archive therefore re-derives base+offset after any call that can grow.
package quire

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// pageSize is the unit the file is always sized in.
var pageSize = int64(os.Getpagesize())

// roundPages rounds n up to a whole number of pages, with a minimum of one.
func roundPages(n int64) int64 {
	if n <= 0 {
		return pageSize
	}
	return (n + pageSize - 1) / pageSize * pageSize
}

type region struct {
	path string
	f    *os.File
	data []byte
	sync bool
}

// openRegion opens or creates the file at path and maps it. A file that
// does not exist, or is empty, is created with one zeroed page.
func openRegion(path string, syncWrites bool) (*region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r := &region{path: path, f: f, sync: syncWrites}
	if err := r.mapFile(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// mapFile maps the current file, sizing an empty file to one page first.
func (r *region) mapFile() error {
	info, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", r.path, err)
	}
	size := info.Size()
	if size == 0 {
		size = pageSize
		if err := r.f.Truncate(size); err != nil {
			return fmt.Errorf("size %s: %w", r.path, err)
		}
	}
	data, err := unix.Mmap(int(r.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", r.path, err)
	}
	r.data = data
	return nil
}

func (r *region) unmap() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if err != nil {
		return fmt.Errorf("munmap %s: %w", r.path, err)
	}
	return nil
}

// bytes returns the current mapping. The slice is only valid until the
// next grow, replace or close.
func (r *region) bytes() []byte {
	return r.data
}

func (r *region) size() int64 {
	return int64(len(r.data))
}

// grow extends the file to at least n bytes, doubling at minimum and
// rounding to whole pages. The last tail bytes of the old mapping (the
// footer) are moved to the new end so the file stays valid.
func (r *region) grow(n int64, tail int) error {
	old := r.size()
	if n <= old {
		return nil
	}
	target := roundPages(max(n, 2*old))

	footer := make([]byte, tail)
	copy(footer, r.data[old-int64(tail):])

	if err := r.unmap(); err != nil {
		return err
	}
	if err := r.f.Truncate(target); err != nil {
		// The file is unchanged; restore the old mapping.
		if merr := r.mapFile(); merr != nil {
			return errors.Join(fmt.Errorf("grow %s: %w", r.path, err), merr)
		}
		return fmt.Errorf("grow %s: %w", r.path, err)
	}
	if err := r.mapFile(); err != nil {
		return err
	}
	copy(r.data[target-int64(tail):], footer)
	clear(r.data[old-int64(tail) : target-int64(tail)])
	return nil
}

// flush writes dirty pages back when SyncWrites is set.
func (r *region) flush() error {
	if !r.sync {
		return nil
	}
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync %s: %w", r.path, err)
	}
	return nil
}

// read copies from the mapping, converting a SIGBUS raised by an I/O
// error on the backing file into an error.
func (r *region) read(dst []byte, off int64) (n int, err error) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page fault reading %s at offset %d: %v", r.path, off, rec)
		}
	}()
	return copy(dst, r.data[off:]), nil
}

// replace atomically swaps the file contents for image: the image is
// written to path.tmp, synced, and renamed over path. On success the
// region maps the new file; on failure the old file is untouched.
func (r *region) replace(image []byte) error {
	tmpPath := r.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("replace: create temp: %w", err)
	}
	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("replace: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("replace: sync temp: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("replace: rename: %w", err)
	}

	// tmp is now the file at r.path.
	if err := r.unmap(); err != nil {
		tmp.Close()
		return err
	}
	r.f.Close()
	r.f = tmp
	return r.mapFile()
}

// close unmaps and closes the file.
func (r *region) close() error {
	err := r.unmap()
	if cerr := r.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// removeStaleTemp deletes a temp file left behind by an interrupted replace.
func removeStaleTemp(path string) (bool, error) {
	err := os.Remove(path + ".tmp")
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
