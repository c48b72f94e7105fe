// Core archive type and lifecycle operations.
//
// An Archive owns one memory-mapped file, one codec and one installed
// footer. Conceptually it moves through the states
//
//	unloaded -> loading -> {valid, needs recovery} -> valid
//
// and only leaves "needs recovery" through RewriteFooter. Every mutating
// operation requires the valid state. An Archive is not safe for
// concurrent use.
package quire

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/klauspost/compress/zstd"
)

// state tracks whether the installed footer can be trusted.
type state int

const (
	stateLoading state = iota
	stateValid
	stateNeedsRecovery
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateLoading:
		return "loading"
	case stateValid:
		return "valid"
	case stateNeedsRecovery:
		return "needs recovery"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds archive configuration options.
type Config struct {
	Dictionary string            // Path to a zstd dictionary; empty for none
	Codecs     *CodecPool        // Shared codec cache; a private pool is used when nil
	Level      zstd.EncoderLevel // Compression level (default SpeedDefault)
	SyncWrites bool              // msync after every committed mutation
	Logger     *slog.Logger      // Defaults to discarding all records
}

// Archive is a single-file, append-only compressed container.
type Archive struct {
	path   string
	region *region
	lock   *fileLock
	codec  *Codec
	pool   *CodecPool // non-nil only when the archive owns its pool
	log    *slog.Logger
	state  state

	footer    Footer // installed footer, never mutated in place
	footerLen int    // encoded length of footer at the end of the file

	// Observed compression ratio, used to size the first compression attempt.
	rawBytes  int64
	packBytes int64
}

// Load opens the archive at path, creating an empty one if the file does
// not exist. If the leading frame does not validate the footer, the footer
// is rebuilt by scanning the content region.
func Load(path string, cfg Config) (*Archive, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	log := cfg.Logger.With("archive", path)

	fresh := false
	if info, err := os.Stat(path); os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		fresh = true
	}

	pool := cfg.Codecs
	var owned *CodecPool
	if pool == nil {
		owned = NewCodecPool(cfg.Level)
		pool = owned
	}
	codec, err := pool.Get(cfg.Dictionary)
	if err != nil {
		if owned != nil {
			owned.Close()
		}
		return nil, fmt.Errorf("load: %w", err)
	}

	r, err := openRegion(path, cfg.SyncWrites)
	if err != nil {
		if owned != nil {
			owned.Close()
		}
		return nil, fmt.Errorf("load: %w", err)
	}
	lock, err := lockFile(r.f)
	if err != nil {
		r.close()
		if owned != nil {
			owned.Close()
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	// Crash detection: a temp file means a compaction died before its rename.
	// The original is intact, so the temp file is simply discarded.
	if removed, err := removeStaleTemp(path); err != nil {
		lock.unlock()
		r.close()
		if owned != nil {
			owned.Close()
		}
		return nil, fmt.Errorf("load: %w", err)
	} else if removed {
		log.Warn("removed interrupted compaction output")
	}

	a := &Archive{
		path:   path,
		region: r,
		lock:   lock,
		codec:  codec,
		pool:   owned,
		log:    log,
		state:  stateLoading,
	}

	footer, n, err := a.readFooter()
	if err == nil {
		a.install(footer, n)
		return a, nil
	}

	a.state = stateNeedsRecovery
	if fresh {
		log.Debug("initialising new archive")
	} else {
		log.Warn("footer invalid, rebuilding from content", "err", err)
	}
	if err := a.RewriteFooter(); err != nil {
		a.Close()
		return nil, fmt.Errorf("load: %w", err)
	}
	return a, nil
}

// Close releases the mapping, the file lock and, if the archive created
// its own codec pool, the codecs. Closing twice is a no-op.
func (a *Archive) Close() error {
	if a.state == stateClosed {
		return nil
	}
	a.state = stateClosed

	var firstErr error
	if err := a.lock.unlock(); err != nil {
		firstErr = err
	}
	if err := a.region.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return firstErr
}

// readFooter validates the leading frame against the trailing bytes and
// decodes the footer they describe.
func (a *Archive) readFooter() (Footer, int, error) {
	b := a.region.bytes()
	size := uint64(len(b))
	if size < leadingFrameSize {
		return Footer{}, 0, fmt.Errorf("%w: file is %d bytes", ErrNeedsRecovery, size)
	}
	n, sum, ok := readLeading(b)
	if !ok {
		return Footer{}, 0, fmt.Errorf("%w: missing leading frame", ErrNeedsRecovery)
	}
	if n == 0 || n > size-leadingFrameSize {
		return Footer{}, 0, fmt.Errorf("%w: footer length %d exceeds file size %d", ErrNeedsRecovery, n, size)
	}
	raw := b[size-n:]
	if checksum(raw) != sum {
		return Footer{}, 0, fmt.Errorf("%w: footer %w", ErrNeedsRecovery, ErrChecksum)
	}
	f, err := decodeFooter(raw)
	if err != nil {
		return Footer{}, 0, fmt.Errorf("%w: %w", ErrNeedsRecovery, err)
	}
	if f.Meta.ContentEnd > size-n {
		return Footer{}, 0, fmt.Errorf("%w: content end %d overlaps footer", ErrNeedsRecovery, f.Meta.ContentEnd)
	}
	return f, int(n), nil
}

// install makes f the archive's footer.
func (a *Archive) install(f Footer, n int) {
	a.footer = f
	a.footerLen = n
	a.state = stateValid
}

// ready reports whether the archive accepts operations.
func (a *Archive) ready() error {
	switch a.state {
	case stateValid:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNeedsRecovery
	}
}

// Path returns the file path of the archive.
func (a *Archive) Path() string {
	return a.path
}

// Dictionary returns the dictionary path the archive compresses with.
func (a *Archive) Dictionary() string {
	return a.codec.dict
}

// HasFile reports whether path is a live entry.
func (a *Archive) HasFile(path string) bool {
	if a.ready() != nil {
		return false
	}
	_, ok := a.footer.Entries[path]
	return ok
}

// Entries returns the live entry paths in lexical order.
func (a *Archive) Entries() []string {
	if a.ready() != nil {
		return nil
	}
	return slices.Sorted(maps.Keys(a.footer.Entries))
}

// Len returns the number of live entries.
func (a *Archive) Len() int {
	if a.ready() != nil {
		return 0
	}
	return len(a.footer.Entries)
}

// GetEntrySize returns the compressed payload size of path.
func (a *Archive) GetEntrySize(path string) (int64, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}
	s, ok := a.footer.Entries[path]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(s.Len), nil
}

// Size returns the size of the archive file in bytes.
func (a *Archive) Size() int64 {
	if a.state == stateClosed {
		return 0
	}
	return a.region.size()
}

// LiveSize returns the number of bytes occupied by live entry records.
func (a *Archive) LiveSize() int64 {
	if a.ready() != nil {
		return 0
	}
	return int64(a.footer.Meta.TotalContentSize)
}

// ContentEnd returns the offset at which the next record will be written.
func (a *Archive) ContentEnd() int64 {
	if a.ready() != nil {
		return 0
	}
	return int64(a.footer.Meta.ContentEnd)
}

// Footer returns a copy of the installed footer.
func (a *Archive) Footer() Footer {
	return a.footer.clone()
}

// Fingerprint returns the BLAKE2b-256 digest of the whole file image.
func (a *Archive) Fingerprint() (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	return fingerprint(a.region.bytes()), nil
}
