// Tiered stack of archives.
//
// A Stack spreads entries over three archives ordered from hottest to
// coldest. Writes always land in the hot tier, so the file that takes the
// steady stream of appends stays small. Compaction demotes a whole tier
// into the next colder one once its live content outgrows half of its
// budget, and then only the cold tier is compacted in place. The cost of
// any single rewrite is therefore bounded by one tier's size rather than
// the whole stack's.
//
// The stack tracks which tier owns the current copy of each path. Tiers
// are opened lazily, hottest first, and each newly opened tier only claims
// paths that no hotter tier already owns: a hotter copy is by
// construction newer.
package quire

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"os"
	"slices"
)

// Tier identifies one archive of a Stack. Lower values are hotter.
type Tier int

const (
	Hot Tier = iota
	Warm
	Cold
)

func (t Tier) String() string {
	switch t {
	case Hot:
		return "hot"
	case Warm:
		return "warm"
	case Cold:
		return "cold"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// StackConfig holds stack configuration options.
type StackConfig struct {
	Config

	HotBudget  int64   // Size budget of the hot tier (default 8 MiB)
	WarmBudget int64   // Size budget of the warm tier (default 64 MiB)
	ColdRelax  float64 // Bloat multiplier applied when compacting cold (default 2)
}

// tier is one level of the stack.
type tier struct {
	id      Tier
	path    string
	budget  int64 // zero for the coldest tier, which is never demoted
	archive *Archive
}

// Stack is a hot/warm/cold set of archives sharing one base path.
type Stack struct {
	base   string
	cfg    StackConfig
	tiers  []*tier // hottest first
	owner  map[string]Tier
	log    *slog.Logger
	pool   *CodecPool // non-nil only when the stack owns its pool
	closed bool
}

// LoadStack prepares the stack stored at base.hot, base.warm and
// base.cold. No tier is opened until an operation needs it.
func LoadStack(base string, cfg StackConfig) (*Stack, error) {
	if cfg.HotBudget == 0 {
		cfg.HotBudget = 8 << 20
	}
	if cfg.WarmBudget == 0 {
		cfg.WarmBudget = 64 << 20
	}
	if cfg.ColdRelax == 0 {
		cfg.ColdRelax = 2
	}
	if cfg.HotBudget < 0 || cfg.WarmBudget < 0 || cfg.ColdRelax < 1 {
		return nil, errors.New("load stack: budgets must be positive and cold relax at least 1")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Stack{
		base:  base,
		cfg:   cfg,
		owner: map[string]Tier{},
		log:   cfg.Logger.With("stack", base),
	}
	// One codec pool for all tiers, so a dictionary is loaded once.
	if s.cfg.Codecs == nil {
		s.pool = NewCodecPool(cfg.Level)
		s.cfg.Codecs = s.pool
	}
	s.tiers = []*tier{
		{id: Hot, path: base + ".hot", budget: cfg.HotBudget},
		{id: Warm, path: base + ".warm", budget: cfg.WarmBudget},
		{id: Cold, path: base + ".cold"},
	}
	return s, nil
}

// Close closes every opened tier.
func (s *Stack) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, t := range s.tiers {
		if t.archive != nil {
			errs = append(errs, t.archive.Close())
			t.archive = nil
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return errors.Join(errs...)
}

// open returns the archive of tier i, opening it and every hotter tier
// first so that ownership is always claimed hottest first.
func (s *Stack) open(i Tier) (*Archive, error) {
	if s.closed {
		return nil, ErrClosed
	}
	for _, t := range s.tiers[:i+1] {
		if t.archive == nil {
			if err := s.load(t); err != nil {
				return nil, err
			}
		}
	}
	return s.tiers[i].archive, nil
}

// load opens tier t and claims its paths. Every hotter tier must already be
// open or absent from disk.
func (s *Stack) load(t *tier) error {
	a, err := Load(t.path, s.cfg.Config)
	if err != nil {
		return fmt.Errorf("open %s tier: %w", t.id, err)
	}
	t.archive = a
	s.claim(t)
	s.log.Debug("opened tier", "tier", t.id, "entries", a.Len())
	return nil
}

// loadExisting opens tier t only if its file exists. An absent tier holds
// nothing, so skipping it leaves ownership intact and keeps reads from
// creating files.
func (s *Stack) loadExisting(t *tier) error {
	if t.archive != nil {
		return nil
	}
	if _, err := os.Stat(t.path); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("open %s tier: %w", t.id, err)
	}
	return s.load(t)
}

// openExisting opens every tier whose file exists.
func (s *Stack) openExisting() error {
	if s.closed {
		return ErrClosed
	}
	for _, t := range s.tiers {
		if err := s.loadExisting(t); err != nil {
			return err
		}
	}
	return nil
}

// claim gives tier t every path it holds that no hotter tier owns.
func (s *Stack) claim(t *tier) {
	for _, p := range t.archive.Entries() {
		if _, ok := s.owner[p]; !ok {
			s.owner[p] = t.id
		}
	}
}

// reclaim rebuilds ownership from the open tiers.
func (s *Stack) reclaim() {
	clear(s.owner)
	for _, t := range s.tiers {
		if t.archive != nil {
			s.claim(t)
		}
	}
}

// openAll opens every tier.
func (s *Stack) openAll() error {
	_, err := s.open(s.coldest())
	return err
}

func (s *Stack) coldest() Tier {
	return Tier(len(s.tiers) - 1)
}

// resolve returns the archive holding the current copy of path, opening
// existing tiers only until it is found.
func (s *Stack) resolve(path string) (*Archive, Tier, error) {
	if s.closed {
		return nil, 0, ErrClosed
	}
	for _, t := range s.tiers {
		if id, ok := s.owner[path]; ok {
			return s.tiers[id].archive, id, nil
		}
		if err := s.loadExisting(t); err != nil {
			return nil, 0, err
		}
	}
	if id, ok := s.owner[path]; ok {
		return s.tiers[id].archive, id, nil
	}
	return nil, 0, ErrNotFound
}

// Owner returns the tier holding the current copy of path.
func (s *Stack) Owner(path string) (Tier, bool) {
	_, id, err := s.resolve(path)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Archive returns the archive of tier t, opening it if necessary.
func (s *Stack) Archive(t Tier) (*Archive, error) {
	if t < Hot || t > s.coldest() {
		return nil, fmt.Errorf("no such tier %d", int(t))
	}
	return s.open(t)
}

// AddFile stores content under path in the hot tier.
func (s *Stack) AddFile(path string, content []byte) error {
	return s.AddFiles(File{Path: path, Content: content})
}

// AddFiles stores every file in the hot tier with a single commit.
func (s *Stack) AddFiles(files ...File) error {
	hot, err := s.open(Hot)
	if err != nil {
		return err
	}
	if err := hot.AddFiles(files...); err != nil {
		return err
	}
	for _, f := range files {
		s.owner[f.Path] = Hot
	}
	return nil
}

// GetFile returns the content stored under path.
func (s *Stack) GetFile(path string) ([]byte, error) {
	a, _, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return a.GetFile(path)
}

// GetFileTo decompresses the content stored under path into dst.
func (s *Stack) GetFileTo(path string, dst []byte) (int, error) {
	a, _, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	return a.GetFileTo(path, dst)
}

// HasFile reports whether path is live in any tier.
func (s *Stack) HasFile(path string) bool {
	_, _, err := s.resolve(path)
	return err == nil
}

// GetFileSize returns the decompressed size of path.
func (s *Stack) GetFileSize(path string) (int64, error) {
	a, _, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	return a.GetFileSize(path)
}

// GetEntrySize returns the compressed size of path.
func (s *Stack) GetEntrySize(path string) (int64, error) {
	a, _, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	return a.GetEntrySize(path)
}

// Entries returns every live path across all tiers in lexical order.
func (s *Stack) Entries() []string {
	if err := s.openExisting(); err != nil {
		s.log.Warn("entries: opening tiers failed", "err", err)
		return nil
	}
	return slices.Sorted(maps.Keys(s.owner))
}

// DeleteFiles removes paths from the stack and returns how many were live.
// Every tier holding a copy is cleared of it, not only the owner, so an
// older colder copy cannot take over once the current one is gone.
func (s *Stack) DeleteFiles(paths ...string) (int, error) {
	if err := s.openAll(); err != nil {
		return 0, err
	}
	live := 0
	for _, p := range paths {
		if _, ok := s.owner[p]; ok {
			live++
		}
	}
	for _, t := range s.tiers {
		held := slices.DeleteFunc(slices.Clone(paths), func(p string) bool {
			return !t.archive.HasFile(p)
		})
		if len(held) == 0 {
			continue
		}
		if _, err := t.archive.DeleteFiles(held...); err != nil {
			return 0, fmt.Errorf("%s tier: %w", t.id, err)
		}
		for _, p := range held {
			delete(s.owner, p)
		}
	}
	return live, nil
}

// owned returns the paths whose current copy lives in tier t.
func (s *Stack) owned(t Tier) []string {
	var paths []string
	for p, id := range s.owner {
		if id == t {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	return paths
}

// demote copies every path owned by tier i into tier i+1 and clears tier
// i. Copies in tier i that a hotter tier has superseded are dropped with it.
func (s *Stack) demote(i Tier) error {
	from, err := s.open(i)
	if err != nil {
		return err
	}
	to, err := s.open(i + 1)
	if err != nil {
		return err
	}
	paths := s.owned(i)
	n, err := to.CopyFiles(paths, from)
	if err != nil {
		return fmt.Errorf("demote %s: %w", i, err)
	}
	for _, p := range paths {
		s.owner[p] = i + 1
	}
	if err := from.Clear(); err != nil {
		return fmt.Errorf("demote %s: %w", i, err)
	}
	s.log.Info("demoted tier", "from", i, "to", i+1, "entries", n)
	return nil
}

// Compact runs one compaction cascade. From the tier just above cold up to
// hot, a tier whose live content exceeds half its budget is demoted into
// the next colder tier; otherwise it is compacted with bloat. Cold is then
// compacted in place with bloat multiplied by ColdRelax, so it is rewritten
// less eagerly. A bloat of 0 forces every compaction.
func (s *Stack) Compact(bloat float64) error {
	if err := s.openAll(); err != nil {
		return err
	}
	for i := s.coldest() - 1; i >= Hot; i-- {
		t := s.tiers[i]
		if t.archive.LiveSize() > t.budget/2 {
			if err := s.demote(i); err != nil {
				return err
			}
			continue
		}
		if _, err := t.archive.Compact(bloat); err != nil {
			return fmt.Errorf("%s tier: %w", t.id, err)
		}
	}
	cold := s.tiers[s.coldest()].archive
	if _, err := cold.Compact(bloat * s.cfg.ColdRelax); err != nil {
		return fmt.Errorf("%s tier: %w", Cold, err)
	}
	return nil
}

// CopyFilesTo copies the named entries, from whichever tier owns each, into
// dst. It returns the number of entries copied.
func (s *Stack) CopyFilesTo(paths []string, dst *Archive) (int, error) {
	groups := map[Tier][]string{}
	for _, p := range paths {
		_, id, err := s.resolve(p)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		groups[id] = append(groups[id], p)
	}
	total := 0
	for _, id := range slices.Sorted(maps.Keys(groups)) {
		n, err := dst.CopyFiles(groups[id], s.tiers[id].archive)
		total += n
		if err != nil {
			return total, fmt.Errorf("%s tier: %w", id, err)
		}
	}
	return total, nil
}

// CreateFromFolder replaces the stack's contents with every regular file
// under dir. Imported data counts as settled, so it goes to the cold tier
// and the hotter tiers are cleared.
func (s *Stack) CreateFromFolder(dir string) (int, error) {
	names, err := listFolder(dir)
	if err != nil {
		return 0, fmt.Errorf("create from folder: %w", err)
	}
	return s.CreateFromFolderWithFiles(dir, names)
}

// CreateFromFolderWithFiles is CreateFromFolder restricted to the named
// slash-separated files below dir. Every file is read before any tier
// changes. The hotter tiers are cleared before cold is rewritten, so a
// failure part way can lose entries but never leaves a stale hot copy
// shadowing an imported one.
func (s *Stack) CreateFromFolderWithFiles(dir string, names []string) (int, error) {
	if err := s.openAll(); err != nil {
		return 0, err
	}
	files, err := readFolder(dir, names)
	if err != nil {
		return 0, fmt.Errorf("create from folder: %w", err)
	}
	defer s.reclaim()
	for _, t := range s.tiers[:s.coldest()] {
		if err := t.archive.Clear(); err != nil {
			return 0, fmt.Errorf("%s tier: %w", t.id, err)
		}
	}
	cold := s.tiers[s.coldest()].archive
	if err := cold.replace(files); err != nil {
		return 0, fmt.Errorf("create from folder: %w", err)
	}
	s.log.Info("imported folder", "dir", dir, "files", len(files))
	return len(files), nil
}

// All yields every live entry across all tiers in lexical path order.
func (s *Stack) All() iter.Seq2[File, error] {
	return func(yield func(File, error) bool) {
		for _, p := range s.Entries() {
			content, err := s.GetFile(p)
			if !yield(File{Path: p, Content: content}, err) {
				return
			}
		}
	}
}

// ExtractToFolder writes every live entry of every tier below dir.
func (s *Stack) ExtractToFolder(dir string) (int, error) {
	if err := s.openExisting(); err != nil {
		return 0, err
	}
	return extract(dir, s.All())
}

// TierStats describes one tier for reporting.
type TierStats struct {
	Tier     Tier   `json:"-"`
	Name     string `json:"tier"`
	Path     string `json:"path"`
	Entries  int    `json:"entries"`
	Owned    int    `json:"owned"`
	Size     int64  `json:"size"`
	LiveSize int64  `json:"live_size"`
	Budget   int64  `json:"budget,omitempty"`
}

// Stats opens every tier and reports its size and ownership.
func (s *Stack) Stats() ([]TierStats, error) {
	if err := s.openAll(); err != nil {
		return nil, err
	}
	stats := make([]TierStats, 0, len(s.tiers))
	for _, t := range s.tiers {
		stats = append(stats, TierStats{
			Tier:     t.id,
			Name:     t.id.String(),
			Path:     t.path,
			Entries:  t.archive.Len(),
			Owned:    len(s.owned(t.id)),
			Size:     t.archive.Size(),
			LiveSize: t.archive.LiveSize(),
			Budget:   t.budget,
		})
	}
	return stats, nil
}
