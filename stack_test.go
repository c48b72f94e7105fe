package quire

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func openTestStack(t *testing.T, cfg StackConfig) (*Stack, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "stack")
	s, err := LoadStack(base, cfg)
	if err != nil {
		t.Fatalf("LoadStack: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, base
}

// tinyBudgets demote any tier holding live content on every Compact.
var tinyBudgets = StackConfig{HotBudget: 1, WarmBudget: 1}

func stackGet(t *testing.T, s *Stack, path string) string {
	t.Helper()
	b, err := s.GetFile(path)
	if err != nil {
		t.Fatalf("GetFile(%q): %v", path, err)
	}
	return string(b)
}

func wantOwner(t *testing.T, s *Stack, path string, want Tier) {
	t.Helper()
	got, ok := s.Owner(path)
	if !ok {
		t.Fatalf("%q has no owner", path)
	}
	if got != want {
		t.Errorf("owner of %q = %s, want %s", path, got, want)
	}
}

func TestStackAddGoesHot(t *testing.T) {
	s, _ := openTestStack(t, StackConfig{})
	if err := s.AddFile("doc", []byte("hot content")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	wantOwner(t, s, "doc", Hot)
	if got := stackGet(t, s, "doc"); got != "hot content" {
		t.Errorf("doc = %q", got)
	}
	if !s.HasFile("doc") || s.HasFile("other") {
		t.Error("HasFile wrong")
	}
}

func TestStackLazyOpen(t *testing.T) {
	s, base := openTestStack(t, StackConfig{})
	if err := s.AddFile("doc", []byte("x")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	stackGet(t, s, "doc")
	if s.tiers[Warm].archive != nil || s.tiers[Cold].archive != nil {
		t.Error("colder tiers opened for a hot hit")
	}
	if _, err := os.Stat(base + ".cold"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("cold tier file created early: %v", err)
	}

	if s.HasFile("missing") {
		t.Error("HasFile(missing) = true")
	}
	if _, err := s.GetFile("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFile(missing): %v, want ErrNotFound", err)
	}
	// Absent tiers hold nothing, so a miss must not create them.
	for _, ext := range []string{".warm", ".cold"} {
		if _, err := os.Stat(base + ext); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s tier file created by a read: %v", ext, err)
		}
	}
}

func TestStackMissOpensExistingTiers(t *testing.T) {
	s, base := openTestStack(t, tinyBudgets)
	s.AddFile("doc", []byte("x"))
	s.Compact(1.5)
	s.Compact(1.5)
	s.Close()

	r, err := LoadStack(base, tinyBudgets)
	if err != nil {
		t.Fatalf("LoadStack: %v", err)
	}
	defer r.Close()
	if r.HasFile("missing") {
		t.Error("HasFile(missing) = true")
	}
	if r.tiers[Cold].archive == nil {
		t.Error("a miss should consult every existing tier")
	}
	wantOwner(t, r, "doc", Cold)
}

func TestStackCascade(t *testing.T) {
	s, _ := openTestStack(t, tinyBudgets)
	want := map[string]string{"a": "alpha", "b": "beta", "c": "gamma"}
	for p, c := range want {
		if err := s.AddFile(p, []byte(c)); err != nil {
			t.Fatalf("AddFile: %v", err)
		}
	}

	if err := s.Compact(1.5); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	for p := range want {
		wantOwner(t, s, p, Warm)
	}
	hot, _ := s.Archive(Hot)
	if hot.Len() != 0 {
		t.Errorf("hot tier still holds %v", hot.Entries())
	}

	if err := s.Compact(1.5); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	for p, c := range want {
		wantOwner(t, s, p, Cold)
		if got := stackGet(t, s, p); got != c {
			t.Errorf("%s = %q, want %q", p, got, c)
		}
	}
	if got := s.Entries(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Entries = %v", got)
	}
}

func TestStackLargeBudgetsDoNotDemote(t *testing.T) {
	s, _ := openTestStack(t, StackConfig{})
	if err := s.AddFile("doc", []byte("x")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := s.Compact(1.5); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	wantOwner(t, s, "doc", Hot)
}

func TestStackHotShadowsCold(t *testing.T) {
	s, base := openTestStack(t, tinyBudgets)
	s.AddFile("doc", []byte("v1"))
	s.Compact(1.5)
	s.Compact(1.5)
	wantOwner(t, s, "doc", Cold)

	if err := s.AddFile("doc", []byte("v2")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	wantOwner(t, s, "doc", Hot)
	if got := stackGet(t, s, "doc"); got != "v2" {
		t.Errorf("doc = %q, want v2", got)
	}

	// Ownership is rebuilt hottest first on reopen.
	s.Close()
	r, err := LoadStack(base, tinyBudgets)
	if err != nil {
		t.Fatalf("LoadStack: %v", err)
	}
	defer r.Close()
	wantOwner(t, r, "doc", Hot)
	if got := stackGet(t, r, "doc"); got != "v2" {
		t.Errorf("after reopen doc = %q, want v2", got)
	}

	if err := r.Compact(1.5); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	wantOwner(t, r, "doc", Warm)
	if got := stackGet(t, r, "doc"); got != "v2" {
		t.Errorf("after demotion doc = %q, want v2", got)
	}
}

func TestStackDeleteAllTiers(t *testing.T) {
	s, base := openTestStack(t, tinyBudgets)
	s.AddFile("doc", []byte("old"))
	s.AddFile("keep", []byte("k"))
	s.Compact(1.5)
	s.Compact(1.5)
	s.AddFile("doc", []byte("new"))

	n, err := s.DeleteFiles("doc", "missing")
	if err != nil {
		t.Fatalf("DeleteFiles: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if s.HasFile("doc") {
		t.Error("doc still visible after delete")
	}
	for _, tier := range []Tier{Hot, Warm, Cold} {
		a, _ := s.Archive(tier)
		if a.HasFile("doc") {
			t.Errorf("%s tier still holds doc", tier)
		}
	}

	s.Close()
	r, err := LoadStack(base, tinyBudgets)
	if err != nil {
		t.Fatalf("LoadStack: %v", err)
	}
	defer r.Close()
	if r.HasFile("doc") {
		t.Error("older copy resurfaced after reopen")
	}
	if got := stackGet(t, r, "keep"); got != "k" {
		t.Errorf("keep = %q", got)
	}
}

func TestStackGetFileTo(t *testing.T) {
	s, _ := openTestStack(t, StackConfig{})
	s.AddFile("doc", []byte("12345"))
	dst := make([]byte, 5)
	n, err := s.GetFileTo("doc", dst)
	if err != nil || n != 5 || string(dst) != "12345" {
		t.Errorf("GetFileTo = %d, %q, %v", n, dst, err)
	}
	if _, err := s.GetFileTo("doc", make([]byte, 4)); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("short GetFileTo: %v", err)
	}
	if size, err := s.GetFileSize("doc"); err != nil || size != 5 {
		t.Errorf("GetFileSize = %d, %v", size, err)
	}
	if _, err := s.GetEntrySize("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntrySize(missing): %v", err)
	}
}

func TestStackCopyFilesTo(t *testing.T) {
	s, _ := openTestStack(t, tinyBudgets)
	s.AddFile("cold", []byte("c"))
	s.Compact(1.5)
	s.Compact(1.5)
	s.AddFile("hot", []byte("h"))

	dst := openTestArchive(t)
	n, err := s.CopyFilesTo([]string{"cold", "hot", "missing"}, dst)
	if err != nil {
		t.Fatalf("CopyFilesTo: %v", err)
	}
	if n != 2 {
		t.Errorf("copied %d, want 2", n)
	}
	if got := mustGet(t, dst, "cold"); got != "c" {
		t.Errorf("cold = %q", got)
	}
	if got := mustGet(t, dst, "hot"); got != "h" {
		t.Errorf("hot = %q", got)
	}
}

func TestStackFolderImportGoesCold(t *testing.T) {
	in := t.TempDir()
	writeTree(t, in, map[string]string{"a.txt": "a", "sub/b.txt": "b"})

	s, _ := openTestStack(t, StackConfig{})
	s.AddFile("stale", []byte("gone after import"))
	n, err := s.CreateFromFolder(in)
	if err != nil {
		t.Fatalf("CreateFromFolder: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d, want 2", n)
	}
	wantOwner(t, s, "a.txt", Cold)
	wantOwner(t, s, "sub/b.txt", Cold)
	if s.HasFile("stale") {
		t.Error("import should replace existing contents")
	}

	s.AddFile("new.txt", []byte("n"))
	out := t.TempDir()
	n, err = s.ExtractToFolder(out)
	if err != nil {
		t.Fatalf("ExtractToFolder: %v", err)
	}
	if n != 3 {
		t.Errorf("extracted %d, want 3", n)
	}
	for p, want := range map[string]string{"a.txt": "a", "sub/b.txt": "b", "new.txt": "n"} {
		got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(p)))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v", p, got, err)
		}
	}
}

func TestStackFolderImportFailureKeepsContents(t *testing.T) {
	in := t.TempDir()
	writeTree(t, in, map[string]string{"a.txt": "a"})

	s, _ := openTestStack(t, tinyBudgets)
	s.AddFile("old", []byte("settled"))
	s.Compact(1.5)
	s.Compact(1.5)
	s.AddFile("fresh", []byte("hot"))

	if _, err := s.CreateFromFolderWithFiles(in, []string{"a.txt", "missing.txt"}); err == nil {
		t.Fatal("expected error for a missing file")
	}
	wantOwner(t, s, "old", Cold)
	wantOwner(t, s, "fresh", Hot)
	if s.HasFile("a.txt") {
		t.Error("a failed import left a.txt behind")
	}
	if got := stackGet(t, s, "fresh"); got != "hot" {
		t.Errorf("fresh = %q", got)
	}
}

func TestStackStats(t *testing.T) {
	s, _ := openTestStack(t, StackConfig{})
	s.AddFile("a", []byte("1"))
	s.AddFile("b", []byte("2"))

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("got %d tiers", len(stats))
	}
	if stats[Hot].Entries != 2 || stats[Hot].Owned != 2 || stats[Hot].Name != "hot" {
		t.Errorf("hot stats = %+v", stats[Hot])
	}
	if stats[Cold].Budget != 0 || stats[Warm].Budget != 64<<20 {
		t.Errorf("budgets = %d, %d", stats[Warm].Budget, stats[Cold].Budget)
	}
}

func TestStackSearch(t *testing.T) {
	s, _ := openTestStack(t, tinyBudgets)
	s.AddFile("old", []byte("needle in cold"))
	s.Compact(1.5)
	s.Compact(1.5)
	s.AddFile("new", []byte("needle in hot"))

	var got []string
	for m, err := range s.Search("needle", SearchOptions{}) {
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		got = append(got, m.Path)
	}
	if !slices.Equal(got, []string{"new", "old"}) {
		t.Errorf("Search = %v", got)
	}
}

func TestLoadStackRejectsBadConfig(t *testing.T) {
	base := filepath.Join(t.TempDir(), "s")
	if _, err := LoadStack(base, StackConfig{ColdRelax: 0.5}); err == nil {
		t.Error("expected error for ColdRelax below 1")
	}
	if _, err := LoadStack(base, StackConfig{HotBudget: -1}); err == nil {
		t.Error("expected error for a negative budget")
	}
}

func TestStackClosed(t *testing.T) {
	s, _ := openTestStack(t, StackConfig{})
	s.Close()
	if err := s.AddFile("x", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("AddFile: %v, want ErrClosed", err)
	}
	if _, err := s.GetFile("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetFile: %v, want ErrClosed", err)
	}
}

func TestTierString(t *testing.T) {
	for tier, want := range map[Tier]string{Hot: "hot", Warm: "warm", Cold: "cold", Tier(7): "tier(7)"} {
		if got := tier.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(tier), got, want)
		}
	}
}
