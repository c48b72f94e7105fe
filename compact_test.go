package quire

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestCompactPreservesContent(t *testing.T) {
	a := openTestArchive(t)
	want := map[string][]byte{}
	for round := range 5 {
		for _, p := range []string{"a", "b", "c"} {
			want[p] = randomBytes(2000, uint64(round*10+len(p)))
			if err := a.AddFile(p, want[p]); err != nil {
				t.Fatalf("AddFile: %v", err)
			}
		}
	}
	a.DeleteFiles("b")
	delete(want, "b")
	before := a.Size()

	done, err := a.Compact(0)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !done {
		t.Fatal("Compact(0) should always rewrite")
	}
	if a.Size() > before {
		t.Errorf("size grew from %d to %d", before, a.Size())
	}
	if got := a.Entries(); !slices.Equal(got, []string{"a", "c"}) {
		t.Errorf("Entries = %v", got)
	}
	for p, content := range want {
		got, err := a.GetFile(p)
		if err != nil {
			t.Fatalf("GetFile(%q): %v", p, err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("%q: content mismatch after compaction", p)
		}
	}
	if a.ContentEnd() != leadingFrameSize+a.LiveSize() {
		t.Errorf("ContentEnd = %d, want contiguous %d", a.ContentEnd(), leadingFrameSize+a.LiveSize())
	}
}

func TestCompactPreservesWriteOrder(t *testing.T) {
	a := openTestArchive(t)
	for _, p := range []string{"zebra", "apple", "mango"} {
		mustAdd(t, a, p, p)
	}
	mustAdd(t, a, "apple", "apple again")

	if _, err := a.Compact(0); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got := a.footer.byOffset(); !slices.Equal(got, []string{"zebra", "mango", "apple"}) {
		t.Errorf("record order = %v", got)
	}
}

func TestCompactThreshold(t *testing.T) {
	a := openTestArchive(t)
	mustAdd(t, a, "doc", "small")

	done, err := a.Compact(1.5)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if done {
		t.Error("compacted an archive with no reclaimable space")
	}
}

func TestCompactReclaimsSpace(t *testing.T) {
	a := openTestArchive(t)
	for i := range 12 {
		if err := a.AddFile("big", randomBytes(20000, uint64(i))); err != nil {
			t.Fatalf("AddFile: %v", err)
		}
	}
	last, _ := a.GetFile("big")
	before := a.Size()

	done, err := a.Compact(1.5)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !done {
		t.Fatalf("expected compaction: size %d, live %d", before, a.LiveSize())
	}
	if a.Size() >= before {
		t.Errorf("size %d not below %d", a.Size(), before)
	}
	got, err := a.GetFile("big")
	if err != nil || !bytes.Equal(got, last) {
		t.Errorf("GetFile after compaction: %v", err)
	}
	if _, err := a.History("big"); err != nil {
		t.Errorf("History: %v", err)
	}
}

func TestCompactDeterministic(t *testing.T) {
	dir := t.TempDir()
	build := func(name string, junk bool) string {
		a, err := Load(filepath.Join(dir, name), Config{})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		defer a.Close()
		mustAdd(t, a, "x", "first entry")
		if junk {
			mustAdd(t, a, "junk", string(randomBytes(5000, 9)))
		}
		mustAdd(t, a, "y", "second entry")
		if junk {
			a.DeleteFiles("junk")
		}
		if _, err := a.Compact(0); err != nil {
			t.Fatalf("Compact: %v", err)
		}
		fp, err := a.Fingerprint()
		if err != nil {
			t.Fatalf("Fingerprint: %v", err)
		}
		return fp
	}

	clean := build("clean.quire", false)
	dirty := build("dirty.quire", true)
	if clean != dirty {
		t.Errorf("fingerprints differ: %s vs %s", clean, dirty)
	}

	a, _ := os.ReadFile(filepath.Join(dir, "clean.quire"))
	b, _ := os.ReadFile(filepath.Join(dir, "dirty.quire"))
	if !bytes.Equal(a, b) {
		t.Error("compacted files are not byte-identical")
	}
}

func TestCompactSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.quire")
	a, err := Load(path, Config{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	mustAdd(t, a, "doc", "v1")
	mustAdd(t, a, "doc", "v2")
	if _, err := a.Compact(0); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	mustAdd(t, a, "after", "written after compaction")
	a.Close()

	b, err := Load(path, Config{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer b.Close()
	if got := mustGet(t, b, "doc"); got != "v2" {
		t.Errorf("doc = %q", got)
	}
	if got := mustGet(t, b, "after"); got != "written after compaction" {
		t.Errorf("after = %q", got)
	}
}

func TestLoadRemovesStaleTemp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.quire")
	if err := os.WriteFile(path+".tmp", []byte("half written"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, err := Load(path, Config{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer a.Close()
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale temp file still present: %v", err)
	}
}

func TestClear(t *testing.T) {
	a := openTestArchive(t)
	mustAdd(t, a, "a", "1")
	mustAdd(t, a, "b", "2")

	if err := a.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if a.Len() != 0 || a.ContentEnd() != leadingFrameSize || a.Size() != pageSize {
		t.Errorf("after Clear: len %d, content end %d, size %d", a.Len(), a.ContentEnd(), a.Size())
	}
	mustAdd(t, a, "c", "3")
	if got := mustGet(t, a, "c"); got != "3" {
		t.Errorf("c = %q", got)
	}
}
