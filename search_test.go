package quire

import (
	"errors"
	"slices"
	"testing"
)

func collect(t *testing.T, seq func(func(Match, error) bool)) []Match {
	t.Helper()
	var out []Match
	for m, err := range seq {
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func paths(ms []Match) []string {
	var out []string
	for _, m := range ms {
		out = append(out, m.Path)
	}
	return out
}

func TestSearchLiteral(t *testing.T) {
	a := openTestArchive(t)
	mustAdd(t, a, "a.txt", "Hello World")
	mustAdd(t, a, "b.txt", "goodbye world")
	mustAdd(t, a, "c.txt", "nothing here")

	got := collect(t, a.Search("world", SearchOptions{CaseSensitive: true}))
	if !slices.Equal(paths(got), []string{"b.txt"}) {
		t.Errorf("case-sensitive = %v", paths(got))
	}
	if got[0].Offset != 8 {
		t.Errorf("offset = %d, want 8", got[0].Offset)
	}

	got = collect(t, a.Search("WORLD", SearchOptions{}))
	if !slices.Equal(paths(got), []string{"a.txt", "b.txt"}) {
		t.Errorf("case-insensitive = %v", paths(got))
	}
}

func TestSearchFoldedOffset(t *testing.T) {
	a := openTestArchive(t)
	// U+0130 is two bytes but lowercases to a one-byte rune.
	mustAdd(t, a, "doc", "İxyz needle")

	got := collect(t, a.Search("NEEDLE", SearchOptions{}))
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	if got[0].Offset != 6 {
		t.Errorf("offset = %d, want 6", got[0].Offset)
	}
}

func TestSearchRegex(t *testing.T) {
	a := openTestArchive(t)
	mustAdd(t, a, "one", "id=123")
	mustAdd(t, a, "two", "id=abc")

	got := collect(t, a.Search(`id=\d+`, SearchOptions{}))
	if !slices.Equal(paths(got), []string{"one"}) {
		t.Errorf("regex = %v", paths(got))
	}
}

func TestSearchInvalidPattern(t *testing.T) {
	a := openTestArchive(t)
	mustAdd(t, a, "one", "x")
	for _, err := range a.Search("([", SearchOptions{}) {
		if !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("err = %v, want ErrInvalidPattern", err)
		}
	}
}

func TestSearchEarlyBreak(t *testing.T) {
	a := openTestArchive(t)
	for _, p := range []string{"a", "b", "c"} {
		mustAdd(t, a, p, "match")
	}
	n := 0
	for range a.Search("match", SearchOptions{}) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("yielded %d after break", n)
	}
}

func TestMatchPath(t *testing.T) {
	a := openTestArchive(t)
	for _, p := range []string{"src/a.go", "src/b.go", "docs/readme.md"} {
		mustAdd(t, a, p, "")
	}
	got := collect(t, a.MatchPath(`\.go$`))
	if !slices.Equal(paths(got), []string{"src/a.go", "src/b.go"}) {
		t.Errorf("MatchPath = %v", paths(got))
	}
}
