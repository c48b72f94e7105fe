// Search over entry content and paths.
//
// Search decompresses each live entry in path order and matches the
// pattern against its content. Case-sensitive literal patterns (no regex
// metacharacters) take a fast path through bytes.Index; anything else,
// including every case-insensitive search, is compiled with regexp so that
// offsets always refer to the original content.
//
// MatchPath only consults the footer and never decompresses anything.
// Both yield results lazily: break from the range loop to stop early.
package quire

import (
	"bytes"
	"iter"
	"regexp"
)

// SearchOptions configures Search behaviour.
type SearchOptions struct {
	CaseSensitive bool
}

// Match is a single search result: the entry path and the byte offset of
// the first match within its decompressed content (zero for MatchPath).
type Match struct {
	Path   string
	Offset int
}

// matcher returns a function reporting the offset of the first match, or -1.
func matcher(pattern string, caseSensitive bool) (func([]byte) int, error) {
	if caseSensitive && regexp.QuoteMeta(pattern) == pattern {
		needle := []byte(pattern)
		return func(b []byte) int { return bytes.Index(b, needle) }, nil
	}
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, ErrInvalidPattern
	}
	return func(b []byte) int {
		loc := re.FindIndex(b)
		if loc == nil {
			return -1
		}
		return loc[0]
	}, nil
}

// search matches pattern against every file yielded by files.
func search(files iter.Seq2[File, error], pattern string, opts SearchOptions) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		match, err := matcher(pattern, opts.CaseSensitive)
		if err != nil {
			yield(Match{}, err)
			return
		}
		for f, err := range files {
			if err != nil {
				if !yield(Match{Path: f.Path}, err) {
					return
				}
				continue
			}
			if at := match(f.Content); at >= 0 {
				if !yield(Match{Path: f.Path, Offset: at}, nil) {
					return
				}
			}
		}
	}
}

// Search matches pattern against the content of every live entry.
func (a *Archive) Search(pattern string, opts SearchOptions) iter.Seq2[Match, error] {
	return search(a.All(), pattern, opts)
}

// Search matches pattern against the content of every live entry in
// every tier.
func (s *Stack) Search(pattern string, opts SearchOptions) iter.Seq2[Match, error] {
	return search(s.All(), pattern, opts)
}

// matchPaths yields the paths among candidates that match a regex.
func matchPaths(candidates []string, pattern string) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			yield(Match{}, ErrInvalidPattern)
			return
		}
		for _, p := range candidates {
			if re.MatchString(p) {
				if !yield(Match{Path: p}, nil) {
					return
				}
			}
		}
	}
}

// MatchPath yields the live entry paths matching the regex pattern.
func (a *Archive) MatchPath(pattern string) iter.Seq2[Match, error] {
	return matchPaths(a.Entries(), pattern)
}

// MatchPath yields the live entry paths of every tier matching the regex
// pattern.
func (s *Stack) MatchPath(pattern string) iter.Seq2[Match, error] {
	return matchPaths(s.Entries(), pattern)
}
