// Package mask matches remote file paths against wildcard masks such as
// "db_exports/report_*.xlsx" or "2022_*/*.csv".
//
// A mask is split into "/"-separated segments. A candidate path matches when it
// has the same number of segments and every segment matches the corresponding
// mask segment. Inside a segment "*" matches any run of characters, including
// the empty one, but never a "/". Every other character is a literal and
// matching is case-sensitive.
package mask

import "strings"

// Wildcard is the only metacharacter a mask understands.
const Wildcard = '*'

// Default is the mask used when a row leaves file_path empty: every file in
// the drive root.
const Default = "*"

// Mask is a compiled file path mask.
type Mask struct {
	raw      string
	segments []string
}

// Compile parses raw into a Mask. An empty mask means Default. A single
// leading "/" is ignored and a trailing "/" selects every file directly
// inside that folder.
func Compile(raw string) Mask {
	if raw == "" {
		raw = Default
	}
	trimmed := strings.TrimPrefix(raw, "/")
	if trimmed == "" || strings.HasSuffix(trimmed, "/") {
		trimmed += string(Wildcard)
	}
	return Mask{raw: raw, segments: strings.Split(trimmed, "/")}
}

// String returns the mask as written in the configuration.
func (m Mask) String() string {
	return m.raw
}

// HasWildcard reports whether any segment contains "*".
func (m Mask) HasWildcard() bool {
	return strings.ContainsRune(strings.Join(m.segments, "/"), Wildcard)
}

// Match reports whether the relative remote path p is selected by the mask.
func (m Mask) Match(p string) bool {
	parts := splitPath(p)
	if len(parts) != len(m.segments) {
		return false
	}
	for i, part := range parts {
		if !matchSegment(m.segments[i], part) {
			return false
		}
	}
	return true
}

// Root returns the leading literal folder segments of the mask, joined with
// "/". Listing can start there since nothing outside it can match. The root
// of the drive is "".
func (m Mask) Root() string {
	var root []string
	for _, seg := range m.segments[:len(m.segments)-1] {
		if strings.ContainsRune(seg, Wildcard) {
			break
		}
		root = append(root, seg)
	}
	return strings.Join(root, "/")
}

// CanDescend reports whether files somewhere below folder dir could still
// match. Folders for which it returns false can be skipped while listing.
func (m Mask) CanDescend(dir string) bool {
	parts := splitPath(dir)
	if len(parts) >= len(m.segments) {
		return false
	}
	for i, part := range parts {
		if !matchSegment(m.segments[i], part) {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// matchSegment matches a single segment against a pattern in which only "*"
// is special. It backtracks to the most recent star on mismatch, which keeps
// it linear in practice.
func matchSegment(pattern, name string) bool {
	p, n := 0, 0
	star, mark := -1, 0
	for n < len(name) {
		switch {
		case p < len(pattern) && pattern[p] == Wildcard:
			star, mark = p, n
			p++
		case p < len(pattern) && pattern[p] == name[n]:
			p++
			n++
		case star >= 0:
			p = star + 1
			mark++
			n = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == Wildcard {
		p++
	}
	return p == len(pattern)
}
