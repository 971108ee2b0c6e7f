// Package matcher compiles include/exclude glob patterns ("*", "?", and a
// leading "!" for negation) into a Matchers pair and answers whole-string
// match queries against it.
//
// path.Match and filepath.Match are deliberately not used here: both treat
// "/" as a path-segment boundary that "*" cannot cross, which would
// silently break matching against container package names and tags that
// legitimately contain "/" (e.g. "owner/sub/image"). Patterns are instead
// compiled to an anchored regexp.
package matcher

import (
	"regexp"
	"strings"
)

// Pattern is one compiled glob pattern.
type Pattern struct {
	raw *regexp.Regexp
	src string
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.src }

// Matchers holds the positive and negative pattern sets compiled from a
// list of raw pattern strings.
type Matchers struct {
	Positive []Pattern
	Negative []Pattern
}

// From compiles a list of raw pattern strings into a Matchers. A pattern
// prefixed with "!" becomes a negative pattern (the "!" is stripped);
// everything else is positive. An empty input produces an empty Matchers.
func From(patterns []string) Matchers {
	var m Matchers
	for _, raw := range patterns {
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "!") {
			m.Negative = append(m.Negative, compile(raw[1:]))
		} else {
			m.Positive = append(m.Positive, compile(raw))
		}
	}
	return m
}

// IsEmpty reports whether both the positive and negative pattern sets are
// empty.
func (m Matchers) IsEmpty() bool {
	return len(m.Positive) == 0 && len(m.Negative) == 0
}

// PositiveMatch reports whether any positive pattern matches s.
func (m Matchers) PositiveMatch(s string) bool {
	return anyMatch(m.Positive, s)
}

// NegativeMatch reports whether any negative pattern matches s.
func (m Matchers) NegativeMatch(s string) bool {
	return anyMatch(m.Negative, s)
}

// PositiveMatchCount returns the number of tags that match at least one
// positive pattern (not just whether any does); used by the tag-selection
// tie-break rules in selector.matchesTagMatcher, which must distinguish
// "all tags hit" from "some tags hit."
func (m Matchers) PositiveMatchCount(tags []string) int {
	// When there are no positive patterns and the caller hasn't already
	// short-circuited on a negative hit, every tag counts as a positive
	// match (selector.matchesTagMatcher applies that rule; this helper only
	// answers direct pattern hits).
	count := 0
	for _, t := range tags {
		if m.PositiveMatch(t) {
			count++
		}
	}
	return count
}

func anyMatch(patterns []Pattern, s string) bool {
	for _, p := range patterns {
		if p.raw.MatchString(s) {
			return true
		}
	}
	return false
}

// compile translates a glob pattern ("*" = any run, "?" = exactly one
// character) into an anchored regexp matching the whole string.
func compile(glob string) Pattern {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return Pattern{raw: regexp.MustCompile(b.String()), src: glob}
}
