// Package tier assigns priority tiers to identified companies by matching
// their names against a curated reference set.
package tier

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var entitySuffixes = regexp.MustCompile(
	`(?i)\s*,?\s*(LLC|L\.?L\.?C\.?|INC\.?|INCORPORATED|CORP\.?|CORPORATION|` +
		`CO\.?|COMPANY|LTD\.?|LIMITED|L\.?P\.?|LLP|L\.?L\.?P\.?|` +
		`PLLC|P\.?L\.?L\.?C\.?|GMBH|S\.?A\.?|B\.?V\.?|PLC)\s*\.?\s*$`)

var multiSpace = regexp.MustCompile(`\s{2,}`)

// Normalize produces the canonical comparison form of a company name:
// Unicode NFKC, case folded, whitespace collapsed and trimmed.
func Normalize(name string) string {
	n := norm.NFKC.String(name)
	n = cases.Fold().String(n)
	n = multiSpace.ReplaceAllString(strings.TrimSpace(n), " ")
	return n
}

// StripEntitySuffixes removes trailing corporate entity markers from an
// already-normalized name.
func StripEntitySuffixes(name string) string {
	n := entitySuffixes.ReplaceAllString(name, "")
	return strings.TrimSpace(n)
}

// Matcher decides whether a normalized company name matches a normalized
// reference name. Implementations are tried in order; the first hit wins.
type Matcher interface {
	Name() string
	Match(company, ref string) bool
}

// ExactMatcher matches identical normalized names.
type ExactMatcher struct{}

func (ExactMatcher) Name() string { return "exact" }

func (ExactMatcher) Match(company, ref string) bool {
	return company != "" && company == ref
}

// SuffixStrippedMatcher matches names that agree once corporate entity
// suffixes are removed, so "Acme Corp" and "Acme Corporation" collide.
type SuffixStrippedMatcher struct{}

func (SuffixStrippedMatcher) Name() string { return "suffix-stripped" }

func (SuffixStrippedMatcher) Match(company, ref string) bool {
	c := StripEntitySuffixes(company)
	r := StripEntitySuffixes(ref)
	return c != "" && c == r
}

// SubstringMatcher matches when either name contains the other. Short
// strings are rejected outright; a two-letter reference would otherwise
// match half the registry.
type SubstringMatcher struct {
	MinLength int
}

func (SubstringMatcher) Name() string { return "substring" }

func (m SubstringMatcher) Match(company, ref string) bool {
	c := StripEntitySuffixes(company)
	r := StripEntitySuffixes(ref)
	shorter := c
	if len(r) < len(c) {
		shorter = r
	}
	if len(shorter) < m.MinLength {
		return false
	}
	return strings.Contains(c, r) || strings.Contains(r, c)
}

// DefaultMatchers returns the standard matcher chain, strictest first.
func DefaultMatchers(minSubstringLen int) []Matcher {
	return []Matcher{
		ExactMatcher{},
		SuffixStrippedMatcher{},
		SubstringMatcher{MinLength: minSubstringLen},
	}
}
