// Package resource implements the Resource Matcher (§4.2) and Referrer
// Validator (§4.3): first-match-wins lookups against a configured list,
// built on a shared protocol/host/path comparison.
package resource

import (
	"strings"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// Match returns the first Resource in resources whose pattern matches
// target, applying §4.2: protocol equality, host dot-segment wildcard
// matching with an equal segment count required, and path match (exact
// when MatchAll is set, prefix otherwise).
//
// Port is intentionally excluded from the comparison — an upstream
// reachable on more than one port cannot be disambiguated by Resource
// configuration alone (SPEC_FULL.md §14, open question 1).
func Match(resources []*domain.Resource, target domain.URLTuple) *domain.Resource {
	for _, r := range resources {
		if matches(r.Tuple, r.MatchAll, target) {
			return r
		}
	}
	return nil
}

func matches(pattern domain.URLTuple, matchAll bool, target domain.URLTuple) bool {
	if !protocolMatches(pattern.Protocol, target.Protocol) {
		return false
	}
	if !hostMatches(pattern.Host, target.Host) {
		return false
	}
	return pathMatches(pattern.Path, target.Path, matchAll)
}

func protocolMatches(pattern, candidate string) bool {
	return pattern == domain.Wildcard || strings.EqualFold(pattern, candidate)
}

// hostMatches splits both hosts on "." and requires an equal segment count;
// a literal "*" segment in pattern matches any candidate segment at that
// position. A bare Wildcard pattern host matches any candidate, including
// one with a different segment count.
func hostMatches(pattern, candidate string) bool {
	if pattern == domain.Wildcard {
		return true
	}
	pSegs := strings.Split(pattern, ".")
	cSegs := strings.Split(candidate, ".")
	if len(pSegs) != len(cSegs) {
		return false
	}
	for i, seg := range pSegs {
		if seg == domain.Wildcard {
			continue
		}
		if !strings.EqualFold(seg, cSegs[i]) {
			return false
		}
	}
	return true
}

func pathMatches(pattern, candidate string, matchAll bool) bool {
	if pattern == domain.Wildcard {
		return true
	}
	if matchAll {
		return candidate == pattern
	}
	return strings.HasPrefix(strings.ToLower(candidate), strings.ToLower(pattern))
}
