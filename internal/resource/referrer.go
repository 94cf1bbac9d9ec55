package resource

import "github.com/arcrelay/arcrelay/internal/domain"

// ValidateReferrer implements §4.3. An empty referrer is always denied —
// it cannot satisfy "non-empty" even against the accept-any pattern. If any
// configured pattern is the all-wildcard sentinel, every non-empty referrer
// is admitted under the canonical domain.Wildcard key without walking the
// rest of the list (the accept-any fast path). Otherwise the first matching
// pattern wins and its Key becomes the canonical meter-row key.
func ValidateReferrer(patterns []domain.ReferrerPattern, referrer domain.URLTuple, raw string) (string, bool) {
	if raw == "" {
		return "", false
	}

	for _, p := range patterns {
		if p.IsAllWildcard() {
			return domain.Wildcard, true
		}
	}

	for _, p := range patterns {
		pattern := domain.URLTuple{Protocol: p.Protocol, Host: p.Host, Path: p.Path}
		if matches(pattern, p.MatchAllReferrer, referrer) {
			return p.Key, true
		}
	}

	return "", false
}
