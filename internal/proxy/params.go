package proxy

import (
	"net/url"
	"strings"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// defaultTokenParamName is the query parameter name a live or static token
// is injected under when the Resource doesn't override it (§4.4).
const defaultTokenParamName = "token"

// parseOrderedQuery splits a raw query string into ordered key/value pairs,
// percent-decoding each component. A plain url.Values loses insertion
// order, which the parameter-merge idempotence property (§8) depends on.
func parseOrderedQuery(raw string) []domain.QueryParam {
	if raw == "" {
		return nil
	}
	pairs := strings.Split(raw, "&")
	params := make([]domain.QueryParam, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			k = key
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			v = value
		}
		params = append(params, domain.QueryParam{Key: k, Value: v})
	}
	return params
}

// MergeParams overlays the request's query-string parameters onto the
// Resource's configured query (§4.4): matching keys are overwritten in
// place, new keys are appended in request order. The result is idempotent —
// merging the same request query twice yields the same map.
func MergeParams(resourceQuery []domain.QueryParam, requestRawQuery string) []domain.QueryParam {
	merged := make([]domain.QueryParam, len(resourceQuery))
	copy(merged, resourceQuery)

	index := make(map[string]int, len(merged))
	for i, p := range merged {
		index[p.Key] = i
	}

	for _, p := range parseOrderedQuery(requestRawQuery) {
		if i, ok := index[p.Key]; ok {
			merged[i].Value = p.Value
			continue
		}
		index[p.Key] = len(merged)
		merged = append(merged, p)
	}
	return merged
}

// hasParam reports whether params contains key.
func hasParam(params []domain.QueryParam, key string) bool {
	for _, p := range params {
		if p.Key == key {
			return true
		}
	}
	return false
}

// InjectToken adds tokenValue under the Resource's configured token
// parameter name if params doesn't already carry one (§4.4). Returns the
// (possibly unmodified) params slice.
func InjectToken(params []domain.QueryParam, paramName, tokenValue string) []domain.QueryParam {
	if tokenValue == "" || hasParam(params, paramName) {
		return params
	}
	return append(params, domain.QueryParam{Key: paramName, Value: tokenValue})
}

// TokenParamName returns the Resource's configured token parameter name,
// defaulting to "token" when unset.
func TokenParamName(r *domain.Resource) string {
	if r.TokenParamName != "" {
		return r.TokenParamName
	}
	return defaultTokenParamName
}

// percentEncode escapes s for use in a query string component, using %20
// for space rather than url.QueryEscape's default '+' (§4.4).
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// EncodeQuery serializes ordered params back into a query string (§4.4):
// each key and value percent-encoded individually, joined by "&".
func EncodeQuery(params []domain.QueryParam) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = percentEncode(p.Key) + "=" + percentEncode(p.Value)
	}
	return strings.Join(parts, "&")
}
