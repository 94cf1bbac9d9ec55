package broker

import (
	"regexp"
	"strconv"
	"time"
)

// defaultTokenLifetime is the fallback cache lifetime used when the upstream
// response doesn't report an expiry (§4.5).
const defaultTokenLifetime = 55 * time.Minute

// queryTokenRE matches a token carried in query-string form: token=VALUE,
// preceded by ?, &, or / and terminated by & or end of string.
var queryTokenRE = regexp.MustCompile(`[?&/]token=([^&]*)`)

// jsonTokenRE matches a token carried as a JSON string field.
var jsonTokenRE = regexp.MustCompile(`"token"\s*:\s*"([^"]*)"`)

// jsonExpiresRE matches an ArcGIS-style epoch-millisecond expires field.
var jsonExpiresRE = regexp.MustCompile(`"expires"\s*:\s*(\d+)`)

// extractToken locates a token value in an upstream response body without
// fully deserializing it (§4.5): query-string form first, JSON form second.
// This tolerates partial or mixed-format bodies that a strict json.Unmarshal
// would reject outright.
func extractToken(body []byte) (string, bool) {
	if m := queryTokenRE.FindSubmatch(body); m != nil {
		return string(m[1]), true
	}
	if m := jsonTokenRE.FindSubmatch(body); m != nil {
		return string(m[1]), true
	}
	return "", false
}

// extractExpiresAt derives the cache expiry for a token response: the
// server-declared epoch-millisecond expiry if present, capped at 55 minutes
// from now; otherwise now+55m.
func extractExpiresAt(body []byte, now time.Time) time.Time {
	fallback := now.Add(defaultTokenLifetime)

	m := jsonExpiresRE.FindSubmatch(body)
	if m == nil {
		return fallback
	}
	millis, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return fallback
	}
	serverExpiry := time.UnixMilli(millis)
	if serverExpiry.After(fallback) || !serverExpiry.After(now) {
		return fallback
	}
	return serverExpiry
}
