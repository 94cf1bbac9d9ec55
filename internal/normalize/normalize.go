// Package normalize implements the URL Normalizer (§4.1 of the proxy spec):
// parsing and canonicalizing request-line paths, configured resource
// patterns, and referrer strings into a single domain.URLTuple shape so the
// rest of the pipeline never has to reparse text.
package normalize

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// Parse canonicalizes a standard URL, a bare host/path string, or a
// wildcard-bearing referrer pattern into a URLTuple. Missing components
// default to domain.Wildcard except Query, which defaults to "".
//
// If the underlying url.Parse yields an empty host but a non-empty path
// (the bare "host.example/path" and "*.example.com/*" forms have no
// scheme, so net/url treats the whole string as an opaque path), the first
// path segment is promoted to the host and the remainder becomes the path.
// A bare "host:port/path" string, which net/url reads as scheme "host" with
// opaque data "port/path", is promoted the same way.
func Parse(raw string) (domain.URLTuple, error) {
	if raw == "" {
		return domain.URLTuple{Protocol: domain.Wildcard, Host: domain.Wildcard, Port: domain.Wildcard, Path: domain.Wildcard}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return domain.URLTuple{}, fmt.Errorf("normalize: parse %q: %w", raw, err)
	}

	protocol := strings.TrimSuffix(u.Scheme, ":")
	host := u.Hostname()
	port := u.Port()
	path := u.Path
	query := u.RawQuery

	if u.Opaque != "" && u.Host == "" {
		protocol = ""
		path = u.Scheme + ":" + u.Opaque
	}

	if host == "" && path != "" {
		host, path = promoteHost(path)
	}

	if h, p, splitErr := net.SplitHostPort(host); splitErr == nil {
		host, port = h, p
	}

	if protocol == "" {
		protocol = domain.Wildcard
	}
	if host == "" {
		host = domain.Wildcard
	}
	if port == "" {
		port = domain.Wildcard
	}
	if path == "" {
		path = domain.Wildcard
	}

	return domain.URLTuple{Protocol: protocol, Host: host, Port: port, Path: path, Query: query}, nil
}

// promoteHost splits a schemeless path ("host.example/a/b" or
// "*.example.com/*") into a host and the remaining path, applying the
// wildcard-path sentinel rule: a bare "*" remainder path normalizes to
// domain.Wildcard rather than the literal "/*".
func promoteHost(path string) (host, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	host = parts[0]
	if len(parts) < 2 || parts[1] == "" || parts[1] == domain.Wildcard {
		return host, ""
	}
	return host, "/" + parts[1]
}

// tailSchemes is the set of legacy slash-encoded scheme tokens a
// proxy-addressed tail path may lead with (§4.1): the scheme is spelled
// "http/" or "https/" instead of "http://" so HTTP clients that refuse to
// put "://" in a path can still address the proxy.
var tailSchemes = map[string]string{
	"http":  "http",
	"https": "https",
	"*":     domain.Wildcard,
}

// ParseTail canonicalizes the part of a proxy-addressed request that comes
// after the configured listen prefix and its separator (§4.1, §6). Two
// shapes are accepted:
//
//   - an embedded absolute URL ("http://host/path", reached via the "?" or
//     "&" separator conventions, where the whole tail is the query text);
//   - a path-only form ("<scheme>/<host>/<path...>" or "<host>/<path...>"),
//     reached via the "/" separator.
func ParseTail(tail string) (domain.URLTuple, error) {
	tail = strings.TrimPrefix(tail, "/")
	if tail == "" {
		return domain.URLTuple{}, fmt.Errorf("normalize: empty proxy tail")
	}

	if strings.Contains(tail, "://") {
		return Parse(tail)
	}

	pathPart, query := tail, ""
	if idx := strings.Index(tail, "?"); idx >= 0 {
		pathPart, query = tail[:idx], tail[idx+1:]
	}

	segments := strings.Split(pathPart, "/")
	protocol := domain.Wildcard
	if scheme, ok := tailSchemes[segments[0]]; ok && len(segments) > 1 {
		protocol = scheme
		segments = segments[1:]
	}

	if len(segments) == 0 || segments[0] == "" {
		return domain.URLTuple{}, fmt.Errorf("normalize: proxy tail %q has no host", tail)
	}

	host := segments[0]
	path := domain.Wildcard
	if len(segments) > 1 {
		path = "/" + strings.Join(segments[1:], "/")
	}

	port := domain.Wildcard
	if h, p, err := net.SplitHostPort(host); err == nil {
		host, port = h, p
	}

	return domain.URLTuple{Protocol: protocol, Host: host, Port: port, Path: path, Query: query}, nil
}
