package proxy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// BuildUpstreamURL composes the destination URL for a forwarded request
// (§4.4). If the Resource declares a hostRedirect, host/port come from it
// and the path is the request's own path unless hostRedirect overrides it
// too. Otherwise the destination is the Resource's own configured host and
// path, extended with the request's trailing path elements when the
// Resource matches by prefix rather than exact path.
//
// A Resource matched through a wildcard host segment (§4.2) still forwards
// to its own literal configured host, per §4.4 — wildcard host patterns are
// for access control, not for rewriting to whichever concrete host the
// inbound request named.
func BuildUpstreamURL(r *domain.Resource, target domain.URLTuple) (*url.URL, error) {
	var host, port, path string

	if r.HostRedirect != nil {
		host = r.HostRedirect.Host
		port = r.HostRedirect.Port
		path = r.HostRedirect.Path
		if path == "" || path == domain.Wildcard {
			path = target.Path
		}
	} else {
		host = r.Tuple.Host
		port = r.Tuple.Port
		if r.MatchAll {
			path = r.Tuple.Path
		} else {
			path = r.Tuple.Path + strings.TrimPrefix(target.Path, r.Tuple.Path)
		}
	}

	if host == "" {
		return nil, fmt.Errorf("proxy: resource %s has no upstream host", r.ID)
	}

	hostport := host
	if port != "" && port != domain.Wildcard {
		hostport = host + ":" + port
	}

	scheme := r.Tuple.Protocol
	if scheme == "" || scheme == domain.Wildcard {
		scheme = "https"
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &url.URL{Scheme: scheme, Host: hostport, Path: path}, nil
}
