package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/arcrelay/arcrelay/internal/domain"
	"github.com/arcrelay/arcrelay/internal/meterstore"
	"github.com/arcrelay/arcrelay/internal/normalize"
	"github.com/arcrelay/arcrelay/internal/proxy"
	"github.com/arcrelay/arcrelay/internal/ratelimit"
	"github.com/arcrelay/arcrelay/internal/resource"
	"github.com/arcrelay/arcrelay/internal/staticassets"
)

// CounterStore is the subset of meterstore.PostgresStore/MemStore the status
// page needs to dump lifetime meter-row counts (§6). It is declared locally
// rather than added to ratelimit.MeterStore or meterstore's own rowStore
// interface, since neither the Limiter nor the Refresher need it — both of
// those interfaces are scoped exactly to what their callers use.
type CounterStore interface {
	Counters(ctx context.Context, resourceURL, referrerKey string) (total, rejected int64, ok bool, err error)
}

// Server holds every collaborator the Request Dispatcher (§4.7) and the
// ping/status/admin handlers need, plus the pieces the router wires
// alongside them.
type Server struct {
	Store     *resource.Store
	Limiter   *ratelimit.Limiter
	Forwarder *proxy.Forwarder
	Refresher *meterstore.Refresher

	MeterCounters CounterStore   // optional: powers the /status meter-row dump
	StaticStore   staticassets.Store // optional: static-file fallback (§6)

	ListenPrefixes []string // e.g. ["/proxy"]; checked in configured order, first match wins
	PingPath       string
	StatusPath     string
	MustMatch      bool // §4.7 step 3: 404 instead of synthetic pass-through when no Resource matches

	CORSOrigins []string
	AdminAuth   func(http.Handler) http.Handler // gates POST /admin/reload; nil means no gating

	DBHealth    HealthChecker
	AssetHealth HealthChecker

	// Reload re-reads configuration and swaps it into Store, then triggers
	// the Refresher's synchronous sweep (§4.6 Refresh, §12 admin reload).
	Reload func(ctx context.Context) error

	startTime time.Time
}

// NewServer constructs a Server with its uptime clock started.
func NewServer() *Server {
	return &Server{startTime: time.Now()}
}

// handlePing implements §6's `GET <pingPath>` — a small status document.
// The referrer is resolved but never rejected here; an empty key means the
// request's referrer (if any) didn't match the allow-list.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get("Referer")
	tuple, _ := normalize.Parse(raw)
	key, _ := resource.ValidateReferrer(s.Store.Referrers(), tuple, raw)

	writeJSON(w, http.StatusOK, map[string]any{
		"Proxy Version":      Version,
		"Configuration File": "OK",
		"Log File":           "OK",
		"referrer":           key,
	})
}

// handleProxy implements the Request Dispatcher's proxy path (§4.7 steps
// 2-5); ping/status short-circuit one layer up in the router.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	prefix, tailPath, ok := s.matchedPrefix(r.URL.Path)
	if !ok {
		WriteError(w, r, domain.InternalError("no listen prefix matched this route", nil))
		return
	}
	_ = prefix

	target, err := s.resolveTail(r, tailPath)
	if err != nil {
		WriteError(w, r, domain.BadRequest("could not parse proxy target", err))
		return
	}

	rawReferrer := r.Header.Get("Referer")
	referrerTuple, err := normalize.Parse(rawReferrer)
	if err != nil {
		WriteError(w, r, domain.BadRequest("could not parse referrer", err))
		return
	}
	referrerKey, allowed := resource.ValidateReferrer(s.Store.Referrers(), referrerTuple, rawReferrer)
	if !allowed {
		WriteError(w, r, domain.ReferrerDenied("referrer not in allow-list"))
		return
	}

	ctx := ContextWithReferrerKey(r.Context(), referrerKey)

	res := resource.Match(s.Store.Resources(), target)
	if res == nil {
		if s.MustMatch {
			WriteError(w, r, domain.NoResource("no configured resource matches "+target.Host))
			return
		}
		res = syntheticResource(target)
	}

	ctx = ContextWithResourceURL(ctx, res.URL)
	r = r.WithContext(ctx)

	if res.HasRateCap() {
		admitted, err := s.Limiter.Allow(ctx, res, referrerKey, time.Now())
		if err != nil {
			WriteError(w, r, domain.LimiterUnavailable("rate limiter storage error", err))
			return
		}
		if !admitted {
			WriteError(w, r, domain.RateExceeded("rate limit exceeded"))
			return
		}
	}

	res.RecordRequest(time.Now())

	if err := s.Forwarder.Forward(ctx, w, r, res, target, rawReferrer); err != nil {
		WriteError(w, r, err)
	}
}

// handleStatic implements §6's fallback: any path not matching ping, status,
// a listen prefix, or /admin is served from the configured static-asset
// store, or 404s if none is configured.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.StaticStore == nil {
		WriteError(w, r, domain.NoResource("no static asset configured for this path"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	content, err := s.StaticStore.ReadFile(r.Context(), path)
	if err != nil || content == nil {
		WriteError(w, r, domain.NoResource("static asset not found"))
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(path))
	_, _ = w.Write(content.Content)
}

// handleAdminReload implements §12's config reload endpoint: re-reads
// configuration and swaps it into the Resource table, then runs the meter
// store's refresh sweep synchronously so newly added resources/referrers
// start admitting immediately.
func (s *Server) handleAdminReload(w http.ResponseWriter, r *http.Request) {
	if s.Reload == nil {
		WriteError(w, r, domain.InternalError("admin reload is not configured", nil))
		return
	}
	if err := s.Reload(r.Context()); err != nil {
		WriteError(w, r, domain.InternalError("config reload failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// matchedPrefix finds the configured listen prefix that path addresses,
// first-match-wins over s.ListenPrefixes, and returns the part of path
// after the prefix (empty if path is exactly the prefix — the embedded
// query-string tail form, §4.1/§6).
func (s *Server) matchedPrefix(path string) (prefix, tail string, ok bool) {
	for _, p := range s.ListenPrefixes {
		p = strings.TrimSuffix(p, "/")
		if path == p {
			return p, "", true
		}
		if strings.HasPrefix(path, p+"/") {
			return p, strings.TrimPrefix(path, p+"/"), true
		}
	}
	return "", "", false
}

// resolveTail canonicalizes the part of the request addressing the upstream
// (§4.1). When tailPath is non-empty (a path-form tail from chi's wildcard),
// the request's separately-parsed query string is attached afterward, since
// normalize.ParseTail only splits a literal "?" embedded in the string it's
// given, not r.URL.RawQuery. When tailPath is empty, the whole tail is the
// raw query string itself — the "?"/"&"-prefixed embedded-absolute-URL form,
// where a leading "&" is stripped before parsing.
func (s *Server) resolveTail(r *http.Request, tailPath string) (domain.URLTuple, error) {
	if tailPath == "" {
		raw := strings.TrimPrefix(r.URL.RawQuery, "&")
		return normalize.ParseTail(raw)
	}

	target, err := normalize.ParseTail(tailPath)
	if err != nil {
		return domain.URLTuple{}, err
	}
	target.Query = r.URL.RawQuery
	return target, nil
}

// syntheticResource builds the pass-through Resource the Dispatcher forwards
// through when no configured Resource matches and must-match is off (§4.7
// step 3) — forwarding to target unchanged, with no credential and no rate
// cap.
func syntheticResource(target domain.URLTuple) *domain.Resource {
	return &domain.Resource{
		URL:        target.Protocol + "://" + target.Host,
		Tuple:      target,
		MatchAll:   true,
		Credential: domain.CredentialNone,
	}
}
