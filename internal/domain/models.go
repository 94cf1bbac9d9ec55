// Package domain defines the core business types shared across arcrelay —
// Resource, ReferrerPattern, the per-request envelope, meter rows, the
// cached upstream token, and the error taxonomy used to shape HTTP
// responses. These types represent the proxy's data model, not HTTP or SQL
// specifics.
package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Wildcard is the sentinel value meaning "match anything" in a URLTuple
// component or a ReferrerPattern component.
const Wildcard = "*"

// URLTuple is the normalized (protocol, host, port, path, query) shape every
// textual request form collapses into (§4.1). Missing components default to
// Wildcard except Query, which defaults to the empty string.
type URLTuple struct {
	Protocol string
	Host     string
	Port     string
	Path     string
	Query    string
}

// CredentialMode identifies which of the three mutually exclusive credential
// shapes a Resource carries.
type CredentialMode int

const (
	CredentialNone CredentialMode = iota
	CredentialStaticToken
	CredentialUser
	CredentialApp
)

// HostRedirect overrides the host (and optionally path) a matched Resource's
// request is forwarded to.
type HostRedirect struct {
	Host string
	Port string
	Path string
}

// Resource is one configured upstream destination plus its credentials,
// rate policy, and live counters (§3).
type Resource struct {
	ID   uuid.UUID
	URL  string // the Resource's own canonical URL, as configured
	Tuple URLTuple // URL, normalized once at load time (§4.1)

	MatchAll     bool // exact-path match vs. prefix match (§4.2)
	HostRedirect *HostRedirect

	Credential CredentialMode
	// Static token credential.
	StaticToken string
	// User credential flow (§4.5).
	Username string
	Password string
	// App credential flow (§4.5).
	ClientID       string
	ClientSecret   string
	OAuth2Endpoint string

	// TokenParamName overrides the query parameter name a live token is
	// injected under. Defaults to "token" when empty.
	TokenParamName string

	// Query holds the Resource's configured query string, parsed into an
	// ordered map at load time, re-used as the base of every parameter merge
	// (§4.4).
	Query []QueryParam

	RateLimit       int // requests admitted per RateLimitPeriod
	RateLimitPeriod int // minutes

	mu           sync.Mutex
	totalReqs    int64
	firstReqAt   time.Time
	lastReqAt    time.Time
	cachedToken  *TokenCacheEntry
}

// QueryParam is one ordered key/value pair of a parsed query string.
// A plain map loses insertion order, which the parameter-merge idempotence
// property (§8) depends on.
type QueryParam struct {
	Key   string
	Value string
}

// HasRateCap reports whether the Resource has a valid rate cap configured
// (§3 invariant: both RateLimit and RateLimitPeriod must be positive).
func (r *Resource) HasRateCap() bool {
	return r.RateLimit > 0 && r.RateLimitPeriod > 0
}

// WindowSeconds returns the sliding-window duration implied by the
// Resource's rate cap (§4.6): (rateLimitPeriod*60)/rateLimit seconds.
// Callers must check HasRateCap first; this returns 0 otherwise.
func (r *Resource) WindowSeconds() float64 {
	if !r.HasRateCap() {
		return 0
	}
	return float64(r.RateLimitPeriod*60) / float64(r.RateLimit)
}

// RecordRequest updates the Resource's counters. Safe for concurrent use
// across goroutines serving independent requests (§5 "globally mutable
// counters" redesign note).
func (r *Resource) RecordRequest(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalReqs++
	if r.firstReqAt.IsZero() {
		r.firstReqAt = at
	}
	r.lastReqAt = at
}

// Counters is a consistent point-in-time snapshot of a Resource's request
// counters, safe to read without holding the Resource's lock.
type Counters struct {
	TotalRequests int64
	FirstRequest  time.Time
	LastRequest   time.Time
}

// Snapshot returns a consistent copy of the Resource's counters.
func (r *Resource) Snapshot() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Counters{TotalRequests: r.totalReqs, FirstRequest: r.firstReqAt, LastRequest: r.lastReqAt}
}

// Token returns the Resource's currently cached token, or nil if absent.
func (r *Resource) Token() *TokenCacheEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cachedToken
}

// SetToken atomically replaces the Resource's cached token.
func (r *Resource) SetToken(entry *TokenCacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedToken = entry
}

// InvalidateToken atomically clears the Resource's cached token.
func (r *Resource) InvalidateToken() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedToken = nil
}

// TokenCacheEntry is a live upstream bearer token owned by its Resource
// (§3). A Resource owns at most one live entry at a time.
type TokenCacheEntry struct {
	Value      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the entry's lifetime has elapsed as of now.
func (t *TokenCacheEntry) Expired(now time.Time) bool {
	return t == nil || !now.Before(t.ExpiresAt)
}

// ReferrerPattern is a normalized allow-list entry (§3). The all-wildcard
// pattern ("*","*","*") is the fast-path sentinel: any non-empty referrer
// matches it and is mapped to canonical key Wildcard.
type ReferrerPattern struct {
	Protocol         string
	Host             string
	Path             string
	MatchAllReferrer bool // exact-path match vs. prefix match, mirrors Resource.MatchAll

	// Key is the canonical string this pattern is indexed by in meter rows.
	Key string
}

// IsAllWildcard reports whether this is the accept-any-referrer sentinel.
func (p ReferrerPattern) IsAllWildcard() bool {
	return p.Protocol == Wildcard && p.Host == Wildcard && p.Path == Wildcard
}

// RequestEnvelope is the per-request derived state the Dispatcher builds up
// as it walks the pipeline (§3): the normalized upstream target, the
// canonical referrer key, the matched Resource (if any), and the merged
// parameter map produced by the Forwarder.
type RequestEnvelope struct {
	Target        URLTuple
	ReferrerKey    string
	Resource      *Resource
	MergedQuery   []QueryParam
}

// MeterRow is the persistent counter state for one (Resource, ReferrerPattern)
// pair with rate limiting enabled (§3).
type MeterRow struct {
	ResourceURL  string
	ReferrerKey  string
	WindowCount  int
	WindowStart  float64 // seconds, fractional
	Total        int64
	Rejected     int64
}

// ErrorKind identifies one of the §7 error taxonomy entries.
type ErrorKind string

const (
	KindBadRequest            ErrorKind = "BadRequest"
	KindReferrerDenied        ErrorKind = "ReferrerDenied"
	KindNoResource            ErrorKind = "NoResource"
	KindRateExceeded          ErrorKind = "RateExceeded"
	KindLimiterUnavailable    ErrorKind = "LimiterUnavailable"
	KindTokenAcquisitionFailed ErrorKind = "TokenAcquisitionFailed"
	KindUpstreamError         ErrorKind = "UpstreamError"
	KindUpstreamAuthExpired   ErrorKind = "UpstreamAuthExpired"
	KindInternalError         ErrorKind = "InternalError"
)

// statusByKind maps each error kind to the HTTP status it surfaces as (§7).
var statusByKind = map[ErrorKind]int{
	KindBadRequest:             403,
	KindReferrerDenied:         403,
	KindNoResource:             404,
	KindRateExceeded:           429,
	KindLimiterUnavailable:     420,
	KindTokenAcquisitionFailed: 502,
	KindUpstreamError:          0, // pass-through status, set explicitly
	KindUpstreamAuthExpired:    0, // resolved by retry, not surfaced directly
	KindInternalError:          500,
}

// Error is the single error type the CORE returns. Kind drives the default
// HTTP status; Status overrides it when the kind itself doesn't imply one
// (pass-through upstream errors).
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code this error should be surfaced as,
// falling back to 500 when Status is unset and the kind has no default.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if s, ok := statusByKind[e.Kind]; ok && s != 0 {
		return s
	}
	return 500
}

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Status: statusByKind[kind], Message: msg, Cause: cause}
}

func BadRequest(msg string, cause error) *Error     { return newError(KindBadRequest, msg, cause) }
func ReferrerDenied(msg string) *Error              { return newError(KindReferrerDenied, msg, nil) }
func NoResource(msg string) *Error                  { return newError(KindNoResource, msg, nil) }
func RateExceeded(msg string) *Error                { return newError(KindRateExceeded, msg, nil) }
func LimiterUnavailable(msg string, cause error) *Error {
	return newError(KindLimiterUnavailable, msg, cause)
}
func TokenAcquisitionFailed(msg string, cause error) *Error {
	return newError(KindTokenAcquisitionFailed, msg, cause)
}
func UpstreamError(status int, msg string) *Error {
	e := newError(KindUpstreamError, msg, nil)
	e.Status = status
	return e
}
func UpstreamAuthExpired(msg string) *Error { return newError(KindUpstreamAuthExpired, msg, nil) }
func InternalError(msg string, cause error) *Error {
	return newError(KindInternalError, msg, cause)
}
