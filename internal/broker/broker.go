// Package broker implements the Token Broker (§4.5): the app-credential and
// user-credential flows that exchange a Resource's configured credentials
// for a live upstream bearer token, a per-Resource cache of the result, and
// a single-flight guard so concurrent requests for the same Resource share
// one in-flight acquisition instead of hammering the upstream auth server.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// Broker acquires and caches upstream bearer tokens for Resources configured
// with a live credential flow (user or app). Static-token Resources never
// reach it — the Forwarder injects Resource.StaticToken directly.
type Broker struct {
	client *http.Client

	mu       sync.Mutex
	inflight map[uuid.UUID]*call
}

// call tracks one in-flight token acquisition so concurrent callers for the
// same Resource wait on and share its result rather than each dialing the
// upstream auth server (§4.5 "at-most-one concurrent acquisition per Resource").
type call struct {
	done  chan struct{}
	entry *domain.TokenCacheEntry
	err   error
}

// New creates a Broker that issues upstream auth requests through client.
func New(client *http.Client) *Broker {
	return &Broker{
		client:   client,
		inflight: make(map[uuid.UUID]*call),
	}
}

// Token returns a usable bearer token for r, acquiring and caching one if
// necessary. referrer is the raw Referer header of the inbound request that
// triggered acquisition — passed explicitly rather than captured by the
// Broker, since the broker has no business remembering which request asked
// for it first (a stale closed-over referrer would leak into unrelated
// requests that reuse the cached token).
func (b *Broker) Token(ctx context.Context, r *domain.Resource, referrer string) (string, error) {
	switch r.Credential {
	case domain.CredentialNone:
		return "", nil
	case domain.CredentialStaticToken:
		return r.StaticToken, nil
	}

	now := time.Now()
	if entry := r.Token(); !entry.Expired(now) {
		return entry.Value, nil
	}

	entry, err := b.acquire(ctx, r, referrer)
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// Invalidate clears r's cached token, forcing the next Token call to
// re-acquire. Called by the Forwarder when an upstream rejects the cached
// token as expired (§9 one-shot retry).
func (b *Broker) Invalidate(r *domain.Resource) {
	r.InvalidateToken()
}

func (b *Broker) acquire(ctx context.Context, r *domain.Resource, referrer string) (*domain.TokenCacheEntry, error) {
	b.mu.Lock()
	if existing, ok := b.inflight[r.ID]; ok {
		b.mu.Unlock()
		select {
		case <-existing.done:
			return existing.entry, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	b.inflight[r.ID] = c
	b.mu.Unlock()

	c.entry, c.err = b.fetch(ctx, r, referrer)
	close(c.done)

	b.mu.Lock()
	delete(b.inflight, r.ID)
	b.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	r.SetToken(c.entry)
	return c.entry, nil
}

func (b *Broker) fetch(ctx context.Context, r *domain.Resource, referrer string) (*domain.TokenCacheEntry, error) {
	switch r.Credential {
	case domain.CredentialApp:
		return b.fetchAppToken(ctx, r)
	case domain.CredentialUser:
		return b.fetchUserToken(ctx, r, referrer)
	default:
		return nil, domain.TokenAcquisitionFailed("resource has no live credential flow configured", nil)
	}
}

// fetchAppToken implements the app-credential flow (§4.5): client-credentials
// exchange for a portal token, then exchange that for a long-lived server
// token.
func (b *Broker) fetchAppToken(ctx context.Context, r *domain.Resource) (*domain.TokenCacheEntry, error) {
	portalBody, err := b.postForm(ctx, r.OAuth2Endpoint+"/token", url.Values{
		"client_id":     {r.ClientID},
		"client_secret": {r.ClientSecret},
		"grant_type":    {"client_credentials"},
		"f":             {"json"},
	})
	if err != nil {
		return nil, domain.TokenAcquisitionFailed("app credential: portal token request failed", err)
	}
	portalToken, ok := extractToken(portalBody)
	if !ok {
		return nil, domain.TokenAcquisitionFailed("app credential: no token in portal response", nil)
	}

	serverBody, err := b.postForm(ctx, exchangeURL(r.OAuth2Endpoint), url.Values{
		"token":     {portalToken},
		"serverURL": {r.URL},
		"f":         {"json"},
	})
	if err != nil {
		return nil, domain.TokenAcquisitionFailed("app credential: server token exchange failed", err)
	}
	serverToken, ok := extractToken(serverBody)
	if !ok {
		return nil, domain.TokenAcquisitionFailed("app credential: no token in exchange response", nil)
	}

	now := time.Now()
	return &domain.TokenCacheEntry{
		Value:      serverToken,
		AcquiredAt: now,
		ExpiresAt:  extractExpiresAt(serverBody, now),
	}, nil
}

// infoResponse is the subset of an ArcGIS rest/info document the
// user-credential flow reads to discover the token-services endpoint.
type infoResponse struct {
	AuthInfo struct {
		TokenServicesURL string `json:"tokenServicesUrl"`
		OwningSystemURL  string `json:"owningSystemUrl"`
	} `json:"authInfo"`
}

// fetchUserToken implements the user-credential flow (§4.5): derive the
// info endpoint from the Resource's URL, discover the token-services URL,
// then exchange username/password for a token.
func (b *Broker) fetchUserToken(ctx context.Context, r *domain.Resource, referrer string) (*domain.TokenCacheEntry, error) {
	infoURL := deriveInfoURL(r.URL) + "?f=json"

	infoBody, err := b.getJSON(ctx, infoURL)
	if err != nil {
		return nil, domain.TokenAcquisitionFailed("user credential: rest/info request failed", err)
	}

	var info infoResponse
	tokenServicesURL := ""
	if decodeErr := decodeJSON(infoBody, &info); decodeErr == nil {
		tokenServicesURL = info.AuthInfo.TokenServicesURL
		if tokenServicesURL == "" && info.AuthInfo.OwningSystemURL != "" {
			tokenServicesURL = strings.TrimSuffix(info.AuthInfo.OwningSystemURL, "/") + "/sharing/generateToken"
		}
	}
	if tokenServicesURL == "" {
		return nil, domain.TokenAcquisitionFailed("user credential: no tokenServicesUrl in rest/info response", nil)
	}

	tokenBody, err := b.postForm(ctx, tokenServicesURL, url.Values{
		"request":    {"getToken"},
		"f":          {"json"},
		"referer":    {referrer},
		"expiration": {"60"},
		"username":   {r.Username},
		"password":   {r.Password},
	})
	if err != nil {
		return nil, domain.TokenAcquisitionFailed("user credential: getToken request failed", err)
	}
	token, ok := extractToken(tokenBody)
	if !ok {
		return nil, domain.TokenAcquisitionFailed("user credential: no token in getToken response", nil)
	}

	now := time.Now()
	return &domain.TokenCacheEntry{
		Value:      token,
		AcquiredAt: now,
		ExpiresAt:  extractExpiresAt(tokenBody, now),
	}, nil
}

func (b *Broker) postForm(ctx context.Context, target string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", strconv.Itoa(len(form.Encode())))
	return b.do(req)
}

func (b *Broker) getJSON(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return b.do(req)
}

func (b *Broker) do(req *http.Request) ([]byte, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readAll(resp)
}
