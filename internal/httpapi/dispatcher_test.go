package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrelay/arcrelay/internal/domain"
	"github.com/arcrelay/arcrelay/internal/httpapi"
	"github.com/arcrelay/arcrelay/internal/normalize"
)

// These cover the six end-to-end scenarios of the dispatcher pipeline: ping,
// matched pass-through, referrer deny, rate cap, app-credential token
// injection, and auth-expired retry.

func TestDispatcher_Ping_NeverRejects(t *testing.T) {
	srv := testServer(t, newUpstream(t), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/ping", http.NoBody)
	rec := httptest.NewRecorder()

	httpapi.NewRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Proxy Version"`)
}

func TestDispatcher_MatchedResource_PassesThrough(t *testing.T) {
	upstream := newUpstream(t)
	res := upstreamResource(t, upstream)
	srv := testServer(t, upstream, []*domain.Resource{res}, []domain.ReferrerPattern{
		{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, Key: domain.Wildcard},
	})
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/proxy/http/"+upstream.Listener.Addr().String()+"/anything", http.NoBody)
	req.Header.Set("Referer", "https://app.example.org/")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)

	snap := res.Snapshot()
	assert.Equal(t, int64(1), snap.TotalRequests)
}

func TestDispatcher_NoReferrerHeader_DeniedWith403(t *testing.T) {
	upstream := newUpstream(t)
	res := upstreamResource(t, upstream)
	srv := testServer(t, upstream, []*domain.Resource{res}, []domain.ReferrerPattern{
		{Protocol: "https", Host: "app.example.org", Path: domain.Wildcard, Key: "app"},
	})
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/proxy/http/"+upstream.Listener.Addr().String()+"/anything", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestDispatcher_NoMatchingResource_MustMatch_Returns404(t *testing.T) {
	upstream := newUpstream(t)
	srv := testServer(t, upstream, nil, []domain.ReferrerPattern{
		{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, Key: domain.Wildcard},
	})
	srv.MustMatch = true
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/proxy/http/"+upstream.Listener.Addr().String()+"/anything", http.NoBody)
	req.Header.Set("Referer", "https://app.example.org/")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatcher_NoMatchingResource_NotMustMatch_SyntheticPassThrough(t *testing.T) {
	upstream := newUpstream(t)
	srv := testServer(t, upstream, nil, []domain.ReferrerPattern{
		{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, Key: domain.Wildcard},
	})
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/proxy/http/"+upstream.Listener.Addr().String()+"/anything", http.NoBody)
	req.Header.Set("Referer", "https://app.example.org/")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestDispatcher_RateCap_AdmitsThenRejects(t *testing.T) {
	upstream := newUpstream(t)
	res := upstreamResource(t, upstream)
	res.RateLimit = 1
	res.RateLimitPeriod = 1 // 60s window, cap of 1
	srv := testServer(t, upstream, []*domain.Resource{res}, []domain.ReferrerPattern{
		{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, Key: domain.Wildcard},
	})
	router := httpapi.NewRouter(srv)

	mkReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/proxy/http/"+upstream.Listener.Addr().String()+"/anything", http.NoBody)
		req.Header.Set("Referer", "https://app.example.org/")
		return req
	}

	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, mkReq())
	assert.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, mkReq())
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestDispatcher_AppCredential_TokenInjectedIntoUpstreamRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sharing/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"portal-token-1"}`))
	})
	mux.HandleFunc("/sharing/generateToken", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"server-token-1"}`))
	})
	mux.HandleFunc("/arcgis/rest/services/Test/MapServer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"token":"` + r.URL.Query().Get("token") + `"}`))
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	res := appCredentialResource(t, upstream)
	srv := testServer(t, upstream, []*domain.Resource{res}, []domain.ReferrerPattern{
		{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, Key: domain.Wildcard},
	})
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/proxy/http/"+upstream.Listener.Addr().String()+"/arcgis/rest/services/Test/MapServer", http.NoBody)
	req.Header.Set("Referer", "https://app.example.org/")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token":"server-token-1"`)
}

func TestDispatcher_AuthExpired_RetriesOnceWithFreshToken(t *testing.T) {
	var resourceHits int32

	mux := http.NewServeMux()
	mux.HandleFunc("/sharing/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"portal-token-1"}`))
	})
	mux.HandleFunc("/sharing/generateToken", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"server-token-1"}`))
	})
	mux.HandleFunc("/arcgis/rest/services/Test/MapServer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&resourceHits, 1) == 1 {
			w.Write([]byte(`{"error":{"code":498,"message":"Invalid Token"}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	res := appCredentialResource(t, upstream)
	srv := testServer(t, upstream, []*domain.Resource{res}, []domain.ReferrerPattern{
		{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, Key: domain.Wildcard},
	})
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/proxy/http/"+upstream.Listener.Addr().String()+"/arcgis/rest/services/Test/MapServer", http.NoBody)
	req.Header.Set("Referer", "https://app.example.org/")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
	assert.Equal(t, int32(2), atomic.LoadInt32(&resourceHits))
}

// appCredentialResource builds a Resource configured for the app-credential
// flow (§4.5), its OAuth2 endpoint and resource URL both on upstream.
func appCredentialResource(t *testing.T, upstream *httptest.Server) *domain.Resource {
	t.Helper()
	resourceURL := upstream.URL + "/arcgis/rest/services/Test/MapServer"
	tuple, err := normalize.Parse(resourceURL)
	if err != nil {
		t.Fatalf("parse resource URL: %v", err)
	}

	return &domain.Resource{
		URL:            resourceURL,
		Tuple:          tuple,
		MatchAll:       true,
		Credential:     domain.CredentialApp,
		ClientID:       "test-client",
		ClientSecret:   "test-secret",
		OAuth2Endpoint: upstream.URL + "/sharing/oauth2",
	}
}
