package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcrelay/arcrelay/internal/domain"
	"github.com/arcrelay/arcrelay/internal/httpapi"
)

func TestRouter_Ping_ReturnsVersionDocument(t *testing.T) {
	upstream := newUpstream(t)
	srv := testServer(t, upstream, nil, nil)
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/ping", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Proxy Version"`)
}

func TestRouter_Status_ReturnsHTML(t *testing.T) {
	upstream := newUpstream(t)
	srv := testServer(t, upstream, nil, nil)
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/status", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "arcrelay")
}

func TestRouter_ProxyRoute_PathForm_Forwards(t *testing.T) {
	upstream := newUpstream(t)
	res := upstreamResource(t, upstream)
	srv := testServer(t, upstream, []*domain.Resource{res}, []domain.ReferrerPattern{
		{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, MatchAllReferrer: false, Key: domain.Wildcard},
	})
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/proxy/http/"+upstream.Listener.Addr().String()+"/anything", http.NoBody)
	req.Header.Set("Referer", "https://app.example.org/")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestRouter_ProxyRoute_NoReferrer_Denied(t *testing.T) {
	upstream := newUpstream(t)
	res := upstreamResource(t, upstream)
	srv := testServer(t, upstream, []*domain.Resource{res}, nil)
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/proxy/http/"+upstream.Listener.Addr().String()+"/anything", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_UnknownPath_NoStaticStore_Returns404(t *testing.T) {
	upstream := newUpstream(t)
	srv := testServer(t, upstream, nil, nil)
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_SecurityHeadersPresent(t *testing.T) {
	upstream := newUpstream(t)
	srv := testServer(t, upstream, nil, nil)
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/ping", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouter_AdminReload_RequiresAuth_WhenConfigured(t *testing.T) {
	upstream := newUpstream(t)
	srv := testServer(t, upstream, nil, nil)
	srv.AdminAuth = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	reloaded := false
	srv.Reload = func(_ context.Context) error { reloaded = true; return nil }
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/admin/reload", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, reloaded)
}

func TestRouter_AdminReload_Succeeds_WithCorrectAuth(t *testing.T) {
	upstream := newUpstream(t)
	srv := testServer(t, upstream, nil, nil)
	srv.AdminAuth = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	reloaded := false
	srv.Reload = func(_ context.Context) error { reloaded = true; return nil }
	router := httpapi.NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/admin/reload", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reloaded)
}
