package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arcrelay/arcrelay/internal/broker"
	"github.com/arcrelay/arcrelay/internal/domain"
	"github.com/arcrelay/arcrelay/internal/httpapi"
	"github.com/arcrelay/arcrelay/internal/meterstore"
	"github.com/arcrelay/arcrelay/internal/normalize"
	"github.com/arcrelay/arcrelay/internal/proxy"
	"github.com/arcrelay/arcrelay/internal/ratelimit"
	"github.com/arcrelay/arcrelay/internal/resource"
)

// newUpstream starts a fake upstream that echoes the request path and
// query back as JSON, for assertions on what the Forwarder actually sent.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true,"path":"` + r.URL.Path + `","query":"` + r.URL.RawQuery + `"}`))
	}))
	t.Cleanup(upstream.Close)
	return upstream
}

// upstreamResource builds a Resource matching any path under upstream's
// host, with no credential and no rate cap.
func upstreamResource(t *testing.T, upstream *httptest.Server) *domain.Resource {
	t.Helper()
	tuple, err := normalize.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream URL: %v", err)
	}
	return &domain.Resource{
		URL:        upstream.URL,
		Tuple:      tuple,
		MatchAll:   false,
		Credential: domain.CredentialNone,
	}
}

// testServer builds a minimal, fully wired Server backed by an in-memory
// meter store and forwarding through upstream's client, for router/dispatcher
// integration tests.
func testServer(t *testing.T, upstream *httptest.Server, resources []*domain.Resource, referrers []domain.ReferrerPattern) *httpapi.Server {
	t.Helper()

	store := resource.NewStore(resources, referrers)
	meter := meterstore.NewMemStore()
	limiter := ratelimit.New(meter)
	br := broker.New(upstream.Client())
	forwarder := proxy.New(upstream.Client(), br, 0)

	srv := httpapi.NewServer()
	srv.Store = store
	srv.Limiter = limiter
	srv.Forwarder = forwarder
	srv.MeterCounters = meter
	srv.PingPath = "/ping"
	srv.StatusPath = "/status"
	srv.ListenPrefixes = []string{"/proxy"}

	return srv
}
