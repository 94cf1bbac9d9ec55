// Package httpapi implements the Request Dispatcher (§4.7): the ping/status
// pages, the proxy catch-all route, the admin reload surface, and the
// ambient HTTP middleware (request ID, structured logging, security
// headers) every route runs behind.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// writeJSON encodes v as JSON and writes it to w with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// NewRouter wires the full chi router: the ambient middleware chain, then
// ping/status/proxy/admin/health/metrics routes, falling back to the
// configured static-asset store for everything else (§6).
func NewRouter(srv *Server) chi.Router {
	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	hasWildcard := false
	for _, o := range corsOrigins {
		if o == "*" {
			hasWildcard = true
			break
		}
	}

	corsOpts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}
	if hasWildcard {
		corsOpts.AllowedOrigins = []string{"*"}
	} else {
		corsOpts.AllowedOrigins = corsOrigins
		corsOpts.AllowCredentials = true
	}

	r.Use(cors.Handler(corsOpts))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.HandleHealth)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)
	r.Get("/metrics", srv.HandleMetrics)

	if srv.PingPath != "" {
		r.Get(srv.PingPath, srv.handlePing)
	}
	if srv.StatusPath != "" {
		r.Get(srv.StatusPath, srv.handleStatus)
	}

	r.Route("/admin", func(r chi.Router) {
		if srv.AdminAuth != nil {
			r.Use(srv.AdminAuth)
		}
		r.Post("/reload", srv.handleAdminReload)
	})

	for _, prefix := range srv.ListenPrefixes {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut} {
			r.MethodFunc(method, prefix, srv.handleProxy)
			r.MethodFunc(method, prefix+"/*", srv.handleProxy)
		}
	}

	r.NotFound(srv.handleStatic)

	return r
}
