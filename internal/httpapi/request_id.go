package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader is the HTTP header name for request ID propagation.
// Uses the canonical X-Request-ID header recognised by proxies, load balancers,
// and observability tools (Envoy, nginx, Datadog, etc.).
const requestIDHeader = "X-Request-ID"

// requestIDKey is the context key for storing the request ID.
// Unexported to prevent external packages from constructing it directly.
type requestIDKey struct{}

// RequestIDFromContext extracts the request ID from the context.
// Returns an empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID returns a new context with the given request ID stored.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// resourceURLKey and referrerKeyKey hold the matched Resource's URL and the
// canonical referrer key once the dispatcher has resolved them, so every log
// line for the rest of the request carries them (§7: error responses log
// referrer, resource URL, and a short reason).
type resourceURLKey struct{}
type referrerKeyKey struct{}

// ContextWithResourceURL returns a new context carrying the matched
// Resource's URL.
func ContextWithResourceURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, resourceURLKey{}, url)
}

// ResourceURLFromContext extracts the Resource URL set by the dispatcher, or
// "" if none has been set yet.
func ResourceURLFromContext(ctx context.Context) string {
	if url, ok := ctx.Value(resourceURLKey{}).(string); ok {
		return url
	}
	return ""
}

// ContextWithReferrerKey returns a new context carrying the canonical
// referrer key resolved by the Referrer Validator.
func ContextWithReferrerKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, referrerKeyKey{}, key)
}

// ReferrerKeyFromContext extracts the referrer key set by the dispatcher, or
// "" if none has been set yet.
func ReferrerKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(referrerKeyKey{}).(string); ok {
		return key
	}
	return ""
}

// RequestID is middleware that propagates or generates a request ID for every request.
//
// Behavior:
//  1. If the incoming request has an X-Request-ID header, that value is used.
//  2. Otherwise, a new UUID v4 is generated.
//  3. The request ID is stored in the request context (retrieve via RequestIDFromContext).
//  4. The request ID is set on the response as the X-Request-ID header.
//  5. A request-scoped slog logger with the "request_id" attribute is injected into the context.
//
// This middleware should be placed early in the chain — after CORS (which must
// handle preflight before anything else) and security headers, but before auth
// and application-level middleware.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := ContextWithRequestID(r.Context(), id)

		logger := slog.Default().With("request_id", id)
		ctx = contextWithLogger(ctx, logger)

		w.Header().Set(requestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggerKey is the context key for storing the request-scoped slog logger.
type loggerKey struct{}

// contextWithLogger stores a slog.Logger in the context.
func contextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext retrieves the request-scoped slog.Logger from the context.
// Falls back to slog.Default() if no logger is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
