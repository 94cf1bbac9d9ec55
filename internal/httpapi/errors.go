package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// errorEnvelope is the uniform JSON error shape of §7:
// {"error":{"code":N,"message":M,"details":M},"request":<url>}.
type errorEnvelope struct {
	Error   errorBody `json:"error"`
	Request string    `json:"request"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// WriteError converts err to the §7 envelope and writes it to w. The HTTP
// status is the error's Kind-derived status, or 500 if it isn't a
// *domain.Error or its status isn't a valid HTTP code. The client never
// sees credentials, tokens, or stack traces — only Message/Details, which
// callers must keep free of secrets.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var derr *domain.Error
	status := http.StatusInternalServerError
	message := "internal error"
	details := ""

	if errors.As(err, &derr) {
		message = derr.Message
		if derr.Cause != nil {
			details = derr.Cause.Error()
		}
		if s := derr.HTTPStatus(); isValidHTTPStatus(s) {
			status = s
		}
	} else if err != nil {
		details = err.Error()
	}

	logError(r, derr, status, message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error:   errorBody{Code: status, Message: message, Details: details},
		Request: r.URL.String(),
	})
}

// isValidHTTPStatus reports whether status falls in the standard
// informational/success/redirect/client-error/server-error ranges.
func isValidHTTPStatus(status int) bool {
	return status >= 100 && status < 600
}

// logError logs the referrer, resource URL, and a short reason for an error
// response (§7) — never the error's Cause, which may carry upstream
// response bodies or credential material.
func logError(r *http.Request, derr *domain.Error, status int, message string) {
	attrs := []any{
		"status", status,
		"referrer", ReferrerKeyFromContext(r.Context()),
		"resource_url", ResourceURLFromContext(r.Context()),
		"reason", message,
	}
	if derr != nil {
		attrs = append(attrs, "kind", string(derr.Kind))
	}

	logger := LoggerFromContext(r.Context())
	if status >= 500 {
		logger.Error("request failed", attrs...)
	} else {
		logger.Warn("request failed", attrs...)
	}
}
