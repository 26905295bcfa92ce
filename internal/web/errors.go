package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as JSON (or an HTML fragment for HTMX) with a
//     user-friendly message and code
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, statusFor(err))
//  3. Error is mapped via core.MapError to get user-friendly message
//  4. Technical error + context is logged with request and job ID for correlation

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/LotTrace/internal/core"
	"github.com/JonMunkholm/LotTrace/internal/logging"
	"github.com/JonMunkholm/LotTrace/internal/web/templates"
)

var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error  string   `json:"error"`
	Action string   `json:"action,omitempty"`
	Code   string   `json:"code"`
	Debug  []string `json:"debug,omitempty"`
}

// respondError logs err and writes its user message as JSON.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	respondErrorDebug(w, r, err, status, nil)
}

// respondErrorDebug is respondError with extra hints for the client, such as
// the lot values that do exist when a search finds nothing. Hints are dropped
// for errors without a user-facing message. HTMX requests get an HTML alert
// fragment instead of JSON.
func respondErrorDebug(w http.ResponseWriter, r *http.Request, err error, status int, debug []string) {
	msg := core.MapError(err)
	userFacing := core.IsUserFacing(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("request error", attrs...)
	case !userFacing:
		log.Error("unmapped request error", attrs...)
	default:
		log.Warn("request error", attrs...)
	}
	if !userFacing {
		debug = nil
	}

	if isHTMX(r) {
		alert := templates.ErrorAlert(msg.Message, msg.Action, msg.Code, debug)
		templ.Handler(alert, templ.WithStatus(status)).ServeHTTP(w, r)
		return
	}

	writeJSON(w, status, ErrorResponse{
		Error:  msg.Message,
		Action: msg.Action,
		Code:   msg.Code,
		Debug:  debug,
	})
}

// isHTMX reports whether the request came from an HTMX swap.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// statusFor picks the HTTP status for an error returned by the service.
func statusFor(err error) int {
	var stageErr *core.StageError
	switch {
	case errors.As(err, &stageErr):
		return http.StatusInternalServerError
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNoFiles),
		errors.Is(err, core.ErrInvalidFile),
		errors.Is(err, core.ErrMissingInput),
		errors.Is(err, core.ErrNoSearchTerms),
		errors.Is(err, core.ErrLayout):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, core.ErrArtifactNotFound),
		errors.Is(err, core.ErrNoMatch):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyJobs):
		return http.StatusServiceUnavailable
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// clientIP returns the request's client address without the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
