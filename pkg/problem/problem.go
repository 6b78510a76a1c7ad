// Package problem writes RFC 7807 Problem Detail error responses.
package problem

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Detail implements RFC 7807 (Problem Details for HTTP APIs).
type Detail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func (p *Detail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// Write writes a problem document for status.
func Write(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	p := &Detail{
		Type:   fmt.Sprintf("https://integrity.errors.local/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if r != nil {
		p.Instance = r.URL.Path
		p.TraceID = w.Header().Get("X-Request-Id")
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func BadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusBadRequest, "Bad Request", detail)
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	Write(w, r, http.StatusUnauthorized, "Unauthorized", detail)
}

// Forbidden writes a 403 response.
func Forbidden(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	Write(w, r, http.StatusForbidden, "Forbidden", detail)
}

func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusNotFound, "Not Found", detail)
}

func Conflict(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, http.StatusConflict, "Conflict", detail)
}

// TooManyRequests writes a 429 response with a Retry-After header.
func TooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	Write(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// Internal writes a 500 response. err is logged and never sent to the client.
func Internal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err)
	Write(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}
