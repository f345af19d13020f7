// Package problem writes RFC 7807 problem details.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
)

const (
	contentType    = "application/problem+json"
	defaultBaseURL = "https://errors.account-cqrs.dev/"
)

var baseURL atomic.Pointer[string]

// Details represents RFC 7807 Problem Details.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
}

// SetBaseURL changes the prefix of problem type URIs. A blank url restores
// the default.
func SetBaseURL(url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		baseURL.Store(nil)
		return
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	baseURL.Store(&url)
}

// Type resolves a slug such as "account/not-found" to a problem type URI.
func Type(slug string) string {
	if base := baseURL.Load(); base != nil {
		return *base + slug
	}
	return defaultBaseURL + slug
}

// Write sends a problem response. The request id falls back to the response
// trace header when the request carries none.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	details := Details{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if details.Title == "" {
		details.Title = http.StatusText(status)
	}
	if details.Type == "" {
		details.Type = "about:blank"
	}
	if r != nil {
		details.Instance = r.URL.Path
		details.RequestID = r.Header.Get("X-Trace-ID")
	}
	if details.RequestID == "" {
		details.RequestID = w.Header().Get("X-Trace-ID")
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(details)
}
