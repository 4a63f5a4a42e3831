package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the standard response wrapper for the push API.
// All wrapped responses use this format: { "code": ..., "description": ...,
// "data": ... }, and the HTTP status line always mirrors Code.
type envelope struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Data        any    `json:"data"`
}

// writeEnvelope writes a wrapped JSON response.
func writeEnvelope(w http.ResponseWriter, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.Code)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes an error envelope. Error responses carry an empty
// string in data.
func writeError(w http.ResponseWriter, code int, description string) {
	writeEnvelope(w, envelope{Code: code, Description: description, Data: ""})
}

// writeJSON writes a bare JSON body, used by the token endpoints that echo
// their request instead of wrapping it.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// maxRequestBodySize is the upper limit for JSON request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// readJSON decodes a JSON request body into dst with size limiting. Unknown
// fields are tolerated; RTC servers send extras alongside the wire aliases.
// Returns a user-friendly error string on failure, or "" on success.
func readJSON(r *http.Request, dst any) string {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		return "invalid request body"
	}

	if dec.More() {
		return "request body must contain a single json object"
	}

	return ""
}
