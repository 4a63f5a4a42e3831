package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeEnvelope(w, envelope{Code: 202, Description: "accepted for delivery", Data: struct{}{}})

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if env.Code != 202 {
		t.Errorf("code = %d, want 202", env.Code)
	}
	if env.Description != "accepted for delivery" {
		t.Errorf("description = %q", env.Description)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || len(data) != 0 {
		t.Errorf("data = %v, want empty object", env.Data)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "Field 'app-id' required")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if env.Code != 400 {
		t.Errorf("code = %d, want 400", env.Code)
	}
	if env.Description != "Field 'app-id' required" {
		t.Errorf("description = %q", env.Description)
	}
	// Error envelopes carry an empty string, not an empty object.
	if data, ok := env.Data.(string); !ok || data != "" {
		t.Errorf("data = %v (%T), want empty string", env.Data, env.Data)
	}
}

func TestWriteJSONBare(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusNotFound, map[string]string{"result": "User not found"})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["result"] != "User not found" {
		t.Errorf("result = %v", body["result"])
	}
	// Bare responses are not wrapped in the envelope.
	if _, wrapped := body["code"]; wrapped {
		t.Error("bare response carries an envelope code field")
	}
}

func TestReadJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"valid object", `{"app-id":"com.example.sylk"}`, ""},
		{"unknown fields tolerated", `{"app-id":"com.example.sylk","x-extra":1}`, ""},
		{"not json", `not json`, "invalid request body"},
		{"empty body", ``, "invalid request body"},
		{"two objects", `{"app-id":"a"}{"app-id":"b"}`, "request body must contain a single json object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(tt.body))
			var dst struct {
				AppID string `json:"app-id"`
			}
			if got := readJSON(req, &dst); got != tt.want {
				t.Errorf("readJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadJSONBodyTooLarge(t *testing.T) {
	body := `{"app-id":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(body))

	var dst struct {
		AppID string `json:"app-id"`
	}
	if got := readJSON(req, &dst); got != "invalid request body" {
		t.Errorf("readJSON() = %q, want rejection", got)
	}
}
