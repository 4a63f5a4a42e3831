package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pushbridge/pushbridge/internal/push"
)

func validPush() *push.Request {
	silent := true
	return &push.Request{
		AppID:     "com.example.sylk",
		Platform:  "firebase",
		Event:     "incoming_session",
		Token:     "device-token",
		CallID:    "call-123",
		SipFrom:   "sip:a@example.com",
		SipTo:     "sip:b@example.com",
		MediaType: "audio",
		Silent:    &silent,
	}
}

func TestPush_Delivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/push" {
			t.Errorf("expected path /push, got %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		var req push.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.AppID != "com.example.sylk" {
			t.Errorf("expected app-id %q, got %q", "com.example.sylk", req.AppID)
		}
		if req.Token != "device-token" {
			t.Errorf("expected token %q, got %q", "device-token", req.Token)
		}
		if req.CallID != "call-123" {
			t.Errorf("expected call-id %q, got %q", "call-123", req.CallID)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"description":"push notification response","data":{"body":{},"code":200,"reason":"","url":"https://fcm.example.com/send","platform":"firebase","call_id":"call-123","token":"device-token"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Push(context.Background(), validPush())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != 200 {
		t.Errorf("code = %d, want 200", res.Code)
	}
	if res.CallID != "call-123" {
		t.Errorf("call_id = %q, want call-123", res.CallID)
	}
}

func TestPush_VendorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"code":503,"description":"push notification response","data":{"body":{},"code":503,"reason":"maximum retries reached","url":"https://fcm.example.com/send","platform":"firebase","call_id":"call-123","token":"device-token"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Push(context.Background(), validPush())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Vendor failures come back as a result, not an error.
	if res.Code != 503 {
		t.Errorf("code = %d, want 503", res.Code)
	}
	if res.Reason != "maximum retries reached" {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestPush_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":400,"description":"Field 'app-id' required","data":""}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Push(context.Background(), validPush())
	if err == nil {
		t.Fatal("expected error for rejected push")
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if !strings.Contains(err.Error(), "Field 'app-id' required") {
		t.Errorf("error = %v, want the rejection description", err)
	}
}

func TestPush_AsyncAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"code":202,"description":"accepted for delivery","data":{}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Push(context.Background(), validPush())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != 202 {
		t.Errorf("code = %d, want 202", res.Code)
	}
	if res.Reason != "accepted for delivery" {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestPushToAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/tokens/alice@example.com/push" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"description":"push notification responses","data":[` +
			`{"body":{},"code":200,"reason":"","url":"","platform":"firebase","call_id":"call-123","token":"tok-1"},` +
			`{"body":{},"code":200,"reason":"","url":"","platform":"firebase","call_id":"call-123","token":"tok-2"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	results, err := c.PushToAccount(context.Background(), "alice@example.com", "", validPush())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Token != "tok-1" || results[1].Token != "tok-2" {
		t.Errorf("result tokens = %q, %q", results[0].Token, results[1].Token)
	}
}

func TestPushToAccount_Device(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/tokens/alice@example.com/push/dev-2" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"description":"push notification responses","data":[` +
			`{"body":{},"code":200,"reason":"","url":"","platform":"firebase","call_id":"call-123","token":"tok-2"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	results, err := c.PushToAccount(context.Background(), "alice@example.com", "dev-2", validPush())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Token != "tok-2" {
		t.Errorf("results = %+v, want single tok-2 entry", results)
	}
}

func TestPushToAccount_UserNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":404,"description":"user not found","data":{"account":"alice@example.com"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.PushToAccount(context.Background(), "alice@example.com", "", validPush())
	if err == nil {
		t.Fatal("expected error for unknown account")
	}
	if !strings.Contains(err.Error(), "user not found") {
		t.Errorf("error = %v", err)
	}
}

func TestAddToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v2/tokens/alice@example.com" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req push.AddRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.AppID != "com.example.sylk" || req.DeviceID != "dev-1" {
			t.Errorf("request = %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(req)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.AddToken(context.Background(), "alice@example.com", &push.AddRequest{
		AppID:    "com.example.sylk",
		Platform: "firebase",
		Token:    "tok-1",
		DeviceID: "dev-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAddToken_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":404,"description":"Firebase com.example.ghost app is not configured","data":""}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.AddToken(context.Background(), "alice@example.com", &push.AddRequest{
		AppID:    "com.example.ghost",
		Platform: "firebase",
		Token:    "tok-1",
		DeviceID: "dev-1",
	})
	if err == nil {
		t.Fatal("expected error for unknown app")
	}
	if !strings.Contains(err.Error(), "app is not configured") {
		t.Errorf("error = %v", err)
	}
}

func TestRemoveToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"app-id":"com.example.sylk","device-id":"dev-1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.RemoveToken(context.Background(), "alice@example.com", &push.RemoveRequest{
		AppID:    "com.example.sylk",
		DeviceID: "dev-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemoveToken_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"result": "User not found"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.RemoveToken(context.Background(), "ghost@example.com", &push.RemoveRequest{
		AppID:    "com.example.sylk",
		DeviceID: "dev-1",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "User not found") {
		t.Errorf("error = %v, want the service's reason", err)
	}
}

func TestPush_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Push(ctx, validPush()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestPush_ConnectionRefused(t *testing.T) {
	c := New("http://127.0.0.1:1", WithTimeout(2*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.Push(ctx, validPush()); err == nil {
		t.Fatal("expected error for connection refused")
	}
}

func TestOptions(t *testing.T) {
	c := New("http://push.example.com", WithTimeout(3*time.Second))
	if c.httpClient.Timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", c.httpClient.Timeout)
	}

	hc := &http.Client{Timeout: time.Minute}
	c = New("http://push.example.com", WithHTTPClient(hc))
	if c.httpClient != hc {
		t.Error("custom http client was not installed")
	}
}
