package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/pushbridge/pushbridge/internal/render"
)

const firebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// FCMAuth manages the OAuth2 access token for apps using the FCM v1 API.
// The current token is handed to the renderer for the Authorization header;
// a 401 from FCM triggers at most one refresh until the registry reloads.
type FCMAuth struct {
	fetch func(ctx context.Context) (string, error)

	mu        sync.Mutex
	token     string
	refreshed bool
}

// NewFCMAuth reads a service-account JSON file and fetches the initial
// access token.
func NewFCMAuth(ctx context.Context, authFile string) (*FCMAuth, error) {
	data, err := os.ReadFile(authFile)
	if err != nil {
		return nil, fmt.Errorf("fcm: reading auth file: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, firebaseMessagingScope)
	if err != nil {
		return nil, fmt.Errorf("fcm: parsing service account: %w", err)
	}

	a := &FCMAuth{fetch: tokenFetcher(conf)}
	token, err := a.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: generating access token: %w", err)
	}
	a.token = token
	return a, nil
}

func tokenFetcher(conf *jwt.Config) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		// A fresh TokenSource bypasses the reuse cache, forcing a new
		// token even when the cached one has not nominally expired.
		tok, err := conf.TokenSource(ctx).Token()
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}
}

// AccessToken returns the current access token.
func (a *FCMAuth) AccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// RefreshOnce fetches a new access token unless a refresh already happened
// since load. It reports whether a new token was obtained.
func (a *FCMAuth) RefreshOnce(ctx context.Context) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.refreshed {
		return "", false
	}
	a.refreshed = true

	token, err := a.fetch(ctx)
	if err != nil {
		slog.Error("fcm access token refresh failed", "error", err)
		return "", false
	}
	a.token = token
	return token, true
}

// FCMConfig holds the configuration for creating an FCM client.
type FCMConfig struct {
	// PushURL is the full send endpoint, legacy or v1.
	PushURL string
	// Auth is set for v1 apps; legacy server-key apps leave it nil.
	Auth *FCMAuth
	// Timeout bounds each delivery attempt. Defaults to 30s.
	Timeout time.Duration
}

// FCM delivers messages to Firebase Cloud Messaging. It speaks both the
// legacy HTTP API and the v1 send endpoint; the differences are confined
// to response classification.
type FCM struct {
	client *http.Client
	url    string
	auth   *FCMAuth
}

// NewFCM returns a ready client for one app's FCM endpoint.
func NewFCM(cfg FCMConfig) *FCM {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultSendTimeout
	}
	return &FCM{
		client: &http.Client{Timeout: timeout},
		url:    cfg.PushURL,
		auth:   cfg.Auth,
	}
}

// CloseIdleConnections drops the pooled endpoint connections. Called when a
// registry reload supersedes this client.
func (f *FCM) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

// Send performs one delivery attempt. A 401 response triggers a single
// token refresh and an immediate retry with the new Authorization header.
func (f *FCM) Send(ctx context.Context, token string, msg *render.Message) (*Attempt, error) {
	att, err := f.post(ctx, msg, "")
	if err != nil {
		return nil, err
	}

	if att.Code == http.StatusUnauthorized && f.auth != nil {
		if newToken, ok := f.auth.RefreshOnce(ctx); ok {
			slog.Warn("fcm needs a new access token, refreshing and trying again", "url", f.url)
			att, err = f.post(ctx, msg, "Bearer "+newToken)
			if err != nil {
				return nil, err
			}
		}
	}

	f.classify(att)
	return att, nil
}

func (f *FCM) post(ctx context.Context, msg *render.Message, authorization string) (*Attempt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(msg.Payload))
	if err != nil {
		return nil, fmt.Errorf("fcm: creating request: %w", err)
	}
	for k, v := range msg.Headers {
		req.Header.Set(k, v)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Attempt{
			Code:      500,
			Reason:    "connection failed: " + err.Error(),
			URL:       f.url,
			Retriable: true,
		}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	att := &Attempt{
		Code:      resp.StatusCode,
		Reason:    http.StatusText(resp.StatusCode),
		URL:       f.url,
		Retriable: resp.StatusCode >= 500 && resp.StatusCode <= 599,
	}
	var content map[string]any
	if err := json.Unmarshal(respBody, &content); err == nil {
		att.Body = content
	}
	return att, nil
}

// classify rewrites vendor-specific dead-token signals to 410. The legacy
// API reports them inside a 200 response, the v1 API as 404 or as a 400
// naming an invalid registration token.
func (f *FCM) classify(att *Attempt) {
	if att.Code == http.StatusOK {
		failure, ok := att.Body["failure"].(float64)
		if !ok || failure != 1 {
			return
		}
		att.Code = http.StatusGone
		att.Expired = true
		att.Retriable = false
		if results, ok := att.Body["results"].([]any); ok && len(results) > 0 {
			if first, ok := results[0].(map[string]any); ok {
				if errName, ok := first["error"].(string); ok && errName != "" {
					att.Reason = errName
				}
			}
		}
		return
	}

	errBody, ok := att.Body["error"].(map[string]any)
	if !ok {
		return
	}
	if message, ok := errBody["message"].(string); ok && message != "" {
		att.Reason = message
	}
	code, _ := errBody["code"].(float64)
	if code == 404 || (code == 400 && strings.Contains(att.Reason, "not a valid FCM registration token")) {
		att.Code = http.StatusGone
		att.Expired = true
		att.Retriable = false
	}
}
