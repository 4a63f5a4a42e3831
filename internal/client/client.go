// Package client is a small HTTP client for the push service, mirroring the
// edge contract. RTC servers can embed it to register device tokens and
// request pushes without hand-rolling the wire format.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pushbridge/pushbridge/internal/push"
)

// ErrNotFound is returned when the service reports an unknown account or
// device during token removal.
var ErrNotFound = errors.New("client: not found")

// maxResponseSize caps response bodies; fanout responses carry one result
// per registered device.
const maxResponseSize = 1 << 20

// responseEnvelope is the service's wrapped response format.
type responseEnvelope struct {
	Code        int             `json:"code"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
}

// Client talks to the push service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. The default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client, for callers that need
// their own transport or proxy settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the push service at baseURL
// (e.g. "http://push.example.com:8400").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Push requests delivery of one notification to one device. The returned
// result mirrors the service's delivery outcome; vendor failures are encoded
// in its code and reason rather than an error. When the service runs in
// asynchronous mode the result only carries the 202 acceptance.
func (c *Client) Push(ctx context.Context, req *push.Request) (*push.Result, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/push", req)
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(status, body)
	if err != nil {
		return nil, err
	}

	var res push.Result
	if err := json.Unmarshal(env.Data, &res); err == nil && res.Code != 0 {
		slog.Debug("push request completed", "call_id", req.CallID, "code", res.Code)
		return &res, nil
	}
	if env.Code >= 400 {
		return nil, fmt.Errorf("client: push rejected (status %d): %s", env.Code, env.Description)
	}
	return &push.Result{Code: env.Code, Reason: env.Description, CallID: req.CallID}, nil
}

// PushToAccount requests delivery to every device registered for an account,
// or to a single one when device is non-empty. One result per device is
// returned; in asynchronous mode the service accepts before delivering and
// the results are nil.
func (c *Client) PushToAccount(ctx context.Context, account, device string, req *push.Request) ([]push.Result, error) {
	path := "/v2/tokens/" + url.PathEscape(account) + "/push"
	if device != "" {
		path += "/" + url.PathEscape(device)
	}

	status, body, err := c.do(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(status, body)
	if err != nil {
		return nil, err
	}

	var results []push.Result
	if err := json.Unmarshal(env.Data, &results); err == nil {
		return results, nil
	}
	if env.Code >= 400 {
		return nil, fmt.Errorf("client: push rejected (status %d): %s", env.Code, env.Description)
	}
	return nil, nil
}

// AddToken registers a device token for an account. The service echoes the
// stored registration on success.
func (c *Client) AddToken(ctx context.Context, account string, req *push.AddRequest) error {
	status, body, err := c.do(ctx, http.MethodPost, "/v2/tokens/"+url.PathEscape(account), req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("client: token registration failed (status %d): %s", status, describeFailure(body))
	}

	slog.Debug("token registered", "account", account, "app_id", req.AppID, "device_id", req.DeviceID)
	return nil
}

// RemoveToken unregisters a device token. Unknown accounts and devices are
// reported as ErrNotFound.
func (c *Client) RemoveToken(ctx context.Context, account string, req *push.RemoveRequest) error {
	status, body, err := c.do(ctx, http.MethodDelete, "/v2/tokens/"+url.PathEscape(account), req)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, describeFailure(body))
	default:
		return fmt.Errorf("client: token removal failed (status %d): %s", status, describeFailure(body))
	}
}

// do runs one JSON request and returns the raw status and body. The error
// return covers transport problems only.
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("client: marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("client: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("client: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("client: reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func decodeEnvelope(status int, body []byte) (*responseEnvelope, error) {
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("client: decoding response (status %d): %w", status, err)
	}
	return &env, nil
}

// describeFailure extracts a human-readable reason from an error response.
// The service answers with an envelope description for rejections and a bare
// {"result": ...} body for removal misses.
func describeFailure(body []byte) string {
	var env responseEnvelope
	if json.Unmarshal(body, &env) == nil && env.Description != "" {
		return env.Description
	}
	var raw map[string]string
	if json.Unmarshal(body, &raw) == nil && raw["result"] != "" {
		return raw["result"]
	}
	return "no details"
}
