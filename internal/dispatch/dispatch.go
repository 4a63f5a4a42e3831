// Package dispatch drives push notifications through validation, payload
// rendering and the vendor retry loop, and fans requests out across an
// account's registered devices.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pushbridge/pushbridge/internal/apps"
	"github.com/pushbridge/pushbridge/internal/metrics"
	"github.com/pushbridge/pushbridge/internal/push"
	"github.com/pushbridge/pushbridge/internal/render"
	"github.com/pushbridge/pushbridge/internal/sender"
	"github.com/pushbridge/pushbridge/internal/store"
)

// backoffFactor is the base delay of the exponential retry backoff.
// Attempt n sleeps backoffFactor·2ⁿ before the next try.
const backoffFactor = 500 * time.Millisecond

// RequestError is a request rejected during validation, carrying the
// status code the edge should answer with.
type RequestError struct {
	Code    int
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// reject builds a RequestError from a validation message. Messages naming
// something not configured or not found answer 404, the rest 400.
func reject(format string, args ...any) *RequestError {
	msg := fmt.Sprintf(format, args...)
	code := 400
	if strings.Contains(msg, "configured") || strings.Contains(msg, "found") {
		code = 404
	}
	return &RequestError{Code: code, Message: msg}
}

// Outcome is the aggregated answer for one edge request.
type Outcome struct {
	Code        int
	Description string
	Data        any
}

// Dispatcher owns the dispatch pipeline behind the HTTP edge.
type Dispatcher struct {
	registry *apps.Registry
	store    store.Store
	audit    *AuditLogger

	// sleep is replaceable in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error

	delivered atomic.Uint64
	failed    atomic.Uint64
	expired   atomic.Uint64
	retries   atomic.Uint64
}

// New builds a dispatcher over the application registry and token store.
func New(registry *apps.Registry, st store.Store) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		store:    st,
		audit:    NewAuditLogger(),
		sleep:    sleepContext,
	}
}

// Stats returns the dispatch counters.
func (d *Dispatcher) Stats() metrics.DeliveryStats {
	return metrics.DeliveryStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Expired:   d.expired.Load(),
		Retries:   d.retries.Load(),
	}
}

// Validate normalizes the request in place and checks it against the
// registry and its family's field contract. It returns the binding that
// will deliver the push.
func (d *Dispatcher) Validate(req *push.Request) (*apps.App, *RequestError) {
	if req.AppID == "" {
		return nil, reject("Field 'app-id' required")
	}
	if req.Platform == "" {
		return nil, reject("Field 'platform' required")
	}

	req.Canonicalize()
	if req.Platform != push.PlatformApple && req.Platform != push.PlatformFirebase {
		return nil, reject("'%s' platform is not configured", req.Platform)
	}

	app, ok := d.registry.Lookup(req.Platform, req.AppID)
	if !ok {
		return nil, reject("%s %s app is not configured", capitalize(req.Platform), req.AppID)
	}

	if missing := req.MissingFields(app.Type); len(missing) > 0 {
		return nil, reject("'%s' item(s) missing", strings.Join(missing, ", "))
	}

	if req.Event != push.EventCancel {
		if req.MediaType == "" {
			return nil, reject("Field media-type required")
		}
		if !push.ValidMediaType(req.MediaType) {
			return nil, reject("media-type must be 'audio', 'video', 'chat', 'sms', 'file-transfer'")
		}
	}

	if app.Type == "linphone" {
		if req.Event == "" {
			req.Event = push.EventIncomingSession
		} else if req.Event != push.EventIncomingSession {
			return nil, reject("event not found (must be incoming_session)")
		}
	}

	if req.Event != "" && !push.ValidEvent(req.Event) {
		return nil, reject("event must be 'incoming_session', 'incoming_conference_request', 'cancel' or 'message'")
	}

	req.DeviceID = push.NormalizeDeviceID(req.DeviceID)
	return app, nil
}

// ValidateAdd normalizes and checks a token registration against the
// registry.
func (d *Dispatcher) ValidateAdd(req *push.AddRequest) *RequestError {
	if req.AppID == "" {
		return reject("Field 'app-id' required")
	}
	if req.Platform == "" {
		return reject("Field 'platform' required")
	}
	req.Platform = push.CanonicalPlatform(req.Platform)
	if req.Platform != push.PlatformApple && req.Platform != push.PlatformFirebase {
		return reject("The '%s' platform is not configured", req.Platform)
	}
	if _, ok := d.registry.Lookup(req.Platform, req.AppID); !ok {
		return reject("%s %s app is not configured", capitalize(req.Platform), req.AppID)
	}
	if req.Token == "" {
		return reject("Field 'token' required")
	}
	if req.DeviceID == "" {
		return reject("Field 'device-id' required")
	}
	req.DeviceID = push.NormalizeDeviceID(req.DeviceID)
	return nil
}

// ValidateRemove normalizes and checks a token removal.
func ValidateRemove(req *push.RemoveRequest) *RequestError {
	if req.AppID == "" {
		return reject("Field 'app-id' required")
	}
	req.DeviceID = push.NormalizeDeviceID(req.DeviceID)
	return nil
}

// Dispatch renders the push and drives the retry loop against the vendor.
// It always returns a result; vendor failures are encoded in its code and
// reason rather than an error.
func (d *Dispatcher) Dispatch(ctx context.Context, app *apps.App, req *push.Request, requestID string) *push.Result {
	in := &render.Input{Req: req, Voip: app.Voip, AuthKey: app.AuthKey}
	if app.Auth != nil {
		in.AccessToken = app.Auth.AccessToken()
	}

	msg, err := app.Renderer.Render(in)
	if err != nil {
		slog.Error("rendering push failed", "request_id", requestID,
			"platform", app.Platform, "family", app.Type, "error", err)
		d.failed.Add(1)
		return &push.Result{
			Body:     map[string]any{},
			Code:     500,
			Reason:   "Internal server error",
			Platform: app.Platform,
			CallID:   req.CallID,
			Token:    req.Token,
		}
	}

	att := d.deliver(ctx, app, req, msg, requestID)

	result := &push.Result{
		Body:     att.Body,
		Code:     att.Code,
		Reason:   att.Reason,
		URL:      att.URL,
		Platform: app.Platform,
		CallID:   req.CallID,
		Token:    req.Token,
	}

	if result.Code == 200 {
		d.delivered.Add(1)
		slog.Info("push notification sent successfully",
			"request_id", requestID, "platform", app.Platform)
	} else {
		d.failed.Add(1)
		if result.Expired() {
			d.expired.Add(1)
		}
		slog.Error("push notification failed", "request_id", requestID,
			"platform", app.Platform, "code", result.Code, "reason", result.Reason)
	}
	slog.Debug("vendor response", "request_id", requestID, "body", att.Body)

	if len(app.LogURLs) > 0 {
		go d.audit.Log(app, req, msg, result, requestID)
	}

	return result
}

// deliver performs delivery attempts until a terminal result, the retry
// cap, or cancellation.
func (d *Dispatcher) deliver(ctx context.Context, app *apps.App, req *push.Request, msg *render.Message, requestID string) *sender.Attempt {
	limit := maxAttempts(req.MediaType)

	for n := 0; ; n++ {
		slog.Info("outgoing push request", "request_id", requestID,
			"platform", app.Platform, "url", app.PushURL, "attempt", n+1)
		slog.Debug("outgoing push request detail", "request_id", requestID,
			"headers", msg.Headers, "payload", string(msg.Payload))

		att, err := app.Sender.Send(ctx, req.Token, msg)
		if err != nil {
			slog.Error("push delivery aborted", "request_id", requestID, "error", err)
			return &sender.Attempt{Code: 500, Reason: err.Error(), Body: map[string]any{}, URL: app.PushURL}
		}
		if !att.Retriable {
			return att
		}
		if n == limit-1 {
			att.Reason = "maximum retries reached"
			return att
		}
		d.retries.Add(1)
		if err := d.sleep(ctx, backoffFactor<<n); err != nil {
			// Cancelled mid-backoff; report the last attempt as-is.
			return att
		}
	}
}

// maxAttempts returns the retry budget for a media type. Text-message
// class pushes get a longer window.
func maxAttempts(mediaType string) int {
	if mediaType == "" || mediaType == "sms" {
		return 11
	}
	return 7
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
