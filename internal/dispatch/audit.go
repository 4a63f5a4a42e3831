package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pushbridge/pushbridge/internal/apps"
	"github.com/pushbridge/pushbridge/internal/push"
	"github.com/pushbridge/pushbridge/internal/render"
)

const auditTimestampLayout = "2006-01-02 15:04:05"

// AuditLogger mirrors push outcomes to the remote collectors configured per
// application. Posts run concurrently, bounded to ten in flight across the
// process, each under the application's log timeout.
type AuditLogger struct {
	client *http.Client
	sem    chan struct{}
}

// NewAuditLogger returns a ready logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{client: &http.Client{}, sem: make(chan struct{}, 10)}
}

type auditRecord struct {
	Request   auditRequest  `json:"request"`
	Response  auditResponse `json:"response"`
	ServerIP  string        `json:"server_ip"`
	Timestamp string        `json:"timestamp"`
}

type auditRequest struct {
	IncomingBody    *push.Request     `json:"incoming_body"`
	OutgoingHeaders map[string]string `json:"outgoing_headers"`
	OutgoingBody    json.RawMessage   `json:"outgoing_body"`
}

type auditResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	PushURL     string `json:"push_url"`
}

// Log posts the outcome of one push to every collector of the app. It runs
// on its own goroutine and returns when all collectors have been tried.
func (l *AuditLogger) Log(app *apps.App, req *push.Request, msg *render.Message, res *push.Result, requestID string) {
	record := auditRecord{
		Request: auditRequest{
			IncomingBody:    req,
			OutgoingHeaders: msg.Headers,
			OutgoingBody:    json.RawMessage(msg.Payload),
		},
		Response: auditResponse{
			Code:        res.Code,
			Description: res.Reason,
			PushURL:     res.URL,
		},
		ServerIP:  serverIP(),
		Timestamp: time.Now().Format(auditTimestampLayout),
	}
	body, err := json.Marshal(record)
	if err != nil {
		slog.Error("remote log marshal failed", "request_id", requestID, "error", err)
		return
	}

	timeout := app.LogTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	var wg sync.WaitGroup
	for _, url := range app.LogURLs {
		url := url
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.sem <- struct{}{}
			defer func() { <-l.sem }()
			l.post(url, body, app.LogKey, timeout, requestID)
		}()
	}
	wg.Wait()
}

func (l *AuditLogger) post(url string, body []byte, logKey string, timeout time.Duration, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		slog.Error("remote log request failed", "request_id", requestID, "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		slog.Debug("remote log unreachable", "request_id", requestID, "url", url, "error", err)
		return
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if logKey == "" {
		slog.Debug("remote log response", "request_id", requestID,
			"url", url, "code", resp.StatusCode)
		return
	}

	var parsed map[string]any
	if err := json.Unmarshal(payload, &parsed); err == nil {
		if value, ok := parsed[logKey]; ok && value != nil {
			slog.Debug("remote log response", "request_id", requestID,
				"url", url, "code", resp.StatusCode, logKey, value)
			return
		}
	}
	slog.Debug("remote log response missing key", "request_id", requestID,
		"url", url, "code", resp.StatusCode, "key", logKey)
}

// serverIP discovers the local address a routed packet would leave from.
// Nothing is actually sent on the socket.
func serverIP() string {
	conn, err := net.Dial("udp", "1.2.3.4:1")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
