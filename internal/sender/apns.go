package sender

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/pkcs12"
	"golang.org/x/net/http2"

	"github.com/pushbridge/pushbridge/internal/render"
)

// APNs provider tokens are valid for up to 60 minutes.
// Refresh at 50 minutes to avoid edge-case expiry.
const apnsTokenRefreshInterval = 50 * time.Minute

const defaultSendTimeout = 30 * time.Second

// APNSConfig holds the configuration for creating an APNS client.
type APNSConfig struct {
	// PushURL is the APNs gateway, a bare hostname or host:port.
	// The port defaults to 443; Apple also accepts 2197.
	PushURL string
	// CertFile is the push certificate, PEM or PKCS#12.
	CertFile string
	// KeyFile is the private key when not bundled into CertFile.
	KeyFile string
	// CertPassword unlocks a PKCS#12 certificate.
	CertPassword string
	// AuthFile is an optional .p8 provider token key. When set, KeyID and
	// TeamID are required and requests carry a bearer provider token.
	AuthFile string
	KeyID    string
	TeamID   string
	// Timeout bounds each delivery attempt. Defaults to 30s.
	Timeout time.Duration
}

// APNS delivers messages to the Apple Push Notification service over
// HTTP/2 with mutual TLS.
type APNS struct {
	client *http.Client
	host   string
	port   string
	auth   *providerToken
}

// NewAPNS loads the push credentials and returns a ready client.
func NewAPNS(cfg APNSConfig) (*APNS, error) {
	if cfg.PushURL == "" {
		return nil, fmt.Errorf("apns: push url is required")
	}
	if cfg.CertFile == "" {
		return nil, fmt.Errorf("apns: certificate file is required")
	}

	cert, err := loadCertificate(cfg.CertFile, cfg.KeyFile, cfg.CertPassword)
	if err != nil {
		return nil, err
	}

	host := strings.TrimPrefix(strings.TrimPrefix(cfg.PushURL, "https://"), "http://")
	port := "443"
	if h, p, err := net.SplitHostPort(host); err == nil {
		host, port = h, p
	}

	var auth *providerToken
	if cfg.AuthFile != "" {
		if cfg.KeyID == "" || cfg.TeamID == "" {
			return nil, fmt.Errorf("apns: key id and team id are required with an auth file")
		}
		keyData, err := os.ReadFile(cfg.AuthFile)
		if err != nil {
			return nil, fmt.Errorf("apns: reading auth file: %w", err)
		}
		key, err := parseP8PrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("apns: parsing p8 key: %w", err)
		}
		auth = &providerToken{key: key, keyID: cfg.KeyID, teamID: cfg.TeamID}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultSendTimeout
	}

	transport := &http2.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			// apple_push_url may point at a regional gateway address
			// rather than the canonical hostname.
			InsecureSkipVerify: true,
		},
	}

	slog.Info("apns client initialised", "host", host, "port", port,
		"certificate", cfg.CertFile, "provider_token", auth != nil)

	return &APNS{
		client: &http.Client{Timeout: timeout, Transport: transport},
		host:   host,
		port:   port,
		auth:   auth,
	}, nil
}

// CloseIdleConnections drops the pooled gateway connections. Called when a
// registry reload supersedes this client.
func (a *APNS) CloseIdleConnections() {
	a.client.CloseIdleConnections()
}

// Send performs one delivery attempt to the given device token.
func (a *APNS) Send(ctx context.Context, token string, msg *render.Message) (*Attempt, error) {
	url := fmt.Sprintf("https://%s:%s/3/device/%s", a.host, a.port, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(msg.Payload))
	if err != nil {
		return nil, fmt.Errorf("apns: creating request: %w", err)
	}
	for k, v := range msg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("content-type", "application/json")
	if a.auth != nil {
		providerToken, err := a.auth.token()
		if err != nil {
			return nil, fmt.Errorf("apns: generating provider token: %w", err)
		}
		req.Header.Set("authorization", "bearer "+providerToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Attempt{Code: 500, Reason: classifyTransportError(err), URL: url, Retriable: true}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var reason string
	if len(respBody) > 0 {
		var apnsErr apnsErrorResponse
		if err := json.Unmarshal(respBody, &apnsErr); err == nil {
			reason = apnsErr.Reason
		}
	}

	att := &Attempt{
		Code:      resp.StatusCode,
		Reason:    reason,
		URL:       url,
		Retriable: resp.StatusCode >= 500 && resp.StatusCode <= 599,
	}
	if att.Code != http.StatusOK {
		if details, ok := apnsReasonDetails[reason]; ok {
			att.Reason = reason + " - " + details
		}
	}
	if att.Code == http.StatusBadRequest && strings.Contains(att.Reason, "BadDeviceToken") {
		att.Code = http.StatusGone
	}
	if att.Code == http.StatusGone {
		att.Expired = true
		att.Retriable = false
	}
	return att, nil
}

// classifyTransportError separates HTTP/2 stream resets from plain
// connectivity failures. Both are retriable.
func classifyTransportError(err error) string {
	var streamErr http2.StreamError
	var goAway http2.GoAwayError
	if errors.As(err, &streamErr) || errors.As(err, &goAway) {
		return "stream error"
	}
	return "socket error"
}

// apnsErrorResponse is the JSON error body returned by APNs.
type apnsErrorResponse struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// providerToken caches a signed JWT provider token, refreshing it when
// nearing expiry.
type providerToken struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string

	mu     sync.Mutex
	cached string
	expiry time.Time
}

func (p *providerToken) token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && time.Now().Before(p.expiry) {
		return p.cached, nil
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:   p.teamID,
		IssuedAt: jwt.NewNumericDate(now),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = p.keyID

	signed, err := tok.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}

	p.cached = signed
	p.expiry = now.Add(apnsTokenRefreshInterval)

	return signed, nil
}

// loadCertificate reads a push certificate, PEM key pair or PKCS#12
// bundle, and rejects expired certificates.
func loadCertificate(certFile, keyFile, password string) (tls.Certificate, error) {
	var cert tls.Certificate

	if strings.HasSuffix(certFile, ".p12") || strings.HasSuffix(certFile, ".pfx") {
		data, err := os.ReadFile(certFile)
		if err != nil {
			return cert, fmt.Errorf("apns: reading certificate: %w", err)
		}
		key, leaf, err := pkcs12.Decode(data, password)
		if err != nil {
			return cert, fmt.Errorf("apns: decoding %s: %w", certFile, err)
		}
		cert = tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		}
	} else {
		if keyFile == "" {
			keyFile = certFile
		}
		var err error
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return cert, fmt.Errorf("apns: loading certificate: %w", err)
		}
	}

	leaf := cert.Leaf
	if leaf == nil {
		var err error
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return cert, fmt.Errorf("apns: parsing certificate: %w", err)
		}
	}
	if time.Now().After(leaf.NotAfter) {
		return cert, fmt.Errorf("apns: %s - bad ssl certificate", certFile)
	}

	return cert, nil
}

// parseP8PrivateKey parses an Apple .p8 private key file (PKCS#8 PEM-encoded
// ECDSA P-256 key) and returns the *ecdsa.PrivateKey.
func parseP8PrivateKey(pemData []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 key: %w", err)
	}

	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not ECDSA")
	}

	return ecKey, nil
}
