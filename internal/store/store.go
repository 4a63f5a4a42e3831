// Package store persists device push registrations per SIP account.
// Three backends are available: PostgreSQL, Cassandra, and a spool file
// for single-node deployments.
package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pushbridge/pushbridge/internal/push"
)

// DeviceRecord is one registered device of an account.
type DeviceRecord struct {
	DeviceID        string `json:"device_id"`
	AppID           string `json:"app_id"`
	Platform        string `json:"platform"`
	Token           string `json:"token"`
	BackgroundToken string `json:"background_token,omitempty"`
	Silent          bool   `json:"silent"`
	UserAgent       string `json:"user_agent,omitempty"`
}

// Key is the record's map key inside its account.
func (r *DeviceRecord) Key() string {
	return r.AppID + "-" + r.DeviceID
}

// Store is a device token store. Get returns an empty map, not an error,
// for accounts with no registrations.
type Store interface {
	Get(ctx context.Context, account string) (map[string]DeviceRecord, error)
	Add(ctx context.Context, account string, rec DeviceRecord) error
	Remove(ctx context.Context, account, appID, deviceID string) error
	RemoveAccount(ctx context.Context, account string) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Config selects and configures the storage backend.
type Config struct {
	PostgresDSN   string
	ContactPoints []string
	Keyspace      string
	Table         string
	SpoolDir      string
}

// Open picks the backend: PostgreSQL when a DSN is configured, Cassandra
// when contact points are, the spool file otherwise.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch {
	case cfg.PostgresDSN != "":
		slog.Info("using postgresql for token storage")
		return NewPostgres(ctx, cfg.PostgresDSN)
	case len(cfg.ContactPoints) > 0:
		slog.Info("using cassandra for token storage", "contact_points", cfg.ContactPoints)
		return NewCassandra(cfg.ContactPoints, cfg.Keyspace, cfg.Table)
	default:
		slog.Info("using spool file for token storage", "spool_dir", cfg.SpoolDir)
		return NewFileStore(cfg.SpoolDir)
	}
}

// splitCombinedToken splits apple registrations that pack a voip and a
// background token into one '#'-joined string. Firebase tokens are stored
// as-is whatever they contain.
func splitCombinedToken(rec DeviceRecord) DeviceRecord {
	if rec.Platform != push.PlatformApple {
		return rec
	}
	if parts := strings.Split(rec.Token, "#"); len(parts) == 2 {
		rec.Token, rec.BackgroundToken = parts[0], parts[1]
	}
	return rec
}
