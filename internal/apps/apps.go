// Package apps maintains the table of configured mobile applications.
// Each applications.ini section binds an app id and platform to push
// credentials, a payload renderer and a delivery client. The table is
// rebuilt from scratch whenever the file changes on disk.
package apps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/ini.v1"

	"github.com/pushbridge/pushbridge/internal/push"
	"github.com/pushbridge/pushbridge/internal/render"
	"github.com/pushbridge/pushbridge/internal/sender"
)

const (
	defaultApplePushURL    = "https://api.push.apple.com:443"
	defaultFirebasePushURL = "https://fcm.googleapis.com/fcm/send"

	defaultLogTimeout = 2 * time.Second

	watchInterval = 100 * time.Millisecond
)

// App is one configured application binding.
type App struct {
	ID       string
	Type     string
	Platform string
	Voip     bool
	PushURL  string

	// AuthKey is the legacy Firebase server key; Auth manages OAuth2
	// access tokens for apps on the FCM v1 API. At most one is set.
	AuthKey string
	Auth    *sender.FCMAuth

	LogURLs    []string
	LogKey     string
	LogTimeout time.Duration

	Renderer render.Renderer
	Sender   sender.Sender
}

type bindingKey struct {
	platform string
	appID    string
}

// Table is an immutable snapshot of the configured applications.
type Table struct {
	bindings map[bindingKey]*App
	invalid  []string
}

// closeIdle drops the pooled vendor connections of a superseded snapshot.
// In-flight sends on the old senders finish normally.
func (t *Table) closeIdle() {
	for _, app := range t.bindings {
		if c, ok := app.Sender.(interface{ CloseIdleConnections() }); ok {
			c.CloseIdleConnections()
		}
	}
}

// Get returns the binding for a platform and app id.
func (t *Table) Get(platform, appID string) (*App, bool) {
	app, ok := t.bindings[bindingKey{platform, appID}]
	return app, ok
}

// Len returns the number of loaded bindings.
func (t *Table) Len() int { return len(t.bindings) }

// Invalid returns the section names that failed to load.
func (t *Table) Invalid() []string { return t.invalid }

// Registry loads applications.ini and serves lookups against the current
// table. Watch rebuilds the table when any watched input changes.
type Registry struct {
	path           string
	credentialsDir string
	watched        []string
	interval       time.Duration

	table atomic.Pointer[Table]
}

// NewRegistry loads the applications file and returns a ready registry.
// Extra paths, such as the server configuration file, are watched alongside
// the applications file and the credentials folder.
func NewRegistry(ctx context.Context, path, credentialsDir string, extra ...string) (*Registry, error) {
	r := &Registry{
		path:           path,
		credentialsDir: credentialsDir,
		watched:        append([]string{path}, extra...),
		interval:       watchInterval,
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the table from the applications file. The previous table
// keeps serving until the rebuild succeeds, then its idle vendor
// connections are closed.
func (r *Registry) Reload(ctx context.Context) error {
	table, err := buildTable(ctx, r.path, r.credentialsDir)
	if err != nil {
		return err
	}
	if old := r.table.Swap(table); old != nil {
		old.closeIdle()
	}
	return nil
}

// Table returns the current snapshot.
func (r *Registry) Table() *Table { return r.table.Load() }

// Lookup returns the binding for a platform and app id.
func (r *Registry) Lookup(platform, appID string) (*App, bool) {
	return r.table.Load().Get(platform, appID)
}

// ApplicationCount reports the number of loaded bindings.
func (r *Registry) ApplicationCount() int { return r.table.Load().Len() }

// InvalidApplicationCount reports the sections rejected by the last reload.
func (r *Registry) InvalidApplicationCount() int { return len(r.table.Load().Invalid()) }

// Watch polls the watched files and the credentials folder and rebuilds the
// table when any of them changes. It returns when ctx is cancelled. Reload
// failures keep the previous table in place.
func (r *Registry) Watch(ctx context.Context) {
	last := r.fingerprint()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := r.fingerprint()
			if current == last {
				continue
			}
			last = current
			if err := r.Reload(ctx); err != nil {
				slog.Error("applications reload failed", "path", r.path, "error", err)
				continue
			}
			slog.Info("applications reloaded", "path", r.path, "loaded", r.Table().Len())
		}
	}
}

// fingerprint summarizes the watched inputs. Any change to a file's size or
// modification time, or to the credentials folder's contents, changes it.
func (r *Registry) fingerprint() string {
	var b strings.Builder
	for _, path := range r.watched {
		if stat, err := os.Stat(path); err == nil {
			fmt.Fprintf(&b, "%s:%d:%d;", path, stat.Size(), stat.ModTime().UnixNano())
		}
	}
	entries, err := os.ReadDir(r.credentialsDir)
	if err != nil {
		return b.String()
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s:%d:%d;", entry.Name(), info.Size(), info.ModTime().UnixNano())
	}
	return b.String()
}

func buildTable(ctx context.Context, path, credentialsDir string) (*Table, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	table := &Table{bindings: make(map[bindingKey]*App)}
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		app, err := buildApp(ctx, section, credentialsDir)
		if err != nil {
			slog.Error("application not loaded", "section", section.Name(), "error", err)
			table.invalid = append(table.invalid, section.Name())
			continue
		}
		table.bindings[bindingKey{app.Platform, app.ID}] = app
		slog.Info("application loaded", "section", section.Name(), "app_id", app.ID,
			"platform", app.Platform, "type", app.Type, "voip", app.Voip)
	}
	return table, nil
}

func buildApp(ctx context.Context, section *ini.Section, credentialsDir string) (*App, error) {
	appID := section.Key("app_id").String()
	if appID == "" {
		return nil, fmt.Errorf("app_id is required")
	}
	family := section.Key("app_type").String()
	if family == "" {
		return nil, fmt.Errorf("app_type is required")
	}
	platform := section.Key("app_platform").String()
	if platform != push.PlatformApple && platform != push.PlatformFirebase {
		return nil, fmt.Errorf("app_platform must be apple or firebase, got %q", platform)
	}

	renderer, ok := render.Lookup(platform, family)
	if !ok {
		return nil, fmt.Errorf("no renderer for %s/%s", platform, family)
	}

	app := &App{
		ID:         appID,
		Type:       family,
		Platform:   platform,
		Voip:       section.Key("voip").MustBool(false),
		LogKey:     section.Key("log_key").String(),
		LogTimeout: defaultLogTimeout,
		Renderer:   renderer,
	}
	if secs := section.Key("log_time_out").MustInt(0); secs > 0 {
		app.LogTimeout = time.Duration(secs) * time.Second
	}
	if urls := section.Key("log_remote_urls").String(); urls != "" {
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				app.LogURLs = append(app.LogURLs, u)
			}
		}
	}

	switch platform {
	case push.PlatformApple:
		cfg := sender.APNSConfig{
			PushURL:      section.Key("apple_push_url").MustString(defaultApplePushURL),
			CertFile:     resolveCredential(credentialsDir, section.Key("apple_certificate").String()),
			KeyFile:      resolveCredential(credentialsDir, section.Key("apple_key").String()),
			CertPassword: section.Key("apple_certificate_password").String(),
			AuthFile:     resolveCredential(credentialsDir, section.Key("apple_auth_file").String()),
			KeyID:        section.Key("apple_key_id").String(),
			TeamID:       section.Key("apple_team_id").String(),
		}
		s, err := sender.NewAPNS(cfg)
		if err != nil {
			return nil, err
		}
		app.Sender = s
		app.PushURL = cfg.PushURL

	case push.PlatformFirebase:
		pushURL := section.Key("firebase_push_url").MustString(defaultFirebasePushURL)
		authKey := section.Key("firebase_authorization_key").String()
		authFile := section.Key("firebase_authorization_file").String()
		if authKey == "" && authFile == "" {
			return nil, fmt.Errorf("firebase_authorization_key or firebase_authorization_file is required")
		}
		if authFile != "" {
			auth, err := sender.NewFCMAuth(ctx, resolveCredential(credentialsDir, authFile))
			if err != nil {
				return nil, err
			}
			app.Auth = auth
		}
		app.AuthKey = authKey
		app.Sender = sender.NewFCM(sender.FCMConfig{PushURL: pushURL, Auth: app.Auth})
		app.PushURL = pushURL
	}

	return app, nil
}

// resolveCredential joins relative credential paths to the configured
// credentials folder.
func resolveCredential(credentialsDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(credentialsDir, path)
}
