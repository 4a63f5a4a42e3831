package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres stores device records in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL connection and runs pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening postgresql: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Postgres{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}
	return s, nil
}

// migrate runs all pending SQL migration files in order.
func (s *Postgres) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

func (s *Postgres) Get(ctx context.Context, account string) (map[string]DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, app_id, device_token, background_token, platform, silent, user_agent
		 FROM push_tokens WHERE account = $1`, account)
	if err != nil {
		return nil, fmt.Errorf("store: querying tokens: %w", err)
	}
	defer rows.Close()

	records := make(map[string]DeviceRecord)
	for rows.Next() {
		var rec DeviceRecord
		var backgroundToken, userAgent sql.NullString
		if err := rows.Scan(&rec.DeviceID, &rec.AppID, &rec.Token, &backgroundToken,
			&rec.Platform, &rec.Silent, &userAgent); err != nil {
			return nil, fmt.Errorf("store: scanning token row: %w", err)
		}
		rec.BackgroundToken = backgroundToken.String
		rec.UserAgent = userAgent.String
		records[rec.Key()] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: reading token rows: %w", err)
	}
	return records, nil
}

func (s *Postgres) Add(ctx context.Context, account string, rec DeviceRecord) error {
	rec = splitCombinedToken(rec)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_tokens (account, app_id, device_id, platform, device_token, background_token, silent, user_agent, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), NOW())
		 ON CONFLICT (account, app_id, device_id) DO UPDATE
		 SET platform = EXCLUDED.platform,
		     device_token = EXCLUDED.device_token,
		     background_token = EXCLUDED.background_token,
		     silent = EXCLUDED.silent,
		     user_agent = EXCLUDED.user_agent,
		     updated_at = NOW()`,
		account, rec.AppID, rec.DeviceID, rec.Platform, rec.Token,
		rec.BackgroundToken, rec.Silent, rec.UserAgent)
	if err != nil {
		return fmt.Errorf("store: storing token: %w", err)
	}
	return nil
}

func (s *Postgres) Remove(ctx context.Context, account, appID, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE account = $1 AND app_id = $2 AND device_id = $3`,
		account, appID, deviceID)
	if err != nil {
		return fmt.Errorf("store: removing token: %w", err)
	}
	return nil
}

func (s *Postgres) RemoveAccount(ctx context.Context, account string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE account = $1`, account)
	if err != nil {
		return fmt.Errorf("store: removing account tokens: %w", err)
	}
	return nil
}

// Count reports the number of device rows.
func (s *Postgres) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM push_tokens`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: counting tokens: %w", err)
	}
	return count, nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}
