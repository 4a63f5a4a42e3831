package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocql/gocql"
)

const (
	defaultTokensTable = "push_tokens"

	// OpenSIPS watches this table to learn which accounts have mobile
	// devices registered.
	opensipsTable = "mobile_devices"
)

// Cassandra stores device records in a Cassandra keyspace shared with the
// SIP proxy. Accounts are split into (username, domain) partition keys, and
// a presence row per account is maintained for OpenSIPS.
type Cassandra struct {
	session *gocql.Session
	table   string
}

// NewCassandra connects to the cluster and prepares the session.
func NewCassandra(contactPoints []string, keyspace, table string) (*Cassandra, error) {
	cluster := gocql.NewCluster(contactPoints...)
	cluster.Keyspace = keyspace
	cluster.ProtoVersion = 4
	cluster.Consistency = gocql.Quorum

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("store: connecting to cassandra: %w", err)
	}

	if table == "" {
		table = defaultTokensTable
	}
	return &Cassandra{session: session, table: table}, nil
}

func splitAccount(account string) (username, domain string) {
	username, domain, _ = strings.Cut(account, "@")
	return username, domain
}

func (s *Cassandra) Get(ctx context.Context, account string) (map[string]DeviceRecord, error) {
	username, domain := splitAccount(account)

	stmt := fmt.Sprintf(
		`SELECT device_id, app_id, device_token, background_token, platform, silent, user_agent
		 FROM %s WHERE username = ? AND domain = ?`, s.table)
	iter := s.session.Query(stmt, username, domain).WithContext(ctx).Iter()

	records := make(map[string]DeviceRecord)
	var rec DeviceRecord
	var silent string
	for iter.Scan(&rec.DeviceID, &rec.AppID, &rec.Token, &rec.BackgroundToken, &rec.Platform, &silent, &rec.UserAgent) {
		rec.Silent = silent == "1"
		records[rec.Key()] = rec
		rec = DeviceRecord{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("store: querying tokens: %w", err)
	}
	return records, nil
}

func (s *Cassandra) Add(ctx context.Context, account string, rec DeviceRecord) error {
	rec = splitCombinedToken(rec)
	username, domain := splitAccount(account)

	silent := "0"
	if rec.Silent {
		silent = "1"
	}

	stmt := fmt.Sprintf(
		`INSERT INTO %s (username, domain, device_id, app_id, device_token, background_token, platform, silent, user_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.session.Query(stmt,
		username, domain, rec.DeviceID, rec.AppID, rec.Token, rec.BackgroundToken,
		rec.Platform, silent, rec.UserAgent).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("store: storing token: %w", err)
	}

	stmt = fmt.Sprintf(`INSERT INTO %s (opensipskey, opensipsval) VALUES (?, '1')`, opensipsTable)
	if err := s.session.Query(stmt, account).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("store: storing presence: %w", err)
	}
	return nil
}

func (s *Cassandra) Remove(ctx context.Context, account, appID, deviceID string) error {
	username, domain := splitAccount(account)

	stmt := fmt.Sprintf(
		`DELETE FROM %s WHERE username = ? AND domain = ? AND device_id = ? AND app_id = ?`, s.table)
	if err := s.session.Query(stmt, username, domain, deviceID, appID).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("store: removing token: %w", err)
	}

	// Drop the presence row once the last device of the account is gone.
	remaining, err := s.Get(ctx, account)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		stmt = fmt.Sprintf(`DELETE FROM %s WHERE opensipskey = ?`, opensipsTable)
		if err := s.session.Query(stmt, account).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("store: removing presence: %w", err)
		}
	}
	return nil
}

// RemoveAccount drops all device rows and the presence row of an account.
func (s *Cassandra) RemoveAccount(ctx context.Context, account string) error {
	username, domain := splitAccount(account)

	stmt := fmt.Sprintf(`DELETE FROM %s WHERE username = ? AND domain = ?`, s.table)
	if err := s.session.Query(stmt, username, domain).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("store: removing account tokens: %w", err)
	}

	stmt = fmt.Sprintf(`DELETE FROM %s WHERE opensipskey = ?`, opensipsTable)
	if err := s.session.Query(stmt, account).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("store: removing presence: %w", err)
	}
	return nil
}

// Count reports the number of device rows. Only queried at metrics scrape
// time; a full-table count is too expensive for anything hotter.
func (s *Cassandra) Count(ctx context.Context) (int64, error) {
	var count int64
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	if err := s.session.Query(stmt).WithContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: counting tokens: %w", err)
	}
	return count, nil
}

func (s *Cassandra) Close() error {
	s.session.Close()
	return nil
}
