package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const spoolFileName = "device_tokens"

// FileStore keeps all registrations in memory, snapshotted to a gob file
// in the spool directory after every mutation.
type FileStore struct {
	path string

	mu     sync.Mutex
	tokens map[string]map[string]DeviceRecord
}

// NewFileStore creates the spool directory if needed and loads any
// previous snapshot.
func NewFileStore(spoolDir string) (*FileStore, error) {
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating spool dir: %w", err)
	}
	s := &FileStore{
		path:   filepath.Join(spoolDir, spoolFileName),
		tokens: make(map[string]map[string]DeviceRecord),
	}
	s.load()
	return s, nil
}

// load reads the previous snapshot. A missing or unreadable file starts
// the store empty.
func (s *FileStore) load() {
	f, err := os.Open(s.path)
	if err != nil {
		return
	}
	defer f.Close()
	_ = gob.NewDecoder(f).Decode(&s.tokens)
}

func (s *FileStore) save() error {
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("store: writing spool file: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(s.tokens); err != nil {
		return fmt.Errorf("store: encoding spool file: %w", err)
	}
	return nil
}

// Get returns a copy of the account's device records.
func (s *FileStore) Get(ctx context.Context, account string) (map[string]DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(map[string]DeviceRecord, len(s.tokens[account]))
	for key, rec := range s.tokens[account] {
		records[key] = rec
	}
	return records, nil
}

// Add upserts one device record and snapshots the store.
func (s *FileStore) Add(ctx context.Context, account string, rec DeviceRecord) error {
	rec = splitCombinedToken(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	devices, ok := s.tokens[account]
	if !ok {
		devices = make(map[string]DeviceRecord)
		s.tokens[account] = devices
	}
	devices[rec.Key()] = rec
	return s.save()
}

// Remove deletes one device record. Removing an absent record is not an
// error.
func (s *FileStore) Remove(ctx context.Context, account, appID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := appID + "-" + deviceID
	if devices, ok := s.tokens[account]; ok {
		delete(devices, key)
		if len(devices) == 0 {
			delete(s.tokens, account)
		}
	}
	return s.save()
}

// RemoveAccount drops an account and all its device records.
func (s *FileStore) RemoveAccount(ctx context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[account]; !ok {
		return nil
	}
	delete(s.tokens, account)
	return s.save()
}

// Count reports the number of device records across all accounts.
func (s *FileStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, devices := range s.tokens {
		count += int64(len(devices))
	}
	return count, nil
}

func (s *FileStore) Close() error {
	return nil
}
