// Package snapshot is a small durable key-value store of JSON blobs,
// used to keep the last-known ledger state across process restarts.
// One file per key; writes go through a temp file and rename so a crash
// never leaves a half-written snapshot behind.
package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type Store struct {
	mu  sync.Mutex
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// path hex-encodes the key so arbitrary keys map to safe filenames.
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(key))+".json")
}

// Get unmarshals the stored blob for key into v. The second return is
// false when the key has never been set.
func (s *Store) Get(key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return true, nil
}

// Set serializes v and atomically replaces the blob for key.
func (s *Store) Set(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}

	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, "snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot %s: %w", key, err)
	}
	return nil
}

// Remove deletes the blob for key. Removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove snapshot %s: %w", key, err)
	}
	return nil
}
