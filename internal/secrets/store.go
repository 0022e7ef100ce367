package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Strob0t/TheraGate/internal/domain/keys"
)

// EnvKeyPrefix is the environment variable prefix for key material.
const EnvKeyPrefix = "THERAGATE_KEY_"

// EnvKeyName returns the variable holding ref, e.g.
// THERAGATE_KEY_WEBHOOK_PRODUCTION.
func EnvKeyName(ref keys.Ref) string {
	return EnvKeyPrefix + strings.ToUpper(string(ref.Purpose)) + "_" + strings.ToUpper(string(ref.Environment))
}

// EnvStore is a read-only key store backed by a Vault of environment
// variables. Rotation happens by changing the environment and reloading the
// vault.
type EnvStore struct {
	vault *Vault
}

// NewEnvStore creates an EnvStore over vault.
func NewEnvStore(vault *Vault) *EnvStore {
	return &EnvStore{vault: vault}
}

// Get returns the secret for ref.
func (s *EnvStore) Get(_ context.Context, ref keys.Ref) ([]byte, error) {
	val, ok := s.vault.Lookup(EnvKeyName(ref))
	if !ok || val == "" {
		return nil, keys.ErrNotFound
	}
	return []byte(val), nil
}

// Set is not supported.
func (s *EnvStore) Set(context.Context, keys.Ref, []byte) error { return keys.ErrReadOnly }

// Delete is not supported.
func (s *EnvStore) Delete(context.Context, keys.Ref) error { return keys.ErrReadOnly }

// FileStore keeps sealed key material in a JSON file. It is meant for
// development machines without a database.
type FileStore struct {
	mu     sync.Mutex
	path   string
	sealer *Sealer
}

// NewFileStore creates a FileStore at path. The file is created on first Set.
func NewFileStore(path string, sealer *Sealer) *FileStore {
	return &FileStore{path: path, sealer: sealer}
}

// Get opens the blob for ref.
func (s *FileStore) Get(_ context.Context, ref keys.Ref) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blobs, err := s.read()
	if err != nil {
		return nil, err
	}
	sealed, ok := blobs[ref.String()]
	if !ok {
		return nil, keys.ErrNotFound
	}
	return s.sealer.Open(ref.String(), sealed)
}

// Set seals secret and writes the file atomically.
func (s *FileStore) Set(_ context.Context, ref keys.Ref, secret []byte) error {
	sealed, err := s.sealer.Seal(ref.String(), secret)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blobs, err := s.read()
	if err != nil {
		return err
	}
	blobs[ref.String()] = sealed
	return s.write(blobs)
}

// Delete removes ref. Deleting a missing ref returns keys.ErrNotFound.
func (s *FileStore) Delete(_ context.Context, ref keys.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blobs, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := blobs[ref.String()]; !ok {
		return keys.ErrNotFound
	}
	delete(blobs, ref.String())
	return s.write(blobs)
}

// read must be called with s.mu held. []byte values round-trip as base64.
func (s *FileStore) read() (map[string][]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	blobs := map[string][]byte{}
	if len(data) == 0 {
		return blobs, nil
	}
	if err := json.Unmarshal(data, &blobs); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	return blobs, nil
}

// write must be called with s.mu held.
func (s *FileStore) write(blobs map[string][]byte) error {
	data, err := json.MarshalIndent(blobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".keys-*.json")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup after rename
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp key file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod key file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace key file: %w", err)
	}
	return nil
}
