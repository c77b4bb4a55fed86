package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNoSnapshot is returned by Head when nothing has been exported.
var ErrNoSnapshot = errors.New("no snapshot exported")

// Store is a content-addressed blob store with a single HEAD pointer.
type Store interface {
	// Put persists data and returns its content hash ("sha256:<hex>").
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// SetHead records hash as the latest snapshot.
	SetHead(ctx context.Context, hash string) error
	// Head returns the latest snapshot hash or ErrNoSnapshot.
	Head(ctx context.Context) (string, error)
}

const hashPrefix = "sha256:"

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// rawHash strips and checks the "sha256:" prefix.
func rawHash(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, hashPrefix)
	if !ok || len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	return raw, nil
}

// FileStore keeps blobs and HEAD under one directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: snapshots are read by backup tooling
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure snapshot dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := hashOf(data)
	path := filepath.Join(s.baseDir, strings.TrimPrefix(hash, hashPrefix)+".blob")
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return hash, nil
}

func (s *FileStore) Get(_ context.Context, hash string) ([]byte, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, raw+".blob"))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", hash, err)
	}
	return data, nil
}

func (s *FileStore) SetHead(_ context.Context, hash string) error {
	if _, err := rawHash(hash); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(filepath.Join(s.baseDir, "HEAD"), []byte(hash+"\n"))
}

func (s *FileStore) Head(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, "HEAD"))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSnapshot
	}
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot head: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// writeAtomic writes to a temp file and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	//nolint:gosec // G306: 0644 is intentional for readable snapshot files
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
