package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"agent-market/internal/domain"
)

// FileStore keeps each blob in a file under a root directory. The version of
// a blob is the BLAKE3 digest of its contents. Conditional writes hold an
// exclusive lock on the directory's lock file, so processes sharing the
// directory see each other's versions; writes are atomic via rename.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the root directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Name() string { return "file" }

// lockFileName is reserved; keys may not start with a dot.
const lockFileName = ".blobs.lock"

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: blob key %q", domain.ErrInvalidInput, key)
	}
	return filepath.Join(s.dir, key), nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, string, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, contentVersion(data), nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte, ifVersion string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockDir(filepath.Join(s.dir, lockFileName))
	if err != nil {
		return "", err
	}
	defer unlock()

	current := ""
	existing, err := os.ReadFile(p)
	switch {
	case err == nil:
		current = contentVersion(existing)
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read blob %s: %w", key, err)
	}
	if current != ifVersion {
		return "", fmt.Errorf("%w: %s", domain.ErrVersionConflict, key)
	}

	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("rename blob %s: %w", key, err)
	}
	return contentVersion(data), nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockDir(filepath.Join(s.dir, lockFileName))
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

func contentVersion(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
