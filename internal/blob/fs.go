package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/traylinx/flowforge/internal/util"
)

// FSStore keeps compressed payloads as files under a root directory.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("blob: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) path(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Put writes data atomically. An existing key is replaced.
func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := util.SecureWrite(p, compress(data), &util.SecureWriteOptions{Permissions: 0o640}); err != nil {
		return fmt.Errorf("blob: write %s: %w", key, err)
	}
	return nil
}

// Get reads and decompresses the payload stored at key.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return decompress(raw)
}
