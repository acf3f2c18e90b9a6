// Package blob implements the filesystem cache tier: logical keys resolved to
// files strictly beneath one configured root.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"clipmill/internal/domain"
	"clipmill/internal/port"
)

type Store struct {
	root string
}

// NewStore creates the cache tier rooted at the given directory. The root is
// created if missing so a wiped cache volume comes back empty, not broken.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Resolve maps a logical key to an absolute path under the root. A key that
// would escape the root — through parent traversal segments or an
// absolute-shaped value — fails with ErrPathOutsideRoot before any
// filesystem access. Escaping keys are never clamped to a safe path.
func (s *Store) Resolve(key string) (string, error) {
	if strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("%w: key contains null byte", domain.ErrPathOutsideRoot)
	}
	trimmed := strings.TrimLeft(key, "/")
	abs := filepath.Join(s.root, trimmed)

	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", domain.ErrPathOutsideRoot, key)
	}
	return abs, nil
}

// Put streams content to the key, creating intermediate directories. On a
// failed copy the partial file is removed so callers never observe a
// half-written object.
func (s *Store) Put(key string, r io.Reader) (int64, error) {
	abs, err := s.Resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("create object directory: %w", err)
	}

	f, err := os.Create(abs)
	if err != nil {
		return 0, fmt.Errorf("create object %s: %w", key, err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(abs)
		if copyErr != nil {
			return 0, fmt.Errorf("write object %s: %w", key, copyErr)
		}
		return 0, fmt.Errorf("close object %s: %w", key, closeErr)
	}
	return n, nil
}

func (s *Store) Open(key string) (io.ReadCloser, error) {
	abs, err := s.Resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

func (s *Store) Exists(key string) (bool, error) {
	abs, err := s.Resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) Size(key string) (int64, error) {
	abs, err := s.Resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("stat object %s: %w", key, err)
	}
	return info.Size(), nil
}

// Delete removes the object. A missing object is not an error.
func (s *Store) Delete(key string) error {
	abs, err := s.Resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

var _ port.BlobStore = (*Store)(nil)
