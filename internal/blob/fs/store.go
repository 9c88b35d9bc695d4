// Package fsblob implements the domain blob interfaces on the local
// filesystem. Writes go to a sibling path+domain.PartialSuffix file which is
// synced and renamed into place, so a reader sees either the old object, the
// new object, or nothing.
package fsblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// Store roots all object paths under a base directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a Store.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("fsblob: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fsblob: create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the base directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Put writes data to path atomically.
func (s *Store) Put(ctx context.Context, path string, data io.Reader, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("fsblob: mkdir for %s: %w", path, err)
	}

	tmp := dst + domain.PartialSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fsblob: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("fsblob: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("fsblob: sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fsblob: close %s: %w", path, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fsblob: rename %s: %w", path, err)
	}
	return nil
}

// Get opens the object at path. Returns domain.ErrNotFound if it is missing.
func (s *Store) Get(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.abs(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("fsblob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("fsblob: get %s: %w", path, err)
	}
	return f, nil
}

// List returns every object whose slash-separated path starts with prefix,
// sorted by path.
func (s *Store) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, domain.BlobInfo{
			Path:         rel,
			Size:         fi.Size(),
			LastModified: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fsblob: list prefix %s: %w", prefix, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// Exists reports whether an object exists at path.
func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(s.abs(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("fsblob: exists %s: %w", path, err)
}

// Delete removes the object at path. Idempotent.
func (s *Store) Delete(_ context.Context, path string) error {
	err := os.Remove(s.abs(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fsblob: delete %s: %w", path, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlobStore = (*Store)(nil)
