package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem stores revision snapshots as files under a root directory.
// Keys map to relative paths directly.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem archive rooted at dir (default
// ./revisiondata).
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		dir = "revisiondata"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) Driver() Driver { return DriverFilesystem }

func (f *Filesystem) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("archive: invalid key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

func (f *Filesystem) Put(_ context.Context, key string, snapshot []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create archive dirs: %w", err)
	}
	// Write-then-rename keeps a crashed write from leaving a torn snapshot.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0o640); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	snapshot, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("archive: key %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return snapshot, nil
}

func (f *Filesystem) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *Filesystem) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := f.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		path, err := f.path(key)
		if err != nil {
			return 0, err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("delete snapshot: %w", err)
		}
	}
	return len(keys), nil
}
