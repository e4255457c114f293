package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FSStore stores binaries on a filesystem rooted at a directory
type FSStore struct {
	fs   afero.Fs
	root string
}

// NewFSStore creates a filesystem store. Pass afero.NewOsFs() for local disk.
func NewFSStore(fs afero.Fs, root string) (*FSStore, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &FSStore{fs: fs, root: root}, nil
}

// NewLocalStore creates a store on the local disk
func NewLocalStore(root string) (*FSStore, error) {
	return NewFSStore(afero.NewOsFs(), root)
}

func (s *FSStore) full(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(p))
}

// Write writes data atomically by renaming a temporary file into place
func (s *FSStore) Write(_ context.Context, p string, data []byte) error {
	dst := s.full(p)
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return nil
}

// Delete removes the binary; a missing file is not an error
func (s *FSStore) Delete(_ context.Context, p string) error {
	err := s.fs.Remove(s.full(p))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Size returns the size in bytes of a stored binary
func (s *FSStore) Size(_ context.Context, p string) (int64, error) {
	info, err := s.fs.Stat(s.full(p))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
