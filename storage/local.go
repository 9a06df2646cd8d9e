package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/apache/arrow-go/v18/arrow"
)

// LocalStore keeps artifacts as files in a directory.
type LocalStore struct {
	dir   string
	codec Codec
}

// NewLocalStore stores artifacts under dir, which is created on first save.
func NewLocalStore(dir string, codec Codec) *LocalStore {
	return &LocalStore{dir: dir, codec: codec}
}

// Location is the file path of the named artifact.
func (s *LocalStore) Location(name string) string {
	return filepath.Join(s.dir, name+s.codec.Ext())
}

// Save replaces the named artifact. The file is written beside its final
// path and renamed so readers never observe a partial artifact.
func (s *LocalStore) Save(_ context.Context, name string, rec arrow.Record) error {
	path := s.Location(name)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w: %w", s.dir, errs.ErrWrite, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create file for %s: %w: %w", path, errs.ErrWrite, err)
	}
	defer os.Remove(tmp.Name())

	if err := s.codec.Encode(tmp, rec); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w: %w", path, errs.ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w: %w", path, errs.ErrWrite, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w: %w", path, errs.ErrWrite, err)
	}
	return nil
}

// Load reads the named artifact.
func (s *LocalStore) Load(_ context.Context, name string) (arrow.Record, error) {
	path := s.Location(name)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w: %w", path, errs.ErrRead, err)
	}
	defer f.Close()

	rec, err := s.codec.Decode(f)
	if err != nil {
		if errors.Is(err, errs.ErrRead) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read %s: %w: %w", path, errs.ErrRead, err)
	}
	return rec, nil
}

// Close is a no-op.
func (s *LocalStore) Close() error { return nil }
