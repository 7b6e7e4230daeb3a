package data

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// fileSink stores archives in a local directory
type fileSink struct {
	dir string
}

// NewFileSink creates an archive sink rooted at dir
func NewFileSink(dir string) (repo.ArchiveSink, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}
	return &fileSink{dir: dir}, nil
}

// Put writes the archive, replacing any previous one atomically
func (s *fileSink) Put(ctx context.Context, name string, r io.Reader) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".backup-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store archive: %w", err)
	}
	return nil
}

// Get opens a stored archive
func (s *fileSink) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NewNotFound("backup", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return f, nil
}

func (s *fileSink) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid backup name %q", name))
	}
	return filepath.Join(s.dir, name), nil
}
