// Package storage keeps uploaded import files and rendered export files.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/spf13/afero"
)

// Files is a core.FileStorage over an afero filesystem. Names are
// slash-separated and relative to the filesystem root.
type Files struct {
	fs afero.Fs
}

var _ core.FileStorage = (*Files)(nil)

// New wraps fs.
func New(fs afero.Fs) *Files {
	return &Files{fs: fs}
}

// NewOS stores files below dir on the local disk.
func NewOS(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewMemory stores files in memory.
func NewMemory() *Files {
	return New(afero.NewMemMapFs())
}

// Save writes r to name, replacing any existing file.
func (f *Files) Save(ctx context.Context, name string, r io.Reader) error {
	name, err := clean(name)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", name, err)
	}

	out, err := f.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// Open opens name for reading. A missing file wraps core.ErrNotFound.
func (f *Files) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := clean(name)
	if err != nil {
		return nil, err
	}
	file, err := f.fs.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s: %w", name, core.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return file, nil
}

// Remove deletes name. Removing a missing file is not an error.
func (f *Files) Remove(ctx context.Context, name string) error {
	name, err := clean(name)
	if err != nil {
		return err
	}
	if err := f.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Exists reports whether name is stored.
func (f *Files) Exists(name string) bool {
	name, err := clean(name)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(f.fs, name)
	return err == nil && ok
}

// clean rejects names escaping the storage root.
func clean(name string) (string, error) {
	c := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	if c == "/" || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return strings.TrimPrefix(c, "/"), nil
}
