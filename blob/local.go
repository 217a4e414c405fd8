// Package blob stores binary files imported into a workspace.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is the public path under which LocalStorage objects are served.
const URLPrefix = "/uploads/"

// LocalStorage keeps objects as files in a single directory. The HTTP server
// serves that directory under URLPrefix.
type LocalStorage struct {
	dir string
}

// NewLocalStorage returns a LocalStorage rooted at dir. The directory is
// created on first upload.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	return &LocalStorage{dir: abs}, nil
}

// Dir returns the absolute directory objects are written to.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Upload writes data under a fresh name that keeps the extension of name and
// returns its public URL.
func (s *LocalStorage) Upload(ctx context.Context, data []byte, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	unique := uuid.NewString() + filepath.Ext(name)
	if err := os.WriteFile(filepath.Join(s.dir, unique), data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", unique, err)
	}
	return URLPrefix + unique, nil
}

// Delete removes the object behind url. URLs outside URLPrefix, paths that
// escape the upload directory, and missing files are ignored.
func (s *LocalStorage) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, ok := strings.CutPrefix(url, URLPrefix)
	if !ok || rel == "" {
		return nil
	}

	path := filepath.Join(s.dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(path, s.dir+string(filepath.Separator)) {
		return nil
	}

	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}
