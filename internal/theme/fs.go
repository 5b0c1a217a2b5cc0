package theme

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FS resolves resources from a theme tree on the local filesystem:
// <root>/<theme>/email/resources/<name>.
type FS struct {
	root    string
	parents []string
}

// NewFS returns a filesystem resolver rooted at root. When parents is empty
// the base theme is used as the only fallback.
func NewFS(root string, parents ...string) *FS {
	if len(parents) == 0 {
		parents = []string{BaseTheme}
	}
	return &FS{root: root, parents: parents}
}

// Resolve returns the first theme in the chain that holds name.
func (f *FS) Resolve(ctx context.Context, theme, name string) (Location, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}

	for _, t := range chain(theme, f.parents) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := filepath.Join(f.root, t, filepath.FromSlash(resourceDir), filepath.FromSlash(cleaned))
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.IsDir() {
			continue
		}
		return fileLocation{path: p}, nil
	}

	return nil, fmt.Errorf("%w: %q in theme %q", ErrNotFound, name, theme)
}

// fileLocation is a resource on the local filesystem.
type fileLocation struct {
	path string
}

func (l fileLocation) Name() string {
	return filepath.Base(l.path)
}

func (l fileLocation) Open(_ context.Context) (io.ReadCloser, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", l.path)
	}
	return os.Open(l.path)
}

// Siblings lists the containing directory. Subdirectories are returned too
// and fail when opened.
func (l fileLocation) Siblings(_ context.Context) ([]Location, error) {
	dir := filepath.Dir(l.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	out := make([]Location, 0, len(entries))
	for _, e := range entries {
		out = append(out, fileLocation{path: filepath.Join(dir, e.Name())})
	}
	return out, nil
}

func (l fileLocation) String() string {
	return l.path
}
