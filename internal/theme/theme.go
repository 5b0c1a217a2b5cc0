// Package theme locates email resources inside a themed resource tree.
//
// A theme stores its email resources under <theme>/email/resources/. Lookups
// fall back through the configured parent themes, in order, until one of them
// holds the resource.
package theme

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// BaseTheme is the theme every other theme extends by default.
const BaseTheme = "base"

// resourceDir is the theme-relative directory holding email resources.
const resourceDir = "email/resources"

// ErrNotFound is returned when no theme in the chain holds the resource.
var ErrNotFound = errors.New("theme resource not found")

// ErrInvalidName is returned for empty names or names escaping the resource directory.
var ErrInvalidName = errors.New("invalid resource name")

// Location is a byte-accessible resource found by a Resolver.
type Location interface {
	// Name returns the file name of the resource, without directories.
	Name() string

	// Open returns a reader over the resource bytes. The caller closes it.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Siblings returns every entry of the directory containing the resource,
	// the resource itself included, in store order.
	Siblings(ctx context.Context) ([]Location, error)

	// String describes the location for logs.
	String() string
}

// Resolver maps a logical resource name to a Location using a theme.
type Resolver interface {
	Resolve(ctx context.Context, theme, name string) (Location, error)
}

// chain returns the lookup order for theme: the theme itself, then each
// parent not already visited.
func chain(theme string, parents []string) []string {
	seen := make(map[string]bool, len(parents)+1)
	var out []string
	for _, t := range append([]string{theme}, parents...) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// cleanName validates a resource name and returns it slash-separated and clean.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return "", ErrInvalidName
	}
	cleaned := path.Clean(strings.TrimPrefix(name, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidName
	}
	return cleaned, nil
}
