package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/theme"
)

var errNoResolver = errors.New("no resource resolver configured")

type loaded struct {
	resource email.Resource
	result   email.AttachmentResult
}

// resources resolves the policy's resource set. Every target yields one
// AttachmentResult, in resolver order; only successful loads become resources.
func (b *Builder) resources(ctx context.Context) ([]email.Resource, []email.AttachmentResult) {
	include := strings.TrimSpace(b.policy.Include)

	if b.resolver == nil {
		r := skipped(include, errNoResolver)
		logSkip(ctx, r)
		return nil, []email.AttachmentResult{r}
	}

	loc, err := b.resolver.Resolve(ctx, b.theme, include)
	if err != nil {
		r := skipped(include, err)
		logSkip(ctx, r)
		return nil, []email.AttachmentResult{r}
	}

	targets := []theme.Location{loc}
	if b.policy.Parent {
		targets, err = loc.Siblings(ctx)
		if err != nil {
			r := skipped(include, err)
			logSkip(ctx, r)
			return nil, []email.AttachmentResult{r}
		}
	}

	out := make([]loaded, len(targets))
	var g errgroup.Group
	g.SetLimit(b.loadLimit)
	for i, target := range targets {
		g.Go(func() error {
			out[i] = b.load(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	var (
		resources = make([]email.Resource, 0, len(out))
		results   = make([]email.AttachmentResult, 0, len(out))
	)
	for _, l := range out {
		results = append(results, l.result)
		if !l.result.Attached() {
			logSkip(ctx, l.result)
			continue
		}
		resources = append(resources, l.resource)
	}
	return resources, results
}

// load reads one location fully.
func (b *Builder) load(ctx context.Context, loc theme.Location) loaded {
	name := loc.Name()

	rc, err := loc.Open(ctx)
	if err != nil {
		return loaded{result: skipped(name, err)}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return loaded{result: skipped(name, fmt.Errorf("failed to read %s: %w", loc, err))}
	}

	return loaded{
		resource: email.Resource{
			Filename:    name,
			ContentType: contentType(name, data),
			Content:     data,
			Disposition: b.policy.Disposition,
		},
		result: email.AttachmentResult{Name: name},
	}
}

func skipped(name string, err error) email.AttachmentResult {
	return email.AttachmentResult{
		Name: name,
		Err:  &email.ResourceError{Name: name, Err: err},
	}
}

// contentType guesses from the extension first, then from the bytes.
func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
