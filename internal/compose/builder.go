// Package compose assembles outgoing messages from rendered bodies, sender
// identity settings and themed resources.
package compose

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/theme"
)

// Policy selects the themed resources attached to HTML messages.
type Policy struct {
	// Include is the logical resource name; empty disables resource attachment.
	Include string

	// Parent attaches every file in the directory containing Include instead
	// of Include alone.
	Parent bool

	Disposition email.Disposition
}

// Enabled reports whether the policy attaches anything.
func (p Policy) Enabled() bool {
	return strings.TrimSpace(p.Include) != ""
}

// Builder builds messages for one theme. It holds no per-send state and is
// safe for concurrent use.
type Builder struct {
	resolver theme.Resolver
	theme    string
	policy   Policy

	// loadLimit bounds concurrent resource reads in Parent mode.
	loadLimit int
}

// New returns a Builder resolving resources for themeName. resolver may be
// nil when the policy is disabled.
func New(resolver theme.Resolver, themeName string, policy Policy) *Builder {
	return &Builder{
		resolver:  resolver,
		theme:     themeName,
		policy:    policy,
		loadLimit: 4,
	}
}

// Build assembles a message for rcpt. text and html are optional; a nil value
// omits that alternative. Unparsable sender or reply-to settings fail with
// email.ErrInvalidAddress. Resource problems never fail the build: they are
// logged and reported in Message.Attachments.
func (b *Builder) Build(ctx context.Context, cfg email.Config, rcpt email.Recipient, subject string, text, html *string) (*email.Message, error) {
	if rcpt.IsZero() {
		return nil, email.ErrInvalidRecipient
	}

	from, err := address("from", cfg.Get(email.KeyFrom), cfg.Get(email.KeyFromDisplayName))
	if err != nil {
		return nil, err
	}

	replyTo := from
	if rt := cfg.Get(email.KeyReplyTo); rt != "" {
		replyTo, err = address("reply-to", rt, cfg.Get(email.KeyReplyToDisplayName))
		if err != nil {
			return nil, err
		}
	}

	var envelopeFrom string
	if ef := cfg.Trimmed(email.KeyEnvelopeFrom); ef != "" {
		parsed, err := mail.ParseAddress(ef)
		if err != nil {
			return nil, &email.AddressError{Field: "envelope-from", Value: ef, Err: err}
		}
		envelopeFrom = parsed.Address
	}

	var (
		resources []email.Resource
		results   []email.AttachmentResult
	)
	if html != nil && b.policy.Enabled() {
		resources, results = b.resources(ctx)
	}

	return &email.Message{
		From:         from,
		ReplyTo:      replyTo,
		EnvelopeFrom: envelopeFrom,
		Recipient:    rcpt,
		Subject:      subject,
		Body:         email.NewBodyTree(text, html, resources...),
		Attachments:  results,
	}, nil
}

// address validates addr and pairs it with an optional display name.
func address(field, addr, displayName string) (mail.Address, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return mail.Address{}, &email.AddressError{Field: field}
	}

	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return mail.Address{}, &email.AddressError{Field: field, Value: addr, Err: err}
	}

	if name := strings.TrimSpace(displayName); name != "" {
		parsed.Name = name
	}
	return *parsed, nil
}

func logSkip(ctx context.Context, r email.AttachmentResult) {
	slog.WarnContext(ctx, "failed to attach file",
		"name", r.Name,
		"error", r.Err,
	)
}
