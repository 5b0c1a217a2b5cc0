// Package sender exposes the themed mailer as a provider: a Factory holding
// the static resource policy, and per-theme Providers performing one send per
// call.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/themed-mailer/internal/compose"
	"github.com/shineum/themed-mailer/internal/directory"
	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/theme"
	"github.com/shineum/themed-mailer/internal/transport"
)

// ProviderID identifies this provider to the host registry.
const ProviderID = "emailwithattachment"

// Scope keys read by Factory.Init.
const (
	ScopeInclude     = "include"
	ScopeParent      = "parent"
	ScopeDisposition = "disposition"
)

// Factory creates Providers sharing one resolver, directory and transport.
// The resource policy is fixed once by Init.
type Factory struct {
	resolver  theme.Resolver
	directory directory.Lookup
	transport transport.Transport
	policy    compose.Policy
}

// NewFactory returns a Factory with resource attachment disabled until Init.
func NewFactory(resolver theme.Resolver, dir directory.Lookup, tr transport.Transport) *Factory {
	return &Factory{
		resolver:  resolver,
		directory: dir,
		transport: tr,
		policy:    compose.Policy{Disposition: email.DispositionAttachment},
	}
}

// ID returns ProviderID.
func (f *Factory) ID() string {
	return ProviderID
}

// Init reads the static provider options. A missing parent means false; an
// unparsable one is an error.
func (f *Factory) Init(scope map[string]string) error {
	policy := compose.Policy{
		Include:     strings.TrimSpace(scope[ScopeInclude]),
		Disposition: email.ParseDisposition(scope[ScopeDisposition]),
	}

	if v := strings.TrimSpace(scope[ScopeParent]); v != "" {
		parent, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s option %q: %w", ScopeParent, v, err)
		}
		policy.Parent = parent
	}

	f.policy = policy
	slog.Debug("provider initialized",
		"provider", ProviderID,
		"include", policy.Include,
		"parent", policy.Parent,
		"disposition", policy.Disposition,
	)
	return nil
}

// Policy returns the resource policy in effect.
func (f *Factory) Policy() compose.Policy {
	return f.policy
}

// Create returns a Provider resolving resources for themeName.
func (f *Factory) Create(themeName string) *Provider {
	return &Provider{
		builder:   compose.New(f.resolver, themeName, f.policy),
		directory: f.directory,
		transport: f.transport,
	}
}

// Provider sends themed messages for one theme. It keeps no per-send state.
type Provider struct {
	builder   *compose.Builder
	directory directory.Lookup
	transport transport.Transport
}

// Send resolves user to an address, builds the message and delivers it in
// one attempt. Any failure is returned as *email.SendError.
func (p *Provider) Send(ctx context.Context, cfg email.Config, user, subject string, text, html *string) error {
	log := slog.With(
		"send_id", uuid.NewString(),
		"transport", p.transport.Name(),
	)

	if err := p.send(ctx, log, cfg, user, subject, text, html); err != nil {
		log.ErrorContext(ctx, "failed to send email", "user", user, "error", err)
		return &email.SendError{Err: err}
	}
	return nil
}

func (p *Provider) send(ctx context.Context, log *slog.Logger, cfg email.Config, user, subject string, text, html *string) error {
	addr, err := p.directory.EmailOf(ctx, user)
	if err != nil {
		return err
	}

	rcpt, err := email.NewRecipient(addr)
	if err != nil {
		return err
	}

	msg, err := p.builder.Build(ctx, cfg, rcpt, subject, text, html)
	if err != nil {
		return err
	}

	if err := p.transport.Deliver(ctx, msg, cfg); err != nil {
		return err
	}

	log.InfoContext(ctx, "email sent",
		"to", rcpt.Address(),
		"parts", msg.Body.Len(),
		"skipped", len(msg.Skipped()),
	)
	return nil
}
