// Package smtp delivers assembled messages over a single SMTP session per
// send, in plaintext, STARTTLS or implicit TLS.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/transport"
	"github.com/shineum/themed-mailer/internal/truststore"
)

// Dispatcher sends each message over its own SMTP connection. It keeps no
// state between sends and is safe for concurrent use.
type Dispatcher struct {
	trust truststore.Provider

	// policy overrides the provider's policy when set; a session's own
	// TrustPolicy still wins.
	policy *truststore.Policy

	log   *slog.Logger
	now   func() time.Time
	token func(ctx context.Context, t transport.Token) (string, error)
	dial  func(cfg transport.Config, tlsCfg *tls.Config) func(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTrustPolicy applies policy to every TLS session, whether or not the
// trust provider is available.
func WithTrustPolicy(policy truststore.Policy) Option {
	return func(d *Dispatcher) {
		d.policy = &policy
	}
}

// New returns a Dispatcher obtaining TLS settings from trust. A nil trust
// uses the platform defaults for every TLS session.
func New(trust truststore.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		trust: trust,
		log:   slog.Default(),
		now:   time.Now,
		token: fetchToken,
		dial:  dialer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the transport name.
func (d *Dispatcher) Name() string {
	return "smtp"
}

// Deliver parses cfg and sends msg.
func (d *Dispatcher) Deliver(ctx context.Context, msg *email.Message, cfg email.Config) error {
	tc, err := transport.NewConfig(cfg)
	if err != nil {
		return &email.TransportError{Err: err}
	}
	return d.Send(ctx, msg, tc)
}

// Send makes exactly one delivery attempt of msg to msg.Recipient. Every
// failure is returned as *email.TransportError. The connection is released
// on every path; a failed release is logged and never changes the result.
func (d *Dispatcher) Send(ctx context.Context, msg *email.Message, cfg transport.Config) error {
	m, err := transport.Render(msg, d.now())
	if err != nil {
		return &email.TransportError{Err: err}
	}

	settings := d.tlsSettings(ctx, cfg)

	opts, err := d.authOptions(ctx, cfg)
	if err != nil {
		return &email.TransportError{Err: err}
	}

	var conn net.Conn
	dial := d.dial(cfg, settings.config)
	opts = append(opts,
		mail.WithPort(cfg.EffectivePort()),
		mail.WithTimeout(cfg.ConnectTimeout),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
		mail.WithTLSConfig(settings.config),
		mail.WithDialContextFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
			c, err := dial(ctx, network, address)
			if err == nil {
				conn = c
			}
			return c, err
		}),
	)

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return &email.TransportError{Err: fmt.Errorf("failed to create smtp client: %w", err)}
	}

	defer func() {
		if cerr := client.Close(); cerr != nil {
			d.log.WarnContext(ctx, "failed to close transport",
				"addr", cfg.Address(),
				"error", cerr,
			)
		}
		if conn != nil {
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				d.log.WarnContext(ctx, "failed to close transport",
					"addr", cfg.Address(),
					"error", cerr,
				)
			}
		}
	}()

	if err := client.DialWithContext(ctx); err != nil {
		return &email.TransportError{Err: fmt.Errorf("failed to connect to %s: %w", cfg.Address(), err)}
	}

	if err := client.Send(m); err != nil {
		return &email.TransportError{Err: err}
	}

	d.log.DebugContext(ctx, "email delivered",
		"addr", cfg.Address(),
		"tls", cfg.TLS.String(),
		"trust_policy", settings.policy.String(),
		"trust_hosts", settings.trustHosts,
	)
	return nil
}

// tlsSettings is the resolved client TLS behavior of one session.
type tlsSettings struct {
	config *tls.Config
	policy truststore.Policy

	// trustHosts is "*" when every server certificate is accepted, empty otherwise.
	trustHosts string
}

// tlsSettings asks the trust provider for a TLS configuration when cfg uses
// TLS. An unavailable provider leaves the platform defaults in place.
func (d *Dispatcher) tlsSettings(ctx context.Context, cfg transport.Config) tlsSettings {
	s := tlsSettings{policy: truststore.PolicyWildcard}

	var base *tls.Config
	if cfg.TLS != transport.TLSNone && d.trust != nil {
		c, policy, err := d.trust.TLSConfig(ctx)
		switch {
		case err == nil:
			base, s.policy = c, policy
		case errors.Is(err, truststore.ErrUnavailable):
			d.log.DebugContext(ctx, "truststore unavailable, using platform TLS defaults")
		default:
			d.log.WarnContext(ctx, "failed to load truststore, using platform TLS defaults", "error", err)
		}
	}
	switch {
	case cfg.TrustPolicy != nil:
		s.policy = *cfg.TrustPolicy
	case d.policy != nil:
		s.policy = *d.policy
	}

	if base == nil {
		base = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	base.ServerName = cfg.Host

	if cfg.TLS != transport.TLSNone {
		truststore.Apply(base, s.policy)
		if s.policy == truststore.PolicyAny {
			s.trustHosts = "*"
		}
	}

	s.config = base
	return s
}

func (d *Dispatcher) authOptions(ctx context.Context, cfg transport.Config) ([]mail.Option, error) {
	if !cfg.Auth {
		return nil, nil
	}

	if cfg.Mechanism == transport.MechanismToken {
		token, err := d.token(ctx, cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain access token: %w", err)
		}
		return []mail.Option{
			mail.WithSMTPAuth(mail.SMTPAuthXOAUTH2),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(token),
		}, nil
	}

	return []mail.Option{
		mail.WithSMTPAuthCustom(newBasicAuth(cfg)),
	}, nil
}

// tlsPolicy maps a TLS mode to the go-mail STARTTLS policy. Implicit TLS is
// negotiated by the dialer, so go-mail must not attempt STARTTLS on top.
func tlsPolicy(mode transport.TLSMode) mail.TLSPolicy {
	if mode == transport.TLSStartTLS {
		return mail.TLSOpportunistic
	}
	return mail.NoTLS
}
