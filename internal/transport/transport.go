// Package transport defines the delivery backends for assembled messages and
// the per-session connection settings they share.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/truststore"
)

// Default timeouts for one delivery attempt.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 10 * time.Second
)

// Default SMTP ports.
const (
	DefaultPort    = 25
	DefaultTLSPort = 465
)

// Transport delivers one assembled message.
type Transport interface {
	// Deliver hands msg to the backend. cfg carries the per-session settings;
	// backends that do not need them ignore it. Failures are *email.TransportError.
	Deliver(ctx context.Context, msg *email.Message, cfg email.Config) error

	// Name returns the human-readable name of this transport.
	Name() string
}

// TLSMode selects how the SMTP connection is encrypted.
type TLSMode int

const (
	TLSNone TLSMode = iota
	TLSStartTLS
	TLSImplicit
)

func (m TLSMode) String() string {
	switch m {
	case TLSStartTLS:
		return "starttls"
	case TLSImplicit:
		return "implicit"
	default:
		return "none"
	}
}

// Mechanism selects the SMTP AUTH credential kind.
type Mechanism string

const (
	// MechanismBasic authenticates with a username and password.
	MechanismBasic Mechanism = "basic"

	// MechanismToken authenticates with XOAUTH2 using a client-credentials access token.
	MechanismToken Mechanism = "token"
)

// Token holds the client-credentials grant used by MechanismToken.
type Token struct {
	URL          string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Config is the typed form of one session's SMTP settings.
type Config struct {
	Host string
	Port int
	TLS  TLSMode

	Auth      bool
	Mechanism Mechanism
	Username  string
	Password  string
	Token     Token

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// TrustPolicy overrides the trust store policy when set.
	TrustPolicy *truststore.Policy
}

// NewConfig parses the recognized keys of cfg. Unknown keys are ignored.
// ssl=true wins over starttls=true.
func NewConfig(cfg email.Config) (Config, error) {
	c := Config{
		Host:           cfg.Trimmed(email.KeyHost),
		Auth:           cfg.Bool(email.KeyAuth),
		Mechanism:      MechanismBasic,
		Username:       cfg.Get(email.KeyUser),
		Password:       cfg.Get(email.KeyPassword),
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
	}

	if c.Host == "" {
		return Config{}, fmt.Errorf("smtp host is required")
	}

	switch {
	case cfg.Bool(email.KeySSL):
		c.TLS = TLSImplicit
	case cfg.Bool(email.KeyStartTLS):
		c.TLS = TLSStartTLS
	}

	if p := cfg.Trimmed(email.KeyPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid smtp port %q", p)
		}
		c.Port = port
	}

	switch at := strings.ToLower(cfg.Trimmed(email.KeyAuthType)); at {
	case "", string(MechanismBasic):
	case string(MechanismToken):
		c.Mechanism = MechanismToken
		c.Token = Token{
			URL:          cfg.Trimmed(email.KeyAuthTokenURL),
			ClientID:     cfg.Trimmed(email.KeyAuthTokenClientID),
			ClientSecret: cfg.Get(email.KeyAuthTokenClientSecret),
			Scopes:       strings.Fields(cfg.Get(email.KeyAuthTokenScope)),
		}
		if c.Auth && c.Token.URL == "" {
			return Config{}, fmt.Errorf("token auth requires %s", email.KeyAuthTokenURL)
		}
	default:
		return Config{}, fmt.Errorf("unsupported auth type %q", at)
	}

	return c, nil
}

// EffectivePort returns Port, or the default for the TLS mode when Port is unset.
func (c Config) EffectivePort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.TLS == TLSImplicit {
		return DefaultTLSPort
	}
	return DefaultPort
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.EffectivePort()))
}
