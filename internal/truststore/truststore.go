// Package truststore supplies the TLS client configuration and hostname
// verification policy used for outgoing SMTP connections.
package truststore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrUnavailable is returned when no truststore is configured.
// Callers fall back to the platform TLS defaults.
var ErrUnavailable = errors.New("truststore not configured")

// Policy is the hostname verification rule applied to TLS peers.
type Policy int

const (
	// PolicyWildcard verifies the peer hostname, accepting wildcard SANs.
	PolicyWildcard Policy = iota

	// PolicyStrict verifies the peer hostname and rejects matches that only
	// succeed through a wildcard SAN.
	PolicyStrict

	// PolicyAny accepts any peer: the trust wildcard "*".
	PolicyAny
)

func (p Policy) String() string {
	switch p {
	case PolicyStrict:
		return "STRICT"
	case PolicyAny:
		return "ANY"
	default:
		return "WILDCARD"
	}
}

// ParsePolicy maps ANY, WILDCARD or STRICT (case-insensitive) to a Policy.
// An empty string selects PolicyWildcard.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "WILDCARD":
		return PolicyWildcard, nil
	case "STRICT":
		return PolicyStrict, nil
	case "ANY":
		return PolicyAny, nil
	default:
		return PolicyWildcard, fmt.Errorf("unknown hostname verification policy %q", s)
	}
}

// Provider returns a TLS client configuration and the hostname policy to apply.
// Implementations return ErrUnavailable when they have nothing to offer.
type Provider interface {
	TLSConfig(ctx context.Context) (*tls.Config, Policy, error)
}

// Store is a file-backed truststore: the system roots plus the PEM
// certificates of one file.
type Store struct {
	roots  *x509.CertPool
	policy Policy
}

// Load reads the PEM bundle at path. An empty path yields a Store that
// reports ErrUnavailable.
func Load(path string, policy Policy) (*Store, error) {
	if path == "" {
		return &Store{policy: policy}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read truststore: %w", err)
	}

	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}
	if !roots.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("truststore %s contains no PEM certificates", path)
	}

	return &Store{roots: roots, policy: policy}, nil
}

// NewStore wraps an existing pool, mainly for tests.
func NewStore(roots *x509.CertPool, policy Policy) *Store {
	return &Store{roots: roots, policy: policy}
}

// TLSConfig returns a fresh configuration on every call so callers may set
// ServerName without affecting other sends.
func (s *Store) TLSConfig(_ context.Context) (*tls.Config, Policy, error) {
	if s == nil || s.roots == nil {
		return nil, PolicyWildcard, ErrUnavailable
	}
	cfg := &tls.Config{
		RootCAs:    s.roots,
		MinVersion: tls.VersionTLS12,
	}
	return cfg, s.policy, nil
}

// Apply adjusts cfg for policy. PolicyAny disables peer verification and
// PolicyStrict adds an exact-hostname check on top of the standard one.
// cfg.ServerName must already hold the expected host.
func Apply(cfg *tls.Config, policy Policy) {
	switch policy {
	case PolicyAny:
		cfg.InsecureSkipVerify = true
	case PolicyStrict:
		cfg.VerifyConnection = verifyStrict(cfg.ServerName)
	}
}

// verifyStrict returns a check run after the standard chain and hostname
// verification. IP hosts are never sent as SNI, so the expected host is
// captured here instead of read from the connection state. IP hosts are
// left to the standard IP SAN verification.
func verifyStrict(expected string) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("strict hostname verification: no peer certificate")
		}
		host := expected
		if host == "" {
			host = cs.ServerName
		}
		if net.ParseIP(host) != nil {
			return nil
		}
		leaf := cs.PeerCertificates[0]
		for _, name := range leaf.DNSNames {
			if strings.EqualFold(strings.TrimSuffix(name, "."), strings.TrimSuffix(host, ".")) {
				return nil
			}
		}
		return fmt.Errorf("strict hostname verification: %q only matches through a wildcard", host)
	}
}
