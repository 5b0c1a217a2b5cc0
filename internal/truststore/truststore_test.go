package truststore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailtls "github.com/shineum/themed-mailer/internal/tls"
)

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "", want: PolicyWildcard},
		{in: "wildcard", want: PolicyWildcard},
		{in: "STRICT", want: PolicyStrict},
		{in: " any ", want: PolicyAny},
		{in: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
		assert.NotEmpty(t, got.String())
	}
}

func TestLoad_EmptyPathIsUnavailable(t *testing.T) {
	t.Parallel()

	store, err := Load("", PolicyAny)
	require.NoError(t, err)

	_, _, err = store.TLSConfig(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestLoad_PEMFile(t *testing.T) {
	t.Parallel()

	cert, err := mailtls.GenerateSelfSignedCert("localhost", "127.0.0.1")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "truststore.pem")
	require.NoError(t, os.WriteFile(path, cert.CertPEM, 0o600))

	store, err := Load(path, PolicyStrict)
	require.NoError(t, err)

	cfg, policy, err := store.TLSConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, policy)
	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	other, _, err := store.TLSConfig(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, cfg, other)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.pem"), PolicyWildcard)
	assert.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not a certificate"), 0o600))
	_, err = Load(junk, PolicyWildcard)
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	t.Parallel()

	anyCfg := &tls.Config{}
	Apply(anyCfg, PolicyAny)
	assert.True(t, anyCfg.InsecureSkipVerify)

	strictCfg := &tls.Config{}
	Apply(strictCfg, PolicyStrict)
	assert.False(t, strictCfg.InsecureSkipVerify)
	assert.NotNil(t, strictCfg.VerifyConnection)

	wildCfg := &tls.Config{}
	Apply(wildCfg, PolicyWildcard)
	assert.False(t, wildCfg.InsecureSkipVerify)
	assert.Nil(t, wildCfg.VerifyConnection)
}

func TestVerifyStrict(t *testing.T) {
	t.Parallel()

	exact := &x509.Certificate{DNSNames: []string{"mail.example.test"}}
	wild := &x509.Certificate{DNSNames: []string{"*.example.test"}}

	assert.NoError(t, verifyStrict("mail.example.test")(tls.ConnectionState{PeerCertificates: []*x509.Certificate{exact}}))
	assert.NoError(t, verifyStrict("MAIL.example.test.")(tls.ConnectionState{PeerCertificates: []*x509.Certificate{exact}}))
	assert.NoError(t, verifyStrict("127.0.0.1")(tls.ConnectionState{PeerCertificates: []*x509.Certificate{wild}}))
	assert.Error(t, verifyStrict("mail.example.test")(tls.ConnectionState{PeerCertificates: []*x509.Certificate{wild}}))
	assert.Error(t, verifyStrict("mail.example.test")(tls.ConnectionState{}))

	// Without a captured host the SNI name from the handshake is used.
	assert.NoError(t, verifyStrict("")(tls.ConnectionState{ServerName: "mail.example.test", PeerCertificates: []*x509.Certificate{exact}}))
}

func TestApply_StrictIPHostIgnoresEmptySNI(t *testing.T) {
	t.Parallel()

	cfg := &tls.Config{ServerName: "127.0.0.1"}
	Apply(cfg, PolicyStrict)
	require.NotNil(t, cfg.VerifyConnection)

	// Client connections to IP literals report an empty ServerName.
	cs := tls.ConnectionState{PeerCertificates: []*x509.Certificate{{IPAddresses: []net.IP{net.ParseIP("127.0.0.1")}}}}
	assert.NoError(t, cfg.VerifyConnection(cs))

	named := &tls.Config{ServerName: "mail.example.test"}
	Apply(named, PolicyStrict)
	assert.Error(t, named.VerifyConnection(tls.ConnectionState{PeerCertificates: []*x509.Certificate{{DNSNames: []string{"*.example.test"}}}}))
}
