package main

import (
	"context"
	"net"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/themed-mailer/internal/config"
	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/sink"
	mailtls "github.com/shineum/themed-mailer/internal/tls"
	"github.com/shineum/themed-mailer/internal/truststore"
)

// startTLSRelay runs a relay offering STARTTLS with a self-signed certificate
// no truststore knows about. It returns the relay settings for a send.
func startTLSRelay(t *testing.T) (email.Config, *sink.Recorder) {
	t.Helper()

	cert, err := mailtls.GenerateSelfSignedCert("localhost", "127.0.0.1")
	require.NoError(t, err)

	rec := sink.NewRecorder()
	srv := sink.New(sink.ServerConfig{
		ListenAddr: "127.0.0.1:0",
		Sink:       rec,
		TLSConfig:  cert.ServerConfig(),
	})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	return email.Config{
		email.KeyHost:     host,
		email.KeyPort:     port,
		email.KeyStartTLS: "true",
	}, rec
}

func testMessage(t *testing.T) *email.Message {
	t.Helper()

	rcpt, err := email.NewRecipient("b@y.com")
	require.NoError(t, err)
	text := "hi"
	from := mail.Address{Address: "a@x.com"}
	return &email.Message{
		From:      from,
		ReplyTo:   from,
		Recipient: rcpt,
		Subject:   "Hello",
		Body:      email.NewBodyTree(&text, nil),
	}
}

func TestNewTransport_InsecureTrustAnyWithoutTruststore(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Transport: config.TransportSMTP}
	store, err := truststore.Load("", cfg.TrustPolicy())
	require.NoError(t, err)

	t.Run("flag set", func(t *testing.T) {
		t.Parallel()
		settings, rec := startTLSRelay(t)

		tr, err := newTransport(context.Background(), cfg, store, smtpOptions(true)...)
		require.NoError(t, err)
		require.NoError(t, tr.Deliver(context.Background(), testMessage(t), settings))

		env := rec.Last()
		require.NotNil(t, env)
		assert.True(t, env.TLS)
	})

	t.Run("flag unset", func(t *testing.T) {
		t.Parallel()
		settings, rec := startTLSRelay(t)

		tr, err := newTransport(context.Background(), cfg, store, smtpOptions(false)...)
		require.NoError(t, err)
		assert.ErrorIs(t, tr.Deliver(context.Background(), testMessage(t), settings), email.ErrTransport)
		assert.Nil(t, rec.Last())
	})
}

func TestSMTPOptions(t *testing.T) {
	t.Parallel()

	assert.Empty(t, smtpOptions(false))
	assert.Len(t, smtpOptions(true), 1)
}
