package sender

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/themed-mailer/internal/directory"
	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/sink"
	"github.com/shineum/themed-mailer/internal/theme"
	smtptransport "github.com/shineum/themed-mailer/internal/transport/smtp"
	"github.com/shineum/themed-mailer/internal/truststore"
)

type fakeTransport struct {
	mu   sync.Mutex
	msgs []*email.Message
	cfgs []email.Config
	err  error
}

func (f *fakeTransport) Deliver(_ context.Context, msg *email.Message, cfg email.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	f.cfgs = append(f.cfgs, cfg)
	return nil
}

func (f *fakeTransport) Name() string { return "fake" }

func strPtr(s string) *string { return &s }

func themeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, "base", "email", "resources", filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func baseConfig() email.Config {
	return email.Config{email.KeyFrom: "noreply@example.com"}
}

func TestFactory_ID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "emailwithattachment", NewFactory(nil, nil, nil).ID())
}

func TestFactory_Init(t *testing.T) {
	t.Parallel()

	f := NewFactory(nil, nil, nil)
	assert.False(t, f.Policy().Enabled())

	require.NoError(t, f.Init(map[string]string{
		"include":     " img/logo.png ",
		"parent":      "true",
		"disposition": "inline",
	}))
	p := f.Policy()
	assert.Equal(t, "img/logo.png", p.Include)
	assert.True(t, p.Parent)
	assert.Equal(t, email.DispositionInline, p.Disposition)

	require.NoError(t, f.Init(map[string]string{"include": "terms.pdf"}))
	p = f.Policy()
	assert.False(t, p.Parent)
	assert.Equal(t, email.DispositionAttachment, p.Disposition)

	assert.Error(t, f.Init(map[string]string{"parent": "sometimes"}))
}

func TestProvider_Send(t *testing.T) {
	t.Parallel()

	root := themeDir(t, map[string]string{"terms.pdf": "%PDF-1.4"})
	tr := &fakeTransport{}
	f := NewFactory(theme.NewFS(root), directory.Static{"alice": "alice@example.com"}, tr)
	require.NoError(t, f.Init(map[string]string{"include": "terms.pdf"}))

	cfg := baseConfig()
	err := f.Create("acme").Send(context.Background(), cfg, "alice", "Welcome", strPtr("hi"), strPtr("<p>hi</p>"))
	require.NoError(t, err)

	require.Len(t, tr.msgs, 1)
	msg := tr.msgs[0]
	assert.Equal(t, "alice@example.com", msg.Recipient.Address())
	assert.Equal(t, "Welcome", msg.Subject)
	assert.Equal(t, "noreply@example.com", msg.From.Address)
	assert.Equal(t, 3, msg.Body.Len())

	res := msg.Body.Resources()
	require.Len(t, res, 1)
	assert.Equal(t, "terms.pdf", res[0].Filename)
	assert.Equal(t, cfg, tr.cfgs[0])
}

func TestProvider_SendWithoutHTMLSkipsResources(t *testing.T) {
	t.Parallel()

	root := themeDir(t, map[string]string{"terms.pdf": "%PDF-1.4"})
	tr := &fakeTransport{}
	f := NewFactory(theme.NewFS(root), directory.Passthrough{}, tr)
	require.NoError(t, f.Init(map[string]string{"include": "terms.pdf"}))

	err := f.Create("acme").Send(context.Background(), baseConfig(), "bob@example.com", "Plain", strPtr("hi"), nil)
	require.NoError(t, err)

	require.Len(t, tr.msgs, 1)
	assert.Equal(t, 1, tr.msgs[0].Body.Len())
	assert.Empty(t, tr.msgs[0].Attachments)
}

func TestProvider_SendErrors(t *testing.T) {
	t.Parallel()

	deliverErr := &email.TransportError{Err: errors.New("connection refused")}

	tests := []struct {
		name   string
		dir    directory.Lookup
		cfg    email.Config
		user   string
		tr     *fakeTransport
		target error
	}{
		{
			name:   "unknown user",
			dir:    directory.Static{},
			cfg:    baseConfig(),
			user:   "ghost",
			tr:     &fakeTransport{},
			target: directory.ErrUnknownUser,
		},
		{
			name:   "malformed address",
			dir:    directory.Passthrough{},
			cfg:    baseConfig(),
			user:   "not an address",
			tr:     &fakeTransport{},
			target: email.ErrInvalidAddress,
		},
		{
			name:   "missing from",
			dir:    directory.Passthrough{},
			cfg:    email.Config{},
			user:   "bob@example.com",
			tr:     &fakeTransport{},
			target: email.ErrInvalidAddress,
		},
		{
			name:   "transport failure",
			dir:    directory.Passthrough{},
			cfg:    baseConfig(),
			user:   "bob@example.com",
			tr:     &fakeTransport{err: deliverErr},
			target: email.ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := NewFactory(nil, tt.dir, tt.tr)
			err := f.Create("acme").Send(context.Background(), tt.cfg, tt.user, "s", strPtr("hi"), nil)
			require.Error(t, err)

			var sendErr *email.SendError
			require.ErrorAs(t, err, &sendErr)
			assert.ErrorIs(t, err, tt.target)
			assert.Empty(t, tt.tr.msgs)
		})
	}
}

func TestProvider_SendThroughRelay(t *testing.T) {
	t.Parallel()

	rec := sink.NewRecorder()
	srv := sink.New(sink.ServerConfig{ListenAddr: "127.0.0.1:0", Sink: rec})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	store, err := truststore.Load("", truststore.PolicyWildcard)
	require.NoError(t, err)

	root := themeDir(t, map[string]string{
		"img/logo.png":   "\x89PNG\r\n\x1a\nlogo",
		"img/banner.png": "\x89PNG\r\n\x1a\nbanner",
	})
	f := NewFactory(theme.NewFS(root), directory.Static{"alice": "alice@example.com"}, smtptransport.New(store))
	require.NoError(t, f.Init(map[string]string{"include": "img/logo.png", "parent": "true", "disposition": "inline"}))

	host, port := splitAddr(t, srv.Addr())
	cfg := email.Config{
		email.KeyHost:         host,
		email.KeyPort:         port,
		email.KeyFrom:         "noreply@example.com",
		email.KeyEnvelopeFrom: "bounce@example.com",
	}
	require.NoError(t, f.Create("acme").Send(context.Background(), cfg, "alice", "Themed", strPtr("hi"), strPtr(`<img src="cid:logo.png">`)))

	env := rec.Last()
	require.NotNil(t, env)
	assert.Equal(t, "bounce@example.com", env.MailFrom)
	assert.Equal(t, []string{"alice@example.com"}, env.RcptTo)

	got, err := env.Parse()
	require.NoError(t, err)
	assert.Equal(t, "Themed", got.Subject)
	assert.Equal(t, "hi", got.TextBody())

	var names []string
	for _, r := range got.Resources() {
		names = append(names, r.Filename)
		assert.Equal(t, r.Filename, r.ContentID)
	}
	assert.Equal(t, []string{"banner.png", "logo.png"}, names)
}

func splitAddr(t *testing.T, addr string) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	_, err = strconv.Atoi(port)
	require.NoError(t, err)
	return host, port
}
