package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/themed-mailer/internal/config"
	"github.com/shineum/themed-mailer/internal/directory"
	"github.com/shineum/themed-mailer/internal/sender"
	"github.com/shineum/themed-mailer/internal/theme"
	"github.com/shineum/themed-mailer/internal/transport"
	"github.com/shineum/themed-mailer/internal/transport/graph"
	"github.com/shineum/themed-mailer/internal/transport/ses"
	"github.com/shineum/themed-mailer/internal/transport/smtp"
	"github.com/shineum/themed-mailer/internal/transport/stdout"
	"github.com/shineum/themed-mailer/internal/truststore"
)

var (
	sendTo        string
	sendSubject   string
	sendTextFile  string
	sendHTMLFile  string
	sendOverrides []string
	sendTrustAny  bool
	sendThemeName string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one themed message",
	Long: `Send resolves --to through the configured directory, builds the
message for the active theme and delivers it in one attempt.

--set overrides keys of the smtp configuration section for this send only.`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "user handle or address of the recipient")
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "message subject")
	sendCmd.Flags().StringVar(&sendTextFile, "text", "", "file holding the plain text body")
	sendCmd.Flags().StringVar(&sendHTMLFile, "html", "", "file holding the HTML body")
	sendCmd.Flags().StringArrayVar(&sendOverrides, "set", nil, "smtp setting override as key=value (repeatable)")
	sendCmd.Flags().BoolVar(&sendTrustAny, "insecure-trust-any", false, "accept any TLS peer hostname")
	sendCmd.Flags().StringVar(&sendThemeName, "theme", "", "theme name (defaults to the configured theme)")
	_ = sendCmd.MarkFlagRequired("to")
}

func runSend(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	overrides, err := config.ParseOverrides(sendOverrides)
	if err != nil {
		return err
	}
	settings, err := cfg.MailSettings(overrides)
	if err != nil {
		return err
	}

	text, err := readBody(sendTextFile)
	if err != nil {
		return err
	}
	html, err := readBody(sendHTMLFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := newResolver(ctx, cfg.Theme)
	if err != nil {
		return err
	}

	store, err := truststore.Load(cfg.Truststore.File, cfg.TrustPolicy())
	if err != nil {
		return err
	}

	tr, err := newTransport(ctx, cfg, store, smtpOptions(sendTrustAny)...)
	if err != nil {
		return err
	}

	dir, closeDir, err := newDirectory(ctx, cfg.Directory)
	if err != nil {
		return err
	}
	defer closeDir()

	factory := sender.NewFactory(resolver, dir, tr)
	if err := factory.Init(cfg.Provider.Scope()); err != nil {
		return err
	}

	themeName := cfg.Theme.Name
	if sendThemeName != "" {
		themeName = sendThemeName
	}

	slog.Debug("sending email",
		"theme", themeName,
		"transport", tr.Name(),
		"settings", settings.Redacted(),
	)
	return factory.Create(themeName).Send(ctx, settings, sendTo, sendSubject, text, html)
}

// readBody returns the content of path, or nil when path is empty.
func readBody(path string) (*string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	s := string(data)
	return &s, nil
}

// newResolver selects the S3 theme store when a bucket is configured, the
// filesystem tree otherwise.
func newResolver(ctx context.Context, cfg config.ThemeConfig) (theme.Resolver, error) {
	if cfg.S3.Bucket == "" {
		return theme.NewFS(cfg.Dir, cfg.Parents...), nil
	}

	client, err := theme.NewS3Client(ctx, theme.S3Config{
		Bucket:          cfg.S3.Bucket,
		Prefix:          cfg.S3.Prefix,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		PathStyle:       cfg.S3.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("using S3 theme store", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	return theme.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix, cfg.Parents...), nil
}

// smtpOptions maps send flags to Dispatcher options. trustAny holds with or
// without a truststore file.
func smtpOptions(trustAny bool) []smtp.Option {
	if !trustAny {
		return nil
	}
	return []smtp.Option{smtp.WithTrustPolicy(truststore.PolicyAny)}
}

// newTransport chooses the delivery backend based on configuration. opts
// apply to the SMTP transport only.
func newTransport(ctx context.Context, cfg *config.Config, store *truststore.Store, opts ...smtp.Option) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportSES:
		slog.Info("using AWS SES transport", "region", cfg.SES.Region)
		t, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Endpoint:        cfg.SES.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES transport: %w", err)
		}
		return t, nil

	case config.TransportGraph:
		slog.Info("using Microsoft Graph transport", "sender", cfg.Graph.Sender)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), nil

	case config.TransportStdout:
		slog.Info("using stdout transport")
		return stdout.New(), nil

	case config.TransportSMTP:
		return smtp.New(store, opts...), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// newDirectory chains the configured lookups. The returned func releases the
// Postgres pool, if any.
func newDirectory(ctx context.Context, cfg config.DirectoryConfig) (directory.Lookup, func(), error) {
	chain := directory.Chain{directory.Static(cfg.Users)}
	closeFn := func() {}

	if cfg.DSN != "" {
		pg, err := directory.Connect(ctx, cfg.DSN, cfg.Query)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, pg)
		closeFn = pg.Close
	}

	if cfg.Passthrough {
		chain = append(chain, directory.Passthrough{})
	}
	return chain, closeFn, nil
}
