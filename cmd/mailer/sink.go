package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/themed-mailer/internal/sink"
	mailtls "github.com/shineum/themed-mailer/internal/tls"
)

var (
	sinkListen   string
	sinkNoTLS    bool
	sinkImplicit bool
)

var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Run a local capture relay that prints every received message",
	Long: `sink accepts SMTP on --listen and prints each message instead of
delivering it. STARTTLS is offered with the configured certificate, or a
self-signed one when none is set. AUTH is required when sink.username and
sink.password are configured.`,
	RunE: runSink,
}

func init() {
	sinkCmd.Flags().StringVar(&sinkListen, "listen", "", "address to listen on (defaults to sink.listen)")
	sinkCmd.Flags().BoolVar(&sinkNoTLS, "no-tls", false, "do not offer STARTTLS")
	sinkCmd.Flags().BoolVar(&sinkImplicit, "implicit-tls", false, "serve TLS from the first byte instead of STARTTLS")
}

func runSink(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen := cfg.Sink.Listen
	if sinkListen != "" {
		listen = sinkListen
	}
	implicit := cfg.Sink.ImplicitTLS || sinkImplicit

	srvCfg := sink.ServerConfig{
		ListenAddr:   listen,
		Hostname:     cfg.Sink.Hostname,
		Sink:         sink.NewPrinter(),
		ImplicitTLS:  implicit,
		AuthUsername: cfg.Sink.Username,
		AuthPassword: cfg.Sink.Password,
	}

	tlsMode := "disabled"
	if !sinkNoTLS || implicit {
		srvCfg.TLSConfig, err = mailtls.LoadOrGenerateTLS(cfg.Sink.CertFile, cfg.Sink.KeyFile, cfg.Sink.Hostname)
		if err != nil {
			return err
		}
		tlsMode = "self-signed"
		if cfg.Sink.CertFile != "" && cfg.Sink.KeyFile != "" {
			tlsMode = "file"
		}
	}

	slog.Info("starting capture relay",
		"listen", listen,
		"tls_mode", tlsMode,
		"implicit_tls", implicit,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sink.New(srvCfg).ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		return err
	}

	slog.Info("capture relay stopped")
	return nil
}
