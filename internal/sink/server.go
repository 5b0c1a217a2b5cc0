package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for a capture relay.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is the server hostname used in greetings and EHLO responses.
	Hostname string

	// Sink receives every accepted message.
	Sink Sink

	// TLSConfig enables STARTTLS, or implicit TLS when ImplicitTLS is set.
	// If nil, neither is offered.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// AuthUsername and AuthPassword configure SMTP AUTH.
	// If both are empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	// AuthMechanisms restricts the advertised AUTH mechanisms. Empty offers
	// PLAIN, LOGIN and XOAUTH2.
	AuthMechanisms []string
}

// Server is an SMTP server that accepts connections and hands accepted
// messages to a Sink.
type Server struct {
	config   ServerConfig
	auth     *Authenticator
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a new Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.Sink == nil {
		cfg.Sink = NewPrinter()
	}

	auth := NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword)
	auth.Restrict(cfg.AuthMechanisms...)

	return &Server{
		config: cfg,
		auth:   auth,
	}
}

// Listen binds the listen address. It is separate from Serve so callers can
// learn the bound address before accepting connections.
func (s *Server) Listen() error {
	if s.config.ImplicitTLS && s.config.TLSConfig == nil {
		return errors.New("implicit TLS requires a TLS configuration")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	if s.config.ImplicitTLS {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}
	s.listener = ln
	return nil
}

// ListenAndServe binds the listen address and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled. On cancellation it stops
// accepting and waits up to 30 seconds for in-flight sessions to complete.
func (s *Server) Serve(ctx context.Context) error {
	ln := s.listener
	if ln == nil {
		return errors.New("server is not listening")
	}

	slog.Info("capture relay listening",
		"addr", ln.Addr().String(),
		"sink", s.config.Sink.Name(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
		"implicit_tls", s.config.ImplicitTLS,
	)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down capture relay")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.waitForSessions()
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					return err
				}
				slog.Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewSession(conn, s.auth, s.config.Sink, s.config.Hostname, s.config.TLSConfig).Handle(ctx)
		}()
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
