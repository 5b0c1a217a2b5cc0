package sink

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// maxMessageSize is the default maximum message size (10 MB).
const maxMessageSize = 10 * 1024 * 1024

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    int
	auth     *Authenticator
	sink     Sink
	hostname string

	tlsConfig *tls.Config
	tlsActive bool
	authUser  string

	// Current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a new SMTP session for the given connection. A
// connection that is already a *tls.Conn counts as encrypted and is never
// offered STARTTLS.
func NewSession(conn net.Conn, auth *Authenticator, sink Sink, hostname string, tlsConfig *tls.Config) *Session {
	_, isTLS := conn.(*tls.Conn)
	return &Session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		auth:      auth,
		sink:      sink,
		hostname:  hostname,
		tlsConfig: tlsConfig,
		tlsActive: isTLS,
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP themed-mailer capture relay", s.hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		return s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		return s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	if s.state < stateGreeted {
		s.state = stateGreeted
	}

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.hostname, arg)
	if s.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.auth.Enabled() {
		s.writeLine("250-AUTH %s", strings.Join(s.auth.Mechanisms(), " "))
	}
	s.writeLine("250-SIZE %d", maxMessageSize)
	s.writeLine("250 OK")
}

// handleSTARTTLS upgrades the connection to TLS. A failed handshake ends the session.
func (s *Session) handleSTARTTLS() bool {
	if s.tlsConfig == nil {
		s.writeLine("454 TLS not available")
		return false
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return false
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Warn("TLS handshake failed", "error", err)
		return true
	}

	// RFC 3207: the client must greet again and any prior AUTH is discarded.
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	s.authUser = ""
	s.resetTransaction()
	return false
}

// handleAUTH processes AUTH commands (PLAIN, LOGIN and XOAUTH2 mechanisms).
func (s *Session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if s.state >= stateAuthOK {
		s.writeLine("503 Already authenticated")
		return
	}

	parts := strings.SplitN(arg, " ", 2)
	mechanism := strings.ToUpper(parts[0])
	if !s.auth.Supports(mechanism) {
		s.writeLine("504 Unrecognized authentication type")
		return
	}
	initial := ""
	if len(parts) > 1 {
		initial = strings.TrimSpace(parts[1])
	}

	var (
		user string
		err  error
	)
	switch mechanism {
	case "PLAIN":
		encoded, ok := s.initialResponse(initial)
		if !ok {
			return
		}
		user, err = s.auth.VerifyPlain(encoded)
	case "LOGIN":
		encodedUser, ok := s.challenge("334 VXNlcm5hbWU6")
		if !ok {
			return
		}
		encodedPass, ok := s.challenge("334 UGFzc3dvcmQ6")
		if !ok {
			return
		}
		user, err = s.auth.VerifyLogin(encodedUser, encodedPass)
	case "XOAUTH2":
		encoded, ok := s.initialResponse(initial)
		if !ok {
			return
		}
		user, err = s.auth.VerifyXOAUTH2(encoded)
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	if err != nil {
		slog.Debug("authentication failed", "mechanism", mechanism, "error", err)
		s.writeLine("535 Authentication failed")
		return
	}

	s.authUser = user
	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

// initialResponse returns the inline AUTH argument, or prompts for it.
func (s *Session) initialResponse(inline string) (string, bool) {
	if inline != "" {
		if inline == "*" {
			s.writeLine("501 Authentication cancelled")
			return "", false
		}
		return inline, true
	}
	return s.challenge("334 ")
}

// challenge writes prompt and reads one client response line.
func (s *Session) challenge(prompt string) (string, bool) {
	s.writeLine("%s", prompt)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		slog.Debug("failed to read AUTH response", "error", err)
		return "", false
	}
	resp := strings.TrimRight(line, "\r\n")
	if resp == "*" {
		s.writeLine("501 Authentication cancelled")
		return "", false
	}
	return resp, true
}

func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	if s.state >= stateMailFrom {
		s.writeLine("503 Nested MAIL command")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	// The null reverse-path <> is valid for bounces.
	addr, ok := extractAddress(arg[5:])
	if !ok {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr, ok := extractAddress(arg[3:])
	if !ok || addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the message up to the terminating dot line and hands it
// to the sink. It returns true when the connection is no longer usable.
func (s *Session) handleDATA(ctx context.Context) bool {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return false
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var (
		data     bytes.Buffer
		tooLarge bool
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			slog.Warn("error reading DATA", "error", err)
			return true
		}

		if strings.TrimRight(line, "\r\n") == "." {
			break
		}

		// Dot-stuffing: a leading dot was doubled by the client.
		line = strings.TrimPrefix(line, ".")

		if data.Len()+len(line) > maxMessageSize {
			tooLarge = true
			continue
		}
		data.WriteString(line)
	}

	if tooLarge {
		s.writeLine("552 Message exceeds maximum size")
		s.resetTransaction()
		return false
	}

	env := &Envelope{
		MailFrom:   s.mailFrom,
		RcptTo:     append([]string(nil), s.rcptTo...),
		Data:       data.Bytes(),
		TLS:        s.tlsActive,
		AuthUser:   s.authUser,
		ReceivedAt: time.Now(),
	}

	if err := s.sink.Receive(ctx, env); err != nil {
		slog.Error("sink receive failed",
			"sink", s.sink.Name(),
			"error", err,
		)
		s.writeLine("451 Temporary failure, please try again later")
		s.resetTransaction()
		return false
	}

	slog.Debug("message accepted",
		"mail_from", env.MailFrom,
		"rcpt_count", len(env.RcptTo),
		"size", len(env.Data),
		"tls", env.TLS,
	)
	s.writeLine("250 OK message accepted")
	s.resetTransaction()
	return false
}

// resetTransaction clears the current mail transaction state without
// affecting the session state (greeting, auth).
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	if s.auth.Enabled() && s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Debug("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Debug("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an email address from an SMTP path parameter,
// handling both angle-bracket and bare formats. ESMTP parameters after the
// path are ignored.
func extractAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", false
		}
		return s[1:end], true
	}

	addr, _, _ := strings.Cut(s, " ")
	return addr, addr != ""
}
