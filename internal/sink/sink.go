// Package sink implements a capture relay: an SMTP server with STARTTLS,
// implicit TLS and AUTH support that hands every accepted message to a Sink
// instead of delivering it.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/parser"
)

// Envelope is one accepted SMTP transaction.
type Envelope struct {
	MailFrom string
	RcptTo   []string
	Data     []byte

	// TLS reports whether the transaction ran over an encrypted connection.
	TLS bool

	// AuthUser is the authenticated identity, empty for anonymous sessions.
	AuthUser string

	ReceivedAt time.Time
}

// Parse parses the message data.
func (e *Envelope) Parse() (*email.Received, error) {
	return parser.Parse(e.Data)
}

// Sink consumes accepted transactions. A Receive error is reported to the
// client as a temporary failure.
type Sink interface {
	Receive(ctx context.Context, env *Envelope) error
	Name() string
}

// Recorder keeps every received envelope in memory.
type Recorder struct {
	mu        sync.Mutex
	envelopes []*Envelope
	err       error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Receive stores env, or fails with the error set by FailWith.
func (r *Recorder) Receive(_ context.Context, env *Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.envelopes = append(r.envelopes, env)
	return nil
}

// Name returns the sink name.
func (r *Recorder) Name() string {
	return "recorder"
}

// FailWith makes subsequent Receive calls return err. A nil err restores normal operation.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Envelopes returns the received envelopes in arrival order.
func (r *Recorder) Envelopes() []*Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

// Last returns the most recent envelope, or nil.
func (r *Recorder) Last() *Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.envelopes) == 0 {
		return nil
	}
	return r.envelopes[len(r.envelopes)-1]
}

// Printer writes a readable summary of every received message.
type Printer struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewPrinter returns a Printer writing to os.Stdout.
func NewPrinter() *Printer {
	return &Printer{writer: os.Stdout}
}

// NewPrinterWithWriter returns a Printer writing to w.
func NewPrinterWithWriter(w io.Writer) *Printer {
	return &Printer{writer: w}
}

// Receive prints env. Unparsable data is printed as an envelope summary only.
func (p *Printer) Receive(_ context.Context, env *Envelope) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Envelope-From: %s\n", env.MailFrom)
	fmt.Fprintf(&b, "Envelope-To: %s\n", strings.Join(env.RcptTo, ", "))
	fmt.Fprintf(&b, "TLS: %t\n", env.TLS)
	if env.AuthUser != "" {
		fmt.Fprintf(&b, "Auth-User: %s\n", env.AuthUser)
	}

	msg, err := env.Parse()
	if err != nil {
		fmt.Fprintf(&b, "Unparsable message (%d bytes): %v\n", len(env.Data), err)
	} else {
		fmt.Fprintf(&b, "From: %s\n", msg.From)
		fmt.Fprintf(&b, "Reply-To: %s\n", msg.ReplyTo)
		fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
		fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
		for i, part := range msg.Parts {
			fmt.Fprintf(&b, "Part %d: %s", i+1, part.ContentType)
			if part.Filename != "" {
				fmt.Fprintf(&b, " %s (%s, %d B)", part.Filename, part.Disposition, len(part.Content))
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("========================================\n")

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = io.WriteString(p.writer, b.String())
	return err
}

// Name returns the sink name.
func (p *Printer) Name() string {
	return "stdout"
}
