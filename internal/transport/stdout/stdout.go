// Package stdout implements a Transport that prints messages instead of sending them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/themed-mailer/internal/email"
)

// Transport prints messages in a human-readable format.
type Transport struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a Transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a Transport that writes to the given writer.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Deliver prints msg. Only a failing writer makes it return an error.
func (t *Transport) Deliver(_ context.Context, msg *email.Message, _ email.Config) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", msg.From.String())
	fmt.Fprintf(&b, "Reply-To: %s\n", msg.ReplyTo.String())
	if msg.EnvelopeFrom != "" {
		fmt.Fprintf(&b, "Envelope-From: %s\n", msg.EnvelopeFrom)
	}
	fmt.Fprintf(&b, "To: %s\n", msg.Recipient.Address())
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)

	if text, ok := msg.Body.Text(); ok {
		b.WriteString("Text:\n" + text + "\n")
	}
	if html, ok := msg.Body.HTML(); ok {
		b.WriteString("HTML:\n" + html + "\n")
	}

	if resources := msg.Body.Resources(); len(resources) > 0 {
		names := make([]string, 0, len(resources))
		for _, res := range resources {
			names = append(names, fmt.Sprintf("%s (%s, %s)", res.Filename, res.Disposition, formatSize(len(res.Content))))
		}
		fmt.Fprintf(&b, "Resources: %s\n", strings.Join(names, ", "))
	}
	if skipped := msg.Skipped(); len(skipped) > 0 {
		names := make([]string, 0, len(skipped))
		for _, r := range skipped {
			names = append(names, r.Name)
		}
		fmt.Fprintf(&b, "Skipped: %s\n", strings.Join(names, ", "))
	}

	b.WriteString("========================================\n")

	if _, err := io.WriteString(t.writer, b.String()); err != nil {
		return &email.TransportError{Err: err}
	}
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
