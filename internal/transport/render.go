package transport

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/shineum/themed-mailer/internal/email"
)

// Render converts msg into a go-mail message stamped with sentAt when msg
// carries no date. The only envelope recipient is msg.Recipient.
// Resources go into a mixed or related part wrapping the text/HTML
// alternative, following go-mail's layout rather than email.BodyTree.
func Render(msg *email.Message, sentAt time.Time) (*mail.Msg, error) {
	m := mail.NewMsg(mail.WithCharset(mail.CharsetUTF8))

	if err := m.FromFormat(msg.From.Name, msg.From.Address); err != nil {
		return nil, fmt.Errorf("failed to set from address: %w", err)
	}
	if err := m.ReplyToFormat(msg.ReplyTo.Name, msg.ReplyTo.Address); err != nil {
		return nil, fmt.Errorf("failed to set reply-to address: %w", err)
	}
	if msg.EnvelopeFrom != "" {
		if err := m.EnvelopeFrom(msg.EnvelopeFrom); err != nil {
			return nil, fmt.Errorf("failed to set envelope-from address: %w", err)
		}
	}
	if err := m.To(msg.Recipient.Address()); err != nil {
		return nil, fmt.Errorf("failed to set recipient: %w", err)
	}

	m.Subject(msg.Subject)
	m.SetDateWithValue(msg.SentAt(sentAt))
	m.SetMessageID()

	first := true
	for _, part := range msg.Body.Parts() {
		switch part.Kind {
		case email.PartText, email.PartHTML:
			ct := mail.TypeTextPlain
			if part.Kind == email.PartHTML {
				ct = mail.TypeTextHTML
			}
			if first {
				m.SetBodyString(ct, part.Body)
				first = false
				continue
			}
			m.AddAlternativeString(ct, part.Body)
		case email.PartResource:
			res := part.Resource
			opt := mail.WithFileContentType(mail.ContentType(res.ContentType))
			if res.Disposition == email.DispositionInline {
				m.EmbedReadSeeker(res.Filename, bytes.NewReader(res.Content), opt)
				continue
			}
			m.AttachReadSeeker(res.Filename, bytes.NewReader(res.Content), opt)
		}
	}

	return m, nil
}
