// Package ses implements a Transport that sends raw MIME messages via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/transport"
)

// Config holds the configuration for creating a Transport.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint overrides the SES endpoint, e.g. for a local emulator.
	Endpoint string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Transport sends every message as one SES raw email. Per-session SMTP
// settings are ignored.
type Transport struct {
	client SendEmailAPI
	now    func() time.Time
}

// New creates a Transport using the default AWS credential chain, or static
// credentials when both keys are set.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(client), nil
}

// NewWithClient creates a Transport with a custom client, used for testing.
func NewWithClient(client SendEmailAPI) *Transport {
	return &Transport{client: client, now: time.Now}
}

// Deliver makes exactly one SendEmail call. Failures are *email.TransportError.
func (t *Transport) Deliver(ctx context.Context, msg *email.Message, _ email.Config) error {
	m, err := transport.Render(msg, t.now())
	if err != nil {
		return &email.TransportError{Err: err}
	}

	var raw bytes.Buffer
	if _, err := m.WriteTo(&raw); err != nil {
		return &email.TransportError{Err: fmt.Errorf("failed to build raw message: %w", err)}
	}

	sender := msg.From.Address
	if msg.EnvelopeFrom != "" {
		sender = msg.EnvelopeFrom
	}

	out, err := t.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient.Address()},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw.Bytes()},
		},
	})
	if err != nil {
		return &email.TransportError{Err: fmt.Errorf("SES API request failed: %w", err)}
	}

	slog.DebugContext(ctx, "email delivered",
		"transport", t.Name(),
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "ses"
}
