// Package graph implements a Transport that sends messages via the Microsoft
// Graph API using OAuth2 client credentials authentication.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/transport"
)

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	graphScope      = "https://graph.microsoft.com/.default"
)

// requestTimeout bounds one sendMail call, token acquisition included.
const requestTimeout = 30 * time.Second

// Config holds the configuration for creating a Transport.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Sender is the mailbox sending on behalf of the application. When empty
	// the message From address is used.
	Sender string
}

// Transport sends every message as one Graph sendMail request. Access
// tokens are cached and refreshed by the oauth2 client.
type Transport struct {
	sender     string
	graphURL   string
	httpClient *http.Client
}

// New creates a Transport for the tenant in cfg.
func New(cfg Config) *Transport {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	return newWithOverrides(cfg, defaultGraphURL, tokenURL)
}

// newWithOverrides creates a Transport with custom endpoints, used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string) *Transport {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}

	client := cc.Client(context.Background())
	client.Timeout = requestTimeout

	return &Transport{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
	}
}

// Deliver posts msg to the sendMail endpoint in one attempt. Per-session
// SMTP settings are ignored.
func (t *Transport) Deliver(ctx context.Context, msg *email.Message, _ email.Config) error {
	if err := t.send(ctx, msg); err != nil {
		return &email.TransportError{Err: err}
	}

	slog.DebugContext(ctx, "email sent via Graph API",
		"to", msg.Recipient.Address(),
		"subject", msg.Subject,
	)
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "msgraph"
}

func (t *Transport) send(ctx context.Context, msg *email.Message) error {
	sender := t.sender
	if sender == "" {
		sender = msg.From.Address
	}

	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", t.graphURL, url.PathEscape(sender))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		apiErr.Code = graphErrResp.Error.Code
		apiErr.Message = graphErrResp.Error.Message
	}
	return apiErr
}

// APIError is a non-success response from the sendMail endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

var _ transport.Transport = (*Transport)(nil)
