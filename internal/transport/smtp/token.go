package smtp

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/themed-mailer/internal/transport"
)

// fetchToken runs a client-credentials grant and returns the access token.
func fetchToken(ctx context.Context, t transport.Token) (string, error) {
	cc := clientcredentials.Config{
		ClientID:     t.ClientID,
		ClientSecret: t.ClientSecret,
		TokenURL:     t.URL,
		Scopes:       t.Scopes,
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token endpoint %s returned an empty access token", t.URL)
	}
	return tok.AccessToken, nil
}
