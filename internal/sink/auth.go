package sink

import (
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var errAuthFailed = errors.New("authentication failed")

// Authenticator handles SMTP AUTH verification against configured credentials.
type Authenticator struct {
	username   string
	password   string
	mechanisms []string
}

// defaultMechanisms are advertised when no restriction is configured.
var defaultMechanisms = []string{"PLAIN", "LOGIN", "XOAUTH2"}

// NewAuthenticator creates an Authenticator with the given credentials.
// If both username and password are empty, authentication is disabled.
// For XOAUTH2 the password is the expected bearer token.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username:   username,
		password:   password,
		mechanisms: defaultMechanisms,
	}
}

// Restrict limits the accepted mechanisms to mechs. An empty list keeps the
// current set.
func (a *Authenticator) Restrict(mechs ...string) {
	if len(mechs) == 0 {
		return
	}
	a.mechanisms = make([]string, 0, len(mechs))
	for _, m := range mechs {
		a.mechanisms = append(a.mechanisms, strings.ToUpper(strings.TrimSpace(m)))
	}
}

// Mechanisms returns the advertised mechanisms in order.
func (a *Authenticator) Mechanisms() []string {
	return a.mechanisms
}

// Supports reports whether mech is advertised.
func (a *Authenticator) Supports(mech string) bool {
	return slices.Contains(a.mechanisms, strings.ToUpper(mech))
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// VerifyPlain decodes and verifies an AUTH PLAIN response of the form
// base64([authzid]\0authcid\0password) and returns the authenticated user.
func (a *Authenticator) VerifyPlain(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding")
	}

	// authzid is ignored.
	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid AUTH PLAIN format")
	}

	return a.check(parts[1], parts[2])
}

// VerifyLogin verifies base64-encoded AUTH LOGIN credentials.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) (string, error) {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return "", fmt.Errorf("invalid base64 username")
	}

	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return "", fmt.Errorf("invalid base64 password")
	}

	return a.check(string(user), string(pass))
}

// VerifyXOAUTH2 verifies an AUTH XOAUTH2 initial response:
// base64("user=" user "\x01auth=Bearer " token "\x01\x01").
func (a *Authenticator) VerifyXOAUTH2(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding")
	}

	var user, token string
	for _, field := range strings.Split(string(decoded), "\x01") {
		switch {
		case strings.HasPrefix(field, "user="):
			user = strings.TrimPrefix(field, "user=")
		case strings.HasPrefix(field, "auth="):
			auth := strings.TrimPrefix(field, "auth=")
			scheme, value, ok := strings.Cut(auth, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				return "", fmt.Errorf("invalid XOAUTH2 auth field")
			}
			token = value
		}
	}
	if user == "" || token == "" {
		return "", fmt.Errorf("invalid XOAUTH2 format")
	}

	return a.check(user, token)
}

func (a *Authenticator) check(user, secret string) (string, error) {
	if user != a.username || secret != a.password {
		return "", errAuthFailed
	}
	return user, nil
}
