package smtp

import (
	"slices"
	"strings"

	gosmtp "github.com/wneessen/go-mail/smtp"

	"github.com/shineum/themed-mailer/internal/transport"
)

// basicAuth picks PLAIN or LOGIN from the mechanisms the server advertises
// once the EHLO reply is known. PLAIN is preferred; LOGIN is used only when
// the server does not offer PLAIN.
type basicAuth struct {
	username string
	password string
	host     string

	// plaintext allows credentials on a session without TLS.
	plaintext bool

	mech gosmtp.Auth
}

func newBasicAuth(cfg transport.Config) *basicAuth {
	return &basicAuth{
		username:  cfg.Username,
		password:  cfg.Password,
		host:      cfg.Host,
		plaintext: cfg.TLS == transport.TLSNone,
	}
}

func (a *basicAuth) Start(server *gosmtp.ServerInfo) (string, []byte, error) {
	if offers(server.Auth, "LOGIN") && !offers(server.Auth, "PLAIN") {
		a.mech = gosmtp.LoginAuth(a.username, a.password, a.host, a.plaintext)
	} else {
		a.mech = gosmtp.PlainAuth("", a.username, a.password, a.host, a.plaintext)
	}
	return a.mech.Start(server)
}

func (a *basicAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	return a.mech.Next(fromServer, more)
}

func offers(mechanisms []string, mech string) bool {
	return slices.ContainsFunc(mechanisms, func(m string) bool {
		return strings.EqualFold(m, mech)
	})
}
