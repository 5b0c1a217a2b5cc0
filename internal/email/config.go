package email

import "strings"

// Keys understood in a Config.
const (
	KeyHost               = "host"
	KeyPort               = "port"
	KeyAuth               = "auth"
	KeySSL                = "ssl"
	KeyStartTLS           = "starttls"
	KeyFrom               = "from"
	KeyFromDisplayName    = "fromDisplayName"
	KeyReplyTo            = "replyTo"
	KeyReplyToDisplayName = "replyToDisplayName"
	KeyEnvelopeFrom       = "envelopeFrom"
	KeyUser               = "user"
	KeyPassword           = "password"

	// Token authentication (XOAUTH2) settings, used when authType is "token".
	KeyAuthType              = "authType"
	KeyAuthTokenURL          = "authTokenUrl"
	KeyAuthTokenScope        = "authTokenScope"
	KeyAuthTokenClientID     = "authTokenClientId"
	KeyAuthTokenClientSecret = "authTokenClientSecret"
)

// Config holds the per-send transport and identity settings.
// Unset keys fall back to transport defaults: no auth, no TLS.
type Config map[string]string

// Get returns the value stored under key, or an empty string.
func (c Config) Get(key string) string {
	return c[key]
}

// Has reports whether key is present, even if its value is empty.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Bool reports whether key holds the literal string "true".
func (c Config) Bool(key string) bool {
	return c[key] == "true"
}

// Trimmed returns the value under key with surrounding whitespace removed.
func (c Config) Trimmed(key string) string {
	return strings.TrimSpace(c[key])
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	out := make(Config, len(c))
	for k, v := range c {
		switch k {
		case KeyPassword, KeyAuthTokenClientSecret:
			if v != "" {
				v = "***"
			}
		}
		out[k] = v
	}
	return out
}
