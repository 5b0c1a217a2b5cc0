// Package config provides YAML file configuration with environment variable
// overrides for the themed mailer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/shineum/themed-mailer/internal/email"
	"github.com/shineum/themed-mailer/internal/truststore"
)

// Transport names accepted in Config.Transport.
const (
	TransportSMTP   = "smtp"
	TransportSES    = "ses"
	TransportStdout = "stdout"
	TransportGraph  = "graph"
)

// Config holds the complete application configuration.
type Config struct {
	Transport  string            `yaml:"transport"`
	Provider   ProviderConfig    `yaml:"provider"`
	Theme      ThemeConfig       `yaml:"theme"`
	Truststore TruststoreConfig  `yaml:"truststore"`
	SMTP       map[string]string `yaml:"smtp"`
	SES        SESConfig         `yaml:"ses"`
	Graph      GraphConfig       `yaml:"graph"`
	Directory  DirectoryConfig   `yaml:"directory"`
	Sink       SinkConfig        `yaml:"sink"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// ProviderConfig holds the static resource policy.
type ProviderConfig struct {
	Include     string `yaml:"include"`
	Parent      bool   `yaml:"parent"`
	Disposition string `yaml:"disposition"`
}

// Scope returns the options in the form read by sender.Factory.Init.
func (p ProviderConfig) Scope() map[string]string {
	return map[string]string{
		"include":     p.Include,
		"parent":      strconv.FormatBool(p.Parent),
		"disposition": p.Disposition,
	}
}

// ThemeConfig selects the active theme and where its resources live.
// S3 is used when S3.Bucket is set, the Dir tree otherwise.
type ThemeConfig struct {
	Name    string        `yaml:"name"`
	Dir     string        `yaml:"dir"`
	Parents []string      `yaml:"parents"`
	S3      ThemeS3Config `yaml:"s3"`
}

// ThemeS3Config holds the S3 theme bucket settings.
type ThemeS3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// TruststoreConfig holds the PEM bundle used for outgoing TLS.
type TruststoreConfig struct {
	File                       string `yaml:"file"`
	HostnameVerificationPolicy string `yaml:"hostname_verification_policy"`
}

// SESConfig holds AWS SES v2 configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// GraphConfigured returns true if the tenant and client credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// DirectoryConfig holds the identity lookup settings. Users is consulted
// first, then the Postgres directory when DSN is set. Passthrough finally
// treats an unknown handle as the address itself.
type DirectoryConfig struct {
	Users       map[string]string `yaml:"users"`
	DSN         string            `yaml:"dsn"`
	Query       string            `yaml:"query"`
	Passthrough bool              `yaml:"passthrough"`
}

// SinkConfig holds the capture relay configuration.
type SinkConfig struct {
	Listen      string `yaml:"listen"`
	Hostname    string `yaml:"hostname"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	CertFile    string `yaml:"cert_file"`
	KeyFile     string `yaml:"key_file"`
	ImplicitTLS bool   `yaml:"implicit_tls"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// smtpEnv maps environment variables onto keys of the smtp section.
var smtpEnv = []struct {
	env string
	key string
}{
	{"SMTP_HOST", email.KeyHost},
	{"SMTP_PORT", email.KeyPort},
	{"SMTP_AUTH", email.KeyAuth},
	{"SMTP_SSL", email.KeySSL},
	{"SMTP_STARTTLS", email.KeyStartTLS},
	{"SMTP_USER", email.KeyUser},
	{"SMTP_PASSWORD", email.KeyPassword},
	{"SMTP_FROM", email.KeyFrom},
	{"SMTP_FROM_DISPLAY_NAME", email.KeyFromDisplayName},
	{"SMTP_REPLY_TO", email.KeyReplyTo},
	{"SMTP_ENVELOPE_FROM", email.KeyEnvelopeFrom},
	{"SMTP_AUTH_TYPE", email.KeyAuthType},
	{"SMTP_AUTH_TOKEN_URL", email.KeyAuthTokenURL},
	{"SMTP_AUTH_TOKEN_SCOPE", email.KeyAuthTokenScope},
	{"SMTP_AUTH_TOKEN_CLIENT_ID", email.KeyAuthTokenClientID},
	{"SMTP_AUTH_TOKEN_CLIENT_SECRET", email.KeyAuthTokenClientSecret},
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSMTP, TransportSES, TransportStdout:
	case TransportGraph:
		if !c.GraphConfigured() {
			return fmt.Errorf("graph transport requires tenant_id, client_id and client_secret")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	if _, err := truststore.ParsePolicy(c.Truststore.HostnameVerificationPolicy); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// TrustPolicy returns the parsed hostname verification policy.
func (c *Config) TrustPolicy() truststore.Policy {
	p, _ := truststore.ParsePolicy(c.Truststore.HostnameVerificationPolicy)
	return p
}

// MailSettings returns the smtp section with overrides layered on top.
// Empty override values do not clear file values. The section itself is
// never modified.
func (c *Config) MailSettings(overrides map[string]string) (email.Config, error) {
	dst := make(map[string]string, len(c.SMTP)+len(overrides))
	for k, v := range c.SMTP {
		dst[k] = v
	}

	src := make(map[string]string, len(overrides))
	for k, v := range overrides {
		if v != "" {
			src[k] = v
		}
	}
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge smtp overrides: %w", err)
	}
	return email.Config(dst), nil
}

// ParseOverrides parses key=value pairs as given on the command line.
func ParseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid override %q: want key=value", pair)
		}
		out[k] = v
	}
	return out, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Transport = TransportSMTP
	c.Theme.Name = "base"
	c.Theme.Dir = "themes"
	c.Truststore.HostnameVerificationPolicy = "WILDCARD"
	c.Provider.Disposition = string(email.DispositionAttachment)
	c.Directory.Passthrough = true
	c.Sink.Listen = ":2525"
	c.Sink.Hostname = "localhost"
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Logging.MaxSizeMB = 100
	c.Logging.MaxBackups = 3
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("TRANSPORT"); v != "" {
		c.Transport = strings.ToLower(v)
	}

	if v := os.Getenv("INCLUDE"); v != "" {
		c.Provider.Include = v
	}
	if v := os.Getenv("PARENT"); v != "" {
		parent, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PARENT value %q: %w", v, err)
		}
		c.Provider.Parent = parent
	}
	if v := os.Getenv("DISPOSITION"); v != "" {
		c.Provider.Disposition = v
	}

	if v := os.Getenv("THEME_NAME"); v != "" {
		c.Theme.Name = v
	}
	if v := os.Getenv("THEME_DIR"); v != "" {
		c.Theme.Dir = v
	}
	if v := os.Getenv("THEME_S3_BUCKET"); v != "" {
		c.Theme.S3.Bucket = v
	}
	if v := os.Getenv("THEME_S3_PREFIX"); v != "" {
		c.Theme.S3.Prefix = v
	}
	if v := os.Getenv("THEME_S3_REGION"); v != "" {
		c.Theme.S3.Region = v
	}
	if v := os.Getenv("THEME_S3_ENDPOINT"); v != "" {
		c.Theme.S3.Endpoint = v
	}

	if v := os.Getenv("TRUSTSTORE_FILE"); v != "" {
		c.Truststore.File = v
	}
	if v := os.Getenv("TRUSTSTORE_POLICY"); v != "" {
		c.Truststore.HostnameVerificationPolicy = strings.ToUpper(v)
	}

	for _, e := range smtpEnv {
		if v := os.Getenv(e.env); v != "" {
			if c.SMTP == nil {
				c.SMTP = make(map[string]string)
			}
			c.SMTP[e.key] = v
		}
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_ENDPOINT"); v != "" {
		c.SES.Endpoint = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("DIRECTORY_DSN"); v != "" {
		c.Directory.DSN = v
	}

	if v := os.Getenv("SINK_LISTEN"); v != "" {
		c.Sink.Listen = v
	}
	if v := os.Getenv("SINK_USERNAME"); v != "" {
		c.Sink.Username = v
	}
	if v := os.Getenv("SINK_PASSWORD"); v != "" {
		c.Sink.Password = v
	}
	if v := os.Getenv("SINK_CERT_FILE"); v != "" {
		c.Sink.CertFile = v
	}
	if v := os.Getenv("SINK_KEY_FILE"); v != "" {
		c.Sink.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	return nil
}
