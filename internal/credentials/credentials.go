// Package credentials resolves the username and password used to reach the
// storage or broker backend.
package credentials

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchbase/gocb/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

var ErrMissingUsername = errors.New("credentials: key has no username")

// Config selects where credentials come from. Key, when set, is a
// base64-encoded JSON document and takes precedence over the plain fields.
type Config struct {
	Key      string `env:"CREDENTIALS_KEY"`
	Username string `env:"BACKEND_USERNAME"`
	Password string `env:"BACKEND_PASSWORD"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

type Provider struct {
	creds Credentials
}

// NewProvider decodes cfg.Key if present, else falls back to the default
// username and password.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Key == "" {
		return &Provider{creds: Credentials{Username: cfg.Username, Password: cfg.Password}}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode credentials key: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials key: %w", err)
	}
	if creds.Username == "" {
		return nil, ErrMissingUsername
	}

	return &Provider{creds: creds}, nil
}

func (p *Provider) Credentials() Credentials {
	return p.creds
}

func (p *Provider) CouchbaseAuthenticator() gocb.PasswordAuthenticator {
	return gocb.PasswordAuthenticator{
		Username: p.creds.Username,
		Password: p.creds.Password,
	}
}

// SASLMechanism returns a PLAIN mechanism, or nil when no credentials are
// configured and the broker is reached unauthenticated.
func (p *Provider) SASLMechanism() sasl.Mechanism {
	if p.creds.IsZero() {
		return nil
	}

	return plain.Auth{User: p.creds.Username, Pass: p.creds.Password}.AsMechanism()
}
