package server

import (
	"log/slog"

	"github.com/storacha/go-ucanto/principal"

	"github.com/relves/quorumsig/pkg/service"
)

// Config holds server configuration.
type Config struct {
	Signer    principal.Signer
	Service   service.Service
	Validator RequestValidator
	Logger    *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithSigner sets the UCAN signer. Its DID is the multisig program identity.
func WithSigner(s principal.Signer) Option {
	return func(c *Config) {
		c.Signer = s
	}
}

// WithService sets the multisig service.
func WithService(svc service.Service) Option {
	return func(c *Config) {
		c.Service = svc
	}
}

// WithValidator sets a request validator for account/rate-limit checks.
// If nil (default), no validation is performed.
func WithValidator(v RequestValidator) Option {
	return func(c *Config) {
		c.Validator = v
	}
}

// WithLogger sets the logger for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{Logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
