// Package config loads the server configuration from the environment.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/caarlos0/env/v11"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
)

// Ledger backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the server configuration.
type Config struct {
	Port     string     `env:"PORT" envDefault:"8080"`
	DataPath string     `env:"DATA_PATH" envDefault:"./data"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	// PrivateKey is a base64 Ed25519 private key. The server generates an
	// ephemeral key when it is unset.
	PrivateKey string `env:"QUORUMSIG_PRIVATE_KEY"`

	LedgerBackend string `env:"LEDGER_BACKEND" envDefault:"sqlite"`
	RentPerByte   uint64 `env:"RENT_PER_BYTE" envDefault:"1"`
	RentMinimum   uint64 `env:"RENT_MINIMUM" envDefault:"1"`

	// GenesisBalances credits identities at startup, as did=amount pairs.
	GenesisBalances map[string]uint64 `env:"GENESIS_BALANCES" envSeparator:"," envKeyValSeparator:"="`

	AuditOrigin       string `env:"AUDIT_ORIGIN" envDefault:"quorumsig"`
	ProposalCacheSize int    `env:"PROPOSAL_CACHE_SIZE" envDefault:"1024"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values that the parser cannot.
func (c Config) Validate() error {
	switch c.LedgerBackend {
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", BackendSQLite, BackendMemory, c.LedgerBackend)
	}
	if c.RentPerByte == 0 {
		return fmt.Errorf("RENT_PER_BYTE must be positive")
	}
	if c.ProposalCacheSize <= 0 {
		return fmt.Errorf("PROPOSAL_CACHE_SIZE must be positive, got %d", c.ProposalCacheSize)
	}
	for did := range c.GenesisBalances {
		if err := address.Address(did).Validate(); err != nil {
			return fmt.Errorf("GENESIS_BALANCES: %q: %w", did, err)
		}
	}
	return nil
}

// Rent returns the configured rent schedule.
func (c Config) Rent() storage.RentSchedule {
	return storage.RentSchedule{PerByte: c.RentPerByte, Minimum: c.RentMinimum}
}

// Grant is one genesis credit.
type Grant struct {
	Address address.Address
	Amount  uint64
}

// Genesis returns the genesis credits ordered by address.
func (c Config) Genesis() []Grant {
	grants := make([]Grant, 0, len(c.GenesisBalances))
	for _, did := range slices.Sorted(maps.Keys(c.GenesisBalances)) {
		grants = append(grants, Grant{Address: address.Address(did), Amount: c.GenesisBalances[did]})
	}
	return grants
}

// LoadKey decodes PrivateKey, or generates an ephemeral key when it is
// unset. ephemeral reports which happened.
func (c Config) LoadKey() (key ed25519.PrivateKey, ephemeral bool, err error) {
	if c.PrivateKey == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, false, err
		}
		return priv, true, nil
	}

	priv, err := base64.StdEncoding.DecodeString(c.PrivateKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode QUORUMSIG_PRIVATE_KEY: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, false, fmt.Errorf("QUORUMSIG_PRIVATE_KEY must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return ed25519.PrivateKey(priv), false, nil
}
