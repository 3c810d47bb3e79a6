package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// AuditorConfig configures the one-shot conservation auditor. It reads the
// ledger either directly from the database or through a running server's
// gRPC API when LedgerAddr is set.
type AuditorConfig struct {
	LedgerAddr string `env:"LEDGER_GRPC_ADDR"`
	Token      string `env:"LEDGER_TOKEN"`
	ServerName string `env:"LEDGER_SERVER_NAME"`
	TLS        TLSConfig

	Database DatabaseConfig
	Log      LogConfig

	// TrailFile is verified hash by hash when set.
	TrailFile string `env:"AUDIT_SINK"`
}

// Remote reports whether the auditor talks to a server instead of the
// database.
func (c *AuditorConfig) Remote() bool {
	return c.LedgerAddr != ""
}

// LoadAuditor parses the auditor's environment.
func LoadAuditor() (*AuditorConfig, error) {
	cfg := &AuditorConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if !cfg.Remote() && (cfg.Database.Driver == "" || cfg.Database.URL == "") {
		return nil, errors.New("either LEDGER_GRPC_ADDR or DATABASE_DRIVER and DATABASE_URL must be set")
	}
	if cfg.TLS.Enabled() && cfg.TLS.KeyFile == "" {
		return nil, errors.New("TLS_KEY_FILE is required with TLS_CERT_FILE")
	}
	return cfg, nil
}
