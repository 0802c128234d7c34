// Package config loads host-side deployment configuration: which
// backend to use, where the security material files live, and how
// sessions are verified and logged. File I/O happens here, on the host
// side of the boundary; policies only ever see opaque byte buffers.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plugtls/plugtls-go/pkg/boundary"
	"github.com/plugtls/plugtls-go/pkg/log"
	"github.com/plugtls/plugtls-go/pkg/registry"
)

// Config describes one endpoint's transport-security deployment.
type Config struct {
	// Backend selects the loaded security backend by registry name.
	// Defaults to the registry's default backend.
	Backend string `yaml:"backend"`

	// CAFile is the PEM bundle of trust roots.
	CAFile string `yaml:"ca_file"`

	// CertFile is the PEM bundle holding the leaf-first certificate
	// chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the PEM bundle (or PKCS#12 archive) holding the
	// private key.
	KeyFile string `yaml:"key_file"`

	// KeyPassword decrypts an encrypted private key.
	KeyPassword string `yaml:"key_password"`

	// VerifyPeers lists peer-verification rules in the backend's rule
	// encoding.
	VerifyPeers []string `yaml:"verify_peers"`

	// LogFile, when set, receives boundary events as a CBOR stream.
	LogFile string `yaml:"log_file"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Backend == "" {
		cfg.Backend = registry.DefaultBackend
	}
	return cfg, nil
}

// NewFactory loads the configured backend.
func (c *Config) NewFactory() (boundary.Factory, error) {
	return registry.Load(c.Backend)
}

// NewLogger builds the configured event sink. The caller owns closing
// a returned FileLogger.
func (c *Config) NewLogger() (log.Logger, error) {
	if c.LogFile == "" {
		return log.NoopLogger{}, nil
	}
	return log.NewFileLogger(c.LogFile)
}

// ApplyTo reads the configured material files and installs them on the
// policy. Unset entries are skipped; the policy must still be
// unfrozen.
func (c *Config) ApplyTo(policy boundary.Policy) error {
	if c.CAFile != "" {
		data, err := os.ReadFile(c.CAFile)
		if err != nil {
			return fmt.Errorf("read CA bundle: %w", err)
		}
		if err := policy.SetCABundle(data); err != nil {
			return fmt.Errorf("install CA bundle: %w", err)
		}
	}
	if c.CertFile != "" {
		data, err := os.ReadFile(c.CertFile)
		if err != nil {
			return fmt.Errorf("read certificate chain: %w", err)
		}
		if err := policy.SetCertChain(data); err != nil {
			return fmt.Errorf("install certificate chain: %w", err)
		}
	}
	if c.KeyFile != "" {
		data, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return fmt.Errorf("read private key: %w", err)
		}
		if err := policy.SetPrivateKey(data, c.KeyPassword); err != nil {
			return fmt.Errorf("install private key: %w", err)
		}
	}
	if len(c.VerifyPeers) > 0 {
		rules := make([][]byte, 0, len(c.VerifyPeers))
		for _, r := range c.VerifyPeers {
			rules = append(rules, []byte(r))
		}
		if err := policy.SetVerifyPeers(rules); err != nil {
			return fmt.Errorf("install verification rules: %w", err)
		}
	}
	return nil
}
