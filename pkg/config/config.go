// Package config loads the facade's YAML configuration: the profile
// registry's trust anchors, CRL cache policy, HTTP timeouts and the
// rights-persistence store location. Mirrors the teacher's
// read-file-then-yaml.Unmarshal pattern used for applying resources.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProfileConfig describes one encryption profile entry in the registry.
type ProfileConfig struct {
	ID              string `yaml:"id"`
	RootCertificate string `yaml:"root_certificate"` // base64 DER
}

// CRLConfig configures the CRL cache (spec §4.3, §5).
type CRLConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	CacheSize    int           `yaml:"cache_size"`

	// PersistPath, if set, durably backs the in-memory cache so CRL state
	// survives a process restart instead of forcing a fetch on the first
	// license open after a cold start.
	PersistPath string `yaml:"persist_path"`
}

// HTTPConfig configures acquisition and CRL network behavior (spec §5, §7).
type HTTPConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SessionDeadline time.Duration `yaml:"session_deadline"`
	MaxRetries      int           `yaml:"max_retries"`
}

// RightsStoreConfig configures the default BoltDB-backed rights store.
type RightsStoreConfig struct {
	BoltPath string `yaml:"bolt_path"`

	// EncryptionPassphrase, if set, switches the rights store to
	// EncryptedStore: right counters are AES-256-GCM sealed at rest
	// instead of stored as plain decimal strings.
	EncryptionPassphrase string `yaml:"encryption_passphrase"`
}

// LogConfig configures pkg/lcplog.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the facade's top-level configuration document.
type Config struct {
	Profiles    []ProfileConfig   `yaml:"profiles"`
	CRL         CRLConfig         `yaml:"crl"`
	HTTP        HTTPConfig        `yaml:"http"`
	RightsStore RightsStoreConfig `yaml:"rights_store"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the configuration used by tests and cmd/lcpctl when no
// file is given: sane timeouts and a BoltDB file alongside the working
// directory. It lists no profiles, so a registry built from it resolves
// no profile URI and every license open fails until a profile with its
// root certificate is configured.
func Default() *Config {
	return &Config{
		CRL: CRLConfig{
			TTL:          24 * time.Hour,
			FetchTimeout: 10 * time.Second,
			CacheSize:    256,
		},
		HTTP: HTTPConfig{
			RequestTimeout:  30 * time.Second,
			SessionDeadline: 10 * time.Minute,
			MaxRetries:      3,
		},
		RightsStore: RightsStoreConfig{
			BoltPath: "./lcp-rights.db",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and parses a YAML configuration file, filling any
// unspecified field from Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg *Config) *Config {
	d := Default()
	if cfg.CRL.TTL == 0 {
		cfg.CRL.TTL = d.CRL.TTL
	}
	if cfg.CRL.FetchTimeout == 0 {
		cfg.CRL.FetchTimeout = d.CRL.FetchTimeout
	}
	if cfg.CRL.CacheSize == 0 {
		cfg.CRL.CacheSize = d.CRL.CacheSize
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = d.HTTP.RequestTimeout
	}
	if cfg.HTTP.SessionDeadline == 0 {
		cfg.HTTP.SessionDeadline = d.HTTP.SessionDeadline
	}
	if cfg.HTTP.MaxRetries == 0 {
		cfg.HTTP.MaxRetries = d.HTTP.MaxRetries
	}
	if cfg.RightsStore.BoltPath == "" {
		cfg.RightsStore.BoltPath = d.RightsStore.BoltPath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	return cfg
}
