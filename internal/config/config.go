package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the paper trading API.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Trading Trading `yaml:"trading"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Auth    Auth    `yaml:"auth"`
	Logging Logging `yaml:"logging"`
}

// Server holds network listener configuration.
type Server struct {
	Port int `yaml:"port"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Trading defines execution parameters for the ledger engine.
type Trading struct {
	// CommissionRate is the flat commission applied to simulated fills,
	// e.g. 0.001 for 0.1%.
	CommissionRate float64 `yaml:"commission_rate"`
	// OracleTimeoutMS bounds every price-oracle call.
	OracleTimeoutMS int `yaml:"oracle_timeout_ms"`
	// RefreshIntervalSec is the period of the background equity sweep.
	RefreshIntervalSec int `yaml:"refresh_interval_sec"`
	// InitialBalance seeds newly created accounts.
	InitialBalance float64 `yaml:"initial_balance"`
	Currency       string  `yaml:"currency"`
}

// Alpaca holds credentials for the optional real-execution broker.
// When APIKey is empty the engine runs on the simulated oracle only.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Auth configures JWT token issuing and verification.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server:  Server{Port: 8080},
		Storage: Storage{SQLitePath: "paper.db"},
		Trading: Trading{
			CommissionRate:     0.001,
			OracleTimeoutMS:    3000,
			RefreshIntervalSec: 30,
			InitialBalance:     10000,
			Currency:           "USDT",
		},
		Auth:    Auth{JWTSecret: "paper-secret-key"},
		Logging: Logging{Level: "info"},
	}
}

// Load reads the YAML configuration file at the given path, parses it
// into a Config struct, and then applies environment variable overrides.
// A missing file is not an error; defaults are used instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file values
// without editing the config on disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PAPER_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("PAPER_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
}

// OracleTimeout returns the configured oracle timeout as a duration.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Trading.OracleTimeoutMS) * time.Millisecond
}

// RefreshInterval returns the configured equity sweep period.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Trading.RefreshIntervalSec) * time.Second
}
