/*
Package config loads the node configuration.

PRECEDENCE (lowest first):
  1. Defaults()
  2. Optional file, decoded by extension: .toml (BurntSushi/toml),
     .yaml/.yml (yaml.v3)
  3. CUSTODY_* environment variables (caarlos0/env)
  4. Command-line flags, applied by cmd/server

EXAMPLE (custody.toml):
  listen = ":8080"
  backend = "sqlite"
  data_path = "./data/custody.db"
  block_interval = "5s"

  [log]
  level = "debug"
  format = "console"

  [genesis]
  address = "genesis"
  balance = "1000000000"
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/fitmarket/custody-ledger/ledger"
)

// Backend names.
const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
)

type Config struct {
	Listen        string        `toml:"listen" yaml:"listen" env:"CUSTODY_LISTEN"`
	Backend       string        `toml:"backend" yaml:"backend" env:"CUSTODY_BACKEND"`
	DataPath      string        `toml:"data_path" yaml:"data_path" env:"CUSTODY_DATA_PATH"`
	BlockInterval time.Duration `toml:"block_interval" yaml:"block_interval" env:"CUSTODY_BLOCK_INTERVAL"`

	Log     LogConfig     `toml:"log" yaml:"log"`
	API     APIConfig     `toml:"api" yaml:"api"`
	Genesis GenesisConfig `toml:"genesis" yaml:"genesis"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level      string `toml:"level" yaml:"level" env:"CUSTODY_LOG_LEVEL"`
	Format     string `toml:"format" yaml:"format" env:"CUSTODY_LOG_FORMAT"`
	File       string `toml:"file" yaml:"file" env:"CUSTODY_LOG_FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb" env:"CUSTODY_LOG_MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups" env:"CUSTODY_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days" env:"CUSTODY_LOG_MAX_AGE_DAYS"`
}

type APIConfig struct {
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins" env:"CUSTODY_CORS_ORIGINS" envSeparator:","`
	// SubmitRate is the sustained POST /transactions rate per second; 0
	// disables limiting.
	SubmitRate  float64 `toml:"submit_rate" yaml:"submit_rate" env:"CUSTODY_SUBMIT_RATE"`
	SubmitBurst int     `toml:"submit_burst" yaml:"submit_burst" env:"CUSTODY_SUBMIT_BURST"`
}

type GenesisConfig struct {
	Address string `toml:"address" yaml:"address" env:"CUSTODY_GENESIS_ADDRESS"`
	Balance string `toml:"balance" yaml:"balance" env:"CUSTODY_GENESIS_BALANCE"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled" env:"CUSTODY_METRICS_ENABLED"`
}

// Defaults returns a configuration for a local development node.
func Defaults() Config {
	return Config{
		Listen:        ":8080",
		Backend:       BackendSQLite,
		DataPath:      "./custody.db",
		BlockInterval: 10 * time.Second,
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		API: APIConfig{
			CORSOrigins: []string{"*"},
			SubmitRate:  50,
			SubmitBurst: 100,
		},
		Genesis: GenesisConfig{
			Address: "genesis",
			Balance: "1000000000",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load applies the file at path (if non-empty) and the environment over
// Defaults, then validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
		}
		return nil
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("config file %s: unsupported extension (want .toml, .yaml or .yml)", path)
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite, BackendLevelDB:
		if strings.TrimSpace(c.DataPath) == "" {
			errs = append(errs, fmt.Errorf("data_path is required for the %s backend", c.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.BlockInterval < 0 {
		errs = append(errs, errors.New("block_interval must not be negative"))
	}
	if c.API.SubmitRate < 0 || c.API.SubmitBurst < 0 {
		errs = append(errs, errors.New("submit_rate and submit_burst must not be negative"))
	}
	if c.API.SubmitRate > 0 && c.API.SubmitBurst == 0 {
		errs = append(errs, errors.New("submit_burst must be positive when submit_rate is set"))
	}
	if c.Genesis.Address != "" {
		if _, err := ledger.ParseAmount(c.Genesis.Balance); err != nil {
			errs = append(errs, fmt.Errorf("genesis balance: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GenesisAlloc returns the genesis allocation, empty when no address is set.
func (c Config) GenesisAlloc() map[ledger.Address]ledger.Amount {
	if c.Genesis.Address == "" {
		return nil
	}
	amount, err := ledger.ParseAmount(c.Genesis.Balance)
	if err != nil {
		return nil
	}
	return map[ledger.Address]ledger.Amount{ledger.Address(c.Genesis.Address): amount}
}
