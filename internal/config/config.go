// Package config loads the brokerhub YAML configuration and applies
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
)

// DefaultPath is used when neither a flag nor BROKERHUB_CONFIG names a file.
const DefaultPath = "config/brokerhub.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for brokerhub.
type Config struct {
	Logging  Logging   `yaml:"logging"`
	Server   Server    `yaml:"server"`
	Storage  Storage   `yaml:"storage"`
	Compare  Compare   `yaml:"compare"`
	Accounts []Account `yaml:"accounts"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Compare tunes the fee comparison fan-out.
type Compare struct {
	Timeout     time.Duration `yaml:"timeout"` // per broker
	MaxParallel int           `yaml:"max_parallel"`
}

// Account is one configured broker session.
type Account struct {
	Name            string            `yaml:"name"`
	Broker          string            `yaml:"broker"`
	Testnet         bool              `yaml:"testnet"`
	AccountType     string            `yaml:"account_type"`
	BaseURL         string            `yaml:"base_url"`
	DataURL         string            `yaml:"data_url"`
	RateLimitPerMin int               `yaml:"rate_limit_per_min"`
	Credentials     map[string]string `yaml:"credentials"`
}

// BrokerCredentials parses the account's credential map into the variant
// its broker expects.
func (a Account) BrokerCredentials() (broker.Credentials, error) {
	return broker.ParseCredentials(a.Broker, a.Credentials)
}

// BrokerOptions returns the adapter options for the account.
func (a Account) BrokerOptions(logger *slog.Logger) broker.Options {
	return broker.Options{
		Testnet:         a.Testnet,
		AccountType:     domain.AccountType(a.AccountType),
		BaseURL:         a.BaseURL,
		DataURL:         a.DataURL,
		RateLimitPerMin: a.RateLimitPerMin,
		Logger:          logger,
	}
}

// Account returns the account with the given name.
func (c *Config) Account(name string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return Account{}, false
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// ResolvePath picks the config file: the explicit path, then
// BROKERHUB_CONFIG, then DefaultPath.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if v := os.Getenv("BROKERHUB_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides and
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to an env-only configuration when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg = &Config{}
		applyEnvOverrides(cfg)
		applyDefaults(cfg)
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// Validate checks that accounts are named uniquely and name a broker.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("accounts[%d]: name is required", i)
		}
		if a.Broker == "" {
			return fmt.Errorf("account %q: broker is required", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("account %q: duplicate name", a.Name)
		}
		seen[a.Name] = true
	}
	if c.Compare.MaxParallel < 0 {
		return fmt.Errorf("compare.max_parallel must be positive")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Compare.Timeout == 0 {
		cfg.Compare.Timeout = 5 * time.Second
	}
	for i := range cfg.Accounts {
		cfg.Accounts[i].Broker = strings.ToLower(strings.TrimSpace(cfg.Accounts[i].Broker))
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set. Broker credentials
// apply to every account of that broker; when there is none, an account
// named after the broker is added.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	overrideCredentials(cfg, broker.KeyAlpaca, map[string]string{
		"api_key":    os.Getenv("APCA_API_KEY_ID"),
		"api_secret": os.Getenv("APCA_API_SECRET_KEY"),
	})
	overrideCredentials(cfg, broker.KeyKraken, map[string]string{
		"api_key":    os.Getenv("KRAKEN_API_KEY"),
		"api_secret": os.Getenv("KRAKEN_API_SECRET"),
	})
	overrideCredentials(cfg, broker.KeyIBKR, map[string]string{
		"host": os.Getenv("IBKR_HOST"),
		"port": os.Getenv("IBKR_PORT"),
	})
}

func overrideCredentials(cfg *Config, key string, env map[string]string) {
	set := make(map[string]string, len(env))
	for k, v := range env {
		if v != "" {
			set[k] = v
		}
	}
	if len(set) == 0 {
		return
	}

	found := false
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if !strings.EqualFold(a.Broker, key) {
			continue
		}
		found = true
		if a.Credentials == nil {
			a.Credentials = make(map[string]string, len(set))
		}
		for k, v := range set {
			a.Credentials[k] = v
		}
	}
	if !found {
		cfg.Accounts = append(cfg.Accounts, Account{Name: key, Broker: key, Credentials: set})
	}
}
