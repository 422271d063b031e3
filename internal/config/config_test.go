package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
)

var envVars = []string{
	"LOG_LEVEL", "LOG_FORMAT", "DATA_DIR", "SQLITE_PATH",
	"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "KRAKEN_API_KEY", "KRAKEN_API_SECRET",
	"IBKR_HOST", "IBKR_PORT", "BROKERHUB_CONFIG",
}

// clearEnv blanks every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brokerhub.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
logging:
  level: "debug"
  format: "text"
server:
  host: "0.0.0.0"
  port: 8081
  grpc_port: 9091
storage:
  data_dir: "/tmp/brokerhub/data"
  sqlite_path: "/tmp/brokerhub/orders.db"
compare:
  timeout: 3s
  max_parallel: 4
accounts:
  - name: alpaca-paper
    broker: Alpaca
    account_type: paper
    credentials:
      api_key: "test-key"
      api_secret: "test-secret"
  - name: gateway
    broker: ibkr
    credentials:
      host: "localhost"
      port: "5000"
      account_id: "DU123456"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}

	// -- Server --
	if cfg.Server.Port != 8081 || cfg.Server.GRPCPort != 9091 {
		t.Errorf("Server ports = %d/%d, want 8081/9091", cfg.Server.Port, cfg.Server.GRPCPort)
	}

	// -- Storage --
	if cfg.Storage.SQLitePath != "/tmp/brokerhub/orders.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/brokerhub/orders.db")
	}

	// -- Compare --
	if cfg.Compare.Timeout != 3*time.Second {
		t.Errorf("Compare.Timeout = %v, want 3s", cfg.Compare.Timeout)
	}
	if cfg.Compare.MaxParallel != 4 {
		t.Errorf("Compare.MaxParallel = %d, want 4", cfg.Compare.MaxParallel)
	}

	// -- Accounts --
	if len(cfg.Accounts) != 2 {
		t.Fatalf("len(Accounts) = %d, want 2", len(cfg.Accounts))
	}
	a, ok := cfg.Account("alpaca-paper")
	if !ok {
		t.Fatal("Account(alpaca-paper) not found")
	}
	if a.Broker != broker.KeyAlpaca {
		t.Errorf("Broker = %q, want normalized %q", a.Broker, broker.KeyAlpaca)
	}
	opts := a.BrokerOptions(nil)
	if opts.AccountType != domain.AccountTypePaper || !opts.Paper() {
		t.Errorf("BrokerOptions = %+v, want paper", opts)
	}
	creds, err := a.BrokerCredentials()
	if err != nil {
		t.Fatalf("BrokerCredentials: %v", err)
	}
	if ac, ok := creds.(broker.AlpacaCredentials); !ok || ac.APIKey != "test-key" {
		t.Errorf("credentials = %v, want alpaca test-key", creds)
	}

	g, _ := cfg.Account("gateway")
	creds, err = g.BrokerCredentials()
	if err != nil {
		t.Fatalf("BrokerCredentials(ibkr): %v", err)
	}
	if ic := creds.(broker.IBKRCredentials); ic.Port != 5000 || ic.AccountID != "DU123456" {
		t.Errorf("ibkr credentials = %v", ic)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "accounts: []\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
	if cfg.Server.Port != 8080 || cfg.Server.GRPCPort != 9090 {
		t.Errorf("Server = %+v, want 8080/9090", cfg.Server)
	}
	if cfg.Compare.Timeout != 5*time.Second {
		t.Errorf("Compare.Timeout = %v, want 5s", cfg.Compare.Timeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/original/data"
accounts:
  - name: main
    broker: alpaca
    credentials:
      api_key: "yaml-key"
      api_secret: "yaml-secret"
`)
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("KRAKEN_API_KEY", "kkey")
	t.Setenv("KRAKEN_API_SECRET", "a3Jha2Vu")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}

	main, _ := cfg.Account("main")
	if main.Credentials["api_key"] != "env-key" {
		t.Errorf("api_key = %q, want %q", main.Credentials["api_key"], "env-key")
	}
	if main.Credentials["api_secret"] != "yaml-secret" {
		t.Errorf("api_secret = %q, want the yaml value kept", main.Credentials["api_secret"])
	}

	k, ok := cfg.Account(broker.KeyKraken)
	if !ok {
		t.Fatal("env-only kraken account not added")
	}
	if k.Credentials["api_key"] != "kkey" || k.Broker != broker.KeyKraken {
		t.Errorf("kraken account = %+v", k)
	}
}

func TestLoadRejectsDuplicateAccounts(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
accounts:
  - name: a
    broker: simulator
  - name: a
    broker: simulator
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted duplicate account names")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("IBKR_HOST", "gateway.local")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() returned error: %v", err)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].Credentials["host"] != "gateway.local" {
		t.Errorf("Accounts = %+v, want one ibkr account from env", cfg.Accounts)
	}
}

func TestResolvePath(t *testing.T) {
	clearEnv(t)
	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("ResolvePath(\"\") = %q, want %q", got, DefaultPath)
	}
	t.Setenv("BROKERHUB_CONFIG", "/etc/brokerhub.yaml")
	if got := ResolvePath(""); got != "/etc/brokerhub.yaml" {
		t.Errorf("ResolvePath(\"\") = %q, want env value", got)
	}
	if got := ResolvePath("x.yaml"); got != "x.yaml" {
		t.Errorf("ResolvePath(x.yaml) = %q, want x.yaml", got)
	}
}

func TestLoadSampleConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", DefaultPath))
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if len(cfg.Accounts) != 4 {
		t.Fatalf("len(Accounts) = %d, want 4", len(cfg.Accounts))
	}
	for _, acc := range cfg.Accounts {
		if _, err := acc.BrokerCredentials(); err != nil {
			t.Errorf("account %s: BrokerCredentials: %v", acc.Name, err)
		}
	}
	if cfg.Compare.Timeout != 5*time.Second {
		t.Errorf("Compare.Timeout = %v, want 5s", cfg.Compare.Timeout)
	}
}
