package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"brokerhub/internal/broker"
	"brokerhub/internal/config"
	"brokerhub/internal/engine"
	"brokerhub/internal/registry"
	"brokerhub/internal/store"
	"brokerhub/internal/util"
)

// app carries the state shared by every subcommand.
type app struct {
	out     io.Writer
	cfgPath string
	account string

	cfg      *config.Config
	logger   *slog.Logger
	reg      *registry.Registry
	accounts *registry.Accounts
	journal  *store.SQLiteStore
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	cmd := &cobra.Command{
		Use:          "brokerctl",
		Short:        "Drive broker accounts through one interface",
		SilenceUsage: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "config file (default $BROKERHUB_CONFIG or "+config.DefaultPath+")")
	cmd.PersistentFlags().StringVarP(&a.account, "account", "a", "", "configured account name (default: the only account)")

	cmd.AddCommand(
		newBrokersCmd(a),
		newStatsCmd(a),
		newAuthCmd(a),
		newPingCmd(a),
		newBalanceCmd(a),
		newPositionsCmd(a),
		newQuoteCmd(a),
		newFeesCmd(a),
		newOrderCmd(a),
		newCancelCmd(a),
		newHistoryCmd(a),
		newCompareCmd(a),
	)
	return cmd
}

// load reads the configuration once and wires the registry.
func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.LoadOrDefault(config.ResolvePath(a.cfgPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	// Logs go to stderr so command output stays parseable.
	a.logger = util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	util.SetDefault(a.logger)
	a.reg = registry.Default()
	a.accounts = registry.NewAccounts(a.reg, cfg.Accounts, a.logger)
	return nil
}

func (a *app) close() error {
	var err error
	if a.accounts != nil {
		err = a.accounts.Close()
	}
	if a.journal != nil {
		if cerr := a.journal.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// accountName resolves --account, defaulting to the only configured account.
func (a *app) accountName() (string, error) {
	if a.account != "" {
		return a.account, nil
	}
	names := a.accounts.Names()
	switch len(names) {
	case 0:
		return "", fmt.Errorf("no accounts configured")
	case 1:
		return names[0], nil
	}
	return "", fmt.Errorf("several accounts configured, pick one with --account: %s", strings.Join(names, ", "))
}

// open returns the authenticated adapter for the selected account.
func (a *app) open(cmd *cobra.Command) (broker.Broker, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	name, err := a.accountName()
	if err != nil {
		return nil, err
	}
	return a.accounts.Open(cmd.Context(), name)
}

// engine returns an Engine for the selected account journaling to SQLite
// and recording quotes to the Parquet tape.
func (a *app) engine(cmd *cobra.Command) (*engine.Engine, error) {
	b, err := a.open(cmd)
	if err != nil {
		return nil, err
	}
	if a.journal == nil {
		path := a.cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(a.cfg.Storage.DataDir, "orders.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		if a.journal, err = store.NewSQLiteStore(path); err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
	}
	return engine.NewEngine(b, a.journal, store.NewParquetStore(a.cfg.Storage.DataDir), a.logger), nil
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
