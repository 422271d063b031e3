package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"brokerhub/internal/broker"
	"brokerhub/internal/config"
)

// ErrUnknownAccount is returned for an account name absent from the
// configuration.
var ErrUnknownAccount = errors.New("unknown account")

// AccountStatus describes one configured account for operators.
type AccountStatus struct {
	Name      string `json:"name"`
	Broker    string `json:"broker"`
	Testnet   bool   `json:"testnet"`
	Opened    bool   `json:"opened"`
	Connected bool   `json:"connected"`
}

// Accounts opens configured accounts on demand and keeps their sessions.
// Adapters are created through the registry and authenticated on first use.
type Accounts struct {
	reg    *Registry
	logger *slog.Logger

	mu     sync.Mutex
	byName map[string]config.Account
	names  []string
	open   map[string]broker.Broker
}

// NewAccounts creates an account set over the configured accounts.
func NewAccounts(reg *Registry, accounts []config.Account, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Accounts{
		reg:    reg,
		logger: logger,
		byName: make(map[string]config.Account, len(accounts)),
		open:   make(map[string]broker.Broker),
	}
	for _, acc := range accounts {
		if _, dup := a.byName[acc.Name]; !dup {
			a.names = append(a.names, acc.Name)
		}
		a.byName[acc.Name] = acc
	}
	sort.Strings(a.names)
	return a
}

// Names returns the configured account names, sorted.
func (a *Accounts) Names() []string {
	return append([]string(nil), a.names...)
}

// Has reports whether name is configured.
func (a *Accounts) Has(name string) bool {
	_, ok := a.byName[name]
	return ok
}

// Create builds the adapter for name without authenticating it. The adapter
// is not cached.
func (a *Accounts) Create(name string) (broker.Broker, error) {
	acc, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccount, name)
	}
	if err := a.reg.CheckAvailable(acc.Broker); err != nil {
		return nil, fmt.Errorf("account %s: %w", name, err)
	}
	creds, err := acc.BrokerCredentials()
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", name, err)
	}
	b, err := a.reg.CreateBroker(acc.Broker, creds, acc.BrokerOptions(a.logger.With("account", name)))
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", name, err)
	}
	return b, nil
}

// Open returns the authenticated adapter for name, creating it on first use.
// An adapter whose session has failed is authenticated again.
func (a *Accounts) Open(ctx context.Context, name string) (broker.Broker, error) {
	a.mu.Lock()
	b, ok := a.open[name]
	a.mu.Unlock()

	if !ok {
		var err error
		if b, err = a.Create(name); err != nil {
			return nil, err
		}
		a.mu.Lock()
		if existing, raced := a.open[name]; raced {
			b = existing
		} else {
			a.open[name] = b
		}
		a.mu.Unlock()
	}

	if err := b.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("account %s: %w", name, err)
	}
	return b, nil
}

// OpenAll opens the named accounts concurrently. Accounts that fail are
// reported in the error map keyed by name.
func (a *Accounts) OpenAll(ctx context.Context, names []string) (map[string]broker.Broker, map[string]error) {
	var (
		mu     sync.Mutex
		opened = make(map[string]broker.Broker, len(names))
		failed = make(map[string]error)
	)
	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			b, err := a.Open(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[name] = err
				a.logger.Warn("opening account failed", "account", name, "error", err)
				return nil
			}
			opened[name] = b
			return nil
		})
	}
	_ = g.Wait()
	return opened, failed
}

// Status reports every configured account and its session state.
func (a *Accounts) Status() []AccountStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AccountStatus, 0, len(a.names))
	for _, name := range a.names {
		acc := a.byName[name]
		st := AccountStatus{Name: name, Broker: acc.Broker, Testnet: acc.Testnet}
		if b, ok := a.open[name]; ok {
			st.Opened = true
			st.Connected = b.IsConnected()
		}
		out = append(out, st)
	}
	return out
}

// Close closes every opened adapter.
func (a *Accounts) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for name, b := range a.open {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		delete(a.open, name)
	}
	return errors.Join(errs...)
}
