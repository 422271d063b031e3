// Package registry is the broker factory. It maps broker keys to adapter
// constructors and static metadata, reports availability, and is the only
// place adapters are instantiated.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"brokerhub/internal/broker"
	"brokerhub/internal/broker/alpaca"
	"brokerhub/internal/broker/ibkr"
	"brokerhub/internal/broker/kraken"
	"brokerhub/internal/domain"
)

// Constructor builds an adapter from validated credentials and options. It
// must not perform network I/O.
type Constructor func(creds broker.Credentials, opts broker.Options) (broker.Broker, error)

type entry struct {
	info domain.BrokerInfo
	ctor Constructor // nil for planned and deprecated backends
}

// Registry holds broker metadata and constructors keyed by broker key.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Default returns a Registry with every built-in backend registered.
func Default() *Registry {
	r := New()
	r.Register(alpaca.Info, func(c broker.Credentials, o broker.Options) (broker.Broker, error) {
		creds, err := variant[broker.AlpacaCredentials](c)
		if err != nil {
			return nil, err
		}
		return alpaca.New(creds, o)
	})
	r.Register(ibkr.Info, func(c broker.Credentials, o broker.Options) (broker.Broker, error) {
		creds, err := variant[broker.IBKRCredentials](c)
		if err != nil {
			return nil, err
		}
		return ibkr.New(creds, o)
	})
	r.Register(kraken.Info, func(c broker.Credentials, o broker.Options) (broker.Broker, error) {
		creds, err := variant[broker.KrakenCredentials](c)
		if err != nil {
			return nil, err
		}
		return kraken.New(creds, o)
	})
	r.Register(broker.SimulatorInfo, func(c broker.Credentials, o broker.Options) (broker.Broker, error) {
		creds, err := variant[broker.SimulatorCredentials](c)
		if err != nil {
			return nil, err
		}
		return broker.NewSimulatorBroker(creds, o), nil
	})

	for _, info := range placeholders {
		r.Register(info, nil)
	}
	return r
}

// placeholders are backends known to operators but not implemented.
var placeholders = []domain.BrokerInfo{
	{
		Key:          "schwab",
		Name:         "Charles Schwab",
		AssetClasses: []domain.AssetClass{domain.AssetClassStock},
		AuthMethod:   domain.AuthMethodOAuth,
		Status:       domain.BrokerStatusPlanned,
		Website:      "https://www.schwab.com",
	},
	{
		Key:          "coinbase",
		Name:         "Coinbase Advanced Trade",
		AssetClasses: []domain.AssetClass{domain.AssetClassCrypto},
		AuthMethod:   domain.AuthMethodAPIKey,
		Status:       domain.BrokerStatusPlanned,
		Website:      "https://www.coinbase.com",
	},
	{
		Key:          "tdameritrade",
		Name:         "TD Ameritrade",
		AssetClasses: []domain.AssetClass{domain.AssetClassStock},
		AuthMethod:   domain.AuthMethodOAuth,
		Status:       domain.BrokerStatusDeprecated,
		Website:      "https://www.tdameritrade.com",
		Notes:        "accounts migrated to Schwab",
	},
}

// variant extracts the concrete credential type.
func variant[T broker.Credentials](c broker.Credentials) (T, error) {
	if v, ok := c.(T); ok {
		return v, nil
	}
	var zero T
	return zero, broker.NewError(broker.KindValidation, zero.BrokerKey(), "CreateBroker",
		fmt.Sprintf("credentials of type %T do not match broker", c), nil)
}

// Register adds or replaces the entry for info.Key. A nil ctor marks the
// backend unavailable regardless of its status.
func (r *Registry) Register(info domain.BrokerInfo, ctor Constructor) {
	info.Key = normalizeKey(info.Key)
	info.Available = ctor != nil && info.Status.Usable()
	r.mu.Lock()
	r.entries[info.Key] = entry{info: info, ctor: ctor}
	r.mu.Unlock()
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *Registry) lookup(key string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalizeKey(key)]
	return e, ok
}

// BrokerInfo returns the metadata for key.
func (r *Registry) BrokerInfo(key string) (domain.BrokerInfo, error) {
	e, ok := r.lookup(key)
	if !ok {
		return domain.BrokerInfo{}, broker.NewError(broker.KindUnknownBroker, normalizeKey(key), "BrokerInfo",
			fmt.Sprintf("unknown broker %q", key), nil)
	}
	return e.info, nil
}

// IsBrokerAvailable reports whether key is registered and can be created.
func (r *Registry) IsBrokerAvailable(key string) bool {
	e, ok := r.lookup(key)
	return ok && e.info.Available
}

// CheckAvailable returns an UnknownBroker error for an unregistered key and a
// BrokerUnavailable error for a planned or deprecated one.
func (r *Registry) CheckAvailable(key string) error {
	_, err := r.available(normalizeKey(key))
	return err
}

func (r *Registry) available(key string) (entry, error) {
	e, ok := r.lookup(key)
	switch {
	case !ok:
		return entry{}, broker.NewError(broker.KindUnknownBroker, key, "CreateBroker",
			fmt.Sprintf("unknown broker %q", key), nil)
	case !e.info.Available:
		return entry{}, broker.NewError(broker.KindBrokerUnavailable, key, "CreateBroker",
			fmt.Sprintf("%s is %s", e.info.Name, e.info.Status), nil)
	}
	return e, nil
}

// CreateBroker validates creds and opts for key and constructs the adapter.
// Malformed credentials are a Validation error. It never authenticates and
// performs no network I/O.
func (r *Registry) CreateBroker(key string, creds broker.Credentials, opts broker.Options) (broker.Broker, error) {
	key = normalizeKey(key)
	e, err := r.available(key)
	if err != nil {
		return nil, err
	}
	switch {
	case creds == nil:
		return nil, broker.NewError(broker.KindValidation, key, "CreateBroker", "credentials are required", nil)
	case creds.BrokerKey() != key:
		return nil, broker.NewError(broker.KindValidation, key, "CreateBroker",
			fmt.Sprintf("credentials are for %q", creds.BrokerKey()), nil)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(key); err != nil {
		return nil, err
	}
	if opts.Testnet && !e.info.SupportsTestnet {
		return nil, broker.NewError(broker.KindConfiguration, key, "CreateBroker",
			e.info.Name+" has no testnet", nil)
	}

	b, err := e.ctor(creds, opts)
	if err != nil {
		return nil, fmt.Errorf("creating %s adapter: %w", key, err)
	}
	return b, nil
}

// Stats summarises the registry.
func (r *Registry) Stats() domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := domain.RegistryStats{ByStatus: make(map[domain.BrokerStatus]int)}
	for _, e := range r.entries {
		s.Registered++
		if e.info.Available {
			s.Available++
		} else {
			s.Unavailable++
		}
		s.ByStatus[e.info.Status]++
	}
	return s
}

// List returns every entry's metadata sorted by key.
func (r *Registry) List() []domain.BrokerInfo {
	r.mu.RLock()
	out := make([]domain.BrokerInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns the sorted keys of available backends.
func (r *Registry) Keys() []string {
	var keys []string
	for _, info := range r.List() {
		if info.Available {
			keys = append(keys, info.Key)
		}
	}
	return keys
}
