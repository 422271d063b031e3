package registry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
)

func TestBrokerInfo(t *testing.T) {
	r := Default()

	info, err := r.BrokerInfo("alpaca")
	require.NoError(t, err)
	if info.Name != "Alpaca" {
		t.Errorf("BrokerInfo(alpaca).Name = %q, want %q", info.Name, "Alpaca")
	}

	info, err = r.BrokerInfo(" IBKR ")
	require.NoError(t, err)
	assert.Equal(t, domain.BrokerStatusRequiresGateway, info.Status)

	_, err = r.BrokerInfo("etrade")
	assert.True(t, errors.Is(err, broker.ErrUnknownBroker), "err = %v", err)
}

func TestIsBrokerAvailable(t *testing.T) {
	r := Default()
	for key, want := range map[string]bool{
		"alpaca":       true,
		"ibkr":         true,
		"kraken":       true,
		"simulator":    true,
		"schwab":       false,
		"coinbase":     false,
		"tdameritrade": false,
		"etrade":       false,
	} {
		if got := r.IsBrokerAvailable(key); got != want {
			t.Errorf("IsBrokerAvailable(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestCreateBrokerErrors(t *testing.T) {
	r := Default()
	cases := []struct {
		name  string
		key   string
		creds broker.Credentials
		opts  broker.Options
		want  error
	}{
		{"unknown", "etrade", broker.SimulatorCredentials{}, broker.Options{}, broker.ErrUnknownBroker},
		{"planned", "schwab", broker.SimulatorCredentials{}, broker.Options{}, broker.ErrBrokerUnavailable},
		{"deprecated", "tdameritrade", broker.SimulatorCredentials{}, broker.Options{}, broker.ErrBrokerUnavailable},
		{"nil credentials", "alpaca", nil, broker.Options{}, broker.ErrValidation},
		{"wrong variant", "alpaca", broker.KrakenCredentials{APIKey: "k", APISecret: "c2VjcmV0"}, broker.Options{}, broker.ErrValidation},
		{"invalid credentials", "alpaca", broker.AlpacaCredentials{APIKey: "k"}, broker.Options{}, broker.ErrValidation},
		{"kraken missing keys", "kraken", broker.KrakenCredentials{}, broker.Options{}, broker.ErrValidation},
		{"kraken wrong variant", "kraken", broker.AlpacaCredentials{APIKey: "k", APISecret: "s"}, broker.Options{}, broker.ErrValidation},
		{"testnet live", "alpaca", broker.AlpacaCredentials{APIKey: "k", APISecret: "s"},
			broker.Options{Testnet: true, AccountType: domain.AccountTypeLive}, broker.ErrConfiguration},
		{"kraken testnet", "kraken", broker.KrakenCredentials{APIKey: "k", APISecret: "c2VjcmV0"},
			broker.Options{Testnet: true}, broker.ErrConfiguration},
		{"kraken paper", "kraken", broker.KrakenCredentials{APIKey: "k", APISecret: "c2VjcmV0"},
			broker.Options{AccountType: domain.AccountTypePaper}, broker.ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := r.CreateBroker(tc.key, tc.creds, tc.opts)
			assert.Nil(t, b)
			assert.True(t, errors.Is(err, tc.want), "err = %v, want %v", err, tc.want)
		})
	}
}

func TestCreateBrokerPerformsNoIO(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	r := Default()
	for key, creds := range map[string]broker.Credentials{
		"alpaca":    broker.AlpacaCredentials{APIKey: "k", APISecret: "s"},
		"kraken":    broker.KrakenCredentials{APIKey: "k", APISecret: "c2VjcmV0"},
		"ibkr":      broker.IBKRCredentials{},
		"simulator": broker.SimulatorCredentials{},
	} {
		b, err := r.CreateBroker(key, creds, broker.Options{BaseURL: srv.URL, DataURL: srv.URL})
		require.NoError(t, err, key)
		assert.Equal(t, key, b.Name())
		assert.False(t, b.IsConnected(), key)
	}
	assert.Zero(t, requests.Load())
}

func TestCreateBrokerFromParsedCredentials(t *testing.T) {
	creds, err := broker.ParseCredentials("simulator", map[string]string{"starting_cash": "5000"})
	require.NoError(t, err)
	b, err := Default().CreateBroker("simulator", creds, broker.Options{})
	require.NoError(t, err)
	assert.Equal(t, "simulator", b.Name())
}

func TestStats(t *testing.T) {
	s := Default().Stats()
	assert.Equal(t, 7, s.Registered)
	assert.Equal(t, 4, s.Available)
	assert.Equal(t, 3, s.Unavailable)
	assert.Equal(t, 3, s.ByStatus[domain.BrokerStatusStable])
	assert.Equal(t, 1, s.ByStatus[domain.BrokerStatusRequiresGateway])
	assert.Equal(t, 2, s.ByStatus[domain.BrokerStatusPlanned])
	assert.Equal(t, 1, s.ByStatus[domain.BrokerStatusDeprecated])
}

func TestListSorted(t *testing.T) {
	list := Default().List()
	require.Len(t, list, 7)
	for i := 1; i < len(list); i++ {
		if list[i-1].Key >= list[i].Key {
			t.Errorf("List not sorted: %q before %q", list[i-1].Key, list[i].Key)
		}
	}
	assert.Equal(t, []string{"alpaca", "ibkr", "kraken", "simulator"}, Default().Keys())
}

func TestRegisterCustom(t *testing.T) {
	r := New()
	r.Register(domain.BrokerInfo{Key: "Mock", Name: "Mock", Status: domain.BrokerStatusBeta},
		func(c broker.Credentials, o broker.Options) (broker.Broker, error) {
			return broker.NewSimulatorBroker(broker.SimulatorCredentials{}, o), nil
		})
	assert.True(t, r.IsBrokerAvailable("mock"))
}
