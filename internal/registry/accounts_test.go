package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerhub/internal/broker"
	"brokerhub/internal/config"
)

func testAccounts() *Accounts {
	return NewAccounts(Default(), []config.Account{
		{Name: "paper", Broker: "simulator", Credentials: map[string]string{"starting_cash": "5000"}},
		{Name: "legacy", Broker: "tdameritrade"},
		{Name: "bad-cash", Broker: "simulator", Credentials: map[string]string{"starting_cash": "lots"}},
	}, nil)
}

func TestAccountsNames(t *testing.T) {
	a := testAccounts()
	assert.Equal(t, []string{"bad-cash", "legacy", "paper"}, a.Names())
}

func TestAccountsOpenCaches(t *testing.T) {
	ctx := context.Background()
	a := testAccounts()

	b1, err := a.Open(ctx, "paper")
	require.NoError(t, err)
	assert.True(t, b1.IsConnected())

	b2, err := a.Open(ctx, "paper")
	require.NoError(t, err)
	assert.Same(t, b1, b2)

	bal, err := b1.GetBalance(ctx)
	require.NoError(t, err)
	if !bal.Cash.Equal(bal.Equity) || bal.Cash.String() != "5000" {
		t.Errorf("Cash = %s, want 5000", bal.Cash)
	}
}

func TestAccountsOpenErrors(t *testing.T) {
	ctx := context.Background()
	a := testAccounts()

	_, err := a.Open(ctx, "nope")
	assert.True(t, errors.Is(err, ErrUnknownAccount), "err = %v", err)

	_, err = a.Open(ctx, "legacy")
	assert.True(t, errors.Is(err, broker.ErrBrokerUnavailable), "err = %v", err)

	_, err = a.Open(ctx, "bad-cash")
	assert.True(t, errors.Is(err, broker.ErrValidation), "err = %v", err)
}

func TestAccountsCreateChecksBrokerFirst(t *testing.T) {
	a := NewAccounts(Default(), []config.Account{
		{Name: "later", Broker: "schwab"},
		{Name: "crypto", Broker: "coinbase", Credentials: map[string]string{"api_key": "k"}},
		{Name: "elsewhere", Broker: "etrade"},
		{Name: "kraken", Broker: "kraken"},
	}, nil)

	for name, want := range map[string]error{
		"later":     broker.ErrBrokerUnavailable,
		"crypto":    broker.ErrBrokerUnavailable,
		"elsewhere": broker.ErrUnknownBroker,
		"kraken":    broker.ErrValidation,
	} {
		_, err := a.Create(name)
		assert.True(t, errors.Is(err, want), "%s: err = %v, want %v", name, err, want)
	}
}

func TestAccountsOpenAllAndStatus(t *testing.T) {
	a := testAccounts()
	opened, failed := a.OpenAll(context.Background(), a.Names())
	assert.Len(t, opened, 1)
	assert.Contains(t, opened, "paper")
	assert.Len(t, failed, 2)

	st := a.Status()
	require.Len(t, st, 3)
	assert.Equal(t, "paper", st[2].Name)
	assert.True(t, st[2].Opened)
	assert.True(t, st[2].Connected)
	assert.False(t, st[1].Opened)

	require.NoError(t, a.Close())
	st = a.Status()
	assert.False(t, st[2].Opened)
}
