package alpaca

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
)

const accountJSON = `{
	"id": "acct-1",
	"account_number": "PA3X1",
	"status": "ACTIVE",
	"currency": "USD",
	"cash": "1000",
	"equity": "1500",
	"last_equity": "1400",
	"buying_power": "3000",
	"non_marginable_buying_power": "2000",
	"portfolio_value": "1500"
}`

type fakeAlpaca struct {
	*httptest.Server
	requests atomic.Int64
	lastBody atomic.Value
	authFail atomic.Bool
}

func newFakeAlpaca(t *testing.T) *fakeAlpaca {
	t.Helper()
	f := &fakeAlpaca{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v2/account", func(w http.ResponseWriter, r *http.Request) {
		if f.authFail.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"code":40110000,"message":"request is not authorized"}`)
			return
		}
		io.WriteString(w, accountJSON)
	})
	mux.HandleFunc("GET /v2/clock", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"timestamp":"2026-01-02T15:00:00Z","is_open":true}`)
	})
	mux.HandleFunc("GET /v2/positions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"symbol":"AAPL","asset_class":"us_equity","qty":"10","avg_entry_price":"150","side":"long",
			 "market_value":"1800","unrealized_pl":"300","unrealized_plpc":"0.2","current_price":"180"},
			{"symbol":"BTCUSD","asset_class":"crypto","qty":"0.5","avg_entry_price":"60000","side":"long",
			 "market_value":"31000","unrealized_pl":"1000","unrealized_plpc":"0.0333","current_price":"62000"}
		]`)
	})
	mux.HandleFunc("POST /v2/orders", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.lastBody.Store(string(body))
		io.WriteString(w, `{"id":"ord-1","client_order_id":"cid-1","symbol":"AAPL","side":"buy","type":"limit",
			"time_in_force":"day","status":"accepted","qty":"5","filled_qty":"0","limit_price":"180",
			"created_at":"2026-01-02T15:00:00Z","updated_at":"2026-01-02T15:00:00Z"}`)
	})
	mux.HandleFunc("GET /v2/orders", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"id":"ord-2","symbol":"AAPL","side":"sell","type":"market","time_in_force":"day","status":"filled",
			 "qty":"1","filled_qty":"1","filled_avg_price":"181","created_at":"2026-01-03T15:00:00Z","updated_at":"2026-01-03T15:00:01Z"},
			{"id":"ord-1","symbol":"AAPL","side":"buy","type":"limit","time_in_force":"day","status":"canceled",
			 "qty":"5","filled_qty":"0","limit_price":"180","created_at":"2026-01-02T15:00:00Z","updated_at":"2026-01-02T16:00:00Z"}
		]`)
	})
	mux.HandleFunc("DELETE /v2/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "gone" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, `{"code":42210000,"message":"order is not cancelable"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v2/stocks/quotes/latest", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbols") {
		case "AAPL":
			io.WriteString(w, `{"quotes":{"AAPL":{"t":"2026-01-02T15:00:00Z","bp":189.5,"bs":3,"ap":189.6,"as":2}}}`)
		case "XCRS":
			io.WriteString(w, `{"quotes":{"XCRS":{"t":"2026-01-02T15:00:00Z","bp":10.5,"bs":1,"ap":10.1,"as":1}}}`)
		default:
			io.WriteString(w, `{"quotes":{}}`)
		}
	})
	mux.HandleFunc("GET /v2/assets/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("symbol") != "NEWUSD" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"code":40410000,"message":"asset not found"}`)
			return
		}
		io.WriteString(w, `{"id":"a-1","class":"crypto","exchange":"CRYPTO","symbol":"NEW/USD",
			"name":"New Coin","status":"active","tradable":true}`)
	})
	mux.HandleFunc("GET /v1beta3/crypto/{loc}/latest/quotes", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbols") != "NEW/USD" {
			io.WriteString(w, `{"quotes":{}}`)
			return
		}
		io.WriteString(w, `{"quotes":{"NEW/USD":{"t":"2026-01-02T15:00:00Z","bp":1.5,"bs":10,"ap":1.6,"as":12}}}`)
	})
	mux.HandleFunc("GET /v2/stocks/trades/latest", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"trades":{"AAPL":{"t":"2026-01-02T15:00:00Z","p":189.55,"s":100}}}`)
	})

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestBroker(t *testing.T, f *fakeAlpaca) *Broker {
	t.Helper()
	b, err := New(broker.AlpacaCredentials{APIKey: "key", APISecret: "secret"},
		broker.Options{AccountType: domain.AccountTypePaper, BaseURL: f.URL, DataURL: f.URL})
	require.NoError(t, err)
	return b
}

func TestAlpacaBrokerName(t *testing.T) {
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)
	if got := b.Name(); got != "alpaca" {
		t.Errorf("Broker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestNewPerformsNoIO(t *testing.T) {
	f := newFakeAlpaca(t)
	newTestBroker(t, f)
	assert.Zero(t, f.requests.Load())
}

func TestNewRejectsBadCredentials(t *testing.T) {
	_, err := New(broker.AlpacaCredentials{APIKey: "only-key"}, broker.Options{})
	assert.True(t, errors.Is(err, broker.ErrValidation), "err = %v", err)
}

func TestAuthenticateAndBalance(t *testing.T) {
	ctx := context.Background()
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)

	_, err := b.GetBalance(ctx)
	require.ErrorIs(t, err, broker.ErrNotAuthenticated)

	require.NoError(t, b.Authenticate(ctx))
	require.True(t, b.IsConnected())

	bal, err := b.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Cash.Equal(decimal.NewFromInt(1000)))
	assert.True(t, bal.Equity.Equal(decimal.NewFromInt(1500)))
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(1500)), "available clamped to equity, got %s", bal.Available)
	assert.True(t, bal.BuyingPower.Equal(decimal.NewFromInt(3000)))
	assert.True(t, bal.ProfitLoss.Equal(decimal.NewFromInt(100)))
	assert.False(t, bal.Available.GreaterThan(bal.Equity))
}

func TestAuthenticateFailure(t *testing.T) {
	f := newFakeAlpaca(t)
	f.authFail.Store(true)
	b := newTestBroker(t, f)

	err := b.Authenticate(context.Background())
	require.ErrorIs(t, err, broker.ErrAuthentication)
	assert.False(t, b.IsConnected())
	assert.Equal(t, "40110000", err.(*broker.Error).Code)
}

func TestPositionsNormalizeCrypto(t *testing.T) {
	ctx := context.Background()
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)
	require.NoError(t, b.Authenticate(ctx))

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, "BTC/USD", positions[1].Symbol)
	assert.Equal(t, domain.AssetClassCrypto, positions[1].AssetClass)
	assert.True(t, positions[0].UnrealizedPnLPercent.Equal(decimal.NewFromInt(20)))
}

func TestCreateAndCancelOrder(t *testing.T) {
	ctx := context.Background()
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)
	require.NoError(t, b.Authenticate(ctx))

	limit := decimal.NewFromInt(180)
	rec, err := b.CreateOrder(ctx, domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.NewFromInt(5), LimitPrice: &limit, ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", rec.ID)
	assert.Equal(t, domain.OrderStatusPending, rec.Status)
	assert.Equal(t, "accepted", rec.RawStatus)

	body := f.lastBody.Load().(string)
	assert.Contains(t, body, `"type":"limit"`)
	assert.Contains(t, body, `"client_order_id":"cid-1"`)

	ok, err := b.CancelOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.CancelOrder(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateOrderValidatesBeforeIO(t *testing.T) {
	ctx := context.Background()
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)
	require.NoError(t, b.Authenticate(ctx))
	before := f.requests.Load()

	_, err := b.CreateOrder(ctx, domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideSell, Type: domain.OrderTypeStop, Quantity: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, broker.ErrValidation)
	assert.Equal(t, before, f.requests.Load())
}

func TestGetMarketPrice(t *testing.T) {
	ctx := context.Background()
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)
	require.NoError(t, b.Authenticate(ctx))

	q, err := b.GetMarketPrice(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.Bid.Equal(decimal.RequireFromString("189.5")))
	assert.True(t, q.Last.Equal(decimal.RequireFromString("189.55")))
	assert.False(t, q.Bid.GreaterThan(q.Ask))

	_, err = b.GetMarketPrice(ctx, "NOPE")
	assert.ErrorIs(t, err, broker.ErrSymbolNotSupported)

	_, err = b.GetMarketPrice(ctx, "XCRS")
	assert.ErrorIs(t, err, broker.ErrMarketClosed)
}

func TestOrderHistory(t *testing.T) {
	ctx := context.Background()
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)
	require.NoError(t, b.Authenticate(ctx))

	hist, err := b.GetOrderHistory(ctx, domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "ord-2", hist[0].ID)
	assert.Equal(t, domain.OrderStatusExecuted, hist[0].Status)
	assert.Equal(t, domain.OrderStatusCancelled, hist[1].Status)
}

func TestNetworkLossFailsSession(t *testing.T) {
	ctx := context.Background()
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)
	require.NoError(t, b.Authenticate(ctx))

	f.Close()
	_, err := b.GetBalance(ctx)
	require.ErrorIs(t, err, broker.ErrNetwork)
	assert.False(t, b.IsConnected())

	_, err = b.GetPositions(ctx)
	require.ErrorIs(t, err, broker.ErrNotAuthenticated)
	assert.False(t, b.TestConnection(ctx))
}

func TestSymbolRoundTrip(t *testing.T) {
	b := &Broker{}
	for _, canonical := range []string{"AAPL", "BTC/USD", "ETH/USDT", "DOGE/USD", "BRK.B"} {
		native := b.DenormalizeSymbol(canonical)
		if got := b.NormalizeSymbol(native); got != canonical {
			t.Errorf("NormalizeSymbol(DenormalizeSymbol(%q)) = %q (native %q)", canonical, got, native)
		}
	}
	if got := b.DenormalizeSymbol("btc/usd"); got != "BTCUSD" {
		t.Errorf("DenormalizeSymbol(btc/usd) = %q, want BTCUSD", got)
	}
	if got := b.NormalizeSymbol("USD"); got != "USD" {
		t.Errorf("NormalizeSymbol(USD) = %q, want USD unchanged", got)
	}
}

func TestFees(t *testing.T) {
	ctx := context.Background()
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)
	require.NoError(t, b.Authenticate(ctx))

	fees, err := b.GetFees(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, fees.Taker.IsZero())

	fees, err = b.GetFees(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.True(t, fees.Taker.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, strings.Contains(fees.Notes, "tier"))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		op   string
		err  error
		want error
	}{
		{"rate limited", "GetBalance", &alpacaapi.APIError{StatusCode: 429, Message: "slow down"}, broker.ErrRateLimited},
		{"buying power", "CreateOrder", &alpacaapi.APIError{StatusCode: 403, Code: codeInsufficientBuyingPower}, broker.ErrRejected},
		{"server error", "GetPositions", &alpacaapi.APIError{StatusCode: 599}, broker.ErrNetwork},
		{"deadline", "GetBalance", context.DeadlineExceeded, broker.ErrNetwork},
		{"plain body", "GetBalance", errors.New("<html>bad gateway</html> (HTTP 502)"), broker.ErrNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapError(tc.op, tc.err)
			assert.True(t, errors.Is(err, tc.want), "err = %v, want %v", err, tc.want)
		})
	}
}

func TestLearnsCryptoPairsOutsideSnapshot(t *testing.T) {
	f := newFakeAlpaca(t)
	b := newTestBroker(t, f)
	ctx := context.Background()
	require.NoError(t, b.Authenticate(ctx))

	assert.Equal(t, "NEWUSD", b.NormalizeSymbol("NEWUSD"))

	q, err := b.GetMarketPrice(ctx, "NEWUSD")
	require.NoError(t, err)
	assert.Equal(t, "NEW/USD", q.Symbol)
	assert.True(t, q.Bid.Equal(decimal.RequireFromString("1.5")), "bid = %s", q.Bid)

	native := b.DenormalizeSymbol("NEW/USD")
	assert.Equal(t, "NEWUSD", native)
	assert.Equal(t, "NEW/USD", b.NormalizeSymbol(native))
}
