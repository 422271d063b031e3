package ibkr

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
)

type fakeGateway struct {
	*httptest.Server
	requests  atomic.Int64
	confirms  atomic.Int64
	accountID atomic.Value
	expired   atomic.Bool
	noSummary atomic.Bool
	lastOrder atomic.Value
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	f := &fakeGateway{}
	f.accountID.Store("DU1234567")
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/api/iserver/auth/status", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"authenticated":true,"connected":true,"competing":false}`)
	})
	mux.HandleFunc("POST /v1/api/tickle", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"session":"abc"}`)
	})
	mux.HandleFunc("GET /v1/api/portfolio/accounts", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":"`+f.accountID.Load().(string)+`","currency":"USD","type":"INDIVIDUAL"}]`)
	})
	mux.HandleFunc("GET /v1/api/iserver/accounts", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"accounts":["`+f.accountID.Load().(string)+`"]}`)
	})
	mux.HandleFunc("GET /v1/api/portfolio/{acct}/summary", func(w http.ResponseWriter, r *http.Request) {
		if f.expired.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"not authenticated","statusCode":401}`)
			return
		}
		if f.noSummary.Load() {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"account not found","statusCode":404}`)
			return
		}
		io.WriteString(w, `{
			"netliquidation":{"amount":12000,"currency":"USD"},
			"totalcashvalue":{"amount":5000,"currency":"USD"},
			"availablefunds":{"amount":15000,"currency":"USD"},
			"buyingpower":{"amount":48000,"currency":"USD"},
			"grosspositionvalue":{"amount":7000,"currency":"USD"},
			"previousdayequitywithloanvalue":{"amount":11000,"currency":"USD"}
		}`)
	})
	mux.HandleFunc("GET /v1/api/portfolio/{acct}/positions/0", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"conid":72063691,"contractDesc":"BRK B","ticker":"BRK B","position":10,"mktPrice":400,
			 "mktValue":4000,"avgPrice":350,"avgCost":350,"unrealizedPnl":500,"assetClass":"STK"},
			{"conid":265598,"contractDesc":"AAPL","ticker":"AAPL","position":0,"mktPrice":190,
			 "mktValue":0,"avgPrice":0,"unrealizedPnl":0,"assetClass":"STK"}
		]`)
	})
	mux.HandleFunc("GET /v1/api/iserver/secdef/search", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			io.WriteString(w, `[{"conid":"265598","symbol":"AAPL","sections":[{"secType":"STK"},{"secType":"OPT"}]}]`)
		case "SHUT":
			io.WriteString(w, `[{"conid":"999","symbol":"SHUT","sections":[{"secType":"STK"}]}]`)
		case "BRK B":
			io.WriteString(w, `[{"conid":"72063691","symbol":"BRK B","sections":[{"secType":"STK"}]}]`)
		default:
			io.WriteString(w, `{"error":"No symbol found"}`)
		}
	})
	mux.HandleFunc("GET /v1/api/iserver/marketdata/snapshot", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("conids") {
		case "265598":
			io.WriteString(w, `[{"conid":265598,"_updated":1767366000000,"31":"189.55","84":"189.50","85":"200","86":"189.60","88":"300"}]`)
		default:
			io.WriteString(w, `[{"conid":999,"_updated":1767366000000,"31":"C42.10"}]`)
		}
	})
	mux.HandleFunc("POST /v1/api/iserver/account/{acct}/orders", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.lastOrder.Store(string(body))
		io.WriteString(w, `[{"id":"reply-1","message":["You are submitting an order without market data."]}]`)
	})
	mux.HandleFunc("POST /v1/api/iserver/reply/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.confirms.Add(1)
		io.WriteString(w, `[{"order_id":"1001","order_status":"PreSubmitted"}]`)
	})
	mux.HandleFunc("DELETE /v1/api/iserver/account/{acct}/order/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "1001" {
			io.WriteString(w, `{"msg":"Request was submitted","order_id":1001}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"OrderID 42 doesn't exist"}`)
	})
	mux.HandleFunc("GET /v1/api/iserver/account/orders", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"orders":[
			{"orderId":1,"conid":265598,"ticker":"AAPL","side":"BUY","orderType":"Limit","timeInForce":"DAY",
			 "totalSize":"10","filledQuantity":"10","avgPrice":"189.5","price":"190","status":"Filled",
			 "order_ref":"bh0-a","lastExecutionTime_r":1767366000000},
			{"orderId":2,"conid":72063691,"ticker":"BRK B","side":"SELL","orderType":"Market","timeInForce":"DAY",
			 "totalSize":"5","filledQuantity":"0","status":"Cancelled","lastExecutionTime_r":1767452400000}
		]}`)
	})

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestBroker(t *testing.T, f *fakeGateway, opts broker.Options) *Broker {
	t.Helper()
	opts.BaseURL = f.URL + "/v1/api"
	opts.RateLimitPerMin = 60000
	b, err := New(broker.IBKRCredentials{ClientID: 7}, opts)
	require.NoError(t, err)
	return b
}

func connected(t *testing.T, f *fakeGateway) *Broker {
	t.Helper()
	b := newTestBroker(t, f, broker.Options{AccountType: domain.AccountTypePaper})
	require.NoError(t, b.Authenticate(context.Background()))
	return b
}

func TestIBKRBrokerName(t *testing.T) {
	f := newFakeGateway(t)
	b := newTestBroker(t, f, broker.Options{})
	if got := b.Name(); got != "ibkr" {
		t.Errorf("Broker.Name() = %q, want %q", got, "ibkr")
	}
	assert.Equal(t, domain.BrokerStatusRequiresGateway, b.Info().Status)
}

func TestNewPerformsNoIO(t *testing.T) {
	f := newFakeGateway(t)
	newTestBroker(t, f, broker.Options{})
	assert.Zero(t, f.requests.Load())
}

func TestNewRejectsBadPort(t *testing.T) {
	_, err := New(broker.IBKRCredentials{Port: 70000}, broker.Options{})
	assert.True(t, errors.Is(err, broker.ErrValidation), "err = %v", err)
}

func TestAuthenticateGatewayUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	b, err := New(broker.IBKRCredentials{}, broker.Options{BaseURL: "https://" + addr + "/v1/api"})
	require.NoError(t, err)

	err = b.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrConfiguration), "err = %v", err)
	assert.Contains(t, err.Error(), "start the Client Portal gateway")
	assert.False(t, b.IsConnected())
}

func TestAuthenticatePaperMismatch(t *testing.T) {
	f := newFakeGateway(t)
	b := newTestBroker(t, f, broker.Options{AccountType: domain.AccountTypeLive})

	err := b.Authenticate(context.Background())
	assert.True(t, errors.Is(err, broker.ErrConfiguration), "err = %v", err)
	assert.False(t, b.IsConnected())

	f.accountID.Store("U7654321")
	b = newTestBroker(t, f, broker.Options{Testnet: true})
	err = b.Authenticate(context.Background())
	assert.True(t, errors.Is(err, broker.ErrConfiguration), "err = %v", err)
}

func TestRequiresAuthentication(t *testing.T) {
	f := newFakeGateway(t)
	b := newTestBroker(t, f, broker.Options{})
	_, err := b.GetBalance(context.Background())
	assert.True(t, errors.Is(err, broker.ErrNotAuthenticated), "err = %v", err)
	assert.Zero(t, f.requests.Load())
}

func TestBalance(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)

	bal, err := b.GetBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.Equity.Equal(decimal.NewFromInt(12000)))
	assert.True(t, bal.Cash.Equal(decimal.NewFromInt(5000)))
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(12000)), "available = %s", bal.Available)
	assert.True(t, bal.BuyingPower.Equal(decimal.NewFromInt(48000)))
	assert.True(t, bal.PortfolioValue.Equal(decimal.NewFromInt(12000)))
	assert.True(t, bal.ProfitLoss.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "USD", bal.Currency)
}

func TestExpiredSessionFails(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)
	f.expired.Store(true)

	_, err := b.GetBalance(context.Background())
	assert.True(t, errors.Is(err, broker.ErrNotAuthenticated), "err = %v", err)
	assert.False(t, b.IsConnected())
}

func TestPositions(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)

	positions, err := b.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, "BRK.B", p.Symbol)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, p.UnrealizedPnLPercent.Equal(decimal.RequireFromString("14.2857")), "pct = %s", p.UnrealizedPnLPercent)
}

func TestGetMarketPrice(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)
	ctx := context.Background()

	q, err := b.GetMarketPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, q.Bid.Equal(decimal.RequireFromString("189.50")))
	assert.True(t, q.Ask.Equal(decimal.RequireFromString("189.60")))
	assert.True(t, q.Last.Equal(decimal.RequireFromString("189.55")))
	assert.False(t, q.Timestamp.IsZero())

	_, err = b.GetMarketPrice(ctx, "SHUT")
	assert.True(t, errors.Is(err, broker.ErrMarketClosed), "err = %v", err)

	_, err = b.GetMarketPrice(ctx, "NOPE")
	assert.True(t, errors.Is(err, broker.ErrSymbolNotSupported), "err = %v", err)

	_, err = b.GetMarketPrice(ctx, "BTC/USD")
	assert.True(t, errors.Is(err, broker.ErrSymbolNotSupported), "err = %v", err)
	assert.True(t, b.IsConnected())
}

func TestContractIDsMemoized(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)
	ctx := context.Background()

	assert.True(t, b.IsSymbolSupported(ctx, "AAPL"))
	before := f.requests.Load()
	assert.True(t, b.IsSymbolSupported(ctx, "aapl"))
	assert.False(t, b.IsSymbolSupported(ctx, "NOPE"))
	assert.False(t, b.IsSymbolSupported(ctx, "NOPE"))
	assert.Equal(t, before+1, f.requests.Load())
}

func TestCreateOrderConfirmsWarnings(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)

	limit := decimal.NewFromInt(190)
	rec, err := b.CreateOrder(context.Background(), domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.NewFromInt(10), LimitPrice: &limit, ClientOrderID: "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "1001", rec.ID)
	assert.Equal(t, "bh7-abc", rec.ClientOrderID)
	assert.Equal(t, domain.OrderStatusPending, rec.Status)
	assert.Equal(t, int64(1), f.confirms.Load())

	body := f.lastOrder.Load().(string)
	assert.Contains(t, body, `"orderType":"LMT"`)
	assert.Contains(t, body, `"conid":265598`)
	assert.Contains(t, body, `"quantity":10`)
}

func TestCreateOrderValidatesBeforeIO(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)
	before := f.requests.Load()
	ctx := context.Background()

	_, err := b.CreateOrder(ctx, domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeStop, Quantity: decimal.NewFromInt(1),
	})
	assert.True(t, errors.Is(err, broker.ErrValidation), "err = %v", err)

	_, err = b.CreateOrder(ctx, domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Quantity: decimal.RequireFromString("1.5"),
	})
	assert.True(t, errors.Is(err, broker.ErrValidation), "err = %v", err)

	_, err = b.CreateOrder(ctx, domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
		TimeInForce: domain.TimeInForceFOK,
	})
	assert.True(t, errors.Is(err, broker.ErrValidation), "err = %v", err)

	assert.Equal(t, before, f.requests.Load())
}

func TestCancelOrder(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)
	ctx := context.Background()

	ok, err := b.CancelOrder(ctx, "1001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.CancelOrder(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderHistory(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)

	recs, err := b.GetOrderHistory(context.Background(), domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "BRK.B", recs[0].Symbol)
	assert.Equal(t, domain.OrderStatusCancelled, recs[0].Status)
	assert.Equal(t, domain.OrderStatusExecuted, recs[1].Status)
	assert.Equal(t, domain.OrderTypeLimit, recs[1].Type)
	require.NotNil(t, recs[1].LimitPrice)
	assert.True(t, recs[1].LimitPrice.Equal(decimal.NewFromInt(190)))

	recs, err = b.GetOrderHistory(context.Background(), domain.HistoryQuery{Symbol: "aapl"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestFees(t *testing.T) {
	f := newFakeGateway(t)
	b := connected(t, f)

	fees, err := b.GetFees(context.Background(), "AAPL")
	require.NoError(t, err)
	want := decimal.RequireFromString("0.005").Div(decimal.RequireFromString("189.55")).Mul(decimal.NewFromInt(100)).Round(6)
	assert.True(t, fees.Taker.Equal(want), "taker = %s, want %s", fees.Taker, want)
	assert.True(t, strings.Contains(fees.Notes, "min USD 1.00"))
}

func TestTestConnectionNeverErrors(t *testing.T) {
	f := newFakeGateway(t)
	b := newTestBroker(t, f, broker.Options{})
	assert.True(t, b.TestConnection(context.Background()))

	f.Close()
	assert.False(t, b.TestConnection(context.Background()))
	assert.False(t, b.IsConnected())
}

func TestSymbolRoundTrip(t *testing.T) {
	b, err := New(broker.IBKRCredentials{}, broker.Options{})
	require.NoError(t, err)
	for _, s := range []string{"AAPL", "BRK.B", "MSFT"} {
		native := b.DenormalizeSymbol(s)
		if got := b.NormalizeSymbol(native); got != s {
			t.Errorf("NormalizeSymbol(DenormalizeSymbol(%q)) = %q", s, got)
		}
	}
	assert.Equal(t, "BRK B", b.DenormalizeSymbol("BRK.B"))
	assert.Equal(t, "BRK.B", b.NormalizeSymbol("brk b"))
}

func TestNotFoundOutsideSymbolLookup(t *testing.T) {
	f := newFakeGateway(t)
	b := newTestBroker(t, f, broker.Options{})
	ctx := context.Background()
	require.NoError(t, b.Authenticate(ctx))

	f.noSummary.Store(true)
	_, err := b.GetBalance(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrConfiguration), "err = %v", err)
	assert.False(t, errors.Is(err, broker.ErrSymbolNotSupported), "err = %v", err)
}

func TestMapSymbolError(t *testing.T) {
	notFound := &httpError{status: http.StatusNotFound, msg: "no such contract"}
	assert.True(t, errors.Is(mapSymbolError("GetMarketPrice", "AAPL", notFound), broker.ErrSymbolNotSupported))
	assert.True(t, errors.Is(mapError("GetBalance", notFound), broker.ErrConfiguration))

	busy := &httpError{status: http.StatusTooManyRequests, msg: "slow down"}
	assert.True(t, errors.Is(mapSymbolError("GetMarketPrice", "AAPL", busy), broker.ErrRateLimited))
}
