// Package alpaca implements the Broker contract for Alpaca Markets using the
// official alpaca-trade-api-go SDK for both trading and market data.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/oklog/ulid/v2"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
)

// Endpoints.
const (
	PaperURL = "https://paper-api.alpaca.markets"
	LiveURL  = "https://api.alpaca.markets"
	DataURL  = "https://data.alpaca.markets"
)

// Info is the static metadata for the Alpaca adapter.
var Info = domain.BrokerInfo{
	Key:             broker.KeyAlpaca,
	Name:            "Alpaca",
	AssetClasses:    []domain.AssetClass{domain.AssetClassStock, domain.AssetClassCrypto},
	AuthMethod:      domain.AuthMethodAPIKey,
	Status:          domain.BrokerStatusStable,
	Available:       true,
	SupportsTestnet: true,
	Website:         "https://alpaca.markets",
}

// Compile-time interface check.
var _ broker.Broker = (*Broker)(nil)

// Broker is the Alpaca adapter. Each instance owns its own SDK clients and
// session; nothing is shared through the SDK's package-level DefaultClient.
type Broker struct {
	opts    broker.Options
	logger  *slog.Logger
	trading *alpacaapi.Client
	data    *marketdata.Client
	session *broker.Session
	clock   *broker.QuoteClock
	feed    marketdata.Feed

	assetMu sync.Mutex
	assets  map[string]bool // native symbol -> tradable
	crypto  map[string]bool // crypto bases learned from asset lookups
}

// New constructs an Alpaca adapter. It performs no network I/O.
func New(creds broker.AlpacaCredentials, opts broker.Options) (*Broker, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(broker.KeyAlpaca); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(broker.KeyAlpaca)

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = LiveURL
		if opts.Paper() {
			baseURL = PaperURL
		}
	}
	dataURL := opts.DataURL
	if dataURL == "" {
		dataURL = DataURL
	}

	// RetryLimit -1 disables the SDK's blocking 429 retry loop; callers retry
	// through util.Retry with ctx-aware backoff instead.
	trading := alpacaapi.NewClient(alpacaapi.ClientOpts{
		APIKey:     creds.APIKey,
		APISecret:  creds.APISecret,
		OAuth:      creds.OAuthToken,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		RetryLimit: -1,
		HTTPClient: opts.HTTPClient,
	})
	data := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:     creds.APIKey,
		APISecret:  creds.APISecret,
		OAuth:      creds.OAuthToken,
		BaseURL:    strings.TrimRight(dataURL, "/"),
		RetryLimit: -1,
		HTTPClient: opts.HTTPClient,
	})

	opts.Logger.Debug("alpaca adapter created", "base_url", baseURL, "paper", opts.Paper(), "credentials", creds)

	return &Broker{
		opts:    opts,
		logger:  opts.Logger,
		trading: trading,
		data:    data,
		session: broker.NewSession(broker.KeyAlpaca, opts.Logger),
		clock:   broker.NewQuoteClock(),
		feed:    marketdata.IEX,
		assets:  make(map[string]bool),
		crypto:  make(map[string]bool),
	}, nil
}

// Name returns "alpaca".
func (b *Broker) Name() string { return broker.KeyAlpaca }

func (b *Broker) Info() domain.BrokerInfo { return Info }

func (b *Broker) IsConnected() bool { return b.session.IsConnected() }

// Close drops idle connections and disconnects the session.
func (b *Broker) Close() error {
	b.opts.HTTPClient.CloseIdleConnections()
	b.session.Close()
	return nil
}

// Authenticate verifies the key pair by fetching the account. Blocked
// accounts are treated as authentication failures.
func (b *Broker) Authenticate(ctx context.Context) error {
	return b.session.Authenticate(ctx, func(ctx context.Context) error {
		acct, err := bridge(ctx, b.trading.GetAccount)
		if err != nil {
			return mapError("Authenticate", err)
		}
		if acct.AccountBlocked || acct.TradingBlocked {
			return broker.NewError(broker.KindAuthentication, broker.KeyAlpaca, "Authenticate",
				fmt.Sprintf("account %s is blocked (status %s)", acct.AccountNumber, acct.Status), nil)
		}
		b.logger.Info("authenticated", "account_status", acct.Status, "currency", acct.Currency)
		return nil
	})
}

// TestConnection fetches the market clock.
func (b *Broker) TestConnection(ctx context.Context) bool {
	if _, err := bridge(ctx, b.trading.GetClock); err != nil {
		b.logger.Warn("connection test failed", "error", mapError("TestConnection", err))
		return false
	}
	return true
}

func (b *Broker) GetBalance(ctx context.Context) (domain.Balance, error) {
	return broker.Call(b.session, "GetBalance", func() (domain.Balance, error) {
		acct, err := bridge(ctx, b.trading.GetAccount)
		if err != nil {
			return domain.Balance{}, mapError("GetBalance", err)
		}
		return balanceFromAccount(acct), nil
	})
}

func (b *Broker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return broker.Call(b.session, "GetPositions", func() ([]domain.Position, error) {
		raw, err := bridge(ctx, b.trading.GetPositions)
		if err != nil {
			return nil, mapError("GetPositions", err)
		}
		out := make([]domain.Position, 0, len(raw))
		for _, p := range raw {
			out = append(out, b.positionFromAPI(p))
		}
		return out, nil
	})
}

func (b *Broker) CreateOrder(ctx context.Context, o domain.Order) (domain.OrderRecord, error) {
	if err := broker.ValidateOrder(broker.KeyAlpaca, o); err != nil {
		return domain.OrderRecord{}, err
	}
	req, err := b.placeOrderRequest(o)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	return broker.CallOrder(b.session, "CreateOrder", func() (domain.OrderRecord, error) {
		placed, err := bridge(ctx, func() (*alpacaapi.Order, error) { return b.trading.PlaceOrder(req) })
		if err != nil {
			return domain.OrderRecord{}, mapError("CreateOrder", err)
		}
		b.logger.Info("order placed", "id", placed.ID, "symbol", placed.Symbol, "side", placed.Side, "status", placed.Status)
		return b.recordFromAPI(*placed), nil
	})
}

func (b *Broker) placeOrderRequest(o domain.Order) (alpacaapi.PlaceOrderRequest, error) {
	symbol := b.DenormalizeSymbol(o.Symbol)
	crypto := broker.IsPair(broker.CleanSymbol(o.Symbol))

	if crypto && (o.Side == domain.OrderSideShort || o.Side == domain.OrderSideCover) {
		return alpacaapi.PlaceOrderRequest{}, broker.NewError(broker.KindValidation, broker.KeyAlpaca,
			"CreateOrder", "crypto cannot be sold short", nil)
	}

	tif := toTimeInForce(broker.TimeInForceOrDefault(o.TimeInForce))
	if crypto && tif == alpacaapi.Day {
		// Crypto orders only accept gtc and ioc.
		tif = alpacaapi.GTC
	}

	clientID := o.ClientOrderID
	if clientID == "" {
		clientID = ulid.Make().String()
	}

	qty := o.Quantity
	return alpacaapi.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &qty,
		Side:          toSide(o.Side),
		Type:          toOrderType(o.Type),
		TimeInForce:   tif,
		LimitPrice:    o.LimitPrice,
		StopPrice:     o.StopPrice,
		ClientOrderID: clientID,
	}, nil
}

// CancelOrder returns false when Alpaca reports the order unknown (404) or no
// longer cancellable (422).
func (b *Broker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return broker.CallOrder(b.session, "CancelOrder", func() (bool, error) {
		_, err := bridge(ctx, func() (struct{}, error) { return struct{}{}, b.trading.CancelOrder(orderID) })
		if err != nil {
			var apiErr *alpacaapi.APIError
			if errors.As(err, &apiErr) && (apiErr.StatusCode == 404 || apiErr.StatusCode == 422) {
				b.logger.Debug("order not cancellable", "id", orderID, "status", apiErr.StatusCode)
				return false, nil
			}
			return false, mapError("CancelOrder", err)
		}
		return true, nil
	})
}

// GetMarketPrice combines the latest quote with the latest trade. A missing
// trade leaves Last at zero.
func (b *Broker) GetMarketPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	return broker.Call(b.session, "GetMarketPrice", func() (domain.Quote, error) {
		canonical := b.NormalizeSymbol(symbol)
		if pairCandidate(canonical) && b.IsSymbolSupported(ctx, canonical) {
			// The lookup may have taught us a new crypto base.
			canonical = b.NormalizeSymbol(canonical)
		}
		var (
			q   domain.Quote
			ok  bool
			err error
		)
		if broker.IsPair(canonical) {
			q, ok, err = b.cryptoQuote(ctx, canonical)
		} else {
			q, ok, err = b.stockQuote(ctx, canonical)
		}
		if err != nil {
			return domain.Quote{}, mapError("GetMarketPrice", err)
		}
		if !ok {
			return domain.Quote{}, broker.NewError(broker.KindSymbolNotSupported, broker.KeyAlpaca,
				"GetMarketPrice", canonical, nil)
		}
		if err := broker.CheckQuote(broker.KeyAlpaca, q); err != nil {
			return domain.Quote{}, err
		}
		q.Timestamp = b.clock.Stamp(canonical, q.Timestamp)
		return q, nil
	})
}

func (b *Broker) stockQuote(ctx context.Context, symbol string) (domain.Quote, bool, error) {
	quote, err := bridge(ctx, func() (*marketdata.Quote, error) {
		return b.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{Feed: b.feed})
	})
	if err != nil || quote == nil {
		return domain.Quote{}, false, err
	}
	q := domain.Quote{
		Symbol:    symbol,
		Bid:       decimalFromFloat(quote.BidPrice),
		BidSize:   decimalFromFloat(float64(quote.BidSize)),
		Ask:       decimalFromFloat(quote.AskPrice),
		AskSize:   decimalFromFloat(float64(quote.AskSize)),
		Timestamp: quote.Timestamp,
	}
	trade, err := bridge(ctx, func() (*marketdata.Trade, error) {
		return b.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{Feed: b.feed})
	})
	if err == nil && trade != nil {
		q.Last = decimalFromFloat(trade.Price)
	}
	return q, true, nil
}

func (b *Broker) cryptoQuote(ctx context.Context, pair string) (domain.Quote, bool, error) {
	quote, err := bridge(ctx, func() (*marketdata.CryptoQuote, error) {
		return b.data.GetLatestCryptoQuote(pair, marketdata.GetLatestCryptoQuoteRequest{})
	})
	if err != nil || quote == nil {
		return domain.Quote{}, false, err
	}
	q := domain.Quote{
		Symbol:    pair,
		Bid:       decimalFromFloat(quote.BidPrice),
		BidSize:   decimalFromFloat(quote.BidSize),
		Ask:       decimalFromFloat(quote.AskPrice),
		AskSize:   decimalFromFloat(quote.AskSize),
		Timestamp: quote.Timestamp,
	}
	trade, err := bridge(ctx, func() (*marketdata.CryptoTrade, error) {
		return b.data.GetLatestCryptoTrade(pair, marketdata.GetLatestCryptoTradeRequest{})
	})
	if err == nil && trade != nil {
		q.Last = decimalFromFloat(trade.Price)
	}
	return q, true, nil
}

// IsSymbolSupported looks the asset up once and memoizes the answer.
func (b *Broker) IsSymbolSupported(ctx context.Context, symbol string) bool {
	native := b.DenormalizeSymbol(symbol)
	if native == "" {
		return false
	}

	b.assetMu.Lock()
	tradable, ok := b.assets[native]
	b.assetMu.Unlock()
	if ok {
		return tradable
	}

	if b.session.Require("IsSymbolSupported") != nil {
		return false
	}
	asset, err := bridge(ctx, func() (*alpacaapi.Asset, error) { return b.trading.GetAsset(native) })
	if err != nil {
		var apiErr *alpacaapi.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			b.remember(native, false)
		} else {
			b.session.Observe(mapError("IsSymbolSupported", err))
			b.logger.Warn("asset lookup failed", "symbol", native, "error", err)
		}
		return false
	}
	tradable = asset.Tradable && asset.Status == alpacaapi.AssetActive
	b.remember(native, tradable)
	if asset.Class == alpacaapi.Crypto {
		if base, ok := cryptoBase(asset.Symbol); ok {
			b.assetMu.Lock()
			b.crypto[base] = true
			b.assetMu.Unlock()
		}
	}
	return tradable
}

func (b *Broker) isCryptoBase(base string) bool {
	if isSnapshotBase(base) {
		return true
	}
	b.assetMu.Lock()
	defer b.assetMu.Unlock()
	return b.crypto[base]
}

func (b *Broker) remember(native string, tradable bool) {
	b.assetMu.Lock()
	b.assets[native] = tradable
	b.assetMu.Unlock()
}

func (b *Broker) NormalizeSymbol(native string) string      { return normalize(native, b.isCryptoBase) }
func (b *Broker) DenormalizeSymbol(canonical string) string { return denormalize(canonical) }

// GetFees returns Alpaca's published schedule. Equities are commission-free;
// crypto uses the entry volume tier.
func (b *Broker) GetFees(_ context.Context, symbol string) (domain.FeeSchedule, error) {
	return broker.Call(b.session, "GetFees", func() (domain.FeeSchedule, error) {
		if broker.IsPair(b.NormalizeSymbol(symbol)) {
			return cryptoFees, nil
		}
		return equityFees, nil
	})
}

func (b *Broker) GetOrderHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.OrderRecord, error) {
	return broker.Call(b.session, "GetOrderHistory", func() ([]domain.OrderRecord, error) {
		req := alpacaapi.GetOrdersRequest{
			Status:    "all",
			Limit:     q.EffectiveLimit(),
			After:     q.Since,
			Direction: "desc",
		}
		if q.Symbol != "" {
			req.Symbols = []string{b.DenormalizeSymbol(q.Symbol)}
		}
		orders, err := bridge(ctx, func() ([]alpacaapi.Order, error) { return b.trading.GetOrders(req) })
		if err != nil {
			return nil, mapError("GetOrderHistory", err)
		}
		records := make([]domain.OrderRecord, 0, len(orders))
		for _, o := range orders {
			records = append(records, b.recordFromAPI(o))
		}
		q.Symbol = b.NormalizeSymbol(q.Symbol)
		return broker.FilterHistory(records, q), nil
	})
}

// bridge runs a context-free SDK call and abandons it when ctx ends. The
// abandoned call is still bounded by the HTTP client timeout.
func bridge[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
