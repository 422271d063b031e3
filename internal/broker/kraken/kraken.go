// Package kraken implements the Broker contract for the Kraken spot exchange
// over its signed REST API. Kraken has no sandbox, so the adapter refuses
// paper and testnet options at construction.
package kraken

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/util"
)

// BaseURL is Kraken's REST endpoint.
const BaseURL = "https://api.kraken.com"

// Info is the static metadata for the Kraken adapter.
var Info = domain.BrokerInfo{
	Key:             broker.KeyKraken,
	Name:            "Kraken",
	AssetClasses:    []domain.AssetClass{domain.AssetClassCrypto},
	AuthMethod:      domain.AuthMethodAPIKey,
	Status:          domain.BrokerStatusStable,
	Available:       true,
	SupportsTestnet: false,
	Website:         "https://www.kraken.com",
	Notes:           "spot only; no paper or testnet environment",
}

// defaultRatePerMin approximates the starter tier's decaying call counter.
const defaultRatePerMin = 60

// pingTimeout bounds TestConnection.
const pingTimeout = 5 * time.Second

// maxClientOrderID is Kraken's cl_ord_id limit for free-text ids.
const maxClientOrderID = 18

// Compile-time interface check.
var _ broker.Broker = (*Broker)(nil)

// Broker is the Kraken adapter.
type Broker struct {
	opts    broker.Options
	logger  *slog.Logger
	rest    *restClient
	session *broker.Session
	clock   *broker.QuoteClock

	pairMu sync.RWMutex
	pairs  map[string]string // canonical -> alt name, "" = unknown pair
}

// New constructs a Kraken adapter. It performs no network I/O.
func New(creds broker.KrakenCredentials, opts broker.Options) (*Broker, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(broker.KeyKraken); err != nil {
		return nil, err
	}
	if opts.Paper() {
		return nil, broker.NewError(broker.KindConfiguration, broker.KeyKraken, "options",
			"kraken has no paper or testnet environment", nil)
	}
	secret, err := base64.StdEncoding.DecodeString(creds.APISecret)
	if err != nil {
		return nil, broker.NewError(broker.KindValidation, broker.KeyKraken, "credentials",
			"api_secret is not valid base64", err)
	}
	opts = opts.WithRateDefaults(broker.KeyKraken, defaultRatePerMin)

	base := opts.BaseURL
	if base == "" {
		base = BaseURL
	}
	return &Broker{
		opts:   opts,
		logger: opts.Logger,
		rest: &restClient{
			base:    strings.TrimRight(base, "/"),
			key:     creds.APIKey,
			secret:  secret,
			http:    opts.HTTPClient,
			limiter: util.NewRateLimiter(opts.RateLimitPerMin),
			logger:  opts.Logger,
		},
		session: broker.NewSession(broker.KeyKraken, opts.Logger),
		clock:   broker.NewQuoteClock(),
		pairs:   make(map[string]string),
	}, nil
}

// Name returns "kraken".
func (b *Broker) Name() string { return broker.KeyKraken }

func (b *Broker) Info() domain.BrokerInfo { return Info }

func (b *Broker) IsConnected() bool { return b.session.IsConnected() }

// Authenticate verifies the key pair with a signed balance request.
func (b *Broker) Authenticate(ctx context.Context) error {
	return b.session.Authenticate(ctx, func(ctx context.Context) error {
		if err := b.rest.private(ctx, "BalanceEx", nil, nil); err != nil {
			return mapError("Authenticate", err)
		}
		return nil
	})
}

// TestConnection checks the exchange is up and the key pair is accepted with
// a signed balance request. The session state is left untouched.
func (b *Broker) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	var st systemStatus
	if err := b.rest.public(ctx, "SystemStatus", nil, &st); err != nil {
		b.logger.Warn("connection test failed", "error", mapError("TestConnection", err))
		return false
	}
	if st.Status == "maintenance" {
		b.logger.Warn("connection test failed", "status", st.Status)
		return false
	}
	if err := b.rest.private(ctx, "BalanceEx", nil, nil); err != nil {
		b.logger.Warn("connection test failed", "error", mapError("TestConnection", err))
		return false
	}
	return true
}

func (b *Broker) Close() error {
	b.rest.http.CloseIdleConnections()
	b.session.Close()
	return nil
}

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

func (b *Broker) balances(ctx context.Context) (map[string]balanceEx, error) {
	var raw map[string]balanceEx
	if err := b.rest.private(ctx, "BalanceEx", nil, &raw); err != nil {
		return nil, err
	}
	// Fold staking/earn variants (XBT.F) into their base asset.
	out := make(map[string]balanceEx, len(raw))
	for code, v := range raw {
		asset := canonicalAsset(code)
		cur := out[asset]
		cur.Balance = cur.Balance.Add(v.Balance)
		cur.HoldTrade = cur.HoldTrade.Add(v.HoldTrade)
		out[asset] = cur
	}
	return out, nil
}

// GetBalance values the account in USD: equity is the equivalent balance,
// available is equity less USD held by open orders.
func (b *Broker) GetBalance(ctx context.Context) (domain.Balance, error) {
	return broker.Call(b.session, "GetBalance", func() (domain.Balance, error) {
		bals, err := b.balances(ctx)
		if err != nil {
			return domain.Balance{}, mapError("GetBalance", err)
		}
		var tb tradeBalance
		if err := b.rest.private(ctx, "TradeBalance", url.Values{"asset": {"ZUSD"}}, &tb); err != nil {
			return domain.Balance{}, mapError("GetBalance", err)
		}
		usd := bals["USD"]
		available := tb.EquivalentBalance.Sub(usd.HoldTrade)
		return broker.BuildBalance(broker.RawBalance{
			Cash:        usd.Balance,
			Equity:      tb.EquivalentBalance,
			Available:   broker.Ptr(available),
			BuyingPower: broker.Ptr(available),
			ProfitLoss:  tb.UnrealizedNet,
			Currency:    "USD",
		}), nil
	})
}

// GetPositions reports non-fiat spot holdings valued at the last USD trade.
func (b *Broker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return broker.Call(b.session, "GetPositions", func() ([]domain.Position, error) {
		bals, err := b.balances(ctx)
		if err != nil {
			return nil, mapError("GetPositions", err)
		}
		var assets []string
		for asset, v := range bals {
			if fiat[asset] || !v.Balance.IsPositive() {
				continue
			}
			assets = append(assets, asset)
		}
		if len(assets) == 0 {
			return []domain.Position{}, nil
		}
		sort.Strings(assets)

		natives := make([]string, len(assets))
		for i, a := range assets {
			natives[i] = denormalize(a + "/USD")
		}
		prices := make(map[string]decimal.Decimal)
		var tickers map[string]ticker
		err = b.rest.public(ctx, "Ticker", url.Values{"pair": {strings.Join(natives, ",")}}, &tickers)
		if err != nil && !hasCode(err, "EQuery:Unknown asset pair") {
			return nil, mapError("GetPositions", err)
		}
		for name, t := range tickers {
			prices[normalize(name)] = at(t.Last, 0)
		}

		out := make([]domain.Position, 0, len(assets))
		for _, a := range assets {
			qty := bals[a].Balance
			price := prices[a+"/USD"]
			out = append(out, domain.Position{
				Symbol:       a + "/USD",
				AssetClass:   domain.AssetClassCrypto,
				Quantity:     qty,
				CurrentPrice: price,
				MarketValue:  qty.Mul(price),
			})
		}
		return out, nil
	})
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// pair resolves and memoizes the Kraken alt name for a canonical pair.
func (b *Broker) pair(ctx context.Context, op, symbol string) (string, string, error) {
	canonical := normalize(symbol)
	if !broker.IsPair(canonical) {
		return "", canonical, broker.NewError(broker.KindSymbolNotSupported, broker.KeyKraken, op,
			canonical+": only crypto pairs are traded", nil)
	}

	b.pairMu.RLock()
	alt, ok := b.pairs[canonical]
	b.pairMu.RUnlock()
	if !ok {
		var res map[string]assetPair
		err := b.rest.public(ctx, "AssetPairs", url.Values{"pair": {denormalize(canonical)}}, &res)
		switch {
		case hasCode(err, "EQuery:Unknown asset pair"):
		case err != nil:
			return "", canonical, mapError(op, err)
		default:
			for _, p := range res {
				alt = p.Altname
			}
		}
		b.pairMu.Lock()
		b.pairs[canonical] = alt
		b.pairMu.Unlock()
	}
	if alt == "" {
		return "", canonical, broker.NewError(broker.KindSymbolNotSupported, broker.KeyKraken, op, canonical, nil)
	}
	return alt, canonical, nil
}

func (b *Broker) GetMarketPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	return broker.Call(b.session, "GetMarketPrice", func() (domain.Quote, error) {
		alt, canonical, err := b.pair(ctx, "GetMarketPrice", symbol)
		if err != nil {
			return domain.Quote{}, err
		}
		var res map[string]ticker
		if err := b.rest.public(ctx, "Ticker", url.Values{"pair": {alt}}, &res); err != nil {
			return domain.Quote{}, mapError("GetMarketPrice", err)
		}
		var t ticker
		for _, v := range res {
			t = v
		}
		q := domain.Quote{
			Symbol:  canonical,
			Bid:     at(t.Bid, 0),
			BidSize: at(t.Bid, 2),
			Ask:     at(t.Ask, 0),
			AskSize: at(t.Ask, 2),
			Last:    at(t.Last, 0),
		}
		if err := broker.CheckQuote(broker.KeyKraken, q); err != nil {
			return domain.Quote{}, err
		}
		q.Timestamp = b.clock.Stamp(canonical, time.Time{})
		return q, nil
	})
}

func (b *Broker) IsSymbolSupported(ctx context.Context, symbol string) bool {
	_, _, err := b.pair(ctx, "IsSymbolSupported", symbol)
	if err != nil && broker.KindOf(err) != broker.KindSymbolNotSupported {
		b.logger.Warn("pair lookup failed", "symbol", symbol, "error", err)
	}
	return err == nil
}

func (b *Broker) NormalizeSymbol(native string) string      { return normalize(native) }
func (b *Broker) DenormalizeSymbol(canonical string) string { return denormalize(canonical) }

// GetFees returns the account's current volume tier for the pair.
func (b *Broker) GetFees(ctx context.Context, symbol string) (domain.FeeSchedule, error) {
	return broker.Call(b.session, "GetFees", func() (domain.FeeSchedule, error) {
		alt, _, err := b.pair(ctx, "GetFees", symbol)
		if err != nil {
			return domain.FeeSchedule{}, err
		}
		var tv tradeVolume
		if err := b.rest.private(ctx, "TradeVolume", url.Values{"pair": {alt}}, &tv); err != nil {
			return domain.FeeSchedule{}, mapError("GetFees", err)
		}
		taker, ok := first(tv.Fees)
		if !ok {
			return domain.FeeSchedule{}, broker.NewError(broker.KindSymbolNotSupported, broker.KeyKraken,
				"GetFees", "no fee tier for "+alt, nil)
		}
		maker, ok := first(tv.FeesMaker)
		if !ok {
			maker = taker
		}
		notes := fmt.Sprintf("30-day volume %s %s", tv.Volume.StringFixed(2), canonicalAsset(tv.Currency))
		if taker.NextFee.IsPositive() {
			notes += fmt.Sprintf("; taker drops to %s%% at %s", taker.NextFee, taker.NextVolume)
		}
		return domain.FeeSchedule{
			Maker:  maker.Fee,
			Taker:  taker.Fee,
			Tiered: true,
			Notes:  notes,
		}, nil
	})
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

var orderTypes = map[domain.OrderType]string{
	domain.OrderTypeMarket:    "market",
	domain.OrderTypeLimit:     "limit",
	domain.OrderTypeStop:      "stop-loss",
	domain.OrderTypeStopLimit: "stop-loss-limit",
}

func (b *Broker) CreateOrder(ctx context.Context, o domain.Order) (domain.OrderRecord, error) {
	if err := broker.ValidateOrder(broker.KeyKraken, o); err != nil {
		return domain.OrderRecord{}, err
	}
	if o.Side == domain.OrderSideShort || o.Side == domain.OrderSideCover {
		return domain.OrderRecord{}, broker.NewError(broker.KindValidation, broker.KeyKraken, "CreateOrder",
			fmt.Sprintf("%s orders need margin; only spot trading is supported", o.Side), nil)
	}
	tif := broker.TimeInForceOrDefault(o.TimeInForce)
	if tif == domain.TimeInForceFOK {
		return domain.OrderRecord{}, broker.NewError(broker.KindValidation, broker.KeyKraken, "CreateOrder",
			"FOK is not supported", nil)
	}
	// Kraken has no session-scoped orders; DAY rests as GTC.
	if tif == domain.TimeInForceDay {
		tif = domain.TimeInForceGTC
	}
	clientID := o.ClientOrderID
	if clientID == "" {
		clientID = ulid.Make().String()[26-maxClientOrderID:]
	}
	if len(clientID) > maxClientOrderID {
		return domain.OrderRecord{}, broker.NewError(broker.KindValidation, broker.KeyKraken, "CreateOrder",
			fmt.Sprintf("client order id longer than %d characters", maxClientOrderID), nil)
	}

	return broker.CallOrder(b.session, "CreateOrder", func() (domain.OrderRecord, error) {
		alt, canonical, err := b.pair(ctx, "CreateOrder", o.Symbol)
		if err != nil {
			return domain.OrderRecord{}, err
		}
		form := url.Values{
			"pair":        {alt},
			"type":        {"sell"},
			"ordertype":   {orderTypes[o.Type]},
			"volume":      {o.Quantity.String()},
			"timeinforce": {string(tif)},
			"cl_ord_id":   {clientID},
		}
		if o.Side.IsBuy() {
			form.Set("type", "buy")
		}
		switch o.Type {
		case domain.OrderTypeLimit:
			form.Set("price", o.LimitPrice.String())
		case domain.OrderTypeStop:
			form.Set("price", o.StopPrice.String())
		case domain.OrderTypeStopLimit:
			form.Set("price", o.StopPrice.String())
			form.Set("price2", o.LimitPrice.String())
		}

		var res addOrderResult
		if err := b.rest.private(ctx, "AddOrder", form, &res); err != nil {
			return domain.OrderRecord{}, mapError("CreateOrder", err)
		}
		if len(res.TxID) == 0 {
			return domain.OrderRecord{}, broker.NewError(broker.KindRejected, broker.KeyKraken, "CreateOrder",
				"order accepted without a transaction id", nil)
		}
		now := time.Now().UTC()
		b.logger.Info("order placed", "id", res.TxID[0], "symbol", canonical, "descr", res.Descr.Order)
		return domain.OrderRecord{
			ID:            res.TxID[0],
			ClientOrderID: clientID,
			Broker:        broker.KeyKraken,
			Symbol:        canonical,
			Side:          o.Side,
			Type:          o.Type,
			Quantity:      o.Quantity,
			LimitPrice:    o.LimitPrice,
			StopPrice:     o.StopPrice,
			TimeInForce:   tif,
			Status:        domain.OrderStatusPending,
			RawStatus:     "pending",
			CreatedAt:     now,
			UpdatedAt:     now,
		}, nil
	})
}

// CancelOrder returns false when Kraken cancels nothing or no longer knows
// the order.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return broker.CallOrder(b.session, "CancelOrder", func() (bool, error) {
		var res cancelResult
		err := b.rest.private(ctx, "CancelOrder", url.Values{"txid": {orderID}}, &res)
		if hasCode(err, "EOrder:Unknown order") {
			return false, nil
		}
		if err != nil {
			return false, mapError("CancelOrder", err)
		}
		return res.Count > 0, nil
	})
}

// GetOrderHistory merges open and closed orders.
func (b *Broker) GetOrderHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.OrderRecord, error) {
	return broker.Call(b.session, "GetOrderHistory", func() ([]domain.OrderRecord, error) {
		var open openOrders
		if err := b.rest.private(ctx, "OpenOrders", nil, &open); err != nil {
			return nil, mapError("GetOrderHistory", err)
		}
		form := url.Values{}
		if !q.Since.IsZero() {
			form.Set("start", fmt.Sprint(q.Since.Unix()))
		}
		var closed closedOrders
		if err := b.rest.private(ctx, "ClosedOrders", form, &closed); err != nil {
			return nil, mapError("GetOrderHistory", err)
		}

		records := make([]domain.OrderRecord, 0, len(open.Open)+len(closed.Closed))
		for id, o := range open.Open {
			records = append(records, recordFromInfo(id, o))
		}
		for id, o := range closed.Closed {
			records = append(records, recordFromInfo(id, o))
		}
		// Map iteration order is random; fix ties before the stable sort.
		sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
		q.Symbol = normalize(q.Symbol)
		return broker.FilterHistory(records, q), nil
	})
}

func recordFromInfo(id string, o orderInfo) domain.OrderRecord {
	side := domain.OrderSideSell
	if o.Descr.Type == "buy" {
		side = domain.OrderSideBuy
	}
	rec := domain.OrderRecord{
		ID:             id,
		ClientOrderID:  o.ClOrdID,
		Broker:         broker.KeyKraken,
		Symbol:         normalize(o.Descr.Pair),
		Side:           side,
		Quantity:       o.Vol,
		TimeInForce:    domain.TimeInForce(strings.ToUpper(o.TIF)),
		Status:         statusFromKraken(o.Status),
		RawStatus:      o.Status,
		FilledQuantity: o.VolExec,
		AveragePrice:   o.Price,
		CreatedAt:      unixSeconds(o.OpenTm),
		UpdatedAt:      unixSeconds(o.OpenTm),
	}
	if rec.TimeInForce == "" {
		rec.TimeInForce = domain.TimeInForceGTC
	}
	if !o.Descr.Price.IsZero() || !o.Descr.Price2.IsZero() {
		// descr.price is the limit for limit orders and the trigger for
		// stop orders.
		switch o.Descr.OrderType {
		case "limit":
			rec.LimitPrice = broker.Ptr(o.Descr.Price)
		case "stop-loss":
			rec.StopPrice = broker.Ptr(o.Descr.Price)
		case "stop-loss-limit":
			rec.StopPrice = broker.Ptr(o.Descr.Price)
			rec.LimitPrice = broker.Ptr(o.Descr.Price2)
		}
	}
	switch o.Descr.OrderType {
	case "limit":
		rec.Type = domain.OrderTypeLimit
	case "stop-loss":
		rec.Type = domain.OrderTypeStop
	case "stop-loss-limit":
		rec.Type = domain.OrderTypeStopLimit
	default:
		rec.Type = domain.OrderTypeMarket
	}
	if t := unixSeconds(o.CloseTm); !t.IsZero() {
		rec.UpdatedAt = t
	}
	return rec
}

// statusFromKraken maps pending/open to pending, closed to executed, and
// canceled/expired to cancelled.
func statusFromKraken(s string) domain.OrderStatus {
	switch s {
	case "closed":
		return domain.OrderStatusExecuted
	case "canceled", "expired":
		return domain.OrderStatusCancelled
	case "pending", "open":
		return domain.OrderStatusPending
	}
	return domain.OrderStatusFailed
}
