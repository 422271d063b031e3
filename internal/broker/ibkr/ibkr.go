// Package ibkr implements the Broker contract for Interactive Brokers through
// a locally running Client Portal gateway. The gateway owns the brokerage
// login; this adapter only verifies and uses that session.
package ibkr

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/util"
)

// Info is the static metadata for the IBKR adapter.
var Info = domain.BrokerInfo{
	Key:             broker.KeyIBKR,
	Name:            "Interactive Brokers",
	AssetClasses:    []domain.AssetClass{domain.AssetClassStock},
	AuthMethod:      domain.AuthMethodGatewaySession,
	Status:          domain.BrokerStatusRequiresGateway,
	Available:       true,
	SupportsTestnet: true,
	Website:         "https://www.interactivebrokers.com",
	Notes:           "requires a running Client Portal gateway logged in to the account",
}

// defaultRatePerMin stays under the gateway's 10 requests/second ceiling.
const defaultRatePerMin = 540

// IBKR Pro fixed pricing.
var (
	perShareFee = decimal.RequireFromString("0.005")
	minOrderFee = decimal.RequireFromString("1.00")
)

// Compile-time interface check.
var _ broker.Broker = (*Broker)(nil)

// Broker is the IBKR adapter.
type Broker struct {
	creds    broker.IBKRCredentials
	opts     broker.Options
	logger   *slog.Logger
	gw       *gatewayClient
	gwAddr   string
	session  *broker.Session
	clock    *broker.QuoteClock
	calendar *util.TradingCalendar

	mu        sync.RWMutex
	accountID string
	conids    map[string]int64 // native symbol -> conid, 0 = unknown symbol
}

// New constructs an IBKR adapter. It performs no network I/O.
func New(creds broker.IBKRCredentials, opts broker.Options) (*Broker, error) {
	creds = creds.WithDefaults()
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(broker.KeyIBKR); err != nil {
		return nil, err
	}
	if opts.HTTPClient == nil && creds.InsecureSkipVerify {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = broker.DefaultTimeout
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // gateway uses a self-signed cert
		opts.HTTPClient = &http.Client{Timeout: timeout, Transport: tr}
	}
	opts = opts.WithRateDefaults(broker.KeyIBKR, defaultRatePerMin)

	base := opts.BaseURL
	if base == "" {
		base = fmt.Sprintf("%s://%s/v1/api", creds.Scheme, net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port)))
	}
	base = strings.TrimRight(base, "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, broker.NewError(broker.KindConfiguration, broker.KeyIBKR, "options",
			fmt.Sprintf("invalid gateway url %q", base), err)
	}

	opts.Logger.Debug("ibkr adapter created", "gateway", base, "credentials", creds)

	return &Broker{
		creds:  creds,
		opts:   opts,
		logger: opts.Logger,
		gw: &gatewayClient{
			base:    base,
			http:    opts.HTTPClient,
			limiter: util.NewRateLimiter(opts.RateLimitPerMin),
			logger:  opts.Logger,
		},
		gwAddr:   u.Host,
		session:  broker.NewSession(broker.KeyIBKR, opts.Logger),
		clock:    broker.NewQuoteClock(),
		calendar: util.NewTradingCalendar(),
		conids:   make(map[string]int64),
	}, nil
}

// Name returns "ibkr".
func (b *Broker) Name() string { return broker.KeyIBKR }

func (b *Broker) Info() domain.BrokerInfo { return Info }

func (b *Broker) IsConnected() bool { return b.session.IsConnected() }

// Authenticate checks that the gateway is reachable and logged in, then
// selects the trading account and checks it matches the requested
// environment.
func (b *Broker) Authenticate(ctx context.Context) error {
	return b.session.Authenticate(ctx, func(ctx context.Context) error {
		if err := b.dialGateway(ctx); err != nil {
			return err
		}

		var status authStatus
		if err := b.gw.post(ctx, "/iserver/auth/status", nil, &status); err != nil {
			return mapError("Authenticate", err)
		}
		switch {
		case status.Competing:
			return broker.NewError(broker.KindAuthentication, broker.KeyIBKR, "Authenticate",
				"another session is competing for this login", nil)
		case !status.Authenticated:
			return broker.NewError(broker.KindAuthentication, broker.KeyIBKR, "Authenticate",
				"gateway session is not authenticated; log in through the gateway", nil)
		}

		var accounts []account
		if err := b.gw.get(ctx, "/portfolio/accounts", nil, &accounts); err != nil {
			return mapError("Authenticate", err)
		}
		acct, err := b.selectAccount(accounts)
		if err != nil {
			return err
		}

		// Brokerage endpoints require /iserver/accounts to have been read
		// once per gateway session.
		if err := b.gw.get(ctx, "/iserver/accounts", nil, nil); err != nil {
			return mapError("Authenticate", err)
		}

		b.mu.Lock()
		b.accountID = acct
		b.mu.Unlock()
		b.logger.Info("authenticated", "account", acct, "paper", isPaperAccount(acct))
		return nil
	})
}

func (b *Broker) dialGateway(ctx context.Context) error {
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", b.gwAddr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return broker.NewError(broker.KindConfiguration, broker.KeyIBKR, "Authenticate",
			fmt.Sprintf("gateway not reachable at %s; start the Client Portal gateway", b.gwAddr), err)
	}
	return conn.Close()
}

func (b *Broker) selectAccount(accounts []account) (string, error) {
	if len(accounts) == 0 {
		return "", broker.NewError(broker.KindConfiguration, broker.KeyIBKR, "Authenticate",
			"gateway reports no accounts", nil)
	}
	id := accounts[0].ID
	if want := b.creds.AccountID; want != "" {
		id = ""
		for _, a := range accounts {
			if a.ID == want {
				id = a.ID
				break
			}
		}
		if id == "" {
			return "", broker.NewError(broker.KindConfiguration, broker.KeyIBKR, "Authenticate",
				fmt.Sprintf("account %s is not available on this gateway", want), nil)
		}
	}

	paper := isPaperAccount(id)
	switch {
	case b.opts.Paper() && !paper:
		return "", broker.NewError(broker.KindConfiguration, broker.KeyIBKR, "Authenticate",
			fmt.Sprintf("paper trading requested but %s is a live account", id), nil)
	case b.opts.AccountType == domain.AccountTypeLive && paper:
		return "", broker.NewError(broker.KindConfiguration, broker.KeyIBKR, "Authenticate",
			fmt.Sprintf("live trading requested but %s is a paper account", id), nil)
	}
	return id, nil
}

func (b *Broker) account() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accountID
}

// TestConnection pings the gateway's keepalive endpoint.
func (b *Broker) TestConnection(ctx context.Context) bool {
	if err := b.gw.post(ctx, "/tickle", nil, nil); err != nil {
		b.logger.Warn("connection test failed", "error", mapError("TestConnection", err))
		return false
	}
	return true
}

// Close logs out of the gateway's brokerage session when connected.
func (b *Broker) Close() error {
	if b.session.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.gw.post(ctx, "/logout", nil, nil); err != nil {
			b.logger.Warn("gateway logout failed", "error", err)
		}
	}
	b.gw.http.CloseIdleConnections()
	b.session.Close()
	return nil
}

func (b *Broker) GetBalance(ctx context.Context) (domain.Balance, error) {
	return broker.Call(b.session, "GetBalance", func() (domain.Balance, error) {
		var s summary
		if err := b.gw.get(ctx, "/portfolio/"+b.account()+"/summary", nil, &s); err != nil {
			return domain.Balance{}, mapError("GetBalance", err)
		}
		cash, _ := s.amount("totalcashvalue")
		equity, _ := s.amount("netliquidation")
		raw := broker.RawBalance{Cash: cash, Equity: equity, Currency: s.currency()}
		if v, ok := s.amount("availablefunds"); ok {
			raw.Available = broker.Ptr(v)
		}
		if v, ok := s.amount("buyingpower"); ok {
			raw.BuyingPower = broker.Ptr(v)
		}
		if v, ok := s.amount("grosspositionvalue"); ok {
			raw.PortfolioValue = broker.Ptr(cash.Add(v))
		}
		if prev, ok := s.amount("previousdayequitywithloanvalue"); ok && prev.IsPositive() {
			raw.ProfitLoss = equity.Sub(prev)
		}
		return broker.BuildBalance(raw), nil
	})
}

func (b *Broker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return broker.Call(b.session, "GetPositions", func() ([]domain.Position, error) {
		var raw []position
		if err := b.gw.get(ctx, "/portfolio/"+b.account()+"/positions/0", nil, &raw); err != nil {
			return nil, mapError("GetPositions", err)
		}
		out := make([]domain.Position, 0, len(raw))
		for _, p := range raw {
			if p.Position.IsZero() {
				continue
			}
			native := p.Ticker
			if native == "" {
				native = p.ContractDesc
			}
			entry := p.AvgPrice.Decimal
			if entry.IsZero() {
				entry = p.AvgCost.Decimal
			}
			pct := decimal.Zero
			if cost := entry.Mul(p.Position.Abs()); cost.IsPositive() {
				pct = p.UnrealizedPnl.Div(cost).Mul(decimal.NewFromInt(100)).Round(4)
			}
			out = append(out, domain.Position{
				Symbol:               b.NormalizeSymbol(native),
				AssetClass:           domain.AssetClassStock,
				Quantity:             p.Position.Decimal,
				EntryPrice:           entry,
				CurrentPrice:         p.MktPrice.Decimal,
				MarketValue:          p.MktValue.Decimal,
				UnrealizedPnL:        p.UnrealizedPnl.Decimal,
				UnrealizedPnLPercent: pct,
			})
		}
		return out, nil
	})
}

// conid resolves and memoizes the contract id of a stock symbol. It returns
// 0 for symbols the gateway does not know.
func (b *Broker) conid(ctx context.Context, native string) (int64, error) {
	b.mu.RLock()
	id, ok := b.conids[native]
	b.mu.RUnlock()
	if ok {
		return id, nil
	}

	// Unknown symbols come back as an {"error": ...} object or a 4xx.
	var raw json.RawMessage
	q := url.Values{"symbol": {native}, "secType": {"STK"}}
	if err := b.gw.get(ctx, "/iserver/secdef/search", q, &raw); err != nil {
		he, isHTTP := err.(*httpError)
		if !isHTTP || he.status >= 500 {
			return 0, err
		}
		raw = nil
	}
	var defs []secdef
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return 0, fmt.Errorf("decoding contract search: %w", err)
		}
	}
	for _, d := range defs {
		if strings.EqualFold(d.Symbol, native) && d.isStock() {
			id = int64(d.Conid)
			break
		}
	}

	b.mu.Lock()
	b.conids[native] = id
	b.mu.Unlock()
	return id, nil
}

func (b *Broker) requireConid(ctx context.Context, op, symbol string) (int64, string, error) {
	canonical := b.NormalizeSymbol(symbol)
	if broker.IsPair(canonical) {
		return 0, canonical, broker.NewError(broker.KindSymbolNotSupported, broker.KeyIBKR, op,
			canonical+": crypto pairs are not supported", nil)
	}
	id, err := b.conid(ctx, b.DenormalizeSymbol(canonical))
	if err != nil {
		return 0, canonical, mapError(op, err)
	}
	if id == 0 {
		return 0, canonical, broker.NewError(broker.KindSymbolNotSupported, broker.KeyIBKR, op, canonical, nil)
	}
	return id, canonical, nil
}

func (b *Broker) CreateOrder(ctx context.Context, o domain.Order) (domain.OrderRecord, error) {
	if err := broker.ValidateOrder(broker.KeyIBKR, o); err != nil {
		return domain.OrderRecord{}, err
	}
	if !o.Quantity.Equal(o.Quantity.Truncate(0)) {
		return domain.OrderRecord{}, broker.NewError(broker.KindValidation, broker.KeyIBKR, "CreateOrder",
			fmt.Sprintf("quantity %s must be a whole number of shares", o.Quantity), nil)
	}
	tif := broker.TimeInForceOrDefault(o.TimeInForce)
	if tif == domain.TimeInForceFOK {
		return domain.OrderRecord{}, broker.NewError(broker.KindValidation, broker.KeyIBKR, "CreateOrder",
			"FOK is not supported for stock orders", nil)
	}

	return broker.CallOrder(b.session, "CreateOrder", func() (domain.OrderRecord, error) {
		id, canonical, err := b.requireConid(ctx, "CreateOrder", o.Symbol)
		if err != nil {
			return domain.OrderRecord{}, err
		}
		acct := b.account()
		ticket := b.ticket(acct, id, o, tif)

		var replies []orderReply
		if err := b.gw.post(ctx, "/iserver/account/"+acct+"/orders", orderRequest{Orders: []orderTicket{ticket}}, &replies); err != nil {
			return domain.OrderRecord{}, mapError("CreateOrder", err)
		}
		ack, err := b.confirm(ctx, replies)
		if err != nil {
			return domain.OrderRecord{}, err
		}

		now := time.Now().UTC()
		rec := domain.OrderRecord{
			ID:            ack.OrderID,
			ClientOrderID: ticket.COID,
			Broker:        broker.KeyIBKR,
			Symbol:        canonical,
			Side:          o.Side,
			Type:          o.Type,
			Quantity:      o.Quantity,
			LimitPrice:    o.LimitPrice,
			StopPrice:     o.StopPrice,
			TimeInForce:   tif,
			Status:        statusFromGateway(ack.OrderStatus),
			RawStatus:     ack.OrderStatus,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		b.logger.Info("order placed", "id", rec.ID, "symbol", canonical, "side", o.Side, "status", ack.OrderStatus)
		return rec, nil
	})
}

func (b *Broker) ticket(acct string, conid int64, o domain.Order, tif domain.TimeInForce) orderTicket {
	t := orderTicket{
		AcctID:    acct,
		Conid:     conid,
		COID:      b.clientOrderID(o.ClientOrderID),
		OrderType: orderTypes[o.Type],
		Side:      "SELL",
		Quantity:  o.Quantity.IntPart(),
		TIF:       string(tif),
	}
	if o.Side.IsBuy() {
		t.Side = "BUY"
	}
	f := func(d *decimal.Decimal) *float64 {
		v := d.InexactFloat64()
		return &v
	}
	switch o.Type {
	case domain.OrderTypeLimit:
		t.Price = f(o.LimitPrice)
	case domain.OrderTypeStop:
		t.Price = f(o.StopPrice)
	case domain.OrderTypeStopLimit:
		t.Price = f(o.LimitPrice)
		t.AuxPrice = f(o.StopPrice)
	}
	return t
}

// clientOrderID namespaces ids by the configured client id so several
// processes can share one gateway.
func (b *Broker) clientOrderID(id string) string {
	if id == "" {
		id = ulid.Make().String()
	}
	return fmt.Sprintf("bh%d-%s", b.creds.ClientID, id)
}

// maxConfirmations bounds the reply/confirm loop for precautionary warnings.
const maxConfirmations = 5

// confirm acknowledges the gateway's precautionary order warnings until the
// order is accepted.
func (b *Broker) confirm(ctx context.Context, replies []orderReply) (orderReply, error) {
	for i := 0; i <= maxConfirmations; i++ {
		if len(replies) == 0 {
			return orderReply{}, broker.NewError(broker.KindRejected, broker.KeyIBKR, "CreateOrder",
				"empty order response", nil)
		}
		r := replies[0]
		switch {
		case r.Error != "":
			return orderReply{}, broker.NewError(broker.KindRejected, broker.KeyIBKR, "CreateOrder", r.Error, nil)
		case r.OrderID != "":
			return r, nil
		case r.ID == "":
			return orderReply{}, broker.NewError(broker.KindRejected, broker.KeyIBKR, "CreateOrder",
				"unrecognised order response", nil)
		}
		b.logger.Info("confirming order warning", "reply_id", r.ID, "message", strings.Join(r.Message, "; "))
		replies = nil
		if err := b.gw.post(ctx, "/iserver/reply/"+r.ID, replyConfirm{Confirmed: true}, &replies); err != nil {
			return orderReply{}, mapError("CreateOrder", err)
		}
	}
	return orderReply{}, broker.NewError(broker.KindRejected, broker.KeyIBKR, "CreateOrder",
		"too many confirmation prompts", nil)
}

// CancelOrder returns false when the gateway no longer knows the order or it
// has already completed.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return broker.CallOrder(b.session, "CancelOrder", func() (bool, error) {
		var reply cancelReply
		err := b.gw.delete(ctx, "/iserver/account/"+b.account()+"/order/"+url.PathEscape(orderID), &reply)
		if he, ok := err.(*httpError); ok && (he.status == 400 || he.status == 404) {
			b.logger.Debug("order not cancellable", "id", orderID, "reason", he.msg)
			return false, nil
		}
		if err != nil {
			return false, mapError("CancelOrder", err)
		}
		if reply.Error != "" {
			b.logger.Debug("order not cancellable", "id", orderID, "reason", reply.Error)
			return false, nil
		}
		return true, nil
	})
}

// GetMarketPrice reads a market data snapshot. The first snapshot request for
// a contract only subscribes it, so an empty answer is retried once.
func (b *Broker) GetMarketPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	return broker.Call(b.session, "GetMarketPrice", func() (domain.Quote, error) {
		id, canonical, err := b.requireConid(ctx, "GetMarketPrice", symbol)
		if err != nil {
			return domain.Quote{}, err
		}

		snap, err := b.snapshot(ctx, id)
		if err == nil && !snap.hasPrices() {
			select {
			case <-ctx.Done():
				return domain.Quote{}, mapError("GetMarketPrice", ctx.Err())
			case <-time.After(250 * time.Millisecond):
			}
			snap, err = b.snapshot(ctx, id)
		}
		if err != nil {
			return domain.Quote{}, mapSymbolError("GetMarketPrice", canonical, err)
		}

		last := snap.field(fieldLast)
		q := domain.Quote{
			Symbol:    canonical,
			Bid:       snap.field(fieldBid).Decimal,
			BidSize:   snap.field(fieldBidSize).Decimal,
			Ask:       snap.field(fieldAsk).Decimal,
			AskSize:   snap.field(fieldAskSize).Decimal,
			Last:      last.Decimal,
			Timestamp: snap.updated(),
		}
		noBook := !q.Bid.IsPositive() && !q.Ask.IsPositive()
		if now := time.Now(); noBook && (last.Flag != 0 || !b.calendar.IsMarketOpen(now)) {
			msg := canonical + ": no bid/ask outside market hours"
			if next := b.calendar.NextOpen(now); !next.IsZero() {
				msg += ", next open " + next.Format(time.RFC3339)
			}
			return domain.Quote{}, broker.NewError(broker.KindMarketClosed, broker.KeyIBKR, "GetMarketPrice", msg, nil)
		}
		if err := broker.CheckQuote(broker.KeyIBKR, q); err != nil {
			return domain.Quote{}, err
		}
		q.Timestamp = b.clock.Stamp(canonical, q.Timestamp)
		return q, nil
	})
}

func (b *Broker) snapshot(ctx context.Context, conid int64) (snapshot, error) {
	var snaps []snapshot
	q := url.Values{"conids": {strconv.FormatInt(conid, 10)}, "fields": {snapshotFields}}
	if err := b.gw.get(ctx, "/iserver/marketdata/snapshot", q, &snaps); err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return snapshot{}, nil
	}
	return snaps[0], nil
}

func (b *Broker) IsSymbolSupported(ctx context.Context, symbol string) bool {
	canonical := b.NormalizeSymbol(symbol)
	if canonical == "" || broker.IsPair(canonical) {
		return false
	}
	if b.session.Require("IsSymbolSupported") != nil {
		return false
	}
	id, err := b.conid(ctx, b.DenormalizeSymbol(canonical))
	if err != nil {
		b.session.Observe(mapError("IsSymbolSupported", err))
		b.logger.Warn("contract lookup failed", "symbol", canonical, "error", err)
		return false
	}
	return id != 0
}

// NormalizeSymbol maps the gateway's space-separated share classes
// ("BRK B") to canonical dotted form ("BRK.B").
func (b *Broker) NormalizeSymbol(native string) string {
	return strings.ReplaceAll(broker.CleanSymbol(native), " ", ".")
}

func (b *Broker) DenormalizeSymbol(canonical string) string {
	s := broker.CleanSymbol(canonical)
	if broker.IsPair(s) {
		return s
	}
	return strings.ReplaceAll(s, ".", " ")
}

// GetFees expresses IBKR Pro fixed per-share pricing as a percentage of the
// current price.
func (b *Broker) GetFees(ctx context.Context, symbol string) (domain.FeeSchedule, error) {
	q, err := b.GetMarketPrice(ctx, symbol)
	if err != nil {
		return domain.FeeSchedule{}, err
	}
	price := q.ReferencePrice()
	if !price.IsPositive() {
		return domain.FeeSchedule{}, broker.NewError(broker.KindMarketClosed, broker.KeyIBKR, "GetFees",
			"no reference price for "+q.Symbol, nil)
	}
	pct := perShareFee.Div(price).Mul(decimal.NewFromInt(100)).Round(6)
	return domain.FeeSchedule{
		Maker: pct,
		Taker: pct,
		Notes: fmt.Sprintf("IBKR Pro fixed: USD %s/share, min USD %s per order, max 1%% of trade value",
			perShareFee, minOrderFee.StringFixed(2)),
	}, nil
}

// GetOrderHistory returns the orders the gateway tracks for the current and
// previous session.
func (b *Broker) GetOrderHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.OrderRecord, error) {
	return broker.Call(b.session, "GetOrderHistory", func() ([]domain.OrderRecord, error) {
		var resp liveOrders
		if err := b.gw.get(ctx, "/iserver/account/orders", nil, &resp); err != nil {
			return nil, mapError("GetOrderHistory", err)
		}
		records := make([]domain.OrderRecord, 0, len(resp.Orders))
		for _, o := range resp.Orders {
			records = append(records, b.recordFromLive(o))
		}
		q.Symbol = b.NormalizeSymbol(q.Symbol)
		return broker.FilterHistory(records, q), nil
	})
}

func (b *Broker) recordFromLive(o liveOrder) domain.OrderRecord {
	side := domain.OrderSideSell
	if strings.EqualFold(o.Side, "BUY") {
		side = domain.OrderSideBuy
	}
	typ := orderTypeFromGateway(o.OrderType)
	rec := domain.OrderRecord{
		ID:             strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:  o.OrderRef,
		Broker:         broker.KeyIBKR,
		Symbol:         b.NormalizeSymbol(o.Ticker),
		Side:           side,
		Type:           typ,
		Quantity:       o.TotalSize.Decimal,
		TimeInForce:    domain.TimeInForce(strings.ToUpper(o.TimeInForce)),
		Status:         statusFromGateway(o.Status),
		RawStatus:      o.Status,
		FilledQuantity: o.FilledQuantity.Decimal,
		AveragePrice:   o.AvgPrice.Decimal,
	}
	if o.LastExecution > 0 {
		rec.CreatedAt = time.UnixMilli(o.LastExecution).UTC()
		rec.UpdatedAt = rec.CreatedAt
	}
	switch typ {
	case domain.OrderTypeLimit:
		rec.LimitPrice = broker.Ptr(o.Price.Decimal)
	case domain.OrderTypeStop:
		rec.StopPrice = broker.Ptr(o.Price.Decimal)
	case domain.OrderTypeStopLimit:
		rec.LimitPrice = broker.Ptr(o.Price.Decimal)
		rec.StopPrice = broker.Ptr(o.AuxPrice.Decimal)
	}
	return rec
}

var orderTypes = map[domain.OrderType]string{
	domain.OrderTypeMarket:    "MKT",
	domain.OrderTypeLimit:     "LMT",
	domain.OrderTypeStop:      "STP",
	domain.OrderTypeStopLimit: "STOP_LIMIT",
}

func orderTypeFromGateway(s string) domain.OrderType {
	switch strings.ToUpper(strings.ReplaceAll(s, " ", "")) {
	case "LMT", "LIMIT":
		return domain.OrderTypeLimit
	case "STP", "STOP":
		return domain.OrderTypeStop
	case "STOP_LIMIT", "STOPLIMIT", "STPLMT":
		return domain.OrderTypeStopLimit
	default:
		return domain.OrderTypeMarket
	}
}

func statusFromGateway(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return domain.OrderStatusExecuted
	case "cancelled", "apicancelled":
		return domain.OrderStatusCancelled
	case "inactive", "rejected":
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusPending
	}
}
