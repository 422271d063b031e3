package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"brokerhub/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorInfo is the static metadata of the paper simulator.
var SimulatorInfo = domain.BrokerInfo{
	Key:             KeySimulator,
	Name:            "Paper Simulator",
	AssetClasses:    []domain.AssetClass{domain.AssetClassStock, domain.AssetClassCrypto},
	AuthMethod:      domain.AuthMethodNone,
	Status:          domain.BrokerStatusStable,
	Available:       true,
	SupportsTestnet: true,
	Notes:           "in-process paper broker; fills marketable orders immediately",
}

// DefaultSimulatorCash is the starting cash when none is configured.
var DefaultSimulatorCash = decimal.NewFromInt(100_000)

type simPosition struct {
	qty   decimal.Decimal
	entry decimal.Decimal
}

// SimulatorBroker is a Broker for paper trading and tests. It tracks cash,
// positions and orders in memory without making external calls. Market and
// marketable limit orders fill immediately against the configured quote;
// other orders rest until cancelled.
type SimulatorBroker struct {
	session *Session
	clock   *QuoteClock
	fees    domain.FeeSchedule

	mu        sync.Mutex
	cash      decimal.Decimal
	startCash decimal.Decimal
	quotes    map[string]domain.Quote
	positions map[string]*simPosition
	orders    map[string]*domain.OrderRecord
	order     []string // ids, submission order
}

// NewSimulatorBroker creates a SimulatorBroker with the given credentials.
// Zero starting cash selects DefaultSimulatorCash.
func NewSimulatorBroker(creds SimulatorCredentials, opts Options) *SimulatorBroker {
	opts = opts.WithDefaults(KeySimulator)
	cash := creds.StartingCash
	if cash.IsZero() {
		cash = DefaultSimulatorCash
	}
	return &SimulatorBroker{
		session:   NewSession(KeySimulator, opts.Logger),
		clock:     NewQuoteClock(),
		fees:      domain.FeeSchedule{Maker: decimal.RequireFromString("0.1"), Taker: decimal.RequireFromString("0.1"), Notes: "simulated flat fee"},
		cash:      cash,
		startCash: cash,
		quotes:    make(map[string]domain.Quote),
		positions: make(map[string]*simPosition),
		orders:    make(map[string]*domain.OrderRecord),
	}
}

// SetQuote installs the quote used for symbol. Symbols without a quote are
// unsupported.
func (b *SimulatorBroker) SetQuote(symbol string, bid, ask decimal.Decimal) {
	symbol = CleanSymbol(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[symbol] = domain.Quote{
		Symbol: symbol,
		Bid:    bid,
		Ask:    ask,
		Last:   bid.Add(ask).Div(decimal.NewFromInt(2)),
	}
}

// SetFees replaces the flat fee schedule.
func (b *SimulatorBroker) SetFees(fees domain.FeeSchedule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fees = fees
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string { return KeySimulator }

func (b *SimulatorBroker) Info() domain.BrokerInfo { return SimulatorInfo }

func (b *SimulatorBroker) Authenticate(ctx context.Context) error {
	return b.session.Authenticate(ctx, func(ctx context.Context) error { return ctx.Err() })
}

func (b *SimulatorBroker) TestConnection(context.Context) bool { return true }

func (b *SimulatorBroker) IsConnected() bool { return b.session.IsConnected() }

func (b *SimulatorBroker) Close() error {
	b.session.Close()
	return nil
}

// GetBalance values positions at the last price.
func (b *SimulatorBroker) GetBalance(_ context.Context) (domain.Balance, error) {
	return Call(b.session, "GetBalance", func() (domain.Balance, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		equity := b.cash
		for sym, p := range b.positions {
			equity = equity.Add(p.qty.Mul(b.quotes[sym].ReferencePrice()))
		}
		return BuildBalance(RawBalance{
			Cash:       b.cash,
			Equity:     equity,
			Available:  Ptr(b.cash),
			ProfitLoss: equity.Sub(b.startCash),
		}), nil
	})
}

func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	return Call(b.session, "GetPositions", func() ([]domain.Position, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		out := make([]domain.Position, 0, len(b.positions))
		for sym, p := range b.positions {
			price := b.quotes[sym].ReferencePrice()
			value := p.qty.Mul(price)
			pnl := price.Sub(p.entry).Mul(p.qty)
			pct := decimal.Zero
			if cost := p.entry.Mul(p.qty.Abs()); cost.IsPositive() {
				pct = pnl.Div(cost).Mul(hundred).Round(4)
			}
			class := domain.AssetClassStock
			if IsPair(sym) {
				class = domain.AssetClassCrypto
			}
			out = append(out, domain.Position{
				Symbol:               sym,
				AssetClass:           class,
				Quantity:             p.qty,
				EntryPrice:           p.entry,
				CurrentPrice:         price,
				MarketValue:          value,
				UnrealizedPnL:        pnl,
				UnrealizedPnLPercent: pct,
			})
		}
		return out, nil
	})
}

// CreateOrder fills marketable orders immediately and rests the rest.
func (b *SimulatorBroker) CreateOrder(_ context.Context, o domain.Order) (domain.OrderRecord, error) {
	if err := ValidateOrder(KeySimulator, o); err != nil {
		return domain.OrderRecord{}, err
	}
	return CallOrder(b.session, "CreateOrder", func() (domain.OrderRecord, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		sym := CleanSymbol(o.Symbol)
		q, ok := b.quotes[sym]
		if !ok {
			return domain.OrderRecord{}, NewError(KindSymbolNotSupported, KeySimulator, "CreateOrder", sym, nil)
		}

		now := time.Now().UTC()
		rec := domain.OrderRecord{
			ID:            ulid.Make().String(),
			ClientOrderID: o.ClientOrderID,
			Broker:        KeySimulator,
			Symbol:        sym,
			Side:          o.Side,
			Type:          o.Type,
			Quantity:      o.Quantity,
			LimitPrice:    o.LimitPrice,
			StopPrice:     o.StopPrice,
			TimeInForce:   TimeInForceOrDefault(o.TimeInForce),
			Status:        domain.OrderStatusPending,
			RawStatus:     "new",
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		price := q.Bid
		if o.Side.IsBuy() {
			price = q.Ask
		}
		if fill, ok := b.fillPrice(o, price); ok {
			if err := b.apply(sym, o.Side, o.Quantity, fill); err != nil {
				return domain.OrderRecord{}, err
			}
			rec.Status = domain.OrderStatusExecuted
			rec.RawStatus = "filled"
			rec.FilledQuantity = o.Quantity
			rec.AveragePrice = fill
		}

		b.orders[rec.ID] = &rec
		b.order = append(b.order, rec.ID)
		return rec, nil
	})
}

func (b *SimulatorBroker) fillPrice(o domain.Order, touch decimal.Decimal) (decimal.Decimal, bool) {
	switch o.Type {
	case domain.OrderTypeMarket:
		return touch, touch.IsPositive()
	case domain.OrderTypeLimit:
		if o.Side.IsBuy() && touch.LessThanOrEqual(*o.LimitPrice) {
			return touch, true
		}
		if !o.Side.IsBuy() && touch.GreaterThanOrEqual(*o.LimitPrice) {
			return touch, true
		}
	}
	return decimal.Zero, false
}

// apply books a fill. Caller holds b.mu.
func (b *SimulatorBroker) apply(sym string, side domain.OrderSide, qty, price decimal.Decimal) error {
	notional := qty.Mul(price)
	fee := notional.Mul(b.fees.Taker).Div(hundred)

	signed := qty
	if !side.IsBuy() {
		signed = qty.Neg()
	}
	if side.IsBuy() && notional.Add(fee).GreaterThan(b.cash) {
		return NewError(KindRejected, KeySimulator, "CreateOrder",
			fmt.Sprintf("insufficient funds: need %s, have %s", notional.Add(fee).StringFixed(2), b.cash.StringFixed(2)), nil)
	}
	p := b.positions[sym]
	if side == domain.OrderSideSell && (p == nil || p.qty.LessThan(qty)) {
		return NewError(KindRejected, KeySimulator, "CreateOrder", "insufficient position to sell "+sym, nil)
	}

	if side.IsBuy() {
		b.cash = b.cash.Sub(notional).Sub(fee)
	} else {
		b.cash = b.cash.Add(notional).Sub(fee)
	}

	if p == nil {
		b.positions[sym] = &simPosition{qty: signed, entry: price}
		return nil
	}
	next := p.qty.Add(signed)
	switch {
	case next.IsZero():
		delete(b.positions, sym)
	case p.qty.Sign() == signed.Sign():
		// Adding to the position: weighted average entry.
		p.entry = p.entry.Mul(p.qty).Add(price.Mul(signed)).Div(next)
		p.qty = next
	case p.qty.Sign() != next.Sign():
		// Flipped through zero.
		p.qty = next
		p.entry = price
	default:
		p.qty = next
	}
	return nil
}

func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) (bool, error) {
	return CallOrder(b.session, "CancelOrder", func() (bool, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		o, ok := b.orders[orderID]
		if !ok || o.Status != domain.OrderStatusPending {
			return false, nil
		}
		o.Status = domain.OrderStatusCancelled
		o.RawStatus = "canceled"
		o.UpdatedAt = time.Now().UTC()
		return true, nil
	})
}

func (b *SimulatorBroker) GetMarketPrice(_ context.Context, symbol string) (domain.Quote, error) {
	return Call(b.session, "GetMarketPrice", func() (domain.Quote, error) {
		sym := CleanSymbol(symbol)
		b.mu.Lock()
		q, ok := b.quotes[sym]
		b.mu.Unlock()
		if !ok {
			return domain.Quote{}, NewError(KindSymbolNotSupported, KeySimulator, "GetMarketPrice", sym, nil)
		}
		if err := CheckQuote(KeySimulator, q); err != nil {
			return domain.Quote{}, err
		}
		q.Timestamp = b.clock.Stamp(sym, time.Time{})
		return q, nil
	})
}

func (b *SimulatorBroker) IsSymbolSupported(_ context.Context, symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.quotes[CleanSymbol(symbol)]
	return ok
}

func (b *SimulatorBroker) NormalizeSymbol(native string) string      { return CleanSymbol(native) }
func (b *SimulatorBroker) DenormalizeSymbol(canonical string) string { return CleanSymbol(canonical) }

func (b *SimulatorBroker) GetFees(_ context.Context, _ string) (domain.FeeSchedule, error) {
	return Call(b.session, "GetFees", func() (domain.FeeSchedule, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.fees, nil
	})
}

func (b *SimulatorBroker) GetOrderHistory(_ context.Context, q domain.HistoryQuery) ([]domain.OrderRecord, error) {
	return Call(b.session, "GetOrderHistory", func() ([]domain.OrderRecord, error) {
		b.mu.Lock()
		records := make([]domain.OrderRecord, 0, len(b.order))
		for i := len(b.order) - 1; i >= 0; i-- {
			records = append(records, *b.orders[b.order[i]])
		}
		b.mu.Unlock()
		return FilterHistory(records, q), nil
	})
}
