// Package domain defines the canonical value types shared by every broker
// adapter. Values carry no behaviour beyond small derived helpers; callers own
// every value returned to them.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// AssetClass identifies the instrument family a broker trades.
type AssetClass string

const (
	AssetClassStock  AssetClass = "stock"
	AssetClassCrypto AssetClass = "crypto"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy   OrderSide = "BUY"
	OrderSideSell  OrderSide = "SELL"
	OrderSideShort OrderSide = "SHORT"
	OrderSideCover OrderSide = "COVER"
)

// Valid reports whether s is one of the known sides.
func (s OrderSide) Valid() bool {
	switch s {
	case OrderSideBuy, OrderSideSell, OrderSideShort, OrderSideCover:
		return true
	}
	return false
}

// IsBuy reports whether the side adds to (or covers into) a long exposure.
func (s OrderSide) IsBuy() bool {
	return s == OrderSideBuy || s == OrderSideCover
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// Valid reports whether t is one of the known order types.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// TimeInForce controls how long an order rests.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// Valid reports whether tif is one of the known values.
func (tif TimeInForce) Valid() bool {
	switch tif {
	case TimeInForceDay, TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
		return true
	}
	return false
}

// OrderStatus is the canonical lifecycle state of a submitted order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// AccountType selects live or paper trading.
type AccountType string

const (
	AccountTypeLive  AccountType = "live"
	AccountTypePaper AccountType = "paper"
)

// AuthMethod describes how a backend authenticates a session.
type AuthMethod string

const (
	AuthMethodAPIKey         AuthMethod = "api_key"
	AuthMethodOAuth          AuthMethod = "oauth"
	AuthMethodGatewaySession AuthMethod = "gateway_session"
	AuthMethodNone           AuthMethod = "none"
)

// BrokerStatus is the registration/availability status of a broker key.
type BrokerStatus string

const (
	BrokerStatusStable          BrokerStatus = "stable"
	BrokerStatusBeta            BrokerStatus = "beta"
	BrokerStatusRequiresGateway BrokerStatus = "requires-gateway"
	BrokerStatusPlanned         BrokerStatus = "planned"
	BrokerStatusDeprecated      BrokerStatus = "deprecated"
)

// Usable reports whether adapters may be constructed for a broker in this
// status.
func (s BrokerStatus) Usable() bool {
	switch s {
	case BrokerStatusStable, BrokerStatusBeta, BrokerStatusRequiresGateway:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Account state
// ---------------------------------------------------------------------------

// Balance is a snapshot of an account's funds. Monetary fields are
// non-negative except ProfitLoss and ProfitLossPercent.
type Balance struct {
	Cash              decimal.Decimal `json:"cash"`
	Available         decimal.Decimal `json:"available"`
	Equity            decimal.Decimal `json:"equity"`
	PortfolioValue    decimal.Decimal `json:"portfolioValue"`
	BuyingPower       decimal.Decimal `json:"buyingPower"`
	ProfitLoss        decimal.Decimal `json:"profitLoss"`
	ProfitLossPercent decimal.Decimal `json:"profitLossPercent"`
	Currency          string          `json:"currency"`
}

// Position is an open holding. Quantity is signed: negative means short.
type Position struct {
	Symbol               string          `json:"symbol"`
	AssetClass           AssetClass      `json:"assetClass"`
	Quantity             decimal.Decimal `json:"quantity"`
	EntryPrice           decimal.Decimal `json:"entryPrice"`
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	MarketValue          decimal.Decimal `json:"marketValue"`
	UnrealizedPnL        decimal.Decimal `json:"unrealizedPnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealizedPnlPercent"`
}

// IsShort reports whether the position is a short.
func (p Position) IsShort() bool { return p.Quantity.IsNegative() }

// Quote is a top-of-book snapshot. Zero Bid or Ask means that side is absent.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	BidSize   decimal.Decimal `json:"bidSize"`
	Ask       decimal.Decimal `json:"ask"`
	AskSize   decimal.Decimal `json:"askSize"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, or zero when either side is missing.
func (q Quote) Mid() decimal.Decimal {
	if !q.Bid.IsPositive() || !q.Ask.IsPositive() {
		return decimal.Zero
	}
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// ReferencePrice returns the price used to value the instrument: last trade,
// then the midpoint, then whichever side is present.
func (q Quote) ReferencePrice() decimal.Decimal {
	switch {
	case q.Last.IsPositive():
		return q.Last
	case q.Mid().IsPositive():
		return q.Mid()
	case q.Ask.IsPositive():
		return q.Ask
	default:
		return q.Bid
	}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// Order is a request to trade. LimitPrice and StopPrice are nil when unset.
type Order struct {
	Symbol        string           `json:"symbol"`
	Side          OrderSide        `json:"side"`
	Type          OrderType        `json:"type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	LimitPrice    *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice     *decimal.Decimal `json:"stopPrice,omitempty"`
	TimeInForce   TimeInForce      `json:"timeInForce,omitempty"`
	ClientOrderID string           `json:"clientOrderId,omitempty"`
}

// OrderRecord is the broker's view of a submitted order.
type OrderRecord struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"clientOrderId,omitempty"`
	Broker         string           `json:"broker"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	Type           OrderType        `json:"type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice      *decimal.Decimal `json:"stopPrice,omitempty"`
	TimeInForce    TimeInForce      `json:"timeInForce,omitempty"`
	Status         OrderStatus      `json:"status"`
	RawStatus      string           `json:"rawStatus,omitempty"`
	FilledQuantity decimal.Decimal  `json:"filledQuantity"`
	AveragePrice   decimal.Decimal  `json:"averagePrice"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// HistoryQuery bounds an order history request.
type HistoryQuery struct {
	Limit  int       `json:"limit"`
	Symbol string    `json:"symbol,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// EffectiveLimit clamps Limit into [1, MaxHistoryLimit], substituting the
// default for non-positive values.
func (q HistoryQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return q.Limit
	}
}

// ---------------------------------------------------------------------------
// Fees and metadata
// ---------------------------------------------------------------------------

// FeeSchedule holds maker/taker rates in percent (0.26 means 0.26%).
type FeeSchedule struct {
	Maker  decimal.Decimal `json:"maker"`
	Taker  decimal.Decimal `json:"taker"`
	Tiered bool            `json:"tiered"`
	Notes  string          `json:"notes,omitempty"`
}

// BrokerInfo is static metadata about a broker key.
type BrokerInfo struct {
	Key             string       `json:"key"`
	Name            string       `json:"name"`
	AssetClasses    []AssetClass `json:"assetClasses"`
	AuthMethod      AuthMethod   `json:"authMethod"`
	Status          BrokerStatus `json:"status"`
	Available       bool         `json:"available"`
	SupportsTestnet bool         `json:"supportsTestnet"`
	Website         string       `json:"website,omitempty"`
	Notes           string       `json:"notes,omitempty"`
}

// Supports reports whether the broker trades the given asset class.
func (b BrokerInfo) Supports(class AssetClass) bool {
	for _, c := range b.AssetClasses {
		if c == class {
			return true
		}
	}
	return false
}

// RegistryStats summarises the broker registry for operators.
type RegistryStats struct {
	Registered  int                  `json:"registered"`
	Available   int                  `json:"available"`
	Unavailable int                  `json:"unavailable"`
	ByStatus    map[BrokerStatus]int `json:"byStatus"`
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Ranking is one viable broker's estimate within a Comparison.
type Ranking struct {
	Broker          string          `json:"broker"`
	Price           decimal.Decimal `json:"price"`
	Notional        decimal.Decimal `json:"notional"`
	TakerFeePercent decimal.Decimal `json:"takerFeePercent"`
	EstimatedCost   decimal.Decimal `json:"estimatedCost"`
	Fees            FeeSchedule     `json:"fees"`
	Quote           Quote           `json:"quote"`
}

// ComparisonError records why a broker was excluded from a Comparison.
type ComparisonError struct {
	Broker string `json:"broker"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Comparison is a ranked cross-broker cost estimate for one trade.
type Comparison struct {
	Symbol         string            `json:"symbol"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Rankings       []Ranking         `json:"rankings"`
	Recommendation *Ranking          `json:"recommendation,omitempty"`
	Savings        decimal.Decimal   `json:"savings"`
	SavingsPercent decimal.Decimal   `json:"savingsPercent"`
	Errors         []ComparisonError `json:"errors"`
	GeneratedAt    time.Time         `json:"generatedAt"`
}
