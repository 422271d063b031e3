package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
)

var (
	equityFees = domain.FeeSchedule{
		Maker: decimal.Zero,
		Taker: decimal.Zero,
		Notes: "commission-free US equities; SEC and FINRA TAF regulatory fees apply to sells",
	}
	cryptoFees = domain.FeeSchedule{
		Maker:  decimal.RequireFromString("0.15"),
		Taker:  decimal.RequireFromString("0.25"),
		Tiered: true,
		Notes:  "tier 1 (under $100k 30-day volume); rates fall with volume",
	}
)

// codeInsufficientBuyingPower is returned with HTTP 403 on order placement.
const codeInsufficientBuyingPower = 40310000

// statusKinds is the closed HTTP status table for Alpaca REST errors.
var statusKinds = map[int]broker.ErrorKind{
	400: broker.KindValidation,
	401: broker.KindAuthentication,
	403: broker.KindAuthentication,
	404: broker.KindSymbolNotSupported,
	422: broker.KindRejected,
	429: broker.KindRateLimited,
	500: broker.KindNetwork,
	502: broker.KindNetwork,
	503: broker.KindNetwork,
	504: broker.KindNetwork,
}

// mapError translates SDK and transport errors into the broker taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return broker.NewError(broker.KindNetwork, broker.KeyAlpaca, op, "request aborted", err)
	}

	var apiErr *alpacaapi.APIError
	if errors.As(err, &apiErr) {
		kind, ok := statusKinds[apiErr.StatusCode]
		switch {
		case apiErr.Code == codeInsufficientBuyingPower:
			kind = broker.KindRejected
		case apiErr.StatusCode == 403 && op == "CreateOrder":
			kind = broker.KindRejected
		case !ok && apiErr.StatusCode >= 500:
			kind = broker.KindNetwork
		case !ok:
			kind = broker.KindRejected
		}
		e := broker.NewError(kind, broker.KeyAlpaca, op, apiErr.Message, nil)
		if apiErr.Code != 0 {
			e = e.WithCode(fmt.Sprint(apiErr.Code))
		}
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return broker.NewError(broker.KindNetwork, broker.KeyAlpaca, op, "transport error", err)
	}
	return broker.NewError(broker.KindNetwork, broker.KeyAlpaca, op, "request failed", err)
}

func balanceFromAccount(a *alpacaapi.Account) domain.Balance {
	return broker.BuildBalance(broker.RawBalance{
		Cash:           a.Cash,
		Equity:         a.Equity,
		Available:      broker.Ptr(a.NonMarginBuyingPower),
		PortfolioValue: broker.Ptr(a.PortfolioValue),
		BuyingPower:    broker.Ptr(a.BuyingPower),
		ProfitLoss:     a.Equity.Sub(a.LastEquity),
		Currency:       a.Currency,
	})
}

func (b *Broker) positionFromAPI(p alpacaapi.Position) domain.Position {
	qty := p.Qty
	if p.Side == "short" && qty.IsPositive() {
		qty = qty.Neg()
	}
	class := domain.AssetClassStock
	if p.AssetClass == alpacaapi.Crypto {
		class = domain.AssetClassCrypto
	}
	pct := decimal.Zero
	if p.UnrealizedPLPC != nil {
		pct = p.UnrealizedPLPC.Mul(decimal.NewFromInt(100))
	}
	return domain.Position{
		Symbol:               b.NormalizeSymbol(p.Symbol),
		AssetClass:           class,
		Quantity:             qty,
		EntryPrice:           p.AvgEntryPrice,
		CurrentPrice:         deref(p.CurrentPrice),
		MarketValue:          deref(p.MarketValue),
		UnrealizedPnL:        deref(p.UnrealizedPL),
		UnrealizedPnLPercent: pct,
	}
}

func (b *Broker) recordFromAPI(o alpacaapi.Order) domain.OrderRecord {
	rec := domain.OrderRecord{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Broker:         broker.KeyAlpaca,
		Symbol:         b.NormalizeSymbol(o.Symbol),
		Side:           fromSide(o.Side, o.PositionIntent),
		Type:           fromOrderType(o.Type),
		Quantity:       deref(o.Qty),
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		TimeInForce:    fromTimeInForce(o.TimeInForce),
		Status:         statusFromAPI(o.Status),
		RawStatus:      o.Status,
		FilledQuantity: o.FilledQty,
		AveragePrice:   deref(o.FilledAvgPrice),
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
	}
	if rec.Quantity.IsZero() && o.Notional != nil && rec.AveragePrice.IsPositive() {
		rec.Quantity = o.Notional.Div(rec.AveragePrice)
	}
	return rec
}

func statusFromAPI(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusExecuted
	case "canceled", "expired", "replaced", "done_for_day":
		return domain.OrderStatusCancelled
	case "rejected", "suspended", "stopped":
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusPending
	}
}

func toSide(s domain.OrderSide) alpacaapi.Side {
	if s.IsBuy() {
		return alpacaapi.Buy
	}
	return alpacaapi.Sell
}

func fromSide(s alpacaapi.Side, intent alpacaapi.PositionIntent) domain.OrderSide {
	switch {
	case s == alpacaapi.Buy && intent == alpacaapi.BuyToClose:
		return domain.OrderSideCover
	case s == alpacaapi.Buy:
		return domain.OrderSideBuy
	case intent == alpacaapi.SellToOpen:
		return domain.OrderSideShort
	default:
		return domain.OrderSideSell
	}
}

func toOrderType(t domain.OrderType) alpacaapi.OrderType {
	switch t {
	case domain.OrderTypeLimit:
		return alpacaapi.Limit
	case domain.OrderTypeStop:
		return alpacaapi.Stop
	case domain.OrderTypeStopLimit:
		return alpacaapi.StopLimit
	default:
		return alpacaapi.Market
	}
}

func fromOrderType(t alpacaapi.OrderType) domain.OrderType {
	switch t {
	case alpacaapi.Limit:
		return domain.OrderTypeLimit
	case alpacaapi.Stop:
		return domain.OrderTypeStop
	case alpacaapi.StopLimit:
		return domain.OrderTypeStopLimit
	default:
		return domain.OrderTypeMarket
	}
}

func toTimeInForce(t domain.TimeInForce) alpacaapi.TimeInForce {
	switch t {
	case domain.TimeInForceGTC:
		return alpacaapi.GTC
	case domain.TimeInForceIOC:
		return alpacaapi.IOC
	case domain.TimeInForceFOK:
		return alpacaapi.FOK
	default:
		return alpacaapi.Day
	}
}

func fromTimeInForce(t alpacaapi.TimeInForce) domain.TimeInForce {
	switch t {
	case alpacaapi.GTC:
		return domain.TimeInForceGTC
	case alpacaapi.IOC:
		return domain.TimeInForceIOC
	case alpacaapi.FOK:
		return domain.TimeInForceFOK
	default:
		return domain.TimeInForceDay
	}
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func decimalFromFloat(f float64) decimal.Decimal {
	if f <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}
