// Package engine coordinates order flow against one adapter and compares
// costs across several.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/store"
)

// Engine drives one broker session and journals what the broker reports.
// The broker is the source of truth: a journal write that fails is logged
// and never turns a successful broker call into an error.
type Engine struct {
	broker broker.Broker
	orders store.OrderStore
	quotes store.QuoteStore // optional
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a new Engine wired with the given dependencies. quotes
// may be nil to skip recording quotes.
func NewEngine(b broker.Broker, orders store.OrderStore, quotes store.QuoteStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if b != nil {
		logger = logger.With("broker", b.Name())
	}
	return &Engine{
		broker: b,
		orders: orders,
		quotes: quotes,
		logger: logger,
		now:    time.Now,
	}
}

// Broker returns the wrapped adapter.
func (e *Engine) Broker() broker.Broker { return e.broker }

// CreateOrder submits order through the adapter and journals the record.
func (e *Engine) CreateOrder(ctx context.Context, order domain.Order) (domain.OrderRecord, error) {
	rec, err := e.broker.CreateOrder(ctx, order)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	e.logger.Info("order submitted",
		"id", rec.ID, "symbol", rec.Symbol, "side", rec.Side, "type", rec.Type,
		"quantity", rec.Quantity.String(), "status", rec.Status)
	e.journal(ctx, rec)
	return rec, nil
}

// CancelOrder cancels orderID and marks the journaled record cancelled.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	ok, err := e.broker.CancelOrder(ctx, orderID)
	if err != nil || !ok {
		return ok, err
	}
	e.logger.Info("order cancelled", "id", orderID)
	if e.orders != nil {
		err := e.orders.UpdateStatus(ctx, e.broker.Name(), orderID, domain.OrderStatusCancelled, e.now().UTC())
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Placed outside this journal.
		case err != nil:
			e.logger.Error("journaling cancel failed", "id", orderID, "error", err)
		}
	}
	return true, nil
}

// SyncHistory fetches the broker's recent orders and upserts them into the
// journal, refreshing statuses of orders placed earlier.
func (e *Engine) SyncHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.OrderRecord, error) {
	recs, err := e.broker.GetOrderHistory(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		e.journal(ctx, rec)
	}
	e.logger.Debug("history synced", "orders", len(recs))
	return recs, nil
}

// Orders lists journaled orders for this broker.
func (e *Engine) Orders(ctx context.Context, f store.OrderFilter) ([]domain.OrderRecord, error) {
	if e.orders == nil {
		return nil, nil
	}
	f.Broker = e.broker.Name()
	recs, err := e.orders.ListOrders(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing journaled orders: %w", err)
	}
	return recs, nil
}

// Quote fetches the current quote for symbol and appends it to the quote
// tape when one is configured.
func (e *Engine) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	q, err := e.broker.GetMarketPrice(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	if e.quotes != nil {
		if err := e.quotes.WriteQuotes(ctx, e.broker.Name(), []domain.Quote{q}); err != nil {
			e.logger.Error("recording quote failed", "symbol", q.Symbol, "error", err)
		}
	}
	return q, nil
}

func (e *Engine) journal(ctx context.Context, rec domain.OrderRecord) {
	if e.orders == nil {
		return
	}
	if rec.Broker == "" {
		rec.Broker = e.broker.Name()
	}
	if err := e.orders.SaveOrder(ctx, rec); err != nil {
		e.logger.Error("journaling order failed", "id", rec.ID, "error", err)
	}
}
