// Package store defines the persistence boundary for order records, quotes
// and fee comparisons, with SQLite and Parquet implementations.
package store

import (
	"context"
	"errors"
	"time"

	"brokerhub/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// OrderFilter selects journaled orders. Zero fields match everything.
type OrderFilter struct {
	Broker string
	Symbol string
	Status domain.OrderStatus
	Since  time.Time
	Limit  int
}

// OrderStore journals order records returned by adapters.
type OrderStore interface {
	// SaveOrder inserts the record or replaces the existing one with the same
	// broker and ID.
	SaveOrder(ctx context.Context, rec domain.OrderRecord) error

	// GetOrder retrieves one order by broker key and broker-assigned ID.
	GetOrder(ctx context.Context, brokerKey, id string) (domain.OrderRecord, error)

	// ListOrders returns matching orders, newest first.
	ListOrders(ctx context.Context, f OrderFilter) ([]domain.OrderRecord, error)

	// UpdateStatus changes the status of an existing order.
	UpdateStatus(ctx context.Context, brokerKey, id string, status domain.OrderStatus, at time.Time) error
}

// QuoteStore is an append-only tape of quotes observed per broker.
type QuoteStore interface {
	// WriteQuotes appends quotes observed on brokerKey.
	WriteQuotes(ctx context.Context, brokerKey string, quotes []domain.Quote) error

	// ReadQuotes returns quotes for symbol within [start, end], oldest first.
	ReadQuotes(ctx context.Context, symbol string, start, end time.Time) ([]BrokerQuote, error)
}

// ComparisonStore keeps the results of fee comparisons.
type ComparisonStore interface {
	// WriteComparison appends one comparison.
	WriteComparison(ctx context.Context, c *domain.Comparison) error

	// ReadComparisons returns comparison rows for the UTC day of t.
	ReadComparisons(ctx context.Context, t time.Time) ([]ComparisonRecord, error)
}

// BrokerQuote is a quote tagged with the broker it came from.
type BrokerQuote struct {
	Broker string
	domain.Quote
}
