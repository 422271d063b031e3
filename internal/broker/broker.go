// Package broker defines the Broker contract every backend adapter satisfies,
// along with the shared error taxonomy, connection state machine, credential
// variants, and normalization helpers the adapters are built from.
package broker

import (
	"context"

	"brokerhub/internal/domain"
)

// Broker abstracts one authenticated session against a brokerage or exchange.
// Only Authenticate, CreateOrder and CancelOrder mutate remote state.
type Broker interface {
	// Name returns the broker key (e.g. "alpaca", "kraken").
	Name() string

	// Info returns static metadata. No I/O.
	Info() domain.BrokerInfo

	// Authenticate establishes the session. It is a no-op when already
	// connected.
	Authenticate(ctx context.Context) error

	// TestConnection performs a lightweight round-trip. It never returns an
	// error and never changes connection state.
	TestConnection(ctx context.Context) bool

	// GetBalance returns a fresh account balance snapshot.
	GetBalance(ctx context.Context) (domain.Balance, error)

	// GetPositions returns all open positions, possibly none.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// CreateOrder validates and submits an order.
	CreateOrder(ctx context.Context, order domain.Order) (domain.OrderRecord, error)

	// CancelOrder cancels an open order. It returns false when the backend
	// reports nothing cancellable.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// GetMarketPrice returns the top-of-book quote for a canonical symbol.
	GetMarketPrice(ctx context.Context, symbol string) (domain.Quote, error)

	// IsSymbolSupported reports whether the backend trades symbol. Never
	// errors; lookup failures report false.
	IsSymbolSupported(ctx context.Context, symbol string) bool

	// NormalizeSymbol converts a backend-native symbol to canonical form.
	NormalizeSymbol(native string) string

	// DenormalizeSymbol converts a canonical symbol to the backend's form.
	DenormalizeSymbol(canonical string) string

	// GetFees returns the fee schedule applicable to symbol.
	GetFees(ctx context.Context, symbol string) (domain.FeeSchedule, error)

	// GetOrderHistory returns recent orders, newest first.
	GetOrderHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.OrderRecord, error)

	// IsConnected reports whether the session is Connected. No I/O.
	IsConnected() bool

	// Close releases the session and returns it to Disconnected.
	Close() error
}
