package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newSim returns an authenticated simulator quoting AAPL at 99.9/100.1 with
// the given taker fee.
func newSim(t *testing.T, taker string) *broker.SimulatorBroker {
	t.Helper()
	sim := broker.NewSimulatorBroker(broker.SimulatorCredentials{}, broker.Options{})
	sim.SetQuote("AAPL", dec("99.9"), dec("100.1"))
	sim.SetFees(domain.FeeSchedule{Maker: dec(taker), Taker: dec(taker)})
	require.NoError(t, sim.Authenticate(context.Background()))
	return sim
}

// slowBroker never answers fee requests before its context expires.
type slowBroker struct {
	*broker.SimulatorBroker
}

func (s slowBroker) GetFees(ctx context.Context, _ string) (domain.FeeSchedule, error) {
	<-ctx.Done()
	return domain.FeeSchedule{}, ctx.Err()
}

// ---------------------------------------------------------------------------
// Comparator
// ---------------------------------------------------------------------------

func TestCompareRanksByCost(t *testing.T) {
	c := NewComparator(CompareOptions{}, nil)
	cmp, err := c.Compare(context.Background(), "aapl", dec("10"), map[string]broker.Broker{
		"sim-a": newSim(t, "0.1"),
		"sim-b": newSim(t, "0.25"),
		"sim-c": newSim(t, "0.05"),
	})
	require.NoError(t, err)

	require.Len(t, cmp.Rankings, 3)
	assert.Equal(t, "AAPL", cmp.Symbol)
	assert.Equal(t, "sim-c", cmp.Rankings[0].Broker)
	assert.Equal(t, "sim-a", cmp.Rankings[1].Broker)
	assert.Equal(t, "sim-b", cmp.Rankings[2].Broker)
	assert.True(t, cmp.Rankings[0].Price.Equal(dec("100")), "price = %s", cmp.Rankings[0].Price)
	assert.True(t, cmp.Rankings[0].EstimatedCost.Equal(dec("0.5")), "cost = %s", cmp.Rankings[0].EstimatedCost)

	require.NotNil(t, cmp.Recommendation)
	assert.Equal(t, "sim-c", cmp.Recommendation.Broker)
	assert.True(t, cmp.Savings.Equal(dec("2")), "savings = %s", cmp.Savings)
	assert.True(t, cmp.SavingsPercent.Equal(dec("80")), "savings%% = %s", cmp.SavingsPercent)
	assert.Empty(t, cmp.Errors)
}

func TestCompareTiesBreakByKey(t *testing.T) {
	c := NewComparator(CompareOptions{}, nil)
	cmp, err := c.Compare(context.Background(), "AAPL", dec("1"), map[string]broker.Broker{
		"zeta":  newSim(t, "0.1"),
		"alpha": newSim(t, "0.1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", cmp.Rankings[0].Broker)
	assert.True(t, cmp.Savings.IsZero())
	assert.True(t, cmp.SavingsPercent.IsZero())
}

func TestCompareTwoOfThreeFail(t *testing.T) {
	unauthenticated := broker.NewSimulatorBroker(broker.SimulatorCredentials{}, broker.Options{})
	unauthenticated.SetQuote("AAPL", dec("99.9"), dec("100.1"))

	c := NewComparator(CompareOptions{Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	cmp, err := c.Compare(context.Background(), "AAPL", dec("10"), map[string]broker.Broker{
		"good": newSim(t, "0.1"),
		"lost": unauthenticated,
		"slow": slowBroker{newSim(t, "0.01")},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, cmp.Rankings, 1)
	assert.Equal(t, "good", cmp.Recommendation.Broker)
	require.Len(t, cmp.Errors, 2)
	assert.Equal(t, "lost", cmp.Errors[0].Broker)
	assert.Equal(t, string(broker.KindNotAuthenticated), cmp.Errors[0].Kind)
	assert.Equal(t, "slow", cmp.Errors[1].Broker)
	assert.Equal(t, string(broker.KindNetwork), cmp.Errors[1].Kind)
	assert.Contains(t, cmp.Errors[1].Reason, "no answer within")
}

func TestCompareUnsupportedSymbol(t *testing.T) {
	noQuote := broker.NewSimulatorBroker(broker.SimulatorCredentials{}, broker.Options{})
	require.NoError(t, noQuote.Authenticate(context.Background()))

	c := NewComparator(CompareOptions{}, nil)
	cmp, err := c.Compare(context.Background(), "AAPL", dec("1"), map[string]broker.Broker{
		"stocks": newSim(t, "0.1"),
		"crypto": noQuote,
	})
	require.NoError(t, err)
	require.Len(t, cmp.Errors, 1)
	assert.Equal(t, string(broker.KindSymbolNotSupported), cmp.Errors[0].Kind)
}

func TestCompareNoViableBrokers(t *testing.T) {
	a := broker.NewSimulatorBroker(broker.SimulatorCredentials{}, broker.Options{})
	b := broker.NewSimulatorBroker(broker.SimulatorCredentials{}, broker.Options{})

	c := NewComparator(CompareOptions{}, nil)
	cmp, err := c.Compare(context.Background(), "AAPL", dec("1"), map[string]broker.Broker{"a": a, "b": b})
	require.Error(t, err)
	assert.Nil(t, cmp)
	assert.True(t, errors.Is(err, ErrNoViableBrokers))
	assert.Contains(t, err.Error(), "a: ")
	assert.Contains(t, err.Error(), "b: ")

	_, err = c.Compare(context.Background(), "AAPL", dec("1"), nil)
	assert.True(t, errors.Is(err, ErrNoViableBrokers))
}

func TestCompareValidation(t *testing.T) {
	c := NewComparator(CompareOptions{}, nil)
	brokers := map[string]broker.Broker{"a": newSim(t, "0.1")}

	for _, tc := range []struct {
		name   string
		symbol string
		qty    decimal.Decimal
	}{
		{"empty symbol", "  ", dec("1")},
		{"zero quantity", "AAPL", decimal.Zero},
		{"negative quantity", "AAPL", dec("-1")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compare(context.Background(), tc.symbol, tc.qty, brokers)
			assert.True(t, errors.Is(err, broker.ErrValidation), "err = %v", err)
		})
	}
}

func TestCompareRecordsComparison(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	c := NewComparator(CompareOptions{}, nil).WithStore(ps)
	cmp, err := c.Compare(context.Background(), "AAPL", dec("2"), map[string]broker.Broker{
		"a": newSim(t, "0.1"),
		"b": broker.NewSimulatorBroker(broker.SimulatorCredentials{}, broker.Options{}),
	})
	require.NoError(t, err)

	rows, err := ps.ReadComparisons(context.Background(), cmp.GeneratedAt)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Recommended)
	assert.Equal(t, string(broker.KindNotAuthenticated), rows[1].ErrorKind)
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

func newJournal(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewEngine(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil)
	if e == nil {
		t.Fatal("NewEngine returned nil")
	}
}

func TestEngineCreateOrderJournals(t *testing.T) {
	ctx := context.Background()
	journal := newJournal(t)
	e := NewEngine(newSim(t, "0.1"), journal, nil, nil)

	rec, err := e.CreateOrder(ctx, domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Quantity: dec("3"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, rec.Status)

	got, err := journal.GetOrder(ctx, broker.KeySimulator, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, got.Status)
	assert.True(t, got.AveragePrice.Equal(dec("100.1")))
}

func TestEngineCreateOrderValidationNotJournaled(t *testing.T) {
	ctx := context.Background()
	journal := newJournal(t)
	e := NewEngine(newSim(t, "0.1"), journal, nil, nil)

	_, err := e.CreateOrder(ctx, domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeStop, Quantity: dec("1"),
	})
	assert.True(t, errors.Is(err, broker.ErrValidation), "err = %v", err)

	recs, err := e.Orders(ctx, store.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEngineCancelOrder(t *testing.T) {
	ctx := context.Background()
	journal := newJournal(t)
	e := NewEngine(newSim(t, "0.1"), journal, nil, nil)

	limit := dec("90")
	rec, err := e.CreateOrder(ctx, domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Quantity: dec("1"), LimitPrice: &limit,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, rec.Status)

	ok, err := e.CancelOrder(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := journal.GetOrder(ctx, broker.KeySimulator, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)

	// A second cancel finds nothing open.
	ok, err = e.CancelOrder(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineSyncHistory(t *testing.T) {
	ctx := context.Background()
	sim := newSim(t, "0.1")
	// Orders placed directly on the adapter are unknown to the journal.
	for i := 0; i < 2; i++ {
		_, err := sim.CreateOrder(ctx, domain.Order{
			Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Quantity: dec("1"),
		})
		require.NoError(t, err)
	}

	journal := newJournal(t)
	e := NewEngine(sim, journal, nil, nil)
	recs, err := e.SyncHistory(ctx, domain.HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	journaled, err := e.Orders(ctx, store.OrderFilter{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Len(t, journaled, 2)
}

func TestEngineQuoteRecordsTape(t *testing.T) {
	ctx := context.Background()
	tape := store.NewParquetStore(t.TempDir())
	e := NewEngine(newSim(t, "0.1"), nil, tape, nil)

	q, err := e.Quote(ctx, "AAPL")
	require.NoError(t, err)

	got, err := tape.ReadQuotes(ctx, "AAPL", q.Timestamp.Add(-time.Second), q.Timestamp.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, broker.KeySimulator, got[0].Broker)
}

// failingJournal rejects every write.
type failingJournal struct{ store.OrderStore }

func (failingJournal) SaveOrder(context.Context, domain.OrderRecord) error {
	return errors.New("disk full")
}

func TestEngineJournalFailureDoesNotFailOrder(t *testing.T) {
	e := NewEngine(newSim(t, "0.1"), failingJournal{}, nil, nil)
	rec, err := e.CreateOrder(context.Background(), domain.Order{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Quantity: dec("1"),
	})
	require.NoError(t, err)
	assert.True(t, strings.TrimSpace(rec.ID) != "")
}
