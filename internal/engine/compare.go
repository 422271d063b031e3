package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/store"
	"brokerhub/internal/util"
)

// ErrNoViableBrokers is returned when every compared broker failed.
var ErrNoViableBrokers = errors.New("no viable brokers")

// Comparison defaults.
const (
	DefaultCompareTimeout  = 5 * time.Second
	DefaultMaxParallel     = 8
	DefaultCompareAttempts = 2
)

var hundred = decimal.NewFromInt(100)

// CompareOptions tune a Comparator. Zero values select the defaults.
type CompareOptions struct {
	Timeout     time.Duration // per broker
	MaxParallel int
	Attempts    int // per call, for network and rate-limit errors
}

// Comparator ranks brokers by the estimated taker cost of an order.
type Comparator struct {
	opts   CompareOptions
	logger *slog.Logger
	store  store.ComparisonStore
	now    func() time.Time
}

// NewComparator creates a Comparator. A nil logger selects slog.Default.
func NewComparator(opts CompareOptions, logger *slog.Logger) *Comparator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCompareTimeout
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultCompareAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparator{opts: opts, logger: logger, now: time.Now}
}

// WithStore records every successful comparison in s.
func (c *Comparator) WithStore(s store.ComparisonStore) *Comparator {
	c.store = s
	return c
}

type outcome struct {
	key     string
	ranking domain.Ranking
	err     error
}

// Compare fetches fees and a quote from every broker concurrently and ranks
// the brokers that answered by estimated cost, cheapest first. Brokers that
// fail or exceed the per-broker timeout are reported in Errors. When none
// answer, the error wraps ErrNoViableBrokers.
func (c *Comparator) Compare(ctx context.Context, symbol string, quantity decimal.Decimal, brokers map[string]broker.Broker) (*domain.Comparison, error) {
	symbol = broker.CleanSymbol(symbol)
	if symbol == "" {
		return nil, broker.NewError(broker.KindValidation, "", "Compare", "symbol is required", nil)
	}
	if !quantity.IsPositive() {
		return nil, broker.NewError(broker.KindValidation, "", "Compare", "quantity must be positive", nil)
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: no brokers given", ErrNoViableBrokers)
	}

	keys := make([]string, 0, len(brokers))
	for k := range brokers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]outcome, len(keys))
	var g errgroup.Group
	g.SetLimit(c.opts.MaxParallel)
	for i, key := range keys {
		g.Go(func() error {
			results[i] = c.evaluate(ctx, key, brokers[key], symbol, quantity)
			return nil
		})
	}
	_ = g.Wait()

	cmp := &domain.Comparison{
		Symbol:      symbol,
		Quantity:    quantity,
		GeneratedAt: c.now().UTC(),
	}
	var reasons []string
	for _, r := range results {
		if r.err != nil {
			cmp.Errors = append(cmp.Errors, domain.ComparisonError{
				Broker: r.key,
				Kind:   string(broker.KindOf(r.err)),
				Reason: r.err.Error(),
			})
			reasons = append(reasons, r.key+": "+r.err.Error())
			continue
		}
		cmp.Rankings = append(cmp.Rankings, r.ranking)
	}
	if len(cmp.Rankings) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoViableBrokers, strings.Join(reasons, "; "))
	}

	sort.SliceStable(cmp.Rankings, func(i, j int) bool {
		a, b := cmp.Rankings[i], cmp.Rankings[j]
		if !a.EstimatedCost.Equal(b.EstimatedCost) {
			return a.EstimatedCost.LessThan(b.EstimatedCost)
		}
		return a.Broker < b.Broker
	})
	best := cmp.Rankings[0]
	worst := cmp.Rankings[len(cmp.Rankings)-1]
	cmp.Recommendation = &best
	cmp.Savings = worst.EstimatedCost.Sub(best.EstimatedCost)
	if worst.EstimatedCost.IsPositive() {
		cmp.SavingsPercent = cmp.Savings.Div(worst.EstimatedCost).Mul(hundred).Round(4)
	}

	c.logger.Info("comparison complete",
		"symbol", symbol, "quantity", quantity.String(),
		"ranked", len(cmp.Rankings), "failed", len(cmp.Errors), "best", best.Broker)

	if c.store != nil {
		if err := c.store.WriteComparison(ctx, cmp); err != nil {
			c.logger.Error("recording comparison failed", "error", err)
		}
	}
	return cmp, nil
}

// evaluate fetches fees and a quote from one broker under the per-broker
// timeout.
func (c *Comparator) evaluate(ctx context.Context, key string, b broker.Broker, symbol string, quantity decimal.Decimal) outcome {
	out := outcome{key: key}
	if b == nil {
		out.err = broker.NewError(broker.KindBrokerUnavailable, key, "Compare", "no adapter", nil)
		return out
	}

	bctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var (
		fees  domain.FeeSchedule
		quote domain.Quote
	)
	g, gctx := errgroup.WithContext(bctx)
	g.Go(func() error {
		var err error
		fees, err = util.RetryValue(gctx, c.opts.Attempts, 100*time.Millisecond, retryableForCompare,
			func() (domain.FeeSchedule, error) { return b.GetFees(gctx, symbol) })
		return err
	})
	g.Go(func() error {
		var err error
		quote, err = util.RetryValue(gctx, c.opts.Attempts, 100*time.Millisecond, retryableForCompare,
			func() (domain.Quote, error) { return b.GetMarketPrice(gctx, symbol) })
		return err
	})
	if err := g.Wait(); err != nil {
		if bctx.Err() != nil && ctx.Err() == nil {
			err = broker.NewError(broker.KindNetwork, key, "Compare",
				fmt.Sprintf("no answer within %s", c.opts.Timeout), err)
		}
		out.err = err
		c.logger.Warn("broker excluded from comparison", "broker", key, "error", err)
		return out
	}

	price := quote.ReferencePrice()
	if !price.IsPositive() {
		out.err = broker.NewError(broker.KindMarketClosed, key, "Compare", "no reference price for "+symbol, nil)
		return out
	}
	notional := quantity.Mul(price)
	out.ranking = domain.Ranking{
		Broker:          key,
		Price:           price,
		Notional:        notional,
		TakerFeePercent: fees.Taker,
		EstimatedCost:   notional.Mul(fees.Taker).Div(hundred),
		Fees:            fees,
		Quote:           quote,
	}
	return out
}

// retryableForCompare retries transient transport failures only. A closed
// market will not reopen within the comparison timeout.
func retryableForCompare(err error) bool {
	switch broker.KindOf(err) {
	case broker.KindNetwork, broker.KindRateLimited:
		return true
	}
	return false
}
