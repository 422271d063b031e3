package broker

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"brokerhub/internal/domain"
)

// ---------------------------------------------------------------------------
// Balances
// ---------------------------------------------------------------------------

// RawBalance is an adapter's partially-populated view of an account. Nil
// pointer fields are derived by BuildBalance.
type RawBalance struct {
	Cash              decimal.Decimal
	Equity            decimal.Decimal
	Available         *decimal.Decimal
	PortfolioValue    *decimal.Decimal
	BuyingPower       *decimal.Decimal
	ProfitLoss        decimal.Decimal
	ProfitLossPercent *decimal.Decimal
	Currency          string
}

var hundred = decimal.NewFromInt(100)

// BuildBalance derives a canonical Balance. Missing Available defaults to
// Equity, Available is clamped to [0, Equity], BuyingPower defaults to
// Available and PortfolioValue to Equity.
func BuildBalance(r RawBalance) domain.Balance {
	equity := decimal.Max(r.Equity, decimal.Zero)

	available := equity
	if r.Available != nil {
		available = decimal.Min(decimal.Max(*r.Available, decimal.Zero), equity)
	}

	buyingPower := available
	if r.BuyingPower != nil {
		buyingPower = decimal.Max(*r.BuyingPower, decimal.Zero)
	}

	portfolio := equity
	if r.PortfolioValue != nil {
		portfolio = decimal.Max(*r.PortfolioValue, decimal.Zero)
	}

	plPct := decimal.Zero
	if r.ProfitLossPercent != nil {
		plPct = *r.ProfitLossPercent
	} else if base := equity.Sub(r.ProfitLoss); base.IsPositive() {
		plPct = r.ProfitLoss.Div(base).Mul(hundred).Round(4)
	}

	currency := r.Currency
	if currency == "" {
		currency = "USD"
	}

	return domain.Balance{
		Cash:              decimal.Max(r.Cash, decimal.Zero),
		Available:         available,
		Equity:            equity,
		PortfolioValue:    portfolio,
		BuyingPower:       buyingPower,
		ProfitLoss:        r.ProfitLoss,
		ProfitLossPercent: plPct,
		Currency:          currency,
	}
}

// Ptr returns a pointer to d, for populating RawBalance.
func Ptr(d decimal.Decimal) *decimal.Decimal { return &d }

// ---------------------------------------------------------------------------
// Quotes
// ---------------------------------------------------------------------------

// CheckQuote rejects quotes that cannot be traded against: crossed books and
// quotes with no price at all.
func CheckQuote(brokerKey string, q domain.Quote) error {
	if q.Bid.IsPositive() && q.Ask.IsPositive() && q.Bid.GreaterThan(q.Ask) {
		return NewError(KindMarketClosed, brokerKey, "GetMarketPrice",
			"crossed quote for "+q.Symbol+" (bid "+q.Bid.String()+" > ask "+q.Ask.String()+")", nil)
	}
	if !q.Bid.IsPositive() && !q.Ask.IsPositive() && !q.Last.IsPositive() {
		return NewError(KindMarketClosed, brokerKey, "GetMarketPrice", "no quote for "+q.Symbol, nil)
	}
	return nil
}

// QuoteClock keeps quote timestamps non-decreasing per symbol.
type QuoteClock struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewQuoteClock returns an empty clock.
func NewQuoteClock() *QuoteClock {
	return &QuoteClock{last: make(map[string]time.Time), now: time.Now}
}

// Stamp returns the timestamp to report for symbol. A zero ts means the
// backend sent none and the local clock is used.
func (c *QuoteClock) Stamp(symbol string, ts time.Time) time.Time {
	if ts.IsZero() {
		ts = c.now()
	}
	ts = ts.UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[symbol]; ok && ts.Before(prev) {
		return prev
	}
	c.last[symbol] = ts
	return ts
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// SplitPair splits a canonical crypto pair "BASE/QUOTE".
func SplitPair(canonical string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(canonical, "/")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}

// IsPair reports whether symbol is a canonical crypto pair.
func IsPair(symbol string) bool {
	_, _, ok := SplitPair(symbol)
	return ok
}

// CleanSymbol upper-cases and trims a user-supplied symbol.
func CleanSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// FilterHistory applies q to records and returns them newest first, bounded
// by q.EffectiveLimit.
func FilterHistory(records []domain.OrderRecord, q domain.HistoryQuery) []domain.OrderRecord {
	out := make([]domain.OrderRecord, 0, len(records))
	for _, r := range records {
		if q.Symbol != "" && r.Symbol != q.Symbol {
			continue
		}
		if !q.Since.IsZero() && r.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}
