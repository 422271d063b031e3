package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"brokerhub/internal/domain"
)

// Compile-time interface checks.
var _ QuoteStore = (*ParquetStore)(nil)
var _ ComparisonStore = (*ParquetStore)(nil)

// ParquetStore implements QuoteStore and ComparisonStore using one Parquet
// file per UTC day.
type ParquetStore struct {
	DataDir string

	mu sync.Mutex // serializes read-merge-write of day files
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// QuoteRecord is the Parquet schema for the quote tape.
type QuoteRecord struct {
	Broker    string  `parquet:"broker"`
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Bid       float64 `parquet:"bid"`
	BidSize   float64 `parquet:"bid_size"`
	Ask       float64 `parquet:"ask"`
	AskSize   float64 `parquet:"ask_size"`
	Last      float64 `parquet:"last"`
}

// ComparisonRecord is one row of a comparison: a ranked broker, or a broker
// that failed (Error set).
type ComparisonRecord struct {
	GeneratedAt     int64   `parquet:"generated_at,timestamp(millisecond)"` // Unix ms
	Symbol          string  `parquet:"symbol"`
	Quantity        float64 `parquet:"quantity"`
	Broker          string  `parquet:"broker"`
	Rank            int32   `parquet:"rank"` // 1-based, 0 for failures
	Price           float64 `parquet:"price"`
	TakerFeePercent float64 `parquet:"taker_fee_percent"`
	EstimatedCost   float64 `parquet:"estimated_cost"`
	Recommended     bool    `parquet:"recommended"`
	ErrorKind       string  `parquet:"error_kind"`
	Error           string  `parquet:"error"`
}

// ---------------------------------------------------------------------------
// QuoteStore implementation
// ---------------------------------------------------------------------------

// WriteQuotes appends quotes to <DataDir>/quotes/<YYYY-MM-DD>.parquet, one
// file per UTC day of the quote timestamp.
func (s *ParquetStore) WriteQuotes(_ context.Context, brokerKey string, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	groups := make(map[string][]QuoteRecord)
	for _, q := range quotes {
		day := q.Timestamp.UTC().Format("2006-01-02")
		groups[day] = append(groups[day], QuoteRecord{
			Broker:    brokerKey,
			Symbol:    q.Symbol,
			Timestamp: q.Timestamp.UnixMilli(),
			Bid:       q.Bid.InexactFloat64(),
			BidSize:   q.BidSize.InexactFloat64(),
			Ask:       q.Ask.InexactFloat64(),
			AskSize:   q.AskSize.InexactFloat64(),
			Last:      q.Last.InexactFloat64(),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for day, records := range groups {
		t, _ := time.Parse("2006-01-02", day)
		path := s.quotePath(t)
		existing, err := readParquetFile[QuoteRecord](path)
		if err != nil {
			return fmt.Errorf("reading quotes for %s: %w", day, err)
		}
		if err := writeParquetFile(path, mergeQuoteRecords(existing, records)); err != nil {
			return fmt.Errorf("writing quotes for %s: %w", day, err)
		}
	}
	return nil
}

// ReadQuotes reads the quote tape for symbol within [start, end].
func (s *ParquetStore) ReadQuotes(_ context.Context, symbol string, start, end time.Time) ([]BrokerQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []BrokerQuote
	first := time.Date(start.UTC().Year(), start.UTC().Month(), start.UTC().Day(), 0, 0, 0, 0, time.UTC)
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		records, err := readParquetFile[QuoteRecord](s.quotePath(d))
		if err != nil {
			return nil, fmt.Errorf("reading quotes for %s: %w", d.Format("2006-01-02"), err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if r.Symbol != symbol || ts.Before(start) || ts.After(end) {
				continue
			}
			out = append(out, BrokerQuote{
				Broker: r.Broker,
				Quote: domain.Quote{
					Symbol:    r.Symbol,
					Bid:       decimal.NewFromFloat(r.Bid),
					BidSize:   decimal.NewFromFloat(r.BidSize),
					Ask:       decimal.NewFromFloat(r.Ask),
					AskSize:   decimal.NewFromFloat(r.AskSize),
					Last:      decimal.NewFromFloat(r.Last),
					Timestamp: ts,
				},
			})
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// ComparisonStore implementation
// ---------------------------------------------------------------------------

// WriteComparison appends c to <DataDir>/comparisons/<YYYY-MM-DD>.parquet.
func (s *ParquetStore) WriteComparison(_ context.Context, c *domain.Comparison) error {
	if c == nil {
		return nil
	}
	gen := c.GeneratedAt.UnixMilli()
	qty := c.Quantity.InexactFloat64()

	records := make([]ComparisonRecord, 0, len(c.Rankings)+len(c.Errors))
	for i, r := range c.Rankings {
		records = append(records, ComparisonRecord{
			GeneratedAt:     gen,
			Symbol:          c.Symbol,
			Quantity:        qty,
			Broker:          r.Broker,
			Rank:            int32(i + 1),
			Price:           r.Price.InexactFloat64(),
			TakerFeePercent: r.TakerFeePercent.InexactFloat64(),
			EstimatedCost:   r.EstimatedCost.InexactFloat64(),
			Recommended:     c.Recommendation != nil && c.Recommendation.Broker == r.Broker,
		})
	}
	for _, e := range c.Errors {
		records = append(records, ComparisonRecord{
			GeneratedAt: gen,
			Symbol:      c.Symbol,
			Quantity:    qty,
			Broker:      e.Broker,
			ErrorKind:   e.Kind,
			Error:       e.Reason,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.comparisonPath(c.GeneratedAt)
	existing, err := readParquetFile[ComparisonRecord](path)
	if err != nil {
		return fmt.Errorf("reading comparisons: %w", err)
	}
	if err := writeParquetFile(path, append(existing, records...)); err != nil {
		return fmt.Errorf("writing comparisons: %w", err)
	}
	return nil
}

// ReadComparisons returns every comparison row for the UTC day of t.
func (s *ParquetStore) ReadComparisons(_ context.Context, t time.Time) ([]ComparisonRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readParquetFile[ComparisonRecord](s.comparisonPath(t))
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// quotePath returns the filesystem path for a quote Parquet file.
// Layout: <dataDir>/quotes/<YYYY-MM-DD>.parquet
func (s *ParquetStore) quotePath(t time.Time) string {
	return filepath.Join(s.DataDir, "quotes", t.UTC().Format("2006-01-02")+".parquet")
}

// comparisonPath returns the filesystem path for a comparison Parquet file.
// Layout: <dataDir>/comparisons/<YYYY-MM-DD>.parquet
func (s *ParquetStore) comparisonPath(t time.Time) string {
	return filepath.Join(s.DataDir, "comparisons", t.UTC().Format("2006-01-02")+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write to a temp file and rename so readers never see a partial file.
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// readParquetFile returns the rows of path, or nil when it does not exist.
func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeQuoteRecords deduplicates quote records by (broker, symbol,
// timestamp), preferring new records over existing ones. Results are sorted
// by timestamp.
func mergeQuoteRecords(existing, incoming []QuoteRecord) []QuoteRecord {
	type key struct {
		broker, symbol string
		ts             int64
	}
	seen := make(map[key]QuoteRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Broker, r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Broker, r.Symbol, r.Timestamp}] = r
	}

	merged := make([]QuoteRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		if merged[i].Broker != merged[j].Broker {
			return merged[i].Broker < merged[j].Broker
		}
		return merged[i].Symbol < merged[j].Symbol
	})
	return merged
}
