package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"brokerhub/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ OrderStore = (*SQLiteStore)(nil)

// schema is applied on open. Decimals are stored as TEXT to keep them exact;
// times are Unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
	broker          TEXT    NOT NULL,
	id              TEXT    NOT NULL,
	client_order_id TEXT    NOT NULL DEFAULT '',
	symbol          TEXT    NOT NULL,
	side            TEXT    NOT NULL,
	type            TEXT    NOT NULL,
	quantity        TEXT    NOT NULL,
	limit_price     TEXT,
	stop_price      TEXT,
	time_in_force   TEXT    NOT NULL DEFAULT '',
	status          TEXT    NOT NULL,
	raw_status      TEXT    NOT NULL DEFAULT '',
	filled_quantity TEXT    NOT NULL DEFAULT '0',
	average_price   TEXT    NOT NULL DEFAULT '0',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	PRIMARY KEY (broker, id)
);

CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
`

const orderColumns = `broker, id, client_order_id, symbol, side, type, quantity, limit_price, stop_price,
	time_in_force, status, raw_status, filled_quantity, average_price, created_at, updated_at`

// SQLiteStore implements OrderStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and applies
// the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveOrder upserts rec keyed by (broker, id).
func (s *SQLiteStore) SaveOrder(ctx context.Context, rec domain.OrderRecord) error {
	if rec.Broker == "" || rec.ID == "" {
		return fmt.Errorf("saving order: broker and id are required")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (broker, id) DO UPDATE SET
			client_order_id = excluded.client_order_id,
			status          = excluded.status,
			raw_status      = excluded.raw_status,
			filled_quantity = excluded.filled_quantity,
			average_price   = excluded.average_price,
			updated_at      = excluded.updated_at`,
		rec.Broker, rec.ID, rec.ClientOrderID, rec.Symbol, string(rec.Side), string(rec.Type),
		rec.Quantity.String(), nullDecimal(rec.LimitPrice), nullDecimal(rec.StopPrice),
		string(rec.TimeInForce), string(rec.Status), rec.RawStatus,
		rec.FilledQuantity.String(), rec.AveragePrice.String(),
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving order %s/%s: %w", rec.Broker, rec.ID, err)
	}
	return nil
}

// GetOrder retrieves a single order.
func (s *SQLiteStore) GetOrder(ctx context.Context, brokerKey, id string) (domain.OrderRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE broker = ? AND id = ?`, brokerKey, id)
	rec, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrderRecord{}, fmt.Errorf("order %s/%s: %w", brokerKey, id, ErrNotFound)
	}
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("reading order %s/%s: %w", brokerKey, id, err)
	}
	return rec, nil
}

// ListOrders returns orders matching f, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, f OrderFilter) ([]domain.OrderRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Broker != "" {
		where = append(where, "broker = ?")
		args = append(args, f.Broker)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}

	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateStatus sets the status of an existing order.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, brokerKey, id string, status domain.OrderStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE broker = ? AND id = ?`,
		string(status), at.UnixMilli(), brokerKey, id)
	if err != nil {
		return fmt.Errorf("updating order %s/%s: %w", brokerKey, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s/%s: %w", brokerKey, id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (domain.OrderRecord, error) {
	var (
		rec                          domain.OrderRecord
		side, typ, tif, status       string
		qty, filled, avg             string
		limit, stop                  sql.NullString
		createdMillis, updatedMillis int64
	)
	err := sc.Scan(&rec.Broker, &rec.ID, &rec.ClientOrderID, &rec.Symbol, &side, &typ, &qty, &limit, &stop,
		&tif, &status, &rec.RawStatus, &filled, &avg, &createdMillis, &updatedMillis)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	rec.Side = domain.OrderSide(side)
	rec.Type = domain.OrderType(typ)
	rec.TimeInForce = domain.TimeInForce(tif)
	rec.Status = domain.OrderStatus(status)
	rec.CreatedAt = time.UnixMilli(createdMillis).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMillis).UTC()

	if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("quantity: %w", err)
	}
	if rec.FilledQuantity, err = decimal.NewFromString(filled); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("filled_quantity: %w", err)
	}
	if rec.AveragePrice, err = decimal.NewFromString(avg); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("average_price: %w", err)
	}
	if rec.LimitPrice, err = parseNullDecimal(limit); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("limit_price: %w", err)
	}
	if rec.StopPrice, err = parseNullDecimal(stop); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("stop_price: %w", err)
	}
	return rec, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
