package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/db"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements LedgerStore, CoinStore and AlertStore on postgres or sqlite
type SQLStore struct {
	db *db.DB
	q  queries
}

// NewSQLStore wraps an open database
func NewSQLStore(d *db.DB) *SQLStore {
	return &SQLStore{db: d, q: queries{q: d.DB, dialect: d.Dialect}}
}

// InTx runs fn inside a database transaction
func (s *SQLStore) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() // Rollback if we don't commit

	if err := fn(queries{q: tx, dialect: s.db.Dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Balance(ctx context.Context) (models.Balance, error) {
	return s.q.Balance(ctx)
}

func (s *SQLStore) SeedBalance(ctx context.Context, b models.Balance) (bool, error) {
	return s.q.SeedBalance(ctx, b)
}

func (s *SQLStore) Holding(ctx context.Context, coinID string) (models.Holding, bool, error) {
	return s.q.Holding(ctx, coinID)
}

func (s *SQLStore) Holdings(ctx context.Context) ([]models.Holding, error) {
	rows, err := s.q.query(ctx, `
		SELECT coin_id, quantity, avg_price, total_fees, updated_ns
		FROM holdings
		ORDER BY coin_id`)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	holdings := make([]models.Holding, 0)
	for rows.Next() {
		var h models.Holding
		var ns int64
		if err := rows.Scan(&h.CoinID, &h.Quantity, &h.AveragePrice, &h.TotalFees, &ns); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		h.LastUpdated = fromNanos(ns)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *SQLStore) Transactions(ctx context.Context, coinID string) ([]models.Transaction, error) {
	query := `
		SELECT id, coin_id, trade_type, quantity, price, fee, ts_ns
		FROM transactions`
	var args []any
	if coinID != "" {
		query += ` WHERE coin_id = ?`
		args = append(args, coinID)
	}
	query += ` ORDER BY seq DESC`

	rows, err := s.q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]models.Transaction, 0)
	for rows.Next() {
		var t models.Transaction
		var ns int64
		if err := rows.Scan(&t.ID, &t.CoinID, &t.Type, &t.Quantity, &t.Price, &t.Fee, &ns); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Timestamp = fromNanos(ns)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// queries holds the statements shared by the pool and by transactions
type queries struct {
	q       querier
	dialect db.Dialect
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, db.Rebind(q.dialect, query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, db.Rebind(q.dialect, query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, db.Rebind(q.dialect, query), args...)
}

func (q queries) Balance(ctx context.Context) (models.Balance, error) {
	var b models.Balance
	var ns int64
	err := q.queryRow(ctx, `SELECT amount, initial, updated_ns FROM balance WHERE id = 1`).
		Scan(&b.Amount, &b.Initial, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Balance{}, models.ErrNotFound
	}
	if err != nil {
		return models.Balance{}, fmt.Errorf("query balance: %w", err)
	}
	b.LastUpdated = fromNanos(ns)
	return b, nil
}

// SeedBalance inserts the balance row unless it already exists.
// It reports whether a row was created.
func (q queries) SeedBalance(ctx context.Context, b models.Balance) (bool, error) {
	res, err := q.exec(ctx, `
		INSERT INTO balance (id, amount, initial, updated_ns)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		b.Amount, b.Initial, toNanos(b.LastUpdated))
	if err != nil {
		return false, fmt.Errorf("seed balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seed balance: %w", err)
	}
	return n == 1, nil
}

func (q queries) UpdateBalance(ctx context.Context, b models.Balance) error {
	res, err := q.exec(ctx, `UPDATE balance SET amount = ?, updated_ns = ? WHERE id = 1`,
		b.Amount, toNanos(b.LastUpdated))
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return expectOne(res, "balance")
}

func (q queries) Holding(ctx context.Context, coinID string) (models.Holding, bool, error) {
	h := models.Holding{CoinID: coinID}
	var ns int64
	err := q.queryRow(ctx, `
		SELECT quantity, avg_price, total_fees, updated_ns
		FROM holdings
		WHERE coin_id = ?`, coinID).
		Scan(&h.Quantity, &h.AveragePrice, &h.TotalFees, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Holding{}, false, nil
	}
	if err != nil {
		return models.Holding{}, false, fmt.Errorf("query holding %s: %w", coinID, err)
	}
	h.LastUpdated = fromNanos(ns)
	return h, true, nil
}

func (q queries) UpsertHolding(ctx context.Context, h models.Holding) error {
	_, err := q.exec(ctx, `
		INSERT INTO holdings (coin_id, quantity, avg_price, total_fees, updated_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (coin_id) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			total_fees = excluded.total_fees,
			updated_ns = excluded.updated_ns`,
		h.CoinID, h.Quantity, h.AveragePrice, h.TotalFees, toNanos(h.LastUpdated))
	if err != nil {
		return fmt.Errorf("upsert holding %s: %w", h.CoinID, err)
	}
	return nil
}

func (q queries) DeleteHolding(ctx context.Context, coinID string) error {
	res, err := q.exec(ctx, `DELETE FROM holdings WHERE coin_id = ?`, coinID)
	if err != nil {
		return fmt.Errorf("delete holding %s: %w", coinID, err)
	}
	return expectOne(res, "holding "+coinID)
}

func (q queries) InsertTransaction(ctx context.Context, t models.Transaction) error {
	_, err := q.exec(ctx, `
		INSERT INTO transactions (id, coin_id, trade_type, quantity, price, fee, ts_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CoinID, string(t.Type), t.Quantity, t.Price, t.Fee, toNanos(t.Timestamp))
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
