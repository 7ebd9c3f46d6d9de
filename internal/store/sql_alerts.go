package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

const alertColumns = `id, coin_id, threshold, direction, active, created_ns, last_triggered_ns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (models.Alert, error) {
	var a models.Alert
	var created int64
	var triggered sql.NullInt64
	if err := row.Scan(&a.ID, &a.CoinID, &a.Threshold, &a.Direction, &a.Active, &created, &triggered); err != nil {
		return models.Alert{}, err
	}
	a.CreatedAt = fromNanos(created)
	if triggered.Valid {
		t := fromNanos(triggered.Int64)
		a.LastTriggeredAt = &t
	}
	return a, nil
}

func triggeredArg(a models.Alert) sql.NullInt64 {
	if a.LastTriggeredAt == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*a.LastTriggeredAt), Valid: true}
}

func (s *SQLStore) CreateAlert(ctx context.Context, a models.Alert) error {
	_, err := s.q.exec(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CoinID, a.Threshold, string(a.Direction), a.Active, toNanos(a.CreatedAt), triggeredArg(a))
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLStore) Alert(ctx context.Context, id string) (models.Alert, error) {
	a, err := scanAlert(s.q.queryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("query alert %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLStore) Alerts(ctx context.Context) ([]models.Alert, error) {
	rows, err := s.q.query(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY created_ns, id`)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *SQLStore) UpdateAlert(ctx context.Context, a models.Alert) error {
	res, err := s.q.exec(ctx, `
		UPDATE alerts SET threshold = ?, direction = ?, active = ?, last_triggered_ns = ?
		WHERE id = ?`,
		a.Threshold, string(a.Direction), a.Active, triggeredArg(a), a.ID)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, err)
	}
	return expectOne(res, "alert "+a.ID)
}

func (s *SQLStore) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.q.exec(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	return expectOne(res, "alert "+id)
}

var (
	_ LedgerStore = (*SQLStore)(nil)
	_ CoinStore   = (*SQLStore)(nil)
	_ AlertStore  = (*SQLStore)(nil)
	_ LedgerTx    = queries{}
)
