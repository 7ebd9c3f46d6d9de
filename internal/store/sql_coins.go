package store

import (
	"context"
	"fmt"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// LoadCoins returns the persisted coin snapshot ordered by market rank
func (s *SQLStore) LoadCoins(ctx context.Context) ([]models.Coin, error) {
	rows, err := s.q.query(ctx, `
		SELECT id, name, symbol, price, market_cap, change_24h, image_url, market_rank, updated_ns
		FROM coins
		ORDER BY market_rank, id`)
	if err != nil {
		return nil, fmt.Errorf("query coins: %w", err)
	}
	defer rows.Close()

	coins := make([]models.Coin, 0)
	for rows.Next() {
		var c models.Coin
		var ns int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Symbol, &c.Price, &c.MarketCap, &c.Change24h, &c.ImageURL, &c.Rank, &ns); err != nil {
			return nil, fmt.Errorf("scan coin: %w", err)
		}
		c.LastUpdated = fromNanos(ns)
		coins = append(coins, c)
	}
	return coins, rows.Err()
}

// ReplaceCoins deletes the stored set and writes coins in one transaction
func (s *SQLStore) ReplaceCoins(ctx context.Context, coins []models.Coin) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	q := queries{q: tx, dialect: s.db.Dialect}
	if _, err := q.exec(ctx, `DELETE FROM coins`); err != nil {
		return fmt.Errorf("clear coins: %w", err)
	}
	for _, c := range coins {
		_, err := q.exec(ctx, `
			INSERT INTO coins (id, name, symbol, price, market_cap, change_24h, image_url, market_rank, updated_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Symbol, c.Price, c.MarketCap, c.Change24h, c.ImageURL, c.Rank, toNanos(c.LastUpdated))
		if err != nil {
			return fmt.Errorf("insert coin %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit coins: %w", err)
	}
	return nil
}
