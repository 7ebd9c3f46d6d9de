// Package store is the persistence layer for coins, the ledger and alerts.
// It holds no business rules: callers decide what to write.
package store

import (
	"context"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// LedgerTx is the set of reads and writes available inside one atomic unit
type LedgerTx interface {
	// Balance returns models.ErrNotFound if the balance was never seeded
	Balance(ctx context.Context) (models.Balance, error)
	SeedBalance(ctx context.Context, b models.Balance) (bool, error)
	UpdateBalance(ctx context.Context, b models.Balance) error

	Holding(ctx context.Context, coinID string) (models.Holding, bool, error)
	UpsertHolding(ctx context.Context, h models.Holding) error
	DeleteHolding(ctx context.Context, coinID string) error

	InsertTransaction(ctx context.Context, t models.Transaction) error
}

// LedgerStore persists holdings, transactions and the cash balance
type LedgerStore interface {
	// InTx runs fn in a transaction. If fn returns an error nothing is applied.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error

	Balance(ctx context.Context) (models.Balance, error)
	SeedBalance(ctx context.Context, b models.Balance) (bool, error)
	Holding(ctx context.Context, coinID string) (models.Holding, bool, error)
	Holdings(ctx context.Context) ([]models.Holding, error)
	// Transactions lists history newest first; an empty coinID lists all coins
	Transactions(ctx context.Context, coinID string) ([]models.Transaction, error)
}

// CoinStore is the persistent tier of the price cache
type CoinStore interface {
	LoadCoins(ctx context.Context) ([]models.Coin, error)
	// ReplaceCoins swaps the stored set for coins in one atomic step
	ReplaceCoins(ctx context.Context, coins []models.Coin) error
}

// AlertStore persists alert definitions
type AlertStore interface {
	CreateAlert(ctx context.Context, a models.Alert) error
	Alert(ctx context.Context, id string) (models.Alert, error)
	Alerts(ctx context.Context) ([]models.Alert, error)
	UpdateAlert(ctx context.Context, a models.Alert) error
	DeleteAlert(ctx context.Context, id string) error
}
