// Package market provides live price data: a CoinGecko REST client and an
// offline random-walk simulator behind one Source interface.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// Failure classes. Every error returned by a Source wraps at most one of them.
var (
	// ErrTransient marks timeouts, rate limiting, 5xx and transport failures.
	ErrTransient = errors.New("market: transient failure")
	// ErrNotFound marks an unknown coin or endpoint.
	ErrNotFound = errors.New("market: not found")
)

// Source is the remote market data API
type Source interface {
	FetchMarketSnapshot(ctx context.Context) ([]models.Coin, error)
	FetchHistoricalSeries(ctx context.Context, coinID string, from, to time.Time) ([]models.PricePoint, error)
}

// IsTransient reports whether err is worth retrying later
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
