package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// DefaultSimulatedCoins are the seed prices used by NewSimulator
var DefaultSimulatedCoins = []models.Coin{
	{ID: "bitcoin", Name: "Bitcoin", Symbol: "BTC", Price: decimal.NewFromInt(65000), Rank: 1},
	{ID: "ethereum", Name: "Ethereum", Symbol: "ETH", Price: decimal.NewFromInt(3200), Rank: 2},
	{ID: "solana", Name: "Solana", Symbol: "SOL", Price: decimal.NewFromInt(150), Rank: 5},
	{ID: "ripple", Name: "XRP", Symbol: "XRP", Price: decimal.RequireFromString("0.55"), Rank: 6},
	{ID: "cardano", Name: "Cardano", Symbol: "ADA", Price: decimal.RequireFromString("0.45"), Rank: 9},
	{ID: "dogecoin", Name: "Dogecoin", Symbol: "DOGE", Price: decimal.RequireFromString("0.15"), Rank: 8},
}

const maxSeriesPoints = 500

// Simulator is an offline Source. Every snapshot moves each price by a
// random -2%..+2% step from the previous one.
type Simulator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	coins  []models.Coin
	prices map[string]decimal.Decimal
	now    func() time.Time
}

// NewSimulator creates a simulator over DefaultSimulatedCoins
func NewSimulator(seed int64) *Simulator {
	return NewSimulatorWith(seed, DefaultSimulatedCoins)
}

// NewSimulatorWith creates a simulator over the given seed coins
func NewSimulatorWith(seed int64, coins []models.Coin) *Simulator {
	s := &Simulator{
		rng:    rand.New(rand.NewSource(seed)),
		coins:  append([]models.Coin(nil), coins...),
		prices: make(map[string]decimal.Decimal, len(coins)),
		now:    time.Now,
	}
	for _, c := range coins {
		s.prices[c.ID] = c.Price
	}
	return s
}

func (s *Simulator) FetchMarketSnapshot(ctx context.Context) ([]models.Coin, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("simulator: %v: %w", err, ErrTransient)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	out := make([]models.Coin, 0, len(s.coins))
	for _, c := range s.coins {
		// Simulate price change (-2% to +2%)
		changePercent := (s.rng.Float64() - 0.5) * 4
		oldPrice := s.prices[c.ID]
		newPrice := step(oldPrice, changePercent)
		s.prices[c.ID] = newPrice

		c.Price = newPrice
		c.Change24h = decimal.NewFromFloat(changePercent).Round(4)
		c.LastUpdated = now
		out = append(out, c)
	}
	return out, nil
}

// FetchHistoricalSeries walks backwards from the current price. The series is
// deterministic for a given coin and range.
func (s *Simulator) FetchHistoricalSeries(ctx context.Context, coinID string, from, to time.Time) ([]models.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("simulator: %v: %w", err, ErrTransient)
	}
	s.mu.Lock()
	price, ok := s.prices[coinID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("coin %q: %w", coinID, ErrNotFound)
	}
	if !to.After(from) {
		return []models.PricePoint{}, nil
	}

	interval := time.Hour
	if span := to.Sub(from); span/interval > maxSeriesPoints {
		interval = span / maxSeriesPoints
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(coinID))
	rng := rand.New(rand.NewSource(int64(h.Sum64()) ^ from.Unix()))

	var points []models.PricePoint
	for ts := to; !ts.Before(from); ts = ts.Add(-interval) {
		points = append(points, models.PricePoint{Timestamp: ts.UTC(), Price: price})
		price = step(price, (rng.Float64()-0.5)*4)
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func step(price decimal.Decimal, changePercent float64) decimal.Decimal {
	factor := decimal.NewFromFloat(1 + changePercent/100)
	next := price.Mul(factor).Round(8)
	if !next.IsPositive() {
		return price
	}
	return next
}

var _ Source = (*Simulator)(nil)
