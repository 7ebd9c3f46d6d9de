// Package pricecache keeps the latest price of every tracked coin in memory,
// backed by a persistent CoinStore and refreshed from a market Source.
//
// The in-memory view is an immutable Snapshot swapped atomically as a whole;
// readers never observe a partially refreshed map. The cache enforces no TTL:
// callers decide when to Refresh.
package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/events"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/market"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/store"
)

// Snapshot is one consistent view of all cached coins. Never mutated after creation.
type Snapshot struct {
	coins  map[string]models.Coin
	sorted []models.Coin
	// LoadedAt is when this snapshot replaced the previous one
	LoadedAt time.Time
	// Live is true when the coins came from the network during this process,
	// false when they were restored from the persistent store.
	Live bool
}

func newSnapshot(coins []models.Coin, loadedAt time.Time, live bool) *Snapshot {
	m := make(map[string]models.Coin, len(coins))
	for _, c := range coins {
		m[c.ID] = c
	}
	sorted := make([]models.Coin, 0, len(m))
	for _, c := range m {
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Rank, sorted[j].Rank
		if ri != rj {
			// unranked coins go last
			if ri == 0 {
				return false
			}
			if rj == 0 {
				return true
			}
			return ri < rj
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &Snapshot{coins: m, sorted: sorted, LoadedAt: loadedAt, Live: live}
}

// Coin looks up one coin in the snapshot
func (s *Snapshot) Coin(id string) (models.Coin, bool) {
	if s == nil {
		return models.Coin{}, false
	}
	c, ok := s.coins[id]
	return c, ok
}

// Coins returns the snapshot's coins ordered by market rank. The slice is a copy.
func (s *Snapshot) Coins() []models.Coin {
	if s == nil {
		return []models.Coin{}
	}
	return append([]models.Coin(nil), s.sorted...)
}

// MarshalJSON encodes the coins in rank order with the snapshot metadata
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Coins    []models.Coin `json:"coins"`
		LoadedAt time.Time     `json:"loaded_at"`
		Live     bool          `json:"live"`
	}{s.Coins(), s.LoadedAt, s.Live})
}

// Len returns the number of coins
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.coins)
}

// Cache is the two-tier coin price cache
type Cache struct {
	source  market.Source
	store   store.CoinStore
	log     zerolog.Logger
	now     func() time.Time
	updates *events.Broker[*Snapshot]

	snap   atomic.Pointer[Snapshot]
	flight singleflight.Group
	// refreshTimeout bounds one shared network fetch
	refreshTimeout time.Duration
}

// Option customises a Cache
type Option func(*Cache)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithRefreshTimeout bounds each network fetch independently of the callers waiting on it
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// New creates an empty cache. Nothing is loaded until the first GetAll or Refresh.
func New(source market.Source, coins store.CoinStore, opts ...Option) *Cache {
	c := &Cache{
		source:  source,
		store:   coins,
		log:     zerolog.Nop(),
		now:     time.Now,
		updates: events.NewBroker[*Snapshot](),

		refreshTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAll returns every cached coin. The first call on an empty cache blocks
// until a load from the store, falling back to the network, succeeds or fails.
func (c *Cache) GetAll(ctx context.Context) ([]models.Coin, error) {
	if s := c.snap.Load(); s != nil {
		return s.Coins(), nil
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return c.snap.Load().Coins(), nil
}

// GetByID is a point lookup against the in-memory view
func (c *Cache) GetByID(id string) (models.Coin, bool) {
	return c.snap.Load().Coin(id)
}

// Snapshot returns the current view, or nil if nothing was loaded yet
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Subscribe registers fn to be called with every new snapshot
func (c *Cache) Subscribe(fn func(*Snapshot)) (cancel func()) {
	return c.updates.Subscribe(fn)
}

// Updates exposes the snapshot broker for event forwarding
func (c *Cache) Updates() *events.Broker[*Snapshot] {
	return c.updates
}

// ensureLoaded performs the initial load once; concurrent callers share it.
// A failed load is not remembered, so the next caller tries again.
func (c *Cache) ensureLoaded(ctx context.Context) error {
	ch := c.flight.DoChan("load", func() (any, error) {
		if c.snap.Load() != nil {
			return nil, nil
		}
		return nil, c.initialLoad(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) initialLoad(ctx context.Context) error {
	coins, err := c.store.LoadCoins(ctx)
	switch {
	case err != nil:
		c.log.Warn().Err(err).Msg("load persisted coins failed, falling back to network")
	case len(coins) > 0:
		s := newSnapshot(coins, c.now(), false)
		if !c.snap.CompareAndSwap(nil, s) {
			c.log.Debug().Msg("refresh finished during restore, discarding stored coins")
			return nil
		}
		c.updates.Publish(s)
		c.log.Info().Int("coins", len(coins)).Msg("coins restored from store")
		return nil
	}

	return c.Refresh(ctx)
}

// Refresh forces a network fetch. On success the whole in-memory view is
// replaced and persisted. On failure the current view is left untouched and
// the error wraps models.ErrNetworkFailure, or models.ErrNoCachedData when
// there is nothing cached at all.
//
// Concurrent callers share one fetch. The fetch does not inherit any
// caller's cancellation; a caller that gives up gets its own ctx.Err().
func (c *Cache) Refresh(ctx context.Context) error {
	ch := c.flight.DoChan("refresh", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return nil, c.refresh(fctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) refresh(ctx context.Context) error {
	coins, err := c.source.FetchMarketSnapshot(ctx)
	if err == nil && len(coins) == 0 {
		err = errors.New("market returned no coins")
	}
	if err != nil {
		if c.snap.Load().Len() == 0 {
			c.log.Error().Err(err).Msg("refresh failed with nothing cached")
			return fmt.Errorf("%w: %w", models.ErrNoCachedData, err)
		}
		c.log.Warn().Err(err).Bool("transient", market.IsTransient(err)).Msg("refresh failed, keeping cached prices")
		return fmt.Errorf("%w: %w", models.ErrNetworkFailure, err)
	}

	snap := newSnapshot(coins, c.now(), true)
	c.install(snap)

	if err := c.store.ReplaceCoins(context.WithoutCancel(ctx), snap.sorted); err != nil {
		c.log.Error().Err(err).Msg("persist coins failed")
	}
	c.log.Debug().Int("coins", snap.Len()).Msg("prices refreshed")
	return nil
}

func (c *Cache) install(s *Snapshot) {
	c.snap.Store(s)
	c.updates.Publish(s)
}

// History returns the historical price series of one coin straight from the source
func (c *Cache) History(ctx context.Context, coinID string, from, to time.Time) ([]models.PricePoint, error) {
	points, err := c.source.FetchHistoricalSeries(ctx, coinID, from, to)
	if err != nil {
		if errors.Is(err, market.ErrNotFound) {
			return nil, fmt.Errorf("coin %s: %w: %w", coinID, models.ErrNotFound, err)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrNetworkFailure, err)
	}
	return points, nil
}
