// Package ledger is the portfolio ledger engine: it applies buy and sell
// orders against the cash balance and holdings, keeps the weighted-average
// cost basis, and projects the portfolio against live prices.
//
// All writes go through one lock and one store transaction per trade, so a
// trade is either fully applied or not at all. Projections that combine
// several reads take the read side of the same lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/events"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/pricecache"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/store"
)

// Prices is the part of the price cache the ledger depends on
type Prices interface {
	Snapshot() *pricecache.Snapshot
	Refresh(ctx context.Context) error
}

// Config holds the ledger constants
type Config struct {
	FeeRate        decimal.Decimal
	InitialBalance decimal.Decimal
	// Staleness is how old a coin price may be before a trade forces a
	// refresh. Zero disables the check.
	Staleness time.Duration
}

// EventKind names a ledger event
type EventKind string

const (
	EventBalanceSeeded EventKind = "balance_seeded"
	EventTradeExecuted EventKind = "trade_executed"
)

// Event is published after every committed change
type Event struct {
	Kind        EventKind           `json:"kind"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	// Holding is the position after the trade; nil when the trade closed it
	Holding *models.Holding `json:"holding,omitempty"`
	Balance models.Balance  `json:"balance"`
}

// Ledger is the transactional core of the portfolio
type Ledger struct {
	store  store.LedgerStore
	prices Prices
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
	newID  func() string
	events *events.Broker[Event]

	mu     sync.RWMutex // write side guards buy/sell/seed
	seeded bool
}

// Option customises a Ledger
type Option func(*Ledger)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides the transaction id generator
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a ledger. Call Open before serving requests.
func New(st store.LedgerStore, prices Prices, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		prices: prices,
		cfg:    cfg,
		log:    zerolog.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
		events: events.NewBroker[Event](),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open seeds the cash balance on first-ever use. A balance that already
// exists is never overwritten, so Open is safe on every start.
func (l *Ledger) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seedLocked(ctx)
}

func (l *Ledger) seedLocked(ctx context.Context) error {
	if l.seeded {
		return nil
	}
	b := models.Balance{
		Amount:      l.cfg.InitialBalance,
		Initial:     l.cfg.InitialBalance,
		LastUpdated: l.now().UTC(),
	}
	created, err := l.store.SeedBalance(ctx, b)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	l.seeded = true
	if created {
		l.log.Info().Str("amount", b.Amount.String()).Msg("balance seeded")
		l.events.Publish(Event{Kind: EventBalanceSeeded, Balance: b})
	}
	return nil
}

// Subscribe registers fn for every ledger event
func (l *Ledger) Subscribe(fn func(Event)) (cancel func()) {
	return l.events.Subscribe(fn)
}

// Events exposes the event broker for forwarding
func (l *Ledger) Events() *events.Broker[Event] {
	return l.events
}

// FeeRate returns the configured fee rate
func (l *Ledger) FeeRate() decimal.Decimal {
	return l.cfg.FeeRate
}

// Buy debits quantity × price plus fee from the balance and adds quantity
// to the coin's holding at a re-weighted average price.
func (l *Ledger) Buy(ctx context.Context, coinID string, quantity, price decimal.Decimal) (models.Transaction, error) {
	r, err := l.Execute(ctx, models.TradeBuy, coinID, quantity, price)
	return r.Transaction, err
}

// Sell removes quantity from the coin's holding and credits quantity × price
// minus fee. Selling more than is held, or a coin not held at all, fails with
// ErrInsufficientHoldings.
func (l *Ledger) Sell(ctx context.Context, coinID string, quantity, price decimal.Decimal) (models.Transaction, error) {
	r, err := l.Execute(ctx, models.TradeSell, coinID, quantity, price)
	return r.Transaction, err
}

// Execute applies one buy or sell and returns the committed transaction
// together with the holding and balance it left behind.
func (l *Ledger) Execute(ctx context.Context, side models.TradeType, coinID string, quantity, price decimal.Decimal) (models.TradeReceipt, error) {
	if !side.Valid() {
		return models.TradeReceipt{}, fmt.Errorf("unknown trade side %q", side)
	}
	if !quantity.IsPositive() {
		return models.TradeReceipt{}, fmt.Errorf("%w: got %s", models.ErrInvalidQuantity, quantity)
	}
	if !price.IsPositive() {
		return models.TradeReceipt{}, fmt.Errorf("%w: got %s", models.ErrInvalidPrice, price)
	}

	// may hit the network, so it runs before the write lock
	if _, err := l.resolve(ctx, coinID); err != nil {
		return models.TradeReceipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.seedLocked(ctx); err != nil {
		return models.TradeReceipt{}, err
	}

	t := models.Transaction{
		ID:        l.newID(),
		CoinID:    coinID,
		Type:      side,
		Quantity:  quantity,
		Price:     price,
		Fee:       Fee(l.cfg.FeeRate, quantity, price),
		Timestamp: l.now().UTC(),
	}

	var after *models.Holding
	var bal models.Balance
	err := l.store.InTx(ctx, func(tx store.LedgerTx) error {
		b, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		var existing *models.Holding
		if h, ok, err := tx.Holding(ctx, coinID); err != nil {
			return err
		} else if ok {
			existing = &h
		}

		switch side {
		case models.TradeBuy:
			h, nb, err := applyBuy(b, existing, t)
			if err != nil {
				return err
			}
			if err := tx.UpsertHolding(ctx, h); err != nil {
				return err
			}
			after, bal = &h, nb
		case models.TradeSell:
			h, open, nb, err := applySell(b, existing, t)
			if err != nil {
				return err
			}
			if open {
				err = tx.UpsertHolding(ctx, h)
				after = &h
			} else {
				err = tx.DeleteHolding(ctx, coinID)
			}
			if err != nil {
				return err
			}
			bal = nb
		}

		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, bal)
	})
	if err != nil {
		if isRejection(err) {
			l.log.Info().Str("side", string(side)).Str("coin", coinID).Err(err).Msg("trade rejected")
			return models.TradeReceipt{}, err
		}
		l.log.Error().Str("side", string(side)).Str("coin", coinID).Err(err).Msg("trade not applied")
		return models.TradeReceipt{}, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}

	l.log.Info().
		Str("id", t.ID).
		Str("side", string(side)).
		Str("coin", coinID).
		Str("quantity", quantity.String()).
		Str("price", price.String()).
		Str("fee", t.Fee.String()).
		Str("balance", bal.Amount.String()).
		Msg("trade executed")

	l.events.Publish(Event{Kind: EventTradeExecuted, Transaction: &t, Holding: after, Balance: bal})
	return models.TradeReceipt{Transaction: t, Holding: after, Balance: bal}, nil
}

func isRejection(err error) bool {
	return errors.Is(err, models.ErrInsufficientBalance) || errors.Is(err, models.ErrInsufficientHoldings)
}

// Quote returns the coin a trade placed now would be priced against,
// applying the same staleness rules as Buy and Sell.
func (l *Ledger) Quote(ctx context.Context, coinID string) (models.Coin, error) {
	return l.resolve(ctx, coinID)
}

// resolve finds coinID in the current price snapshot, refreshing first when
// nothing is loaded or the coin's price is older than the staleness tolerance.
// Prices restored from disk are never trusted once a refresh has failed.
func (l *Ledger) resolve(ctx context.Context, coinID string) (models.Coin, error) {
	snap := l.prices.Snapshot()
	if snap == nil {
		if err := l.prices.Refresh(ctx); err != nil {
			return models.Coin{}, fmt.Errorf("%w: %s: %w", models.ErrPriceUnavailable, coinID, err)
		}
		snap = l.prices.Snapshot()
	}

	coin, ok := snap.Coin(coinID)
	if !ok {
		return models.Coin{}, fmt.Errorf("%w: %s is not in the price cache", models.ErrPriceUnavailable, coinID)
	}
	if !l.stale(coin) {
		return coin, nil
	}

	err := l.prices.Refresh(ctx)
	if err == nil {
		coin, ok = l.prices.Snapshot().Coin(coinID)
		if !ok {
			return models.Coin{}, fmt.Errorf("%w: %s was delisted", models.ErrPriceUnavailable, coinID)
		}
		return coin, nil
	}
	if !snap.Live {
		return models.Coin{}, fmt.Errorf("%w: %s price is from a previous session: %w", models.ErrPriceUnavailable, coinID, err)
	}
	l.log.Warn().Err(err).Str("coin", coinID).Time("price_at", coin.LastUpdated).Msg("trading on stale price")
	return coin, nil
}

func (l *Ledger) stale(c models.Coin) bool {
	if l.cfg.Staleness <= 0 {
		return false
	}
	return c.LastUpdated.IsZero() || l.now().Sub(c.LastUpdated) > l.cfg.Staleness
}
