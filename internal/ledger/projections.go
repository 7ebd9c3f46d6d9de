package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/pricecache"
)

// Single-read projections take no lock and only see committed state.
// Summary combines two reads and holds the read lock so no trade lands between them.

var hundred = decimal.NewFromInt(100)

// Holdings returns every open holding valued against the current price
// snapshot, largest current value first.
func (l *Ledger) Holdings(ctx context.Context) ([]models.HoldingView, error) {
	hs, err := l.store.Holdings(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list holdings: %w", models.ErrStorageFailure, err)
	}
	return value(hs, l.prices.Snapshot()), nil
}

func value(hs []models.Holding, snap *pricecache.Snapshot) []models.HoldingView {
	views := make([]models.HoldingView, 0, len(hs))
	for _, h := range hs {
		v := models.HoldingView{Holding: h, CostBasis: h.CostBasis()}
		if c, ok := snap.Coin(h.CoinID); ok {
			v.Name, v.Symbol = c.Name, c.Symbol
			v.CurrentPrice = c.Price
			v.CurrentValue = h.Quantity.Mul(c.Price)
			v.Priced = true
		} else {
			// unknown price: value at cost so totals stay meaningful
			v.CurrentValue = v.CostBasis
		}
		v.PnL = v.CurrentValue.Sub(v.CostBasis)
		if v.CostBasis.IsPositive() {
			v.PnLPercent = v.PnL.Div(v.CostBasis).Mul(hundred).Round(4)
		}
		views = append(views, v)
	}
	sort.SliceStable(views, func(i, j int) bool {
		if c := views[i].CurrentValue.Cmp(views[j].CurrentValue); c != 0 {
			return c > 0
		}
		return views[i].CoinID < views[j].CoinID
	})
	return views
}

// TransactionsFor returns the history of one coin, newest first
func (l *Ledger) TransactionsFor(ctx context.Context, coinID string) ([]models.Transaction, error) {
	if coinID == "" {
		return nil, fmt.Errorf("%w: empty coin id", models.ErrNotFound)
	}
	txs, err := l.store.Transactions(ctx, coinID)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", models.ErrStorageFailure, err)
	}
	return txs, nil
}

// AllTransactions returns the full history, newest first
func (l *Ledger) AllTransactions(ctx context.Context) ([]models.Transaction, error) {
	txs, err := l.store.Transactions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", models.ErrStorageFailure, err)
	}
	return txs, nil
}

// Balance returns the cash balance. Before the first seed it reports the
// configured initial balance without writing it.
func (l *Ledger) Balance(ctx context.Context) (models.Balance, error) {
	b, err := l.store.Balance(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return models.Balance{Amount: l.cfg.InitialBalance, Initial: l.cfg.InitialBalance}, nil
	}
	if err != nil {
		return models.Balance{}, fmt.Errorf("%w: read balance: %w", models.ErrStorageFailure, err)
	}
	return b, nil
}

// Summary values the whole portfolio: holdings at current prices plus cash
func (l *Ledger) Summary(ctx context.Context) (models.PortfolioSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bal, err := l.Balance(ctx)
	if err != nil {
		return models.PortfolioSummary{}, err
	}
	views, err := l.Holdings(ctx)
	if err != nil {
		return models.PortfolioSummary{}, err
	}

	s := models.PortfolioSummary{
		Holdings: views,
		Cash:     bal.Amount,
		Initial:  bal.Initial,
	}
	for _, v := range views {
		s.HoldingsValue = s.HoldingsValue.Add(v.CurrentValue)
	}
	s.TotalValue = s.HoldingsValue.Add(s.Cash)
	if s.Initial.IsPositive() {
		s.PerformancePercent = s.TotalValue.Sub(s.Initial).Div(s.Initial).Mul(hundred).Round(4)
	}
	return s, nil
}
