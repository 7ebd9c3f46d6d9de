package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// Fee is the trading fee charged on a notional of quantity × price
func Fee(rate, quantity, price decimal.Decimal) decimal.Decimal {
	return rate.Mul(quantity).Mul(price)
}

// applyBuy returns the holding and balance after t, or ErrInsufficientBalance.
// existing is nil when the coin has no open holding.
func applyBuy(bal models.Balance, existing *models.Holding, t models.Transaction) (models.Holding, models.Balance, error) {
	debit := t.Total().Add(t.Fee)
	if debit.GreaterThan(bal.Amount) {
		return models.Holding{}, bal, fmt.Errorf("%w: need %s, have %s",
			models.ErrInsufficientBalance, debit.StringFixed(2), bal.Amount.StringFixed(2))
	}

	h := models.Holding{
		CoinID:       t.CoinID,
		Quantity:     t.Quantity,
		AveragePrice: t.Price,
		TotalFees:    t.Fee,
		LastUpdated:  t.Timestamp,
	}
	if existing != nil {
		// quantity-weighted mean of the old position and the new lot
		qty := existing.Quantity.Add(t.Quantity)
		cost := existing.AveragePrice.Mul(existing.Quantity).Add(t.Price.Mul(t.Quantity))
		h.Quantity = qty
		h.AveragePrice = cost.Div(qty)
		h.TotalFees = existing.TotalFees.Add(t.Fee)
	}

	bal.Amount = bal.Amount.Sub(debit)
	bal.LastUpdated = t.Timestamp
	return h, bal, nil
}

// applySell returns the holding and balance after t, or ErrInsufficientHoldings.
// open is false when the sell closes the position and the holding must be deleted.
func applySell(bal models.Balance, existing *models.Holding, t models.Transaction) (h models.Holding, open bool, _ models.Balance, _ error) {
	if existing == nil {
		return models.Holding{}, false, bal, fmt.Errorf("%w: no %s held", models.ErrInsufficientHoldings, t.CoinID)
	}
	if t.Quantity.GreaterThan(existing.Quantity) {
		return models.Holding{}, false, bal, fmt.Errorf("%w: own %s %s, trying to sell %s",
			models.ErrInsufficientHoldings, existing.Quantity, t.CoinID, t.Quantity)
	}

	h = *existing
	h.Quantity = existing.Quantity.Sub(t.Quantity)
	h.TotalFees = existing.TotalFees.Add(t.Fee)
	h.LastUpdated = t.Timestamp
	// average price is untouched: the remaining units keep their cost basis

	bal.Amount = bal.Amount.Add(t.Total().Sub(t.Fee))
	bal.LastUpdated = t.Timestamp
	return h, h.Quantity.IsPositive(), bal, nil
}
