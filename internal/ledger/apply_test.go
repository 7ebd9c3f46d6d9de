package ledger

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// lots are generated as integers scaled to four decimals so sums stay exact
func scaled(n int) decimal.Decimal { return decimal.New(int64(n), -4) }

func trade(side models.TradeType, q, p decimal.Decimal, rate decimal.Decimal) models.Transaction {
	return models.Transaction{
		CoinID:    "btc",
		Type:      side,
		Quantity:  q,
		Price:     p,
		Fee:       Fee(rate, q, p),
		Timestamp: time.Unix(0, 0).UTC(),
	}
}

func TestApplyBuy_NewHolding(t *testing.T) {
	bal := models.Balance{Amount: dec("500")}
	h, nb, err := applyBuy(bal, nil, trade(models.TradeBuy, dec("2"), dec("100"), dec("0.001")))
	require.NoError(t, err)
	assert.True(t, h.Quantity.Equal(dec("2")))
	assert.True(t, h.AveragePrice.Equal(dec("100")))
	assert.True(t, h.TotalFees.Equal(dec("0.2")))
	assert.True(t, nb.Amount.Equal(dec("299.8")))
}

func TestApplySell_NeverMovesAverage(t *testing.T) {
	existing := &models.Holding{CoinID: "btc", Quantity: dec("3"), AveragePrice: dec("42.5"), TotalFees: dec("1")}
	h, open, nb, err := applySell(models.Balance{}, existing, trade(models.TradeSell, dec("1"), dec("1000"), dec("0.01")))
	require.NoError(t, err)
	assert.True(t, open)
	assert.True(t, h.AveragePrice.Equal(dec("42.5")))
	assert.True(t, h.Quantity.Equal(dec("2")))
	assert.True(t, h.TotalFees.Equal(dec("11")))
	assert.True(t, nb.Amount.Equal(dec("990")))
	assert.True(t, existing.Quantity.Equal(dec("3")), "input not mutated")
}

func TestWeightedAverageProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("average equals quantity-weighted mean of buy prices", prop.ForAll(
		func(qs, ps []int) bool {
			rate := dec("0.001")
			bal := models.Balance{Amount: dec("1000000000000")}
			var h *models.Holding
			cost, bought := decimal.Zero, decimal.Zero

			for i := range qs {
				q, p := scaled(qs[i]), scaled(ps[i])
				nh, nb, err := applyBuy(bal, h, trade(models.TradeBuy, q, p, rate))
				if err != nil {
					return false
				}
				h, bal = &nh, nb
				cost = cost.Add(q.Mul(p))
				bought = bought.Add(q)
			}

			want := cost.Div(bought)
			return h.AveragePrice.Sub(want).Abs().LessThan(dec("0.000000001"))
		},
		gen.SliceOfN(12, gen.IntRange(1, 1_000_000)),
		gen.SliceOfN(12, gen.IntRange(1, 100_000_000)),
	))

	properties.Property("sells between buys never move the average", prop.ForAll(
		func(qs, ps []int) bool {
			rate := dec("0.001")
			bal := models.Balance{Amount: dec("1000000000000")}
			var h *models.Holding

			for i := range qs {
				q, p := scaled(qs[i]), scaled(ps[i])
				nh, nb, err := applyBuy(bal, h, trade(models.TradeBuy, q, p, rate))
				if err != nil {
					return false
				}
				h, bal = &nh, nb

				before := h.AveragePrice
				sq := h.Quantity.Div(decimal.NewFromInt(3)).Truncate(4)
				if !sq.IsPositive() {
					continue
				}
				sh, open, sb, err := applySell(bal, h, trade(models.TradeSell, sq, p, rate))
				if err != nil || !open || !sh.AveragePrice.Equal(before) {
					return false
				}
				if !sh.Quantity.Equal(h.Quantity.Sub(sq)) {
					return false
				}
				h, bal = &sh, sb
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(1, 1_000_000)),
		gen.SliceOfN(12, gen.IntRange(1, 100_000_000)),
	))

	properties.TestingRun(t)
}

func TestRoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("buy then sell Q at P costs exactly two fees", prop.ForAll(
		func(qn, pn, fn int) bool {
			q, p := scaled(qn), scaled(pn)
			rate := decimal.New(int64(fn), -4)
			start := q.Mul(p).Mul(dec("2"))
			bal := models.Balance{Amount: start}

			h, bal, err := applyBuy(bal, nil, trade(models.TradeBuy, q, p, rate))
			if err != nil {
				return false
			}
			_, open, bal, err := applySell(bal, &h, trade(models.TradeSell, q, p, rate))
			if err != nil || open {
				return false
			}

			twoFees := rate.Mul(q).Mul(p).Mul(dec("2"))
			return start.Sub(bal.Amount).Equal(twoFees)
		},
		gen.IntRange(1, 10_000_000),
		gen.IntRange(1, 1_000_000_000),
		gen.IntRange(0, 500),
	))

	properties.Property("overselling always fails", prop.ForAll(
		func(held, extra int) bool {
			h := &models.Holding{CoinID: "btc", Quantity: scaled(held), AveragePrice: dec("1")}
			_, _, _, err := applySell(models.Balance{}, h, trade(models.TradeSell, scaled(held+extra), dec("1"), dec("0.01")))
			return err != nil && h.Quantity.Equal(scaled(held))
		},
		gen.IntRange(1, 1_000_000),
		gen.IntRange(1, 1_000_000),
	))

	properties.TestingRun(t)
}
