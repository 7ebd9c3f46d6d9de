// Package alerts detects price threshold crossings and manages alert definitions.
package alerts

import (
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// Evaluate returns a trigger for every active alert whose coin price is at or
// beyond its threshold. Alerts on coins missing from coins are skipped.
// It has no side effects: the same inputs always give the same triggers.
func Evaluate(coins []models.Coin, alerts []models.Alert) []models.Trigger {
	byID := make(map[string]models.Coin, len(coins))
	for _, c := range coins {
		byID[c.ID] = c
	}

	var triggers []models.Trigger
	for _, a := range alerts {
		if !a.Active {
			continue
		}
		c, ok := byID[a.CoinID]
		if !ok {
			continue
		}
		if a.Crossed(c.Price) {
			triggers = append(triggers, models.Trigger{Alert: a, Coin: c, Price: c.Price, At: c.LastUpdated})
		}
	}
	return triggers
}
