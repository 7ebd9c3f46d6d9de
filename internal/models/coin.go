package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coin is an immutable market snapshot of one asset.
// Refreshes replace coins wholesale, never field by field.
type Coin struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	MarketCap   decimal.Decimal `json:"market_cap"`
	Change24h   decimal.Decimal `json:"change_24h"`
	ImageURL    string          `json:"image_url,omitempty"`
	Rank        int             `json:"rank"`
	LastUpdated time.Time       `json:"last_updated"`
}

// PricePoint is one sample of a historical price series
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}
