package models

import "github.com/shopspring/decimal"

// HoldingView is a holding valued against the current price snapshot.
// Nothing here is persisted.
type HoldingView struct {
	Holding
	Name         string          `json:"name,omitempty"`
	Symbol       string          `json:"symbol,omitempty"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	CurrentValue decimal.Decimal `json:"current_value"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPercent   decimal.Decimal `json:"pnl_percent"`
	// Priced is false when the coin is missing from the price cache
	// (delisted or not loaded yet); the value then falls back to cost basis.
	Priced bool `json:"priced"`
}

// PortfolioSummary - what we send back to client for the portfolio screen
type PortfolioSummary struct {
	Holdings           []HoldingView   `json:"holdings"`
	HoldingsValue      decimal.Decimal `json:"holdings_value"`
	Cash               decimal.Decimal `json:"cash"`
	TotalValue         decimal.Decimal `json:"total_value"`
	Initial            decimal.Decimal `json:"initial"`
	PerformancePercent decimal.Decimal `json:"performance_percent"`
}
