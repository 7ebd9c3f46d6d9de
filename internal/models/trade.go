package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeType is the side of a trade
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// Valid reports whether t is BUY or SELL
func (t TradeType) Valid() bool {
	return t == TradeBuy || t == TradeSell
}

// Transaction represents one executed buy/sell.
// Transactions are append-only: once written they are never mutated or deleted.
type Transaction struct {
	ID        string          `json:"id"`
	CoinID    string          `json:"coin_id"`
	Type      TradeType       `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}

// Total is the notional amount of the trade, fee excluded
func (t Transaction) Total() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// CashDelta is the signed change the trade applied to the cash balance
func (t Transaction) CashDelta() decimal.Decimal {
	if t.Type == TradeBuy {
		return t.Total().Add(t.Fee).Neg()
	}
	return t.Total().Sub(t.Fee)
}

// Holding represents an open position in one coin.
// A holding only exists while Quantity > 0.
type Holding struct {
	CoinID       string          `json:"coin_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	TotalFees    decimal.Decimal `json:"total_fees"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// CostBasis is quantity × average purchase price
func (h Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AveragePrice)
}

// Balance is the single cash row of the ledger
type Balance struct {
	Amount      decimal.Decimal `json:"amount"`
	Initial     decimal.Decimal `json:"initial"`
	LastUpdated time.Time       `json:"last_updated"`
}

// TradeReceipt is the committed outcome of one trade
type TradeReceipt struct {
	Transaction Transaction `json:"transaction"`
	// Holding is the position after the trade; nil when the trade closed it
	Holding *Holding `json:"holding,omitempty"`
	Balance Balance  `json:"balance"`
}

// TradeRequest - what client sends to buy or sell coins.
// Price is optional; when zero the cached market price is used.
type TradeRequest struct {
	CoinID   string          `json:"coin_id" binding:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}
