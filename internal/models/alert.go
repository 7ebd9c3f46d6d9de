package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells which side of the threshold fires an alert
type Direction string

const (
	DirectionAbove Direction = "ABOVE"
	DirectionBelow Direction = "BELOW"
)

// Valid reports whether d is ABOVE or BELOW
func (d Direction) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// Alert is a user-defined price threshold on a coin
type Alert struct {
	ID              string          `json:"id"`
	CoinID          string          `json:"coin_id"`
	Threshold       decimal.Decimal `json:"threshold"`
	Direction       Direction       `json:"direction"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
}

// Crossed reports whether price satisfies the alert condition.
// Both directions are inclusive of the threshold.
func (a Alert) Crossed(price decimal.Decimal) bool {
	switch a.Direction {
	case DirectionAbove:
		return price.GreaterThanOrEqual(a.Threshold)
	case DirectionBelow:
		return price.LessThanOrEqual(a.Threshold)
	default:
		return false
	}
}

// Trigger is emitted when an active alert's condition is met
type Trigger struct {
	Alert Alert           `json:"alert"`
	Coin  Coin            `json:"coin"`
	Price decimal.Decimal `json:"price"`
	At    time.Time       `json:"at"`
}

// AlertRequest - what client sends to create an alert
type AlertRequest struct {
	CoinID    string          `json:"coin_id" binding:"required"`
	Threshold decimal.Decimal `json:"threshold"`
	Direction Direction       `json:"direction" binding:"required"`
}
