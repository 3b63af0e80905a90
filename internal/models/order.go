package models

import "gorm.io/gorm"

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order phases. A trade moves forward through them in this order, or ends
// in PhaseAbandoned when the exchange never acknowledged the order or its
// fills could not be reconciled.
const (
	PhaseEvaluating   = "evaluating"
	PhaseOrderPlaced  = "order_placed"
	PhaseAwaitingFill = "awaiting_fill"
	PhaseSettled      = "settled"
	PhasePersisted    = "persisted"
	PhaseAbandoned    = "abandoned"
)

// Order journals a single market order placed by the engine so that a trade
// interrupted between placement and persistence can be finished later.
type Order struct {
	gorm.Model
	ClientOrderID   string `gorm:"uniqueIndex;not null" json:"client_order_id"`
	ExchangeOrderID string `gorm:"index" json:"exchange_order_id"`
	ProductID       string `gorm:"index;not null" json:"product_id"`
	Side            string `gorm:"not null" json:"side"`
	Phase           string `gorm:"index;not null" json:"phase"`

	// LotID is the lot the order acts on: the lot being sold, or the lot
	// that triggered the buy.
	LotID   uint    `json:"lot_id"`
	IsReBuy bool    `json:"is_re_buy"`
	Funds   float64 `json:"funds,omitempty"`
	Size    float64 `json:"size,omitempty"`

	// Trigger is the fee-adjusted rate that fired the order.
	Trigger float64 `json:"trigger"`

	FillPrice   float64 `json:"fill_price,omitempty"`
	FillSize    float64 `json:"fill_size,omitempty"`
	ResultLotID uint    `json:"result_lot_id,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Acknowledged reports whether the exchange returned an id for the order.
func (o *Order) Acknowledged() bool {
	return o.ExchangeOrderID != ""
}
