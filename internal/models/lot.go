package models

import "gorm.io/gorm"

// Lot is one buy event for a product, tracked until it is sold.
// There should only ever be one active lot per product.
type Lot struct {
	gorm.Model
	ProductID string  `gorm:"index:idx_lot_product_active;not null" json:"product_id"`
	Price     float64 `gorm:"not null" json:"price"`
	Size      float64 `json:"size"`
	IsActive  bool    `gorm:"index:idx_lot_product_active" json:"is_active"`

	// LastHighPrice is the highest fee-adjusted sell rate seen while active.
	LastHighPrice *float64 `json:"last_high_price,omitempty"`
	// LastLowPrice is the lowest fee-adjusted buy rate seen while searching for a buy.
	LastLowPrice *float64 `json:"last_low_price,omitempty"`
	// SellPrice is the settled sale price, set only once the lot is sold.
	SellPrice *float64 `json:"sell_price,omitempty"`

	// MergedInto points at the lot that absorbed this one when averaging down.
	MergedInto *uint `json:"merged_into,omitempty"`
	// Bootstrap marks a synthetic lot that only carries a reference sell price.
	Bootstrap bool `json:"bootstrap"`
}

// Sold reports whether the lot was closed by a sale (as opposed to being merged).
func (l *Lot) Sold() bool {
	return !l.IsActive && l.SellPrice != nil && l.MergedInto == nil
}

// Float returns a pointer to v, for the optional price fields.
func Float(v float64) *float64 {
	return &v
}
