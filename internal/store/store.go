package store

import (
	"context"
	"errors"
	"fmt"

	"coinbase-trade-bot-go/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lot or order lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrLotInactive is returned when a sale targets a lot that was already
	// sold or merged.
	ErrLotInactive = errors.New("lot is no longer active")
)

// SortField selects the column lots are ordered by.
type SortField string

const (
	SortNone      SortField = ""
	SortPrice     SortField = "price"
	SortUpdatedAt SortField = "updated_at"
)

// Query selects lots of a single product by their active flag.
type Query struct {
	Active bool
	Sort   SortField
	Desc   bool
	Limit  int
	// SoldOnly skips inactive lots that were merged into another lot rather
	// than sold. Only meaningful with Active == false.
	SoldOnly bool
}

var (
	// ActiveLowestPrice finds the active lot with the lowest cost basis.
	ActiveLowestPrice = Query{Active: true, Sort: SortPrice, Limit: 1}
	// LatestSold finds the most recently updated sold lot.
	LatestSold = Query{Active: false, Sort: SortUpdatedAt, Desc: true, Limit: 1, SoldOnly: true}
)

// LotStore is the per-product lot collection used by the trading engine.
type LotStore interface {
	FindLots(ctx context.Context, productID string, q Query) ([]models.Lot, error)
	GetLot(ctx context.Context, id uint) (*models.Lot, error)
	SaveLot(ctx context.Context, lot *models.Lot) error
	// UpdateLot writes only columns of lot, and only while the lot is
	// still active in the database.
	UpdateLot(ctx context.Context, lot *models.Lot, columns ...string) error
}

// OrderJournal records the phases of every order the engine places.
type OrderJournal interface {
	SaveOrder(ctx context.Context, order *models.Order) error
	UnfinishedOrders(ctx context.Context) ([]models.Order, error)

	// CompleteSell deactivates the sold lot and marks the order persisted.
	CompleteSell(ctx context.Context, order *models.Order, lot *models.Lot) error
	// CompleteBuy creates the new active lot, merging the prior one into it
	// when it is still active, and marks the order persisted.
	CompleteBuy(ctx context.Context, order *models.Order, prior *models.Lot, next *models.Lot) error
}

// Store implements LotStore and OrderJournal on top of gorm.
type Store struct {
	db *gorm.DB
}

var (
	_ LotStore     = (*Store)(nil)
	_ OrderJournal = (*Store)(nil)
)

// New creates a Store over an already migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindLots runs q against the lots of productID.
func (s *Store) FindLots(ctx context.Context, productID string, q Query) ([]models.Lot, error) {
	tx := s.db.WithContext(ctx).
		Where("product_id = ? AND is_active = ?", productID, q.Active)
	if q.SoldOnly {
		tx = tx.Where("merged_into IS NULL AND sell_price IS NOT NULL")
	}
	if q.Sort != SortNone {
		order := string(q.Sort) + " asc"
		if q.Desc {
			order = string(q.Sort) + " desc"
		}
		// Ties are broken by id so results are stable.
		tx = tx.Order(order).Order("id desc")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var lots []models.Lot
	if err := tx.Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("could not query lots for %s: %w", productID, err)
	}
	return lots, nil
}

// GetLot loads a lot by id.
func (s *Store) GetLot(ctx context.Context, id uint) (*models.Lot, error) {
	var lot models.Lot
	err := s.db.WithContext(ctx).First(&lot, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("could not load lot %d: %w", id, err)
	}
	return &lot, nil
}

// SaveLot inserts a new lot or overwrites every column of an existing one,
// so nil optional prices are cleared in the database.
func (s *Store) SaveLot(ctx context.Context, lot *models.Lot) error {
	if err := s.db.WithContext(ctx).Save(lot).Error; err != nil {
		return fmt.Errorf("could not save lot for %s: %w", lot.ProductID, err)
	}
	return nil
}

// UpdateLot implements LotStore.
func (s *Store) UpdateLot(ctx context.Context, lot *models.Lot, columns ...string) error {
	err := s.db.WithContext(ctx).Model(lot).
		Where("is_active = ?", true).
		Select(columns).
		Updates(lot).Error
	if err != nil {
		return fmt.Errorf("could not update lot %d: %w", lot.ID, err)
	}
	return nil
}

// SaveOrder inserts or updates an order journal entry.
func (s *Store) SaveOrder(ctx context.Context, order *models.Order) error {
	if err := s.db.WithContext(ctx).Save(order).Error; err != nil {
		return fmt.Errorf("could not save order %s: %w", order.ClientOrderID, err)
	}
	return nil
}

// UnfinishedOrders returns orders that still need reconciliation or
// persistence, oldest first. Abandoned orders the exchange never
// acknowledged are final and not returned.
func (s *Store) UnfinishedOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("phase <> ?", models.PhasePersisted).
		Where("NOT (phase = ? AND exchange_order_id = ?)", models.PhaseAbandoned, "").
		Order("id asc").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("could not query unfinished orders: %w", err)
	}
	return orders, nil
}

// CompleteSell implements OrderJournal. It fails with ErrLotInactive when
// the lot was sold or merged in the meantime.
func (s *Store) CompleteSell(ctx context.Context, order *models.Order, lot *models.Lot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Lot{}).
			Where("id = ? AND is_active = ?", lot.ID, true).
			Updates(map[string]any{
				"is_active":      false,
				"sell_price":     order.FillPrice,
				"last_low_price": nil,
			})
		if res.Error != nil {
			return fmt.Errorf("could not deactivate sold lot %d: %w", lot.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("could not sell lot %d: %w", lot.ID, ErrLotInactive)
		}
		lot.IsActive = false
		lot.SellPrice = models.Float(order.FillPrice)
		lot.LastLowPrice = nil

		order.Phase = models.PhasePersisted
		order.ResultLotID = lot.ID
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("could not mark order %s persisted: %w", order.ClientOrderID, err)
		}
		return nil
	})
}

// CompleteBuy implements OrderJournal. The prior lot is re-read inside the
// transaction and merged only if it is still active there.
func (s *Store) CompleteBuy(ctx context.Context, order *models.Order, prior *models.Lot, next *models.Lot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Lot
		merge := false
		if prior != nil && prior.ProductID == next.ProductID {
			err := tx.Where("id = ? AND is_active = ?", prior.ID, true).Limit(1).Find(&current).Error
			if err != nil {
				return fmt.Errorf("could not load prior lot %d: %w", prior.ID, err)
			}
			merge = current.ID != 0
		}
		if merge {
			next.Price, next.Size = AverageCost(current.Price, current.Size, next.Price, next.Size)
		}
		next.IsActive = true
		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("could not create lot for %s: %w", next.ProductID, err)
		}

		if merge {
			err := tx.Model(&models.Lot{}).
				Where("id = ?", current.ID).
				Updates(map[string]any{
					"is_active":       false,
					"merged_into":     next.ID,
					"last_low_price":  nil,
					"last_high_price": nil,
				}).Error
			if err != nil {
				return fmt.Errorf("could not merge lot %d into %d: %w", current.ID, next.ID, err)
			}
			prior.IsActive = false
			prior.MergedInto = &next.ID
			prior.LastLowPrice = nil
			prior.LastHighPrice = nil
		}

		order.Phase = models.PhasePersisted
		order.ResultLotID = next.ID
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("could not mark order %s persisted: %w", order.ClientOrderID, err)
		}
		return nil
	})
}

// AverageCost combines two positions into one with a size-weighted price.
func AverageCost(price1, size1, price2, size2 float64) (price, size float64) {
	size = size1 + size2
	if size == 0 {
		return 0, 0
	}
	return (price1*size1 + price2*size2) / size, size
}
