package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"coinbase-trade-bot-go/internal/models"
	"coinbase-trade-bot-go/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	seedProduct string
	seedPrice   float64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Give a product without history a reference sale price to re-buy from",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !slices.Contains(cfg.Trading.ProductIDs, seedProduct) {
			return fmt.Errorf("product %q is not in trading.product_ids", seedProduct)
		}
		lot, err := seedLot(cmd.Context(), store.New(db), seedProduct, seedPrice)
		if err != nil {
			return err
		}
		log.Info("Seeded bootstrap lot",
			zap.String("product", lot.ProductID),
			zap.Uint("lot_id", lot.ID),
			zap.Float64("sell_price", *lot.SellPrice),
		)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedProduct, "product", "", "product id, e.g. BTC-EUR")
	seedCmd.Flags().Float64Var(&seedPrice, "price", 0, "reference sale price")
	_ = seedCmd.MarkFlagRequired("product")
	_ = seedCmd.MarkFlagRequired("price")
}

// seedLot stores an inactive lot that looks sold at price, so the engine
// re-buys once the rate rises above it. Products that already hold an
// active lot are left alone.
func seedLot(ctx context.Context, lots store.LotStore, productID string, price float64) (*models.Lot, error) {
	if price <= 0 {
		return nil, errors.New("seed price must be positive")
	}
	active, err := lots.FindLots(ctx, productID, store.Query{Active: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, fmt.Errorf("%s already has active lot %d", productID, active[0].ID)
	}

	lot := &models.Lot{
		ProductID: productID,
		Price:     price,
		SellPrice: models.Float(price),
		Bootstrap: true,
	}
	if err := lots.SaveLot(ctx, lot); err != nil {
		return nil, err
	}
	return lot, nil
}
