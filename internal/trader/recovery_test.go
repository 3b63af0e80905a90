package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"coinbase-trade-bot-go/internal/coinbase"
	"coinbase-trade-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func journal(t *testing.T, f *fixture, order *models.Order) *models.Order {
	t.Helper()
	order.ProductID = product
	require.NoError(t, f.store.SaveOrder(context.Background(), order))
	return order
}

func TestEngine_Recover(t *testing.T) {
	t.Run("NothingToRecover", func(t *testing.T) {
		f := setupTest(t, testTradingConfig())
		require.NoError(t, f.engine.Recover(context.Background()))
		f.exchange.AssertNotCalled(t, "ListFills", product, mock.Anything)
	})

	t.Run("UnacknowledgedOrderIsAbandoned", func(t *testing.T) {
		f := setupTest(t, testTradingConfig())
		lot := f.seedLot(t, &models.Lot{Price: 100, Size: 1, IsActive: true})
		order := journal(t, f, &models.Order{
			ClientOrderID: "c-1", Side: models.SideSell, Phase: models.PhaseEvaluating, LotID: lot.ID, Size: 1,
		})

		require.NoError(t, f.engine.Recover(context.Background()))

		orders := f.orders(t)
		require.Len(t, orders, 1)
		assert.Equal(t, order.ClientOrderID, orders[0].ClientOrderID)
		assert.Equal(t, models.PhaseAbandoned, orders[0].Phase)
		assert.Contains(t, orders[0].Error, "never acknowledged")
		assert.Equal(t, 1, f.notifier.Count("ORDER ABANDONED"))
		assert.True(t, f.lot(t, lot.ID).IsActive)

		// Once abandoned, the order is no longer picked up.
		require.NoError(t, f.engine.Recover(context.Background()))
		assert.Equal(t, 1, f.notifier.Count("ORDER ABANDONED"))
	})

	t.Run("ReBuyAwaitingFill", func(t *testing.T) {
		f := setupTest(t, testTradingConfig())
		sold := f.seedLot(t, &models.Lot{Price: 90, Size: 1, SellPrice: models.Float(100)})
		journal(t, f, &models.Order{
			ClientOrderID: "c-2", ExchangeOrderID: "ord-2", Side: models.SideBuy,
			Phase: models.PhaseAwaitingFill, LotID: sold.ID, IsReBuy: true, Funds: 100,
		})
		f.exchange.On("ListFills", product, mock.Anything).Return([]coinbase.Fill{fill("ord-2", 103, 0.97, true)}, nil)
		f.exchange.On("ListAccounts").Return(eur(900), nil)

		require.NoError(t, f.engine.Recover(context.Background()))

		active := f.activeLots(t)
		require.Len(t, active, 1)
		assert.Equal(t, 103.0, active[0].Price)
		assert.Equal(t, 0.97, active[0].Size)
		assert.Nil(t, f.lot(t, sold.ID).MergedInto)

		orders := f.orders(t)
		require.Len(t, orders, 1)
		assert.Equal(t, models.PhasePersisted, orders[0].Phase)
		assert.Equal(t, active[0].ID, orders[0].ResultLotID)
		assert.Equal(t, 900.0, f.engine.wallet.Available("EUR"))
		assert.Equal(t, 1, f.notifier.Count("RECOVERED ORDER"))
	})

	t.Run("SettledBuyMergesActiveLot", func(t *testing.T) {
		f := setupTest(t, testTradingConfig())
		prior := f.seedLot(t, &models.Lot{Price: 100, Size: 1, IsActive: true})
		journal(t, f, &models.Order{
			ClientOrderID: "c-3", ExchangeOrderID: "ord-3", Side: models.SideBuy,
			Phase: models.PhaseSettled, LotID: prior.ID, Funds: 50, FillPrice: 94, FillSize: 0.5,
		})
		f.exchange.On("ListAccounts").Return(eur(950), nil)

		require.NoError(t, f.engine.Recover(context.Background()))

		active := f.activeLots(t)
		require.Len(t, active, 1)
		assert.InDelta(t, 98.0, active[0].Price, 1e-9)
		assert.InDelta(t, 1.5, active[0].Size, 1e-9)
		got := f.lot(t, prior.ID)
		require.NotNil(t, got.MergedInto)
		assert.Equal(t, active[0].ID, *got.MergedInto)
		f.exchange.AssertNotCalled(t, "ListFills", product, mock.Anything)
	})

	t.Run("FailedReconciliationStopsRecovery", func(t *testing.T) {
		f := setupTest(t, testTradingConfig())
		lot := f.seedLot(t, &models.Lot{Price: 100, Size: 1, IsActive: true})
		journal(t, f, &models.Order{
			ClientOrderID: "c-4", ExchangeOrderID: "ord-4", Side: models.SideSell,
			Phase: models.PhaseOrderPlaced, LotID: lot.ID, Size: 1,
		})
		f.exchange.On("ListFills", product, mock.Anything).Return([]coinbase.Fill(nil), errors.New("connection reset"))

		err := f.engine.Recover(context.Background())

		assert.ErrorIs(t, err, ErrReconcileFailed)
		assert.ErrorContains(t, err, "c-4")
		assert.True(t, f.lot(t, lot.ID).IsActive)

		unfinished, err := f.store.UnfinishedOrders(context.Background())
		require.NoError(t, err)
		require.Len(t, unfinished, 1)
		assert.Equal(t, models.PhaseAbandoned, unfinished[0].Phase)
	})

	t.Run("UnsettledOrderTimesOut", func(t *testing.T) {
		cfg := testTradingConfig()
		cfg.RecoverTimeout = 20 * time.Millisecond
		f := setupTest(t, cfg)
		lot := f.seedLot(t, &models.Lot{Price: 100, Size: 1, IsActive: true})
		journal(t, f, &models.Order{
			ClientOrderID: "c-5", ExchangeOrderID: "ord-5", Side: models.SideSell,
			Phase: models.PhaseOrderPlaced, LotID: lot.ID, Size: 1,
		})
		f.exchange.On("ListFills", product, "ord-5").Return([]coinbase.Fill(nil), nil)

		err := f.engine.Recover(context.Background())

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorContains(t, err, "c-5")
		assert.Equal(t, 1, f.notifier.Count("RECOVERY TIMED OUT"))
		assert.Zero(t, f.notifier.Count("ORDER ABANDONED"))
		assert.True(t, f.lot(t, lot.ID).IsActive)

		orders := f.orders(t)
		require.Len(t, orders, 1)
		assert.Equal(t, models.PhaseAwaitingFill, orders[0].Phase)
	})

	t.Run("SellOfMergedLotIsAbandoned", func(t *testing.T) {
		f := setupTest(t, testTradingConfig())
		next := f.seedLot(t, &models.Lot{Price: 98, Size: 1.5, IsActive: true})
		merged := f.seedLot(t, &models.Lot{Price: 100, Size: 1, MergedInto: &next.ID})
		journal(t, f, &models.Order{
			ClientOrderID: "c-6", ExchangeOrderID: "ord-6", Side: models.SideSell,
			Phase: models.PhaseSettled, LotID: merged.ID, Size: 1, FillPrice: 103.9, FillSize: 1,
		})

		require.NoError(t, f.engine.Recover(context.Background()))

		assert.Equal(t, 1, f.notifier.Count("ORDER ABANDONED"))
		assert.Zero(t, f.notifier.Count("RECOVERED ORDER"))
		got := f.lot(t, merged.ID)
		assert.Nil(t, got.SellPrice)
		require.NotNil(t, got.MergedInto)
		assert.Equal(t, next.ID, *got.MergedInto)
		assert.True(t, f.lot(t, next.ID).IsActive)

		orders := f.orders(t)
		require.Len(t, orders, 1)
		assert.Equal(t, models.PhaseAbandoned, orders[0].Phase)
		assert.Contains(t, orders[0].Error, "no longer active")
	})
}
