package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinbase-trade-bot-go/internal/models"
	"coinbase-trade-bot-go/internal/notify"
	"coinbase-trade-bot-go/internal/store"
	"go.uber.org/zap"
)

// Recover finishes the trades an earlier run left between placing an order
// and persisting its lot. Orders the exchange acknowledged are reconciled
// again and their lot updates applied. Orders that were never acknowledged
// are abandoned and reported for a manual check.
func (e *Engine) Recover(ctx context.Context) error {
	orders, err := e.store.UnfinishedOrders(ctx)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}
	e.logger.Info("Recovering unfinished orders", zap.Int("count", len(orders)))

	for i := range orders {
		order := &orders[i]
		l := e.logger.With(
			zap.String("product", order.ProductID),
			zap.String("client_order_id", order.ClientOrderID),
			zap.String("phase", order.Phase),
		)

		if !order.Acknowledged() {
			l.Warn("Order was never acknowledged by the exchange")
			_ = e.abandon(ctx, order, errors.New("exchange never acknowledged the order, check the account manually"))
			continue
		}

		if err := e.finish(ctx, order); err != nil {
			return fmt.Errorf("could not recover order %s: %w", order.ClientOrderID, err)
		}
		l.Info("Order recovered", zap.Uint("lot_id", order.ResultLotID))
	}
	return nil
}

const defaultRecoverTimeout = 2 * time.Minute

// finish reconciles order if needed and applies its lot update. An order
// whose fills do not settle within the recovery timeout stays awaiting its
// fill for the next start.
func (e *Engine) finish(ctx context.Context, order *models.Order) error {
	if order.Phase != models.PhaseSettled {
		e.advance(ctx, order, models.PhaseAwaitingFill)
		timeout := e.cfg.RecoverTimeout
		if timeout <= 0 {
			timeout = defaultRecoverTimeout
		}
		awaitCtx, cancel := context.WithTimeout(ctx, timeout)
		s, err := e.reconciler.Await(awaitCtx, order.ProductID, order.ExchangeOrderID)
		cancel()
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			msg := notify.NewMessage(order.ProductID).
				Flag("RECOVERY TIMED OUT").
				Field("Side", order.Side).
				Field("OrderID", order.ExchangeOrderID).
				Field("Waited", timeout.String())
			e.notifier.Notify(ctx, msg.String())
			return fmt.Errorf("order %s did not settle within %s: %w", order.ExchangeOrderID, timeout, err)
		}
		if err != nil {
			order.Error = err.Error()
			e.advance(ctx, order, models.PhaseAbandoned)
			return err
		}
		order.FillPrice = s.Price
		order.FillSize = s.Size
		order.Error = ""
		e.advance(ctx, order, models.PhaseSettled)
	}

	lot, err := e.store.GetLot(ctx, order.LotID)
	if err != nil && !(order.Side == models.SideBuy && errors.Is(err, store.ErrNotFound)) {
		return err
	}

	switch order.Side {
	case models.SideSell:
		err := e.store.CompleteSell(ctx, order, lot)
		if errors.Is(err, store.ErrLotInactive) {
			e.logger.Warn("Sold lot was already closed", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))
			_ = e.abandon(ctx, order, err)
			return nil
		}
		if err != nil {
			return err
		}
	case models.SideBuy:
		next := &models.Lot{ProductID: order.ProductID, Price: order.FillPrice, Size: order.FillSize}
		if err := e.store.CompleteBuy(ctx, order, lot, next); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown order side %q", order.Side)
	}
	_ = e.wallet.Refresh(ctx)

	msg := notify.NewMessage(order.ProductID).
		Flag("RECOVERED ORDER").
		Field("Side", order.Side).
		Field("OrderID", order.ExchangeOrderID).
		Field("Fill price", order.FillPrice).
		Field("Fill size", order.FillSize)
	e.notifier.Notify(ctx, msg.String())
	return nil
}
