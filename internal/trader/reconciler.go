package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinbase-trade-bot-go/internal/coinbase"
	"coinbase-trade-bot-go/internal/notify"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrReconcileFailed is returned when the fills of an order could not be queried.
var ErrReconcileFailed = errors.New("fill reconciliation failed")

// FillLister lists the recent fills of a product, narrowed to one order
// when orderID is not empty.
type FillLister interface {
	ListFills(ctx context.Context, productID, orderID string) ([]coinbase.Fill, error)
}

// Settlement is the aggregate of all fills of one order.
type Settlement struct {
	// Price is the arithmetic mean of the fill prices.
	Price float64
	// Size is the total filled size.
	Size  float64
	Fills int
}

// FillReconciler waits for the fills of a placed order to settle.
type FillReconciler struct {
	fills    FillLister
	notifier notify.Notifier
	interval time.Duration
	logger   *zap.Logger
}

func NewFillReconciler(fills FillLister, notifier notify.Notifier, interval time.Duration, logger *zap.Logger) *FillReconciler {
	return &FillReconciler{
		fills:    fills,
		notifier: notifier,
		interval: interval,
		logger:   logger.Named("reconciler"),
	}
}

// Await polls the fills of productID every interval until at least one fill
// of orderID exists and all of them are settled. A failed fill query ends the
// wait with an error wrapping ErrReconcileFailed.
func (r *FillReconciler) Await(ctx context.Context, productID, orderID string) (Settlement, error) {
	l := r.logger.With(zap.String("product", productID), zap.String("order_id", orderID))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		select {
		case <-ctx.Done():
			return Settlement{}, ctx.Err()
		case <-ticker.C:
		}

		fillPolls.Inc()
		fills, err := r.fills.ListFills(ctx, productID, orderID)
		if err != nil {
			l.Error("Could not query fills", zap.Int("poll", polls), zap.Error(err))
			return Settlement{}, fmt.Errorf("%w: order %s: %w", ErrReconcileFailed, orderID, err)
		}

		if s, ok := settle(fills, orderID); ok {
			l.Info("Order settled",
				zap.Int("fills", s.Fills),
				zap.Float64("price", s.Price),
				zap.Float64("size", s.Size),
			)
			return s, nil
		}

		msg := notify.NewMessage(productID).
			Field("OrderID", orderID).
			Flag("Waiting for the order to be filled")
		r.notifier.Notify(ctx, msg.String())
	}
}

// settle aggregates the fills of orderID once there is at least one and all
// of them are settled.
func settle(fills []coinbase.Fill, orderID string) (Settlement, bool) {
	var prices, sizes decimal.Decimal
	n := 0
	for _, f := range fills {
		if f.OrderID != orderID {
			continue
		}
		if !f.Settled {
			return Settlement{}, false
		}
		prices = prices.Add(f.Price)
		sizes = sizes.Add(f.Size)
		n++
	}
	if n == 0 {
		return Settlement{}, false
	}

	return Settlement{
		Price: prices.Div(decimal.NewFromInt(int64(n))).InexactFloat64(),
		Size:  sizes.InexactFloat64(),
		Fills: n,
	}, true
}
