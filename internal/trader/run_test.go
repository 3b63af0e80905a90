package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"coinbase-trade-bot-go/internal/coinbase"
	"coinbase-trade-bot-go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanFeed serves messages pushed by the test.
type chanFeed struct {
	messages chan *coinbase.Message
	errs     chan error
}

func newChanFeed() *chanFeed {
	return &chanFeed{messages: make(chan *coinbase.Message, 8), errs: make(chan error, 1)}
}

func (f *chanFeed) Next(ctx context.Context) (*coinbase.Message, error) {
	select {
	case m := <-f.messages:
		return m, nil
	case err := <-f.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func runAsync(ctx context.Context, e *Engine, feed Feed) <-chan error {
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, feed) }()
	return done
}

func TestEngine_Run(t *testing.T) {
	t.Run("StopsWithContext", func(t *testing.T) {
		f := setupTest(t, testTradingConfig())
		f.exchange.On("ListAccounts").Return(eur(100), nil)
		ctx, cancel := context.WithCancel(context.Background())

		done := runAsync(ctx, f.engine, newChanFeed())
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop")
		}
	})

	t.Run("FeedErrorIsFatal", func(t *testing.T) {
		f := setupTest(t, testTradingConfig())
		f.exchange.On("ListAccounts").Return(eur(100), nil)
		feed := newChanFeed()
		feed.errs <- errors.New("websocket: close 1006")

		err := <-runAsync(context.Background(), f.engine, feed)

		assert.ErrorContains(t, err, "price feed failed")
		assert.ErrorContains(t, err, "close 1006")
	})

	t.Run("SilentFeedIsFatal", func(t *testing.T) {
		cfg := testTradingConfig()
		cfg.HeartbeatTimeout = 1
		f := setupTest(t, cfg)
		f.exchange.On("ListAccounts").Return([]coinbase.Account(nil), errors.New("unauthorized"))

		select {
		case err := <-runAsync(context.Background(), f.engine, newChanFeed()):
			assert.ErrorIs(t, err, ErrFeedSilent)
		case <-time.After(10 * time.Second):
			t.Fatal("watchdog did not trip")
		}
	})

	t.Run("FailedTradeIsFatal", func(t *testing.T) {
		f := setupTest(t, testTradingConfig())
		f.seedLot(t, &models.Lot{Price: 100, Size: 1, IsActive: true, LastHighPrice: models.Float(105)})
		f.exchange.On("ListAccounts").Return(eur(100), nil)
		f.exchange.On("PlaceMarketOrder", isOrder(coinbase.SideSell, 1)).
			Return(nil, errors.New("service unavailable"))

		feed := newChanFeed()
		feed.messages <- &coinbase.Message{Type: coinbase.MessageHeartbeat, ProductID: product}
		feed.messages <- &coinbase.Message{
			Type:      coinbase.MessageTicker,
			ProductID: product,
			BestAsk:   decimal.RequireFromString("103.9"),
			BestBid:   decimal.RequireFromString("103.9"),
		}

		select {
		case err := <-runAsync(context.Background(), f.engine, feed):
			assert.ErrorContains(t, err, "could not place sell order")
		case <-time.After(10 * time.Second):
			t.Fatal("trade failure was not reported")
		}
		f.engine.Wait()
		require.Equal(t, 1, f.notifier.Count("ORDER ABANDONED"))
	})
}
