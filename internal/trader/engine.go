package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"coinbase-trade-bot-go/internal/coinbase"
	"coinbase-trade-bot-go/internal/config"
	"coinbase-trade-bot-go/internal/models"
	"coinbase-trade-bot-go/internal/notify"
	"coinbase-trade-bot-go/internal/percent"
	"coinbase-trade-bot-go/internal/store"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Exchange is the part of the exchange client the engine trades through.
type Exchange interface {
	AccountLister
	FillLister
	PlaceMarketOrder(ctx context.Context, req *coinbase.OrderRequest) (*coinbase.Order, error)
}

// Store persists lots and journals orders.
type Store interface {
	store.LotStore
	store.OrderJournal
}

// Feed delivers heartbeat and ticker messages.
type Feed interface {
	Next(ctx context.Context) (*coinbase.Message, error)
}

// productState is the runtime state of one traded product. The flags keep a
// single sell and a single buy evaluation in flight per product; ticks that
// arrive meanwhile are dropped. trading is held from journaling an order to
// persisting its lot, so a sell and a buy never act on the same lot at once.
type productState struct {
	id      string
	quote   string
	selling atomic.Bool
	buying  atomic.Bool
	trading sync.Mutex
}

// Engine turns price ticks into buy and sell orders, one state machine per product.
type Engine struct {
	UUID      string
	StartTime time.Time

	logger     *zap.Logger
	cfg        *config.Trading
	exchange   Exchange
	store      Store
	notifier   notify.Notifier
	wallet     *WalletCache
	reconciler *FillReconciler
	watchdog   *Watchdog
	cooldown   *CooldownLedger

	productIDs []string
	products   map[string]*productState

	inflight conc.WaitGroup
	failures chan error
}

// NewEngine creates a trading engine for the products of cfg.
func NewEngine(logger *zap.Logger, cfg *config.Trading, exchange Exchange, st Store, notifier notify.Notifier) (*Engine, error) {
	l := logger.Named("engine")
	products := make(map[string]*productState, len(cfg.ProductIDs))
	for _, id := range cfg.ProductIDs {
		_, quote, err := config.SplitProductID(id)
		if err != nil {
			return nil, err
		}
		products[id] = &productState{id: id, quote: quote}
	}

	return &Engine{
		UUID:       uuid.NewString(),
		StartTime:  time.Now(),
		logger:     l,
		cfg:        cfg,
		exchange:   exchange,
		store:      st,
		notifier:   notifier,
		wallet:     NewWalletCache(exchange, l),
		reconciler: NewFillReconciler(exchange, notifier, cfg.FillPollInterval, l),
		watchdog:   NewWatchdog(cfg.ProductIDs, cfg.HeartbeatTimeout),
		cooldown:   NewCooldownLedger(),
		productIDs: append([]string(nil), cfg.ProductIDs...),
		products:   products,
		failures:   make(chan error, 2*len(cfg.ProductIDs)),
	}, nil
}

// Run processes feed messages until ctx is cancelled, returning nil, or until
// a fatal condition occurs: a feed error, a silent product feed, or a trade
// that could not be completed. The caller is expected to terminate the
// process on a non-nil error.
func (e *Engine) Run(ctx context.Context, feed Feed) error {
	e.logger.Info("Starting trading engine", zap.Strings("products", e.productIDs))
	if err := e.wallet.Refresh(ctx); err != nil {
		e.logger.Warn("Starting with an empty wallet snapshot", zap.Error(err))
	}

	messages := make(chan *coinbase.Message)
	feedErr := make(chan error, 1)
	go func() {
		for {
			m, err := feed.Next(ctx)
			if err != nil {
				feedErr <- err
				return
			}
			select {
			case messages <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	clock := time.NewTicker(time.Second)
	defer clock.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			return nil
		case err := <-feedErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("price feed failed: %w", err)
		case err := <-e.failures:
			return err
		case m := <-messages:
			e.HandleMessage(ctx, m)
		case <-clock.C:
			if err := e.tick(); err != nil {
				return err
			}
		}
	}
}

// Wait blocks until every in-flight evaluation returned.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// tick advances the once-a-second timers.
func (e *Engine) tick() error {
	err := e.watchdog.Tick()
	e.cooldown.Tick()
	for _, id := range e.productIDs {
		heartbeatMisses.WithLabelValues(id).Set(float64(e.watchdog.Misses(id)))
		buyCooldown.WithLabelValues(id).Set(float64(e.cooldown.Remaining(id)))
	}
	return err
}

// HandleMessage dispatches one feed message.
func (e *Engine) HandleMessage(ctx context.Context, m *coinbase.Message) {
	if _, ok := e.products[m.ProductID]; !ok {
		return
	}

	switch m.Type {
	case coinbase.MessageHeartbeat:
		e.watchdog.Reset(m.ProductID)
	case coinbase.MessageTicker:
		e.HandleTicker(ctx, m.ProductID, m.BestAsk.InexactFloat64(), m.BestBid.InexactFloat64())
	}
}

// HandleTicker starts the sell and buy evaluations of a product for the
// given best ask and bid, unless one of them is still running. Tickers of a
// product cooling down after a failed buy are dropped.
func (e *Engine) HandleTicker(ctx context.Context, productID string, bestAsk, bestBid float64) {
	ps, ok := e.products[productID]
	if !ok {
		return
	}
	if bestAsk <= 0 || bestBid <= 0 {
		e.logger.Debug("Ignoring ticker without a book", zap.String("product", productID))
		return
	}
	if e.cooldown.Active(productID) {
		return
	}

	buyRate := percent.Add(bestAsk, e.cfg.PercentFee)
	sellRate := percent.Sub(bestBid, e.cfg.PercentFee)

	if ps.selling.CompareAndSwap(false, true) {
		e.inflight.Go(func() {
			defer ps.selling.Store(false)
			e.report(ctx, e.evaluateSell(ctx, ps, sellRate))
		})
	}

	if ps.buying.CompareAndSwap(false, true) {
		e.inflight.Go(func() {
			defer ps.buying.Store(false)
			e.report(ctx, e.evaluateBuy(ctx, ps, buyRate))
		})
	}
}

// report hands an evaluation error to Run.
func (e *Engine) report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		e.logger.Info("Evaluation interrupted by shutdown", zap.Error(err))
		return
	}
	select {
	case e.failures <- err:
	default:
		e.logger.Error("Dropping trade failure, another one is pending", zap.Error(err))
	}
}

// evaluateSell applies the sell rules to the cheapest active lot. A lot in
// profit first raises its high-water mark; it is sold once the rate pulls
// back from that mark by the security margin.
func (e *Engine) evaluateSell(ctx context.Context, ps *productState, sellRate float64) error {
	l := e.logger.With(zap.String("product", ps.id))

	lots, err := e.store.FindLots(ctx, ps.id, store.ActiveLowestPrice)
	if err != nil {
		l.Warn("Could not look up the active lot", zap.Error(err))
		return nil
	}
	if len(lots) == 0 {
		return nil
	}
	lot := &lots[0]

	if percent.Sub(sellRate, e.cfg.PercentToSell) < lot.Price {
		return nil
	}

	if lot.LastHighPrice == nil || *lot.LastHighPrice < sellRate {
		lot.LastHighPrice = models.Float(sellRate)
		if err := e.store.UpdateLot(ctx, lot, "last_high_price"); err != nil {
			l.Warn("Could not record the highest price", zap.Error(err))
			return nil
		}
		decisions.WithLabelValues(ps.id, "track_high").Inc()
		msg := notify.NewMessage(ps.id).
			Field("New highest price", sellRate).
			Field("Original price", lot.Price)
		e.notifier.Notify(ctx, msg.String())
		return nil
	}

	if percent.Sub(*lot.LastHighPrice, e.cfg.PercentSecurity) < sellRate {
		return nil
	}
	return e.sell(ctx, ps, lot, sellRate)
}

// evaluateBuy looks for a buy: below the active lot when there is one
// (averaging down), otherwise above the last sale (re-buy).
func (e *Engine) evaluateBuy(ctx context.Context, ps *productState, buyRate float64) error {
	l := e.logger.With(zap.String("product", ps.id))

	active, err := e.store.FindLots(ctx, ps.id, store.ActiveLowestPrice)
	if err != nil {
		l.Warn("Could not look up the active lot", zap.Error(err))
		return nil
	}
	if len(active) > 0 {
		return e.buyTrade(ctx, ps, &active[0], buyRate, false)
	}

	sold, err := e.store.FindLots(ctx, ps.id, store.LatestSold)
	if err != nil {
		l.Warn("Could not look up the last sale", zap.Error(err))
		return nil
	}
	if len(sold) == 0 {
		return nil
	}
	return e.buyTrade(ctx, ps, &sold[0], buyRate, true)
}

// buyTrade holds the buy rules shared by both triggers. lot is the active
// lot, or the last sold lot for a re-buy.
func (e *Engine) buyTrade(ctx context.Context, ps *productState, lot *models.Lot, buyRate float64, isReBuy bool) error {
	l := e.logger.With(zap.String("product", ps.id), zap.Bool("re_buy", isReBuy))

	if isReBuy {
		if lot.SellPrice == nil || percent.Add(*lot.SellPrice, e.cfg.PercentToReBuy) > buyRate {
			return nil
		}
	} else if percent.Sub(lot.Price, e.cfg.PercentToBuy) < buyRate {
		return nil
	}

	if !isReBuy {
		if lot.LastLowPrice == nil || *lot.LastLowPrice > buyRate {
			lot.LastLowPrice = models.Float(buyRate)
			if err := e.store.UpdateLot(ctx, lot, "last_low_price"); err != nil {
				l.Warn("Could not record the lowest price", zap.Error(err))
				return nil
			}
			decisions.WithLabelValues(ps.id, "track_low").Inc()
			msg := notify.NewMessage(ps.id).
				Field("New lowest price", buyRate).
				Field("Original price", lot.Price)
			e.notifier.Notify(ctx, msg.String())
			return nil
		}
		if percent.Add(*lot.LastLowPrice, e.cfg.PercentSecurity) > buyRate {
			return nil
		}
	}

	funds := e.cfg.TradeValue
	if isReBuy {
		funds = e.cfg.TradeValueRe
	}
	balance := e.wallet.Available(ps.quote)
	if balance < funds {
		return e.insufficientFunds(ctx, ps, lot, buyRate, balance, funds)
	}
	return e.buy(ctx, ps, lot, buyRate, funds, balance, isReBuy)
}

// insufficientFunds suspends buys of the product and drops the tracked low
// so the alert is not repeated on every tick.
func (e *Engine) insufficientFunds(ctx context.Context, ps *productState, lot *models.Lot, buyRate, balance, funds float64) error {
	l := e.logger.With(zap.String("product", ps.id))

	msg := notify.NewMessage(ps.id).
		Flag("NOT ENOUGH CREDITS TO BUY").
		Field("Buy Rate", buyRate).
		Field("Wallet ("+ps.quote+")", balance).
		Field("Trade Value", funds)
	e.notifier.Notify(ctx, msg.String())
	decisions.WithLabelValues(ps.id, "insufficient_funds").Inc()

	e.cooldown.Start(ps.id, e.cfg.BuyCooldown)

	lot.LastLowPrice = nil
	if err := e.store.UpdateLot(ctx, lot, "last_low_price"); err != nil {
		l.Warn("Could not clear the lowest price", zap.Error(err))
	}
	_ = e.wallet.Refresh(ctx)
	return nil
}

// sell runs a market sell of lot through to the persisted, inactive lot.
func (e *Engine) sell(ctx context.Context, ps *productState, lot *models.Lot, sellRate float64) error {
	if !ps.trading.TryLock() {
		return nil
	}
	defer ps.trading.Unlock()

	lot, ok := e.reload(ctx, ps, lot)
	if !ok || !lot.IsActive {
		return nil
	}

	order := newOrder(ps.id, models.SideSell, lot, sellRate)
	order.Size = lot.Size
	if err := e.store.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("could not journal sell of %s: %w", ps.id, err)
	}

	placed, err := e.exchange.PlaceMarketOrder(ctx, coinbase.MarketSell(order.ClientOrderID, ps.id, lot.Size))
	if err != nil {
		return e.abandon(ctx, order, fmt.Errorf("could not place sell order for %s: %w", ps.id, err))
	}

	if _, err := e.awaitFill(ctx, order, placed.ID); err != nil {
		return err
	}

	if err := e.store.CompleteSell(ctx, order, lot); err != nil {
		return fmt.Errorf("could not persist sale of lot %d: %w", lot.ID, err)
	}
	_ = e.wallet.Refresh(ctx)
	decisions.WithLabelValues(ps.id, "sell").Inc()

	msg := notify.NewMessage(ps.id).
		Field("Sold for", sellRate).
		Field("Highest price", lot.LastHighPrice).
		Field("Original price", lot.Price).
		Field("Fill price", order.FillPrice)
	e.notifier.Notify(ctx, msg.String())
	return nil
}

// buy runs a market buy of funds through to a new persisted active lot.
func (e *Engine) buy(ctx context.Context, ps *productState, lot *models.Lot, buyRate, funds, balance float64, isReBuy bool) error {
	l := e.logger.With(zap.String("product", ps.id))

	if !ps.trading.TryLock() {
		return nil
	}
	defer ps.trading.Unlock()

	lot, ok := e.reload(ctx, ps, lot)
	if !ok || lot.IsActive == isReBuy {
		return nil
	}
	if isReBuy {
		active, err := e.store.FindLots(ctx, ps.id, store.ActiveLowestPrice)
		if err != nil || len(active) > 0 {
			return nil
		}
	}

	lowest := lot.LastLowPrice
	original := lot.Price
	if isReBuy {
		original = *lot.SellPrice
	}

	order := newOrder(ps.id, models.SideBuy, lot, buyRate)
	order.Funds = funds
	order.IsReBuy = isReBuy
	if err := e.store.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("could not journal buy of %s: %w", ps.id, err)
	}

	placed, err := e.exchange.PlaceMarketOrder(ctx, coinbase.MarketBuy(order.ClientOrderID, ps.id, funds))
	if err != nil {
		return e.abandon(ctx, order, fmt.Errorf("could not place buy order for %s: %w", ps.id, err))
	}

	if lot.LastLowPrice != nil {
		lot.LastLowPrice = nil
		if err := e.store.UpdateLot(ctx, lot, "last_low_price"); err != nil {
			l.Warn("Could not clear the lowest price", zap.Error(err))
		}
	}

	settlement, err := e.awaitFill(ctx, order, placed.ID)
	if err != nil {
		return err
	}

	next := &models.Lot{ProductID: ps.id, Price: settlement.Price, Size: settlement.Size}
	if err := e.store.CompleteBuy(ctx, order, lot, next); err != nil {
		return fmt.Errorf("could not persist new lot for %s: %w", ps.id, err)
	}
	_ = e.wallet.Refresh(ctx)
	if isReBuy {
		decisions.WithLabelValues(ps.id, "re_buy").Inc()
	} else {
		decisions.WithLabelValues(ps.id, "buy").Inc()
	}

	msg := notify.NewMessage(ps.id).
		Field("Bought for", buyRate).
		Field("Lowest price", lowest).
		Field("Original price", original).
		Field("Wallet ("+ps.quote+")", balance).
		Field("Trade Value", funds).
		Field("Is Re Buy", isReBuy).
		Field("Fill price", settlement.Price).
		Field("Lot price", next.Price)
	e.notifier.Notify(ctx, msg.String())
	return nil
}

// awaitFill journals the placed order and waits for it to settle. When the
// fills cannot be reconciled the order is abandoned; when ctx ends the order
// stays awaiting its fill for the next start.
func (e *Engine) awaitFill(ctx context.Context, order *models.Order, exchangeOrderID string) (Settlement, error) {
	order.ExchangeOrderID = exchangeOrderID
	ordersPlaced.WithLabelValues(order.ProductID, order.Side).Inc()
	e.advance(ctx, order, models.PhaseOrderPlaced)
	e.advance(ctx, order, models.PhaseAwaitingFill)

	s, err := e.reconciler.Await(ctx, order.ProductID, exchangeOrderID)
	if err != nil {
		if ctx.Err() != nil {
			return Settlement{}, err
		}
		return Settlement{}, e.abandon(ctx, order, err)
	}

	order.FillPrice = s.Price
	order.FillSize = s.Size
	e.advance(ctx, order, models.PhaseSettled)
	return s, nil
}

// advance moves order to phase. A journal write failure is logged only: the
// order is already live on the exchange.
func (e *Engine) advance(ctx context.Context, order *models.Order, phase string) {
	order.Phase = phase
	if err := e.store.SaveOrder(ctx, order); err != nil {
		e.logger.Warn("Could not journal order phase",
			zap.String("client_order_id", order.ClientOrderID),
			zap.String("phase", phase),
			zap.Error(err),
		)
	}
}

// abandon records that order could not be completed and returns cause.
func (e *Engine) abandon(ctx context.Context, order *models.Order, cause error) error {
	order.Phase = models.PhaseAbandoned
	order.Error = cause.Error()
	if err := e.store.SaveOrder(context.WithoutCancel(ctx), order); err != nil {
		e.logger.Error("Could not journal abandoned order",
			zap.String("client_order_id", order.ClientOrderID),
			zap.Error(err),
		)
	}
	decisions.WithLabelValues(order.ProductID, "abandoned").Inc()

	msg := notify.NewMessage(order.ProductID).
		Flag("ORDER ABANDONED").
		Field("Side", order.Side).
		Field("OrderID", order.ExchangeOrderID).
		Field("Error", cause.Error())
	e.notifier.Notify(ctx, msg.String())
	return cause
}

// reload returns the stored copy of lot. Decisions are taken on a copy read
// before the trade lock was taken, which a concurrent trade may have sold or
// merged since.
func (e *Engine) reload(ctx context.Context, ps *productState, lot *models.Lot) (*models.Lot, bool) {
	fresh, err := e.store.GetLot(ctx, lot.ID)
	if err != nil {
		e.logger.Warn("Could not reload lot", zap.String("product", ps.id), zap.Uint("lot_id", lot.ID), zap.Error(err))
		return nil, false
	}
	return fresh, true
}

func newOrder(productID, side string, lot *models.Lot, trigger float64) *models.Order {
	return &models.Order{
		ClientOrderID: uuid.NewString(),
		ProductID:     productID,
		Side:          side,
		Phase:         models.PhaseEvaluating,
		LotID:         lot.ID,
		Trigger:       trigger,
	}
}

// ProductStatus is a point-in-time view of a product's runtime state.
type ProductStatus struct {
	ProductID       string `json:"product_id"`
	HeartbeatMisses int    `json:"heartbeat_misses"`
	BuyCooldown     int    `json:"buy_cooldown"`
	Selling         bool   `json:"selling"`
	Buying          bool   `json:"buying"`
}

// Status returns the runtime state of every product, sorted by id.
func (e *Engine) Status() []ProductStatus {
	out := make([]ProductStatus, 0, len(e.products))
	for id, ps := range e.products {
		out = append(out, ProductStatus{
			ProductID:       id,
			HeartbeatMisses: e.watchdog.Misses(id),
			BuyCooldown:     e.cooldown.Remaining(id),
			Selling:         ps.selling.Load(),
			Buying:          ps.buying.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Wallet returns the current wallet snapshot.
func (e *Engine) Wallet() map[string]float64 {
	return e.wallet.Snapshot()
}
