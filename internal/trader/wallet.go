package trader

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"coinbase-trade-bot-go/internal/coinbase"
	"go.uber.org/zap"
)

// AccountLister lists account balances.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]coinbase.Account, error)
}

// WalletCache keeps the last known available balance of every currency.
type WalletCache struct {
	accounts AccountLister
	logger   *zap.Logger

	mu       sync.RWMutex
	balances map[string]float64
}

func NewWalletCache(accounts AccountLister, logger *zap.Logger) *WalletCache {
	return &WalletCache{
		accounts: accounts,
		logger:   logger.Named("wallet"),
		balances: make(map[string]float64),
	}
}

// Refresh replaces the snapshot with fresh balances. On failure the previous
// snapshot stays in place.
func (w *WalletCache) Refresh(ctx context.Context) error {
	accounts, err := w.accounts.ListAccounts(ctx)
	if err != nil {
		w.logger.Warn("Keeping stale wallet snapshot", zap.Error(err))
		return fmt.Errorf("could not refresh wallet: %w", err)
	}

	balances := make(map[string]float64, len(accounts))
	for _, a := range accounts {
		balances[a.Currency] += a.Available.InexactFloat64()
	}

	w.mu.Lock()
	w.balances = balances
	w.mu.Unlock()

	for currency, available := range balances {
		walletBalance.WithLabelValues(currency).Set(available)
	}
	w.logger.Debug("Wallet refreshed", zap.Int("currencies", len(balances)))
	return nil
}

// Available returns the available balance of currency in the snapshot.
func (w *WalletCache) Available(currency string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balances[currency]
}

// Snapshot returns a copy of every balance.
func (w *WalletCache) Snapshot() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.balances)
}
