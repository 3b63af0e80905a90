package trader

import (
	"context"
	"errors"
	"testing"

	"coinbase-trade-bot-go/internal/coinbase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWalletCache_Refresh(t *testing.T) {
	// Arrange
	mockExchange := new(MockExchange)
	mockExchange.On("ListAccounts").Return(eur(250), nil).Once()
	mockExchange.On("ListAccounts").Return([]coinbase.Account(nil), errors.New("gateway timeout")).Once()

	w := NewWalletCache(mockExchange, zap.NewNop())
	assert.Equal(t, 0.0, w.Available("EUR"))

	// Act
	require.NoError(t, w.Refresh(context.Background()))

	// Assert
	assert.Equal(t, 250.0, w.Available("EUR"))
	assert.Equal(t, 0.5, w.Available("BTC"))
	assert.Equal(t, 0.0, w.Available("USD"))

	t.Run("StaleSnapshotKeptOnError", func(t *testing.T) {
		err := w.Refresh(context.Background())
		assert.ErrorContains(t, err, "gateway timeout")
		assert.Equal(t, 250.0, w.Available("EUR"))
	})

	t.Run("SnapshotIsACopy", func(t *testing.T) {
		snapshot := w.Snapshot()
		snapshot["EUR"] = 0
		assert.Equal(t, 250.0, w.Available("EUR"))
	})

	mockExchange.AssertExpectations(t)
}

func TestWalletCache_SumsAccountsOfSameCurrency(t *testing.T) {
	mockExchange := new(MockExchange)
	mockExchange.On("ListAccounts").Return([]coinbase.Account{
		{Currency: "EUR", Available: decimal.RequireFromString("10.5")},
		{Currency: "EUR", Available: decimal.RequireFromString("4.5")},
	}, nil)

	w := NewWalletCache(mockExchange, zap.NewNop())
	require.NoError(t, w.Refresh(context.Background()))
	assert.Equal(t, 15.0, w.Available("EUR"))
}
