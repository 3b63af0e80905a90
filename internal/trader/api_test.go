package trader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAPIServer(t *testing.T) {
	// Arrange
	f := setupTest(t, testTradingConfig())
	f.exchange.On("ListAccounts").Return(eur(420), nil)
	require.NoError(t, f.engine.wallet.Refresh(context.Background()))
	f.engine.cooldown.Start(product, 60)

	s := NewAPIServer(f.engine, 0, zap.NewNop())
	server := httptest.NewServer(s.routes())
	defer server.Close()

	t.Run("Status", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/status")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var status struct {
			UUID     string             `json:"uuid"`
			Products []ProductStatus    `json:"products"`
			Wallet   map[string]float64 `json:"wallet"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.Equal(t, f.engine.UUID, status.UUID)
		require.Len(t, status.Products, 1)
		assert.Equal(t, product, status.Products[0].ProductID)
		assert.Equal(t, 60, status.Products[0].BuyCooldown)
		assert.Equal(t, 420.0, status.Wallet["EUR"])
	})

	t.Run("Health", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Metrics", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
