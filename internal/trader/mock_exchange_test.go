package trader

import (
	"context"
	"strings"
	"sync"

	"coinbase-trade-bot-go/internal/coinbase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockExchange is a mock implementation of the Exchange interface.
type MockExchange struct {
	mock.Mock
}

var _ Exchange = (*MockExchange)(nil)

func (m *MockExchange) ListAccounts(ctx context.Context) ([]coinbase.Account, error) {
	args := m.Called()
	accounts, _ := args.Get(0).([]coinbase.Account)
	return accounts, args.Error(1)
}

func (m *MockExchange) PlaceMarketOrder(ctx context.Context, req *coinbase.OrderRequest) (*coinbase.Order, error) {
	args := m.Called(req)
	order, _ := args.Get(0).(*coinbase.Order)
	return order, args.Error(1)
}

func (m *MockExchange) ListFills(ctx context.Context, productID, orderID string) ([]coinbase.Fill, error) {
	args := m.Called(productID, orderID)
	fills, _ := args.Get(0).([]coinbase.Fill)
	return fills, args.Error(1)
}

func eur(available float64) []coinbase.Account {
	return []coinbase.Account{
		{Currency: "EUR", Available: decimal.NewFromFloat(available), Balance: decimal.NewFromFloat(available)},
		{Currency: "BTC", Available: decimal.NewFromFloat(0.5), Balance: decimal.NewFromFloat(0.5)},
	}
}

func fill(orderID string, price, size float64, settled bool) coinbase.Fill {
	return coinbase.Fill{
		ProductID: "BTC-EUR",
		OrderID:   orderID,
		Price:     decimal.NewFromFloat(price),
		Size:      decimal.NewFromFloat(size),
		Settled:   settled,
	}
}

// isOrder matches an order request by side and amount.
func isOrder(side string, amount float64) any {
	want := decimal.NewFromFloat(amount)
	return mock.MatchedBy(func(req *coinbase.OrderRequest) bool {
		if req.Side != side || req.Type != coinbase.OrderTypeMarket {
			return false
		}
		if side == coinbase.SideBuy {
			return req.Funds != nil && req.Funds.Equal(want) && req.Size == nil
		}
		return req.Size != nil && req.Size.Equal(want) && req.Funds == nil
	})
}

// recordingNotifier keeps every notification.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// Count returns how many notifications contain substr.
func (n *recordingNotifier) Count(substr string) int {
	count := 0
	for _, m := range n.Messages() {
		if strings.Contains(m, substr) {
			count++
		}
	}
	return count
}
