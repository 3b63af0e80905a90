package coinbase

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is one currency balance of the authenticated profile.
type Account struct {
	ID        string          `json:"id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Hold      decimal.Decimal `json:"hold"`
}

// OrderRequest is the body of a new order. Market buys are sized with
// Funds (quote currency), market sells with Size (base currency).
type OrderRequest struct {
	ClientOID string           `json:"client_oid,omitempty"`
	ProductID string           `json:"product_id"`
	Side      string           `json:"side"`
	Type      string           `json:"type"`
	Size      *decimal.Decimal `json:"size,omitempty"`
	Funds     *decimal.Decimal `json:"funds,omitempty"`
}

// MarketBuy returns a market buy request spending funds of the quote currency.
func MarketBuy(clientOID, productID string, funds float64) *OrderRequest {
	f := decimal.NewFromFloat(funds)
	return &OrderRequest{
		ClientOID: clientOID,
		ProductID: productID,
		Side:      SideBuy,
		Type:      OrderTypeMarket,
		Funds:     &f,
	}
}

// MarketSell returns a market sell request for size of the base currency.
func MarketSell(clientOID, productID string, size float64) *OrderRequest {
	s := decimal.NewFromFloat(size)
	return &OrderRequest{
		ClientOID: clientOID,
		ProductID: productID,
		Side:      SideSell,
		Type:      OrderTypeMarket,
		Size:      &s,
	}
}

// Order is the exchange's view of a placed order.
type Order struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Settled       bool            `json:"settled"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	ExecutedValue decimal.Decimal `json:"executed_value"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Fill is a partial or complete execution of an order.
type Fill struct {
	TradeID   int64           `json:"trade_id"`
	ProductID string          `json:"product_id"`
	OrderID   string          `json:"order_id"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Fee       decimal.Decimal `json:"fee"`
	Side      string          `json:"side"`
	Settled   bool            `json:"settled"`
	CreatedAt time.Time       `json:"created_at"`
}

// Feed message types.
const (
	MessageHeartbeat     = "heartbeat"
	MessageTicker        = "ticker"
	MessageSubscriptions = "subscriptions"
	MessageError         = "error"
)

// Message is a single event from the websocket feed. Only the fields of the
// heartbeat and ticker channels are decoded.
type Message struct {
	Type      string          `json:"type"`
	ProductID string          `json:"product_id"`
	Sequence  int64           `json:"sequence"`
	Time      time.Time       `json:"time"`
	Price     decimal.Decimal `json:"price"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`

	// Message and Reason describe an error message.
	Message string `json:"message"`
	Reason  string `json:"reason"`
}
