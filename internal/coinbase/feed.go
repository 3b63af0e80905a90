package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coinbase-trade-bot-go/internal/config"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	websocketURL        = "wss://ws-feed.exchange.coinbase.com"
	sandboxWebsocketURL = "wss://ws-feed-public.sandbox.exchange.coinbase.com"
)

// Channels the feed subscribes to.
var feedChannels = []string{"heartbeat", "ticker"}

// Feed is a websocket subscription delivering heartbeat and ticker messages
// for a fixed set of products.
type Feed struct {
	conn     *ws.Conn
	products []string
	logger   *zap.Logger
}

type subscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// FeedURL returns the websocket endpoint for cfg.
func FeedURL(cfg *config.Coinbase) string {
	switch {
	case cfg.WebsocketURL != "":
		return cfg.WebsocketURL
	case cfg.Sandbox:
		return sandboxWebsocketURL
	default:
		return websocketURL
	}
}

// DialFeed connects to the websocket feed at endpoint and subscribes to the
// heartbeat and ticker channels of products.
func DialFeed(ctx context.Context, endpoint string, products []string, logger *zap.Logger) (_ *Feed, status error) {
	var dialer ws.Dialer
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("could not dial websocket feed: %w", err)
	}
	defer func() {
		if status != nil {
			conn.Close()
		}
	}()

	sub := subscribeMessage{
		Type:       "subscribe",
		ProductIDs: products,
		Channels:   feedChannels,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return nil, fmt.Errorf("could not subscribe to feed channels: %w", err)
	}

	f := &Feed{
		conn:     conn,
		products: products,
		logger:   logger.Named("feed"),
	}
	f.logger.Info("Subscribed to price feed", zap.Strings("products", products), zap.Strings("channels", feedChannels))
	return f, nil
}

// Next blocks until the next heartbeat or ticker message arrives. Error
// messages sent by the exchange are returned as errors.
func (f *Feed) Next(ctx context.Context) (*Message, error) {
	for {
		m, err := f.readMessage(ctx)
		if err != nil {
			return nil, err
		}

		switch m.Type {
		case MessageHeartbeat, MessageTicker:
			return m, nil
		case MessageError:
			return nil, fmt.Errorf("feed error: %s: %s", m.Message, m.Reason)
		case MessageSubscriptions:
			f.logger.Debug("Subscription confirmed")
		default:
			f.logger.Debug("Ignoring feed message", zap.String("type", m.Type))
		}
	}
}

func (f *Feed) readMessage(ctx context.Context) (*Message, error) {
	stop := context.AfterFunc(ctx, func() {
		f.conn.SetReadDeadline(time.Now())
	})

	_, data, err := f.conn.ReadMessage()
	if !stop() {
		f.conn.SetReadDeadline(time.Time{})
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("could not read feed message: %w", err)
	}

	m := new(Message)
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("could not decode feed message: %w", err)
	}
	return m, nil
}

// Close closes the underlying connection.
func (f *Feed) Close() error {
	return f.conn.Close()
}
