package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coinbase-trade-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier delivers operator alerts. Implementations must not block the
// caller on delivery and must not report delivery failures.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// Webhook posts alerts to a chat incoming webhook (Slack compatible
// {"text": ...} payload). Every alert is logged; a single worker posts the
// queued alerts in order and failures are only logged. When the queue is
// full the oldest alert is dropped.
type Webhook struct {
	client  *resty.Client
	url     string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	closed  bool
	queue   chan string
	pending conc.WaitGroup
}

var _ Notifier = (*Webhook)(nil)

const defaultQueueSize = 100

// NewWebhook creates a webhook notifier and starts its delivery worker. An
// empty URL only logs.
func NewWebhook(cfg *config.Notification, logger *zap.Logger) *Webhook {
	l := logger.Named("notify")

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	w := &Webhook{
		client:  resty.New().SetTimeout(timeout),
		url:     cfg.WebhookURL,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		logger:  l,
	}
	if cfg.WebhookURL == "" {
		l.Warn("Webhook URL is empty, notifications will only be logged")
		return w
	}
	w.queue = make(chan string, size)
	w.pending.Go(w.deliver)
	return w
}

// Notify logs text and queues it for delivery without blocking. Alerts
// queued before shutdown are still delivered, whatever ctx says.
func (w *Webhook) Notify(_ context.Context, text string) {
	w.logger.Info("Notification", zap.String("message", Plain(text)))
	if w.queue == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	for {
		select {
		case w.queue <- text:
			return
		default:
		}
		select {
		case dropped := <-w.queue:
			w.logger.Warn("Notification queue full, dropping oldest", zap.String("message", Plain(dropped)))
		default:
		}
	}
}

func (w *Webhook) deliver() {
	for text := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout+time.Minute)
		if err := w.Send(ctx, text); err != nil {
			w.logger.Warn("Failed to deliver notification", zap.Error(err))
		}
		cancel()
	}
}

// Send posts text synchronously.
func (w *Webhook) Send(ctx context.Context, text string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification rate limiter wait failed: %w", err)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"text": text}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("could not post notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %s: %s", resp.Status(), resp.String())
	}
	return nil
}

// Close stops accepting notifications and waits for the queued ones to be
// delivered.
func (w *Webhook) Close() {
	w.mu.Lock()
	if !w.closed && w.queue != nil {
		close(w.queue)
	}
	w.closed = true
	w.mu.Unlock()
	w.pending.Wait()
}
