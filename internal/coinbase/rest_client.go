package coinbase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"coinbase-trade-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL         = "https://api.exchange.coinbase.com"
	sandboxBaseURL  = "https://api-public.sandbox.exchange.coinbase.com"
	OrderTypeMarket = "market"
	SideBuy         = "buy"
	SideSell        = "sell"
)

// RestClientInterface defines the interface for the Coinbase Exchange REST API client.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (time.Time, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	PlaceMarketOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	ListFills(ctx context.Context, productID, orderID string) ([]Fill, error)
}

// RestClient is a client for the Coinbase Exchange REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client     *resty.Client
	apiKey     string
	secret     []byte
	passphrase string
	logger     *zap.Logger
	limiter    *rate.Limiter
	now        func() time.Time
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Coinbase Exchange REST API client.
func NewRestClient(cfg *config.Coinbase, logger *zap.Logger) *RestClient {
	endpoint := cfg.RestURL
	if endpoint == "" {
		if cfg.Sandbox {
			endpoint = sandboxBaseURL
		} else {
			endpoint = baseURL
		}
	}
	if cfg.Sandbox {
		logger.Warn("Using Coinbase sandbox", zap.String("url", endpoint))
	} else {
		logger.Info("Using Coinbase production API", zap.String("url", endpoint))
	}

	// The API secret is distributed base64 encoded.
	secret, err := base64.StdEncoding.DecodeString(cfg.ApiSecret)
	if err != nil {
		logger.Warn("API secret is not base64, signing with the raw value")
		secret = []byte(cfg.ApiSecret)
	}

	return &RestClient{
		client:     resty.New().SetBaseURL(endpoint).SetTimeout(30 * time.Second),
		apiKey:     cfg.ApiKey,
		secret:     secret,
		passphrase: cfg.Passphrase,
		logger:     logger.Named("coinbase"),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		now:        time.Now,
	}
}

// sign creates the base64 HMAC-SHA256 signature of a request.
func (c *RestClient) sign(timestamp, method, path, body string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// newRequest builds a signed request. path includes the query string.
func (c *RestClient) newRequest(ctx context.Context, method, path string, body []byte, result any) *resty.Request {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("CB-ACCESS-KEY", c.apiKey).
		SetHeader("CB-ACCESS-PASSPHRASE", c.passphrase).
		SetHeader("CB-ACCESS-TIMESTAMP", timestamp).
		SetHeader("CB-ACCESS-SIGN", c.sign(timestamp, method, path, string(body)))
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	return req
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// With retry unset the request is sent exactly once: an order placement that
// fails with a 5xx or a network error may still have reached the exchange.
func (c *RestClient) doRequest(ctx context.Context, method, path string, body []byte, result any, retry bool) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	maxRetries := 3
	if !retry {
		maxRetries = 1
	}

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("path", path))
		resp, err = c.newRequest(ctx, method, path, body, result).Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else if ctx.Err() == nil { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry || !retry {
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil {
		err = fmt.Errorf("status %s", resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetServerTime fetches the exchange time. It is a cheap connectivity check.
func (c *RestClient) GetServerTime(ctx context.Context) (time.Time, error) {
	type ServerTimeResponse struct {
		ISO time.Time `json:"iso"`
	}

	var result ServerTimeResponse
	if _, err := c.doRequest(ctx, http.MethodGet, "/time", nil, &result, true); err != nil {
		return time.Time{}, fmt.Errorf("failed to get server time: %w", err)
	}
	return result.ISO, nil
}

// ListAccounts returns the balances of every currency of the profile.
func (c *RestClient) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if _, err := c.doRequest(ctx, http.MethodGet, "/accounts", nil, &accounts, true); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// PlaceMarketOrder places a market order and returns the acknowledged order.
func (c *RestClient) PlaceMarketOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not encode order: %w", err)
	}

	var order Order
	if _, err := c.doRequest(ctx, http.MethodPost, "/orders", body, &order, false); err != nil {
		c.logger.Error("Failed to place order",
			zap.Error(err),
			zap.String("product", req.ProductID),
			zap.String("side", req.Side),
		)
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	c.logger.Info("Successfully placed order",
		zap.String("order_id", order.ID),
		zap.String("product", order.ProductID),
		zap.String("side", order.Side),
	)
	return &order, nil
}

// ListFills returns the most recent fills of a product, only those of
// orderID when it is not empty.
func (c *RestClient) ListFills(ctx context.Context, productID, orderID string) ([]Fill, error) {
	query := url.Values{"product_id": {productID}}
	if orderID != "" {
		query.Set("order_id", orderID)
	}
	path := "/fills?" + query.Encode()

	var fills []Fill
	if _, err := c.doRequest(ctx, http.MethodGet, path, nil, &fills, true); err != nil {
		return nil, fmt.Errorf("failed to list fills for %s: %w", productID, err)
	}
	return fills, nil
}
