package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Coinbase     Coinbase     `mapstructure:"coinbase"`
	Trading      Trading      `mapstructure:"trading"`
	Notification Notification `mapstructure:"notification"`
	Logger       Logger       `mapstructure:"logger"`
	Server       Server       `mapstructure:"server"`
	Database     Database     `mapstructure:"database"`
}

// Coinbase holds the configuration for the Coinbase Exchange API.
type Coinbase struct {
	ApiKey         string  `mapstructure:"api_key"`
	ApiSecret      string  `mapstructure:"api_secret"`
	Passphrase     string  `mapstructure:"passphrase"`
	Sandbox        bool    `mapstructure:"sandbox"`
	RestURL        string  `mapstructure:"rest_url"`
	WebsocketURL   string  `mapstructure:"websocket_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Trading holds the thresholds and amounts of the trading logic.
// Percentages are whole units: 1.5 means 1.5%.
type Trading struct {
	ProductIDs      []string `mapstructure:"product_ids"`
	PercentToReBuy  float64  `mapstructure:"percent_to_re_buy"`
	PercentToBuy    float64  `mapstructure:"percent_to_buy"`
	PercentToSell   float64  `mapstructure:"percent_to_sell"`
	PercentSecurity float64  `mapstructure:"percent_security"`
	PercentFee      float64  `mapstructure:"percent_fee"`
	TradeValue      float64  `mapstructure:"trade_value"`
	TradeValueRe    float64  `mapstructure:"trade_value_re"`

	// HeartbeatTimeout is the number of silent seconds tolerated per product.
	HeartbeatTimeout int `mapstructure:"heartbeat_timeout"`
	// BuyCooldown is the number of seconds buys are suspended after a
	// buy failed for lack of funds.
	BuyCooldown      int           `mapstructure:"buy_cooldown"`
	FillPollInterval time.Duration `mapstructure:"fill_poll_interval"`
	// RecoverTimeout bounds how long startup waits for the fills of one
	// order left unfinished by an earlier run.
	RecoverTimeout time.Duration `mapstructure:"recover_timeout"`
}

// Notification holds the configuration for the alert webhook.
type Notification struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// QueueSize is the number of alerts held while the webhook is slow.
	// The oldest alert is dropped when the queue is full.
	QueueSize int `mapstructure:"queue_size"`
}

// Server holds the configuration for the HTTP servers.
type Server struct {
	Port   int `mapstructure:"port"`
	UIPort int `mapstructure:"ui_port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from config.yml in path, with environment
// variables overriding file values (trading.trade_value -> TRADING_TRADE_VALUE).
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		return
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}

	err = config.Validate()
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("coinbase.rate_limit", 5) // requests per second
	v.SetDefault("coinbase.rate_limit_burst", 5)
	v.SetDefault("trading.heartbeat_timeout", 30)
	v.SetDefault("trading.buy_cooldown", 1800)
	v.SetDefault("trading.fill_poll_interval", "5s")
	v.SetDefault("trading.recover_timeout", "2m")
	v.SetDefault("notification.rate_limit", 1)
	v.SetDefault("notification.timeout", "10s")
	v.SetDefault("notification.queue_size", 100)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ui_port", 8081)
	v.SetDefault("database.dsn", "trader.db")
}

// Validate checks the trading section for values the engine cannot work with.
func (c *Config) Validate() error {
	t := c.Trading
	if len(t.ProductIDs) == 0 {
		return errors.New("trading.product_ids must list at least one product")
	}
	for _, id := range t.ProductIDs {
		if _, _, err := SplitProductID(id); err != nil {
			return err
		}
	}
	for name, p := range map[string]float64{
		"percent_to_re_buy": t.PercentToReBuy,
		"percent_to_buy":    t.PercentToBuy,
		"percent_to_sell":   t.PercentToSell,
		"percent_security":  t.PercentSecurity,
		"percent_fee":       t.PercentFee,
	} {
		if p < 0 {
			return fmt.Errorf("trading.%s must not be negative, got %v", name, p)
		}
	}
	if t.TradeValue <= 0 || t.TradeValueRe <= 0 {
		return errors.New("trading.trade_value and trading.trade_value_re must be positive")
	}
	if t.HeartbeatTimeout <= 0 {
		return errors.New("trading.heartbeat_timeout must be positive")
	}
	if t.FillPollInterval <= 0 {
		return errors.New("trading.fill_poll_interval must be positive")
	}
	return nil
}

// SplitProductID splits a product id like "BTC-EUR" into base and quote currencies.
func SplitProductID(productID string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(productID, "-")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "-") {
		return "", "", fmt.Errorf("invalid product id %q, want BASE-QUOTE", productID)
	}
	return base, quote, nil
}
