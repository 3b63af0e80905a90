package trader

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Market orders placed",
		},
		[]string{"product", "side"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_decisions_total",
			Help: "Decisions taken by the engine",
		},
		[]string{"product", "decision"}, // track_high|track_low|sell|buy|re_buy|insufficient_funds|abandoned
	)

	fillPolls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_fill_polls_total",
			Help: "Fill queries issued while waiting for orders to settle",
		},
	)

	heartbeatMisses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_heartbeat_misses",
			Help: "Seconds since the last heartbeat of a product",
		},
		[]string{"product"},
	)

	walletBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_wallet_available",
			Help: "Available balance per currency in the last wallet snapshot",
		},
		[]string{"currency"},
	)

	buyCooldown = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_buy_cooldown_seconds",
			Help: "Seconds left before a product may buy again",
		},
		[]string{"product"},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, decisions, fillPolls, heartbeatMisses, walletBalance, buyCooldown)
}
