package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_holds_total",
			Help: "Seat hold attempts by outcome",
		},
		[]string{"outcome"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_settlements_total",
			Help: "Payment settlements by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	WalletTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_wallet_transactions_total",
			Help: "Ledger transactions appended, by type",
		},
		[]string{"type"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booking_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booking_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	ExpiredHoldsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_expired_holds_released_total",
			Help: "Holds reclaimed by the expiry sweep",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
