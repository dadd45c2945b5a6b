package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "Total number of payment quotes created",
	})

	PaymentsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Total number of payments settled on chain",
	})

	PaymentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of failed payments",
	}, []string{"reason"})

	PaymentsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_expired_total",
		Help: "Total number of pending payments that passed their hold window",
	})

	BookingConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_conflicts_total",
		Help: "Total number of initiate attempts rejected for an overlapping slot",
	})

	LedgerTransferLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_transfer_latency_seconds",
		Help:    "Latency of on-chain transfers from submission to seal",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
	})

	LedgerTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Total number of on-chain transfer attempts",
	}, []string{"outcome"})

	WalletsProvisionedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallets_provisioned_total",
		Help: "Total number of custodial wallets created",
	})

	PriceCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_cache_hits_total",
		Help: "Total number of price lookups served from cache",
	})

	PriceCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_cache_misses_total",
		Help: "Total number of price lookups that hit the upstream feed",
	})

	PriceStaleServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_stale_served_total",
		Help: "Total number of price lookups served from a stale cache after upstream failure",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
