package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_orders_total",
		Help: "The total number of orders placed",
	}, []string{"status", "side"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalancer_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	ExchangeWeight = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_exchange_weight_total",
		Help: "Request weight spent per exchange endpoint",
	}, []string{"endpoint"})

	LimiterTokens = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rebalancer_limiter_tokens",
		Help: "Tokens currently available per limiter window",
	}, []string{"limiter", "window"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_decisions_total",
		Help: "Tick evaluation outcomes",
	}, []string{"outcome"})
)
