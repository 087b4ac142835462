// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache reads by cache name and result (hit|miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klingwallet_cache_lookups_total",
		Help: "Cache lookups by cache and result.",
	}, []string{"cache", "result"})

	// FeeQuotes counts fee quotes served by chain and source (live|fallback).
	FeeQuotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klingwallet_fee_quotes_total",
		Help: "Fee quotes served by chain and source.",
	}, []string{"chain", "source"})

	// Broadcasts counts broadcast attempts by chain and outcome.
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klingwallet_broadcasts_total",
		Help: "Transaction broadcasts by chain and outcome.",
	}, []string{"chain", "outcome"})

	// SendOutcomes counts sends by chain and terminal state.
	SendOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klingwallet_send_outcomes_total",
		Help: "Sends by chain and terminal state.",
	}, []string{"chain", "state"})

	// ProviderRequests counts EVM node calls by chain, method and outcome
	// (ok|rejected|error).
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klingwallet_provider_requests_total",
		Help: "EVM node calls by chain, method and outcome.",
	}, []string{"chain", "method", "outcome"})

	// ProviderDuration observes EVM node call latency.
	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "klingwallet_provider_duration_seconds",
		Help:    "EVM node call latency.",
		Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"chain", "method"})

	// ProviderHealthy is 1 while a chain's node answers, 0 after a failure.
	ProviderHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "klingwallet_provider_healthy",
		Help: "Whether the chain's node answered its last call.",
	}, []string{"chain"})

	// RPCRequests counts JSON-RPC calls by method and result kind.
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klingwallet_rpc_requests_total",
		Help: "JSON-RPC requests by method and result.",
	}, []string{"method", "result"})

	// RPCDuration observes JSON-RPC handler latency.
	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "klingwallet_rpc_duration_seconds",
		Help:    "JSON-RPC handler latency.",
		Buckets: []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method"})
)

// Cache result labels.
const (
	Hit  = "hit"
	Miss = "miss"
)
