package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the router's Prometheus metrics.
type Metrics struct {
	ConnectedClients prometheus.Gauge
	ConnectionsTotal prometheus.Counter

	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec

	RPCRequests *prometheus.CounterVec

	RateLimitDecisions *prometheus.CounterVec

	ApprovalsTotal   *prometheus.CounterVec
	ApprovalLatency  prometheus.Histogram

	WalletCallsTotal *prometheus.CounterVec
}

// NewMetrics registers the router's metrics against the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry registers the router's metrics against registry
// (nil uses prometheus.DefaultRegisterer), mirroring the teacher's
// per-subsystem metrics-struct pattern.
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletmesh_router_connected_clients",
			Help: "The current number of connected dApp transports",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletmesh_router_connections_total",
			Help: "The total number of transport connections accepted since start",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletmesh_router_sessions_active",
			Help: "The current number of active sessions",
		}),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletmesh_router_sessions_total",
				Help: "Session lifecycle transitions by terminal state",
			},
			[]string{"state"},
		),
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletmesh_router_rpc_requests_total",
				Help: "The total number of RPC requests handled, by method and outcome",
			},
			[]string{"method", "status"},
		),
		RateLimitDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletmesh_router_rate_limit_decisions_total",
				Help: "Rate limiter decisions by outcome",
			},
			[]string{"decision"},
		),
		ApprovalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletmesh_router_approvals_total",
				Help: "Approval queue terminal outcomes",
			},
			[]string{"outcome"},
		),
		ApprovalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "walletmesh_router_approval_latency_seconds",
			Help:    "Time from approval enqueue to terminal decision",
			Buckets: prometheus.DefBuckets,
		}),
		WalletCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletmesh_router_wallet_calls_total",
				Help: "Calls dispatched to wallet clients by chain and outcome",
			},
			[]string{"chain_id", "status"},
		),
	}
}
