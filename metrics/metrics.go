// Package metrics exposes Prometheus collectors for the market-making agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts completed engine ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_ticks_total",
		Help: "Completed market-making ticks",
	})

	// QuotesBuilt counts quotes produced per instrument.
	QuotesBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_quotes_total",
		Help: "Quotes produced by the quote builder",
	}, []string{"instrument"})

	// OrdersPlaced counts new orders sent to the exchange.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_orders_placed_total",
		Help: "Orders submitted to the exchange",
	}, []string{"instrument", "side"})

	// OrdersCancelled counts cancel requests.
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_orders_cancelled_total",
		Help: "Cancel requests sent to the exchange",
	}, []string{"instrument"})

	// OrdersRejected counts exchange rejections.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_orders_rejected_total",
		Help: "Orders rejected by the exchange",
	}, []string{"instrument"})

	// FillsTotal counts confirmed fills.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_fills_total",
		Help: "Confirmed fills applied to positions",
	}, []string{"instrument", "side"})

	// Position tracks the signed net position.
	Position = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_position",
		Help: "Signed net position",
	}, []string{"instrument"})

	// RealizedPnL tracks realized profit and loss.
	RealizedPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_realized_pnl",
		Help: "Realized P&L for the session",
	}, []string{"instrument"})

	// UnrealizedPnL tracks mark-to-mid profit and loss.
	UnrealizedPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_unrealized_pnl",
		Help: "Unrealized P&L marked at the current mid",
	}, []string{"instrument"})

	// ZScore tracks the latest mean-reversion signal.
	ZScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_zscore",
		Help: "Latest z-score produced by the signal engine",
	}, []string{"instrument"})

	// RiskState tracks the risk band (0=normal,1=elevated,2=breached).
	RiskState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_risk_state",
		Help: "Risk band (0=normal,1=elevated,2=breached)",
	}, []string{"instrument"})

	// FeedStale flags instruments whose market data timed out.
	FeedStale = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_feed_stale",
		Help: "1 when market data for the instrument is stale",
	}, []string{"instrument"})

	// RESTLatency observes exchange request latency per action.
	RESTLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_rest_latency_seconds",
		Help:    "Exchange REST request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// StreamReconnects counts websocket reconnect attempts.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_stream_reconnects_total",
		Help: "Websocket reconnect attempts",
	})

	// StreamEventsDropped counts events dropped because the queue was full.
	StreamEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_stream_events_dropped_total",
		Help: "Feed events dropped due to a full event queue",
	})

	// TendersEvaluated counts tender offers by decision.
	TendersEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_tenders_evaluated_total",
		Help: "Tender offers evaluated, labelled by decision",
	}, []string{"decision"})
)

// Serve starts the /metrics endpoint on addr; empty addr disables it.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
