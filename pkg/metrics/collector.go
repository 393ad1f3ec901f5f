// Package metrics exposes the execution fabric's operational counters to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/breaker"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// Collector registers and updates the bot's Prometheus metrics
type Collector struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge

	ordersTotal   *prometheus.CounterVec
	orderDuration prometheus.Histogram
	orderRetries  prometheus.Counter
	slippage      prometheus.Histogram

	breakerState  *prometheus.GaugeVec
	breakerTrips  *prometheus.CounterVec
	healthScore   *prometheus.GaugeVec
	openPositions prometheus.Gauge
	tradePnL      prometheus.Histogram
	candlesTotal  *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.NewRegistry())
}

// NewCollectorWithRegistry creates a collector on a caller-owned registry
func NewCollectorWithRegistry(registry *prometheus.Registry) *Collector {
	factory := promauto.With(registry)
	return &Collector{
		registry: registry,
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_jobs_total",
			Help: "Processed strategy jobs by outcome",
		}, []string{"outcome"}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_job_duration_seconds",
			Help:    "Strategy job processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bot_queue_depth",
			Help: "Jobs waiting in the processing pool",
		}),
		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bot_active_workers",
			Help: "Workers currently processing a job",
		}),
		ordersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Executed orders by outcome",
		}, []string{"outcome"}),
		orderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_order_duration_seconds",
			Help:    "Order execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		orderRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "bot_order_retries_total",
			Help: "Order placement retries",
		}),
		slippage: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_order_slippage_percent",
			Help:    "Fill slippage as a percentage of the expected price",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_breaker_state",
			Help: "Circuit breaker state per strategy (0 closed, 1 half-open, 2 open)",
		}, []string{"strategy"}),
		breakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_breaker_trips_total",
			Help: "Circuit breaker open transitions per strategy",
		}, []string{"strategy"}),
		healthScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_position_health_score",
			Help: "Composite position health score",
		}, []string{"position_id"}),
		openPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Positions under lifecycle supervision",
		}),
		tradePnL: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_trade_pnl",
			Help:    "Realized PnL per closed trade",
			Buckets: []float64{-500, -100, -50, -10, 0, 10, 50, 100, 500},
		}),
		candlesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_candles_total",
			Help: "Candles consumed from the market feed",
		}, []string{"symbol"}),
	}
}

// Handler serves the collector's registry over HTTP
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveJob records a settled pool job
func (c *Collector) ObserveJob(result *types.JobResult) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	c.jobsTotal.WithLabelValues(outcome).Inc()
	c.jobDuration.Observe(result.ProcessingTime.Seconds())
}

// SetPoolGauges updates the queue and worker gauges
func (c *Collector) SetPoolGauges(queueDepth, activeWorkers int) {
	c.queueDepth.Set(float64(queueDepth))
	c.activeWorkers.Set(float64(activeWorkers))
}

// ObserveOrder records a completed order execution
func (c *Collector) ObserveOrder(result *types.OrderResult) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	c.ordersTotal.WithLabelValues(outcome).Inc()
	c.orderDuration.Observe(result.ExecutionTime.Seconds())
	c.orderRetries.Add(float64(result.RetryCount))
	if result.Slippage != nil {
		c.slippage.Observe(result.Slippage.Percent)
	}
}

// ObserveBreakerTransition records a circuit breaker state change
func (c *Collector) ObserveBreakerTransition(strategyID string, to breaker.Status) {
	c.breakerState.WithLabelValues(strategyID).Set(breakerStateValue(to))
	if to == breaker.StatusOpen {
		c.breakerTrips.WithLabelValues(strategyID).Inc()
	}
}

func breakerStateValue(s breaker.Status) float64 {
	switch s {
	case breaker.StatusOpen:
		return 2
	case breaker.StatusHalfOpen:
		return 1
	default:
		return 0
	}
}

// ObserveHealthScore records a position health score update
func (c *Collector) ObserveHealthScore(score types.HealthScore) {
	c.healthScore.WithLabelValues(score.PositionID).Set(score.OverallScore)
}

// SetOpenPositions updates the supervised position gauge
func (c *Collector) SetOpenPositions(n int) {
	c.openPositions.Set(float64(n))
}

// ObserveTrade records a closed trade's PnL
func (c *Collector) ObserveTrade(trade *types.TradeRecord) {
	c.tradePnL.Observe(trade.PnL)
}

// ObserveCandle counts a consumed candle
func (c *Collector) ObserveCandle(symbol string) {
	c.candlesTotal.WithLabelValues(symbol).Inc()
}
