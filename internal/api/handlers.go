package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/analytics"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/breaker"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/execution"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/lifecycle"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/metrics"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/processing"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/shutdown"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/stream"
)

// Handlers serves the REST endpoints from the live components
type Handlers struct {
	logger      *zap.Logger
	pool        *processing.Pool
	breakers    *breaker.Registry
	manager     *lifecycle.Manager
	pipeline    *execution.Pipeline
	analyzer    *analytics.Analyzer
	coordinator *shutdown.Coordinator
	feed        *stream.CandleStream
	collector   *metrics.Collector
	startedAt   time.Time
}

// NewHandlers wires the handler set
func NewHandlers(
	logger *zap.Logger,
	pool *processing.Pool,
	breakers *breaker.Registry,
	manager *lifecycle.Manager,
	pipeline *execution.Pipeline,
	analyzer *analytics.Analyzer,
	coordinator *shutdown.Coordinator,
	feed *stream.CandleStream,
	collector *metrics.Collector,
) *Handlers {
	return &Handlers{
		logger:      logger.Named("handlers"),
		pool:        pool,
		breakers:    breakers,
		manager:     manager,
		pipeline:    pipeline,
		analyzer:    analyzer,
		coordinator: coordinator,
		feed:        feed,
		collector:   collector,
		startedAt:   time.Now(),
	}
}

// PrometheusHandler exposes the metrics registry
func (h *Handlers) PrometheusHandler() http.Handler {
	return h.collector.Handler()
}

// GetHealth reports liveness
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.coordinator.IsShutdownInProgress() {
		status = "shutting_down"
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startedAt).String(),
	})
}

// GetStatus aggregates the run state of every component
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	var feedHealth interface{}
	if h.feed != nil {
		feedHealth = h.feed.GetHealth()
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool":            h.pool.Status(),
		"open_positions":  h.manager.OpenPositionCount(),
		"execution":       h.pipeline.GetMetrics(),
		"stream":          feedHealth,
		"shutdown_active": h.coordinator.IsShutdownInProgress(),
		"has_saved_state": h.coordinator.HasSavedState(),
		"recorded_trades": h.analyzer.TradeCount(),
		"timestamp":       time.Now(),
	})
}

// GetPoolStats returns the processing pool statistics and worker health
func (h *Handlers) GetPoolStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":   h.pool.Stats(),
		"status":  h.pool.Status(),
		"workers": h.pool.WorkerHealthReport(),
	})
}

// GetBreakers returns every circuit breaker snapshot
func (h *Handlers) GetBreakers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.breakers.States())
}

// ResetBreaker forces one breaker back to CLOSED
func (h *Handlers) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	strategyID := mux.Vars(r)["strategy"]
	if h.breakers.GetState(strategyID) == nil {
		h.writeError(w, http.StatusNotFound, "unknown strategy")
		return
	}
	h.breakers.Reset(strategyID)
	h.logger.Info("breaker reset via API", zap.String("strategy_id", strategyID))
	h.writeJSON(w, http.StatusOK, h.breakers.GetState(strategyID))
}

// GetPositions returns the supervised positions
func (h *Handlers) GetPositions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.manager.TrackedPositions())
}

// GetPerformance returns the analytics report for ?period= (default ALL)
func (h *Handlers) GetPerformance(w http.ResponseWriter, r *http.Request) {
	period := analytics.Period(r.URL.Query().Get("period"))
	switch period {
	case analytics.PeriodToday, analytics.PeriodWeek, analytics.PeriodMonth:
	case "", analytics.PeriodAll:
		period = analytics.PeriodAll
	default:
		h.writeError(w, http.StatusBadRequest, "invalid period")
		return
	}
	h.writeJSON(w, http.StatusOK, h.analyzer.GetMetrics(period))
}

// GetTopTrades returns the best and worst trades, ?limit= bounded
func (h *Handlers) GetTopTrades(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"top":   h.analyzer.GetTopTrades(limit),
		"worst": h.analyzer.GetWorstTrades(limit),
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encoding failed", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}
