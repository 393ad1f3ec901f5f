// Package analytics derives performance statistics from the trade journal.
package analytics

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/interfaces"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// Period selects the trade window of a metrics computation
type Period string

const (
	PeriodAll   Period = "ALL"
	PeriodToday Period = "TODAY"
	PeriodWeek  Period = "WEEK"
	PeriodMonth Period = "MONTH"
)

// Metrics is the aggregate performance report. All float fields are rounded
// to two decimals.
type Metrics struct {
	Period            Period        `json:"period"`
	TotalTrades       int           `json:"total_trades"`
	WinningTrades     int           `json:"winning_trades"`
	LosingTrades      int           `json:"losing_trades"`
	WinRate           float64       `json:"win_rate"`
	TotalPnL          float64       `json:"total_pnl"`
	AveragePnL        float64       `json:"average_pnl"`
	ProfitFactor      float64       `json:"profit_factor"`
	AverageHoldTime   time.Duration `json:"average_hold_time"`
	SharpeRatio       float64       `json:"sharpe_ratio"`
	SortinoRatio      float64       `json:"sortino_ratio"`
	MaxDrawdown       float64       `json:"max_drawdown"`
	BestTradePnL      float64       `json:"best_trade_pnl"`
	WorstTradePnL     float64       `json:"worst_trade_pnl"`
	ConsecutiveWins   int           `json:"consecutive_wins"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
}

// Analyzer accumulates completed trades and computes windowed performance
// metrics. Trades are mirrored to the journal when one is configured.
type Analyzer struct {
	logger  *zap.Logger
	clk     clock.Clock
	journal interfaces.Journal

	mu     sync.Mutex
	trades []*types.TradeRecord
}

// NewAnalyzer creates a performance analyzer. journal may be nil for a
// purely in-memory analyzer.
func NewAnalyzer(logger *zap.Logger, clk clock.Clock, journal interfaces.Journal) *Analyzer {
	return &Analyzer{
		logger:  logger.Named("analytics"),
		clk:     clk,
		journal: journal,
	}
}

// LoadFromJournal seeds the analyzer with previously journaled trades
func (a *Analyzer) LoadFromJournal() error {
	if a.journal == nil {
		return nil
	}
	trades, err := a.journal.ReadAllTrades()
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.trades = append(a.trades, trades...)
	a.mu.Unlock()

	a.logger.Info("trade history loaded", zap.Int("trades", len(trades)))
	return nil
}

// RecordTrade stores a completed trade and appends it to the journal
func (a *Analyzer) RecordTrade(trade *types.TradeRecord) {
	if trade == nil {
		return
	}
	cp := *trade

	a.mu.Lock()
	a.trades = append(a.trades, &cp)
	a.mu.Unlock()

	if a.journal != nil {
		if err := a.journal.AppendTrade(&cp); err != nil {
			a.logger.Error("trade journal append failed",
				zap.String("trade_id", cp.TradeID),
				zap.Error(err))
		}
	}
}

// TradeCount returns the number of recorded trades
func (a *Analyzer) TradeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.trades)
}

// GetMetrics computes the performance report over the requested period.
// An empty window yields a zeroed report.
func (a *Analyzer) GetMetrics(period Period) *Metrics {
	trades := a.tradesInPeriod(period)

	m := &Metrics{Period: period, TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var grossProfit, grossLoss, totalPnL float64
	var totalHold time.Duration
	best := math.Inf(-1)
	worst := math.Inf(1)
	pnls := make([]float64, 0, len(trades))

	streakWins, streakLosses := 0, 0
	for _, t := range trades {
		totalPnL += t.PnL
		pnls = append(pnls, t.PnL)
		totalHold += t.ExitTime.Sub(t.EntryTime)
		if t.PnL > best {
			best = t.PnL
		}
		if t.PnL < worst {
			worst = t.PnL
		}
		if t.PnL > 0 {
			m.WinningTrades++
			grossProfit += t.PnL
			streakWins++
			streakLosses = 0
		} else if t.PnL < 0 {
			m.LosingTrades++
			grossLoss += -t.PnL
			streakLosses++
			streakWins = 0
		} else {
			streakWins, streakLosses = 0, 0
		}
		if streakWins > m.ConsecutiveWins {
			m.ConsecutiveWins = streakWins
		}
		if streakLosses > m.ConsecutiveLosses {
			m.ConsecutiveLosses = streakLosses
		}
	}

	m.WinRate = round2(float64(m.WinningTrades) / float64(len(trades)) * 100)
	m.TotalPnL = round2(totalPnL)
	m.AveragePnL = round2(totalPnL / float64(len(trades)))
	m.AverageHoldTime = totalHold / time.Duration(len(trades))
	m.BestTradePnL = round2(best)
	m.WorstTradePnL = round2(worst)
	m.ProfitFactor = round2(profitFactor(grossProfit, grossLoss))
	m.SharpeRatio = round2(sharpe(pnls))
	m.SortinoRatio = round2(sortino(pnls))
	m.MaxDrawdown = round2(maxDrawdown(pnls))
	return m
}

// WinRate returns the percentage of winning trades over the last n recorded
// trades. n <= 0 covers every trade; with no trades the rate is 0.
func (a *Analyzer) WinRate(lastN int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	trades := a.trades
	if lastN > 0 && lastN < len(trades) {
		trades = trades[len(trades)-lastN:]
	}
	if len(trades) == 0 {
		return 0
	}

	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return round2(float64(wins) / float64(len(trades)) * 100)
}

// GetTopTrades returns the n most profitable trades, best first
func (a *Analyzer) GetTopTrades(n int) []*types.TradeRecord {
	return a.sortedTrades(n, func(x, y *types.TradeRecord) bool {
		return x.PnL > y.PnL
	})
}

// GetWorstTrades returns the n least profitable trades, worst first
func (a *Analyzer) GetWorstTrades(n int) []*types.TradeRecord {
	return a.sortedTrades(n, func(x, y *types.TradeRecord) bool {
		return x.PnL < y.PnL
	})
}

func (a *Analyzer) sortedTrades(n int, less func(x, y *types.TradeRecord) bool) []*types.TradeRecord {
	a.mu.Lock()
	trades := make([]*types.TradeRecord, len(a.trades))
	for i, t := range a.trades {
		cp := *t
		trades[i] = &cp
	}
	a.mu.Unlock()

	sort.SliceStable(trades, func(i, j int) bool { return less(trades[i], trades[j]) })
	if n > 0 && n < len(trades) {
		trades = trades[:n]
	}
	return trades
}

// tradesInPeriod filters by the time the trade was opened. TODAY starts at
// UTC midnight; WEEK and MONTH are rolling 7 and 30 day windows.
func (a *Analyzer) tradesInPeriod(period Period) []*types.TradeRecord {
	now := a.clk.Now().UTC()

	var cutoff time.Time
	switch period {
	case PeriodToday:
		cutoff = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		cutoff = now.Add(-7 * 24 * time.Hour)
	case PeriodMonth:
		cutoff = now.Add(-30 * 24 * time.Hour)
	default:
		cutoff = time.Time{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*types.TradeRecord, 0, len(a.trades))
	for _, t := range a.trades {
		if cutoff.IsZero() || !t.OpenedAt.UTC().Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// profitFactor is gross profit over gross loss. With no losses the factor
// degenerates: 100 when there is profit, 0 otherwise.
func profitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossProfit > 0 {
			return 100
		}
		return 0
	}
	return grossProfit / grossLoss
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mu := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func sharpe(pnls []float64) float64 {
	sd := stdev(pnls)
	if sd == 0 {
		return 0
	}
	return mean(pnls) / sd
}

// sortino penalizes only downside deviation
func sortino(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pnls {
		if p < 0 {
			sum += p * p
		}
	}
	downside := math.Sqrt(sum / float64(len(pnls)))
	if downside == 0 {
		return 0
	}
	return mean(pnls) / downside
}

// maxDrawdown walks the running equity curve and returns the deepest fall
// from a peak as a fraction of that peak. Curves that never rise above zero
// have no defined peak and score 0.
func maxDrawdown(pnls []float64) float64 {
	var equity, peak, maxDD float64
	for _, p := range pnls {
		equity += p
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
