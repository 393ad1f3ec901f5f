package app

import (
	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// SignalAction is the entry decision of a strategy evaluation
type SignalAction string

const (
	ActionNone  SignalAction = "NONE"
	ActionLong  SignalAction = "LONG"
	ActionShort SignalAction = "SHORT"
)

// Signal is the outcome of evaluating one candle
type Signal struct {
	Action SignalAction
	Level  float64
	Close  float64
}

// levelOrchestrator is the per-strategy evaluation state held in the
// orchestrator cache. It tracks a rolling candle window and signals entries
// on breakouts through the window's high/low levels.
type levelOrchestrator struct {
	strategyID string
	window     []types.Candle
	maxWindow  int
	evaluated  int64
}

func newLevelOrchestrator(strategyID string, maxWindow int) *levelOrchestrator {
	if maxWindow < 3 {
		maxWindow = 3
	}
	return &levelOrchestrator{
		strategyID: strategyID,
		maxWindow:  maxWindow,
	}
}

// Evaluate feeds one candle and returns the entry signal. The breakout
// levels are computed over the window excluding the newest candle, so a
// candle cannot break its own extreme.
func (o *levelOrchestrator) Evaluate(candle types.Candle) Signal {
	o.evaluated++

	signal := Signal{Action: ActionNone, Close: candle.Close}
	if len(o.window) >= 3 {
		resistance := o.window[0].High
		support := o.window[0].Low
		for _, c := range o.window[1:] {
			if c.High > resistance {
				resistance = c.High
			}
			if c.Low < support {
				support = c.Low
			}
		}
		switch {
		case candle.Close > resistance:
			signal = Signal{Action: ActionLong, Level: resistance, Close: candle.Close}
		case candle.Close < support:
			signal = Signal{Action: ActionShort, Level: support, Close: candle.Close}
		}
	}

	o.window = append(o.window, candle)
	if len(o.window) > o.maxWindow {
		o.window = o.window[len(o.window)-o.maxWindow:]
	}
	return signal
}

// marketTracker accumulates rolling per-symbol market statistics used by
// the risk monitor's health computation
type marketTracker struct {
	candles   []types.Candle
	maxWindow int
	atrPeriod int
}

func newMarketTracker(maxWindow, atrPeriod int) *marketTracker {
	return &marketTracker{maxWindow: maxWindow, atrPeriod: atrPeriod}
}

func (t *marketTracker) Add(candle types.Candle) {
	t.candles = append(t.candles, candle)
	if len(t.candles) > t.maxWindow {
		t.candles = t.candles[len(t.candles)-t.maxWindow:]
	}
}

// trueRange uses the previous close when available
func trueRange(prev, cur types.Candle) float64 {
	tr := cur.High - cur.Low
	if d := abs(cur.High - prev.Close); d > tr {
		tr = d
	}
	if d := abs(cur.Low - prev.Close); d > tr {
		tr = d
	}
	return tr
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Snapshot derives the current market inputs: last price and volume, the
// window-average volume, the ATR over the recent period and over the whole
// window.
func (t *marketTracker) Snapshot() (lastPrice, lastVolume, avgVolume, currentATR, averageATR float64) {
	n := len(t.candles)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}
	last := t.candles[n-1]
	lastPrice = last.Close
	lastVolume = last.Volume

	var volSum float64
	for _, c := range t.candles {
		volSum += c.Volume
	}
	avgVolume = volSum / float64(n)

	if n < 2 {
		return lastPrice, lastVolume, avgVolume, 0, 0
	}
	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		trs = append(trs, trueRange(t.candles[i-1], t.candles[i]))
	}
	var trSum float64
	for _, tr := range trs {
		trSum += tr
	}
	averageATR = trSum / float64(len(trs))

	recent := trs
	if len(trs) > t.atrPeriod {
		recent = trs[len(trs)-t.atrPeriod:]
	}
	var recentSum float64
	for _, tr := range recent {
		recentSum += tr
	}
	currentATR = recentSum / float64(len(recent))
	return lastPrice, lastVolume, avgVolume, currentATR, averageATR
}
