package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

func candle(high, low, close, volume float64) types.Candle {
	return types.Candle{
		Symbol:   "BTCUSDT",
		Interval: "1m",
		Open:     close,
		High:     high,
		Low:      low,
		Close:    close,
		Volume:   volume,
	}
}

func TestOrchestratorNeedsWarmup(t *testing.T) {
	o := newLevelOrchestrator("BTCUSDT", 5)

	// fewer than three prior candles never signals
	assert.Equal(t, ActionNone, o.Evaluate(candle(101, 99, 100, 10)).Action)
	assert.Equal(t, ActionNone, o.Evaluate(candle(102, 98, 100, 10)).Action)
	assert.Equal(t, ActionNone, o.Evaluate(candle(150, 50, 100, 10)).Action)
}

func TestOrchestratorLongBreakout(t *testing.T) {
	o := newLevelOrchestrator("BTCUSDT", 5)

	o.Evaluate(candle(101, 99, 100, 10))
	o.Evaluate(candle(103, 98, 101, 10))
	o.Evaluate(candle(102, 97, 100, 10))

	// close above the window high of 103
	signal := o.Evaluate(candle(105, 100, 104, 10))
	assert.Equal(t, ActionLong, signal.Action)
	assert.Equal(t, 103.0, signal.Level)
	assert.Equal(t, 104.0, signal.Close)
}

func TestOrchestratorShortBreakout(t *testing.T) {
	o := newLevelOrchestrator("BTCUSDT", 5)

	o.Evaluate(candle(101, 99, 100, 10))
	o.Evaluate(candle(103, 98, 101, 10))
	o.Evaluate(candle(102, 97, 100, 10))

	// close below the window low of 97
	signal := o.Evaluate(candle(99, 95, 96, 10))
	assert.Equal(t, ActionShort, signal.Action)
	assert.Equal(t, 97.0, signal.Level)
}

func TestOrchestratorInsideRangeStaysFlat(t *testing.T) {
	o := newLevelOrchestrator("BTCUSDT", 5)

	o.Evaluate(candle(101, 99, 100, 10))
	o.Evaluate(candle(103, 98, 101, 10))
	o.Evaluate(candle(102, 97, 100, 10))

	signal := o.Evaluate(candle(102, 98, 101, 10))
	assert.Equal(t, ActionNone, signal.Action)
}

func TestOrchestratorCandleCannotBreakItsOwnExtreme(t *testing.T) {
	o := newLevelOrchestrator("BTCUSDT", 5)

	o.Evaluate(candle(101, 99, 100, 10))
	o.Evaluate(candle(101, 99, 100, 10))
	o.Evaluate(candle(101, 99, 100, 10))

	// this candle's own high is the session extreme, but the level is
	// computed from the prior window only
	signal := o.Evaluate(candle(110, 99, 102, 10))
	assert.Equal(t, ActionLong, signal.Action)
	assert.Equal(t, 101.0, signal.Level)
}

func TestOrchestratorWindowSlides(t *testing.T) {
	o := newLevelOrchestrator("BTCUSDT", 3)

	o.Evaluate(candle(200, 50, 100, 10)) // extreme candle slides out
	o.Evaluate(candle(101, 99, 100, 10))
	o.Evaluate(candle(101, 99, 100, 10))
	o.Evaluate(candle(101, 99, 100, 10))

	// window is now the last three ordinary candles
	signal := o.Evaluate(candle(104, 100, 103, 10))
	assert.Equal(t, ActionLong, signal.Action)
	assert.Equal(t, 101.0, signal.Level)
}

func TestMarketTrackerSnapshot(t *testing.T) {
	tracker := newMarketTracker(10, 2)

	lastPrice, lastVolume, avgVolume, currentATR, averageATR := tracker.Snapshot()
	assert.Zero(t, lastPrice)
	assert.Zero(t, averageATR)

	tracker.Add(candle(102, 98, 100, 10))
	lastPrice, lastVolume, avgVolume, currentATR, averageATR = tracker.Snapshot()
	assert.Equal(t, 100.0, lastPrice)
	assert.Equal(t, 10.0, lastVolume)
	assert.Equal(t, 10.0, avgVolume)
	// a single candle has no true range yet
	assert.Zero(t, currentATR)
	assert.Zero(t, averageATR)

	tracker.Add(candle(104, 100, 102, 20)) // TR = 4
	tracker.Add(candle(104, 102, 103, 30)) // TR = max(2, |104-102|, |102-102|) = 2

	lastPrice, lastVolume, avgVolume, currentATR, averageATR = tracker.Snapshot()
	assert.Equal(t, 103.0, lastPrice)
	assert.Equal(t, 30.0, lastVolume)
	assert.Equal(t, 20.0, avgVolume)
	assert.InDelta(t, 3.0, averageATR, 1e-9)
	assert.InDelta(t, 3.0, currentATR, 1e-9)
}

func TestMarketTrackerTrueRangeUsesPreviousClose(t *testing.T) {
	prev := candle(102, 98, 100, 10)

	// gap up: distance from the previous close dominates
	assert.Equal(t, 8.0, trueRange(prev, candle(108, 105, 107, 10)))
	// gap down
	assert.Equal(t, 10.0, trueRange(prev, candle(92, 90, 91, 10)))
	// ordinary overlap: plain high-low range
	assert.Equal(t, 4.0, trueRange(prev, candle(103, 99, 101, 10)))
}

func TestMarketTrackerWindowBounded(t *testing.T) {
	tracker := newMarketTracker(3, 14)

	for i := 0; i < 10; i++ {
		tracker.Add(candle(102, 98, 100, float64(i)))
	}
	require.Len(t, tracker.candles, 3)
	_, lastVolume, avgVolume, _, _ := tracker.Snapshot()
	assert.Equal(t, 9.0, lastVolume)
	assert.Equal(t, 8.0, avgVolume)
}

func TestMarketTrackerCurrentVersusAverageATR(t *testing.T) {
	tracker := newMarketTracker(10, 2)

	// calm candles then a volatility spike
	tracker.Add(candle(101, 99, 100, 10))  // seed
	tracker.Add(candle(101, 99, 100, 10))  // TR 2
	tracker.Add(candle(101, 99, 100, 10))  // TR 2
	tracker.Add(candle(110, 90, 100, 10))  // TR 20
	tracker.Add(candle(112, 92, 102, 10))  // TR 20

	_, _, _, currentATR, averageATR := tracker.Snapshot()
	// recent window of two TRs is all spike
	assert.InDelta(t, 20.0, currentATR, 1e-9)
	assert.InDelta(t, 11.0, averageATR, 1e-9)
}
