package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := NewFakeClock(start)

	assert.Equal(t, start, clk.Now())
	clk.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clk.Now())
}

func TestFakeClockAfter(t *testing.T) {
	clk := NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	ch := clk.After(time.Minute)
	select {
	case <-ch:
		t.Fatal("timer fired before the clock advanced")
	default:
	}

	clk.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	clk.Advance(30 * time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, clk.Now(), at)
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestFakeClockAfterNonPositive(t *testing.T) {
	clk := NewFakeClock(time.Now())

	select {
	case <-clk.After(0):
	default:
		t.Fatal("zero-duration timer should fire immediately")
	}
}

func TestFakeClockSleepCancellation(t *testing.T) {
	clk := NewFakeClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- clk.Sleep(ctx, time.Hour) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sleep ignored context cancellation")
	}
}

func TestFakeClockSetTime(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := NewFakeClock(start)

	ch := clk.After(time.Hour)
	target := start.Add(2 * time.Hour)
	clk.SetTime(target)

	assert.Equal(t, target, clk.Now())
	select {
	case <-ch:
	default:
		t.Fatal("jumping past the deadline should fire the timer")
	}
}

func TestSystemClockSleep(t *testing.T) {
	clk := NewSystemClock()

	start := time.Now()
	require.NoError(t, clk.Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
