package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			WorkerPoolSize: 4,
			QueueSize:      100,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			BackoffBase:      2,
		},
		Lifecycle: LifecycleConfig{
			WarningThresholdMinutes: 180,
			MaxHoldingTimeMinutes:   240,
		},
		Risk: RiskConfig{
			TimeAtRiskWeight:      0.2,
			DrawdownWeight:        0.2,
			VolumeLiquidityWeight: 0.2,
			VolatilityWeight:      0.2,
			ProfitabilityWeight:   0.2,
		},
		Execution: ExecutionConfig{
			MaxRetries:         3,
			MaxSlippagePercent: 0.5,
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Stream.Symbols)
	assert.Equal(t, "1m", cfg.Stream.Interval)
	assert.Equal(t, 4, cfg.Pool.WorkerPoolSize)
	assert.Equal(t, 100, cfg.Pool.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Pool.DefaultTimeout)
	assert.Equal(t, 10, cfg.Cache.MaxSize)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Timeout)
	assert.Equal(t, 180, cfg.Lifecycle.WarningThresholdMinutes)
	assert.Equal(t, 240, cfg.Lifecycle.MaxHoldingTimeMinutes)
	assert.True(t, cfg.Lifecycle.EnableAutomaticTimeout)
	assert.Equal(t, 5, cfg.Risk.CheckIntervalCandles)
	assert.Equal(t, 3, cfg.Execution.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Execution.PollInterval)
	assert.Equal(t, "data", cfg.Shutdown.StateDir)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, 0.001, cfg.Trading.OrderQuantity)
	assert.Equal(t, 3, cfg.Trading.MaxOpenPositions)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadPool(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.WorkerPoolSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_pool_size")

	cfg = validConfig()
	cfg.Pool.QueueSize = -1
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadBreaker(t *testing.T) {
	cfg := validConfig()
	cfg.Breaker.FailureThreshold = 0
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Breaker.BackoffBase = 0.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff_base")
}

func TestValidateRejectsInvertedLifecycleThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Lifecycle.WarningThresholdMinutes = 240
	cfg.Lifecycle.MaxHoldingTimeMinutes = 240
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warning_threshold_minutes")
}

func TestValidateRejectsUnbalancedRiskWeights(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.ProfitabilityWeight = 0.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights")

	// small float drift is tolerated
	cfg = validConfig()
	cfg.Risk.ProfitabilityWeight = 0.2004
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNegativeExecution(t *testing.T) {
	cfg := validConfig()
	cfg.Execution.MaxRetries = -1
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Execution.MaxSlippagePercent = -0.1
	require.Error(t, cfg.Validate())
}
