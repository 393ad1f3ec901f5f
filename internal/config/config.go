package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the trading bot
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains the status API server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StreamConfig contains market data feed configuration
type StreamConfig struct {
	URL               string        `mapstructure:"url"`
	Symbols           []string      `mapstructure:"symbols"`
	Interval          string        `mapstructure:"interval"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
}

// PoolConfig contains strategy processing pool configuration
type PoolConfig struct {
	WorkerPoolSize   int           `mapstructure:"worker_pool_size"`
	QueueSize        int           `mapstructure:"queue_size"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	MaxResultHistory int           `mapstructure:"max_result_history"`
}

// CacheConfig contains orchestrator cache configuration
type CacheConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

// BreakerConfig contains circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BackoffBase      float64       `mapstructure:"backoff_base"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	HalfOpenAttempts int           `mapstructure:"half_open_attempts"`
	MaxBreakers      int           `mapstructure:"max_breakers"`
}

// LifecycleConfig contains holding-time supervision configuration
type LifecycleConfig struct {
	WarningThresholdMinutes int  `mapstructure:"warning_threshold_minutes"`
	MaxHoldingTimeMinutes   int  `mapstructure:"max_holding_time_minutes"`
	EnableAutomaticTimeout  bool `mapstructure:"enable_automatic_timeout"`
}

// RiskConfig contains health scoring configuration
type RiskConfig struct {
	TimeAtRiskWeight         float64 `mapstructure:"time_at_risk_weight"`
	DrawdownWeight           float64 `mapstructure:"drawdown_weight"`
	VolumeLiquidityWeight    float64 `mapstructure:"volume_liquidity_weight"`
	VolatilityWeight         float64 `mapstructure:"volatility_weight"`
	ProfitabilityWeight      float64 `mapstructure:"profitability_weight"`
	CheckIntervalCandles     int     `mapstructure:"check_interval_candles"`
	MaxHoldingTimeMinutes    int     `mapstructure:"max_holding_time_minutes"`
	MaxDrawdownPercent       float64 `mapstructure:"max_drawdown_percent"`
	TargetPnLPercent         float64 `mapstructure:"target_pnl_percent"`
	HealthScoreThreshold     float64 `mapstructure:"health_score_threshold"`
	EmergencyCloseOnCritical bool    `mapstructure:"emergency_close_on_critical"`
}

// ExecutionConfig contains order pipeline configuration
type ExecutionConfig struct {
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	BackoffMultiplier  float64       `mapstructure:"backoff_multiplier"`
	OrderTimeout       time.Duration `mapstructure:"order_timeout"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	MaxSlippagePercent float64       `mapstructure:"max_slippage_percent"`
}

// ShutdownConfig contains graceful shutdown configuration
type ShutdownConfig struct {
	StateDir        string        `mapstructure:"state_dir"`
	StateFileName   string        `mapstructure:"state_file_name"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// JournalConfig contains trade journal configuration
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TradingConfig contains entry sizing configuration
type TradingConfig struct {
	OrderQuantity    float64 `mapstructure:"order_quantity"`
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
}

// LoggingConfig contains logger configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the components cannot run with
func (c *Config) Validate() error {
	if c.Pool.WorkerPoolSize <= 0 {
		return fmt.Errorf("pool.worker_pool_size must be positive")
	}
	if c.Pool.QueueSize <= 0 {
		return fmt.Errorf("pool.queue_size must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Breaker.BackoffBase < 1 {
		return fmt.Errorf("breaker.backoff_base must be at least 1")
	}
	if c.Lifecycle.WarningThresholdMinutes >= c.Lifecycle.MaxHoldingTimeMinutes {
		return fmt.Errorf("lifecycle.warning_threshold_minutes must be below max_holding_time_minutes")
	}
	weights := c.Risk.TimeAtRiskWeight + c.Risk.DrawdownWeight +
		c.Risk.VolumeLiquidityWeight + c.Risk.VolatilityWeight + c.Risk.ProfitabilityWeight
	if weights < 0.999 || weights > 1.001 {
		return fmt.Errorf("risk component weights must sum to 1, got %.3f", weights)
	}
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries must not be negative")
	}
	if c.Execution.MaxSlippagePercent < 0 {
		return fmt.Errorf("execution.max_slippage_percent must not be negative")
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Stream defaults
	viper.SetDefault("stream.url", "wss://fstream.binance.com")
	viper.SetDefault("stream.symbols", []string{"BTCUSDT"})
	viper.SetDefault("stream.interval", "1m")
	viper.SetDefault("stream.connection_timeout", "30s")
	viper.SetDefault("stream.reconnect_delay", "1s")
	viper.SetDefault("stream.max_reconnect_delay", "60s")
	viper.SetDefault("stream.ping_interval", "30s")

	// Pool defaults
	viper.SetDefault("pool.worker_pool_size", 4)
	viper.SetDefault("pool.queue_size", 100)
	viper.SetDefault("pool.default_timeout", "5s")
	viper.SetDefault("pool.shutdown_timeout", "10s")
	viper.SetDefault("pool.max_result_history", 500)

	// Cache defaults
	viper.SetDefault("cache.max_size", 10)

	// Breaker defaults
	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.timeout", "30s")
	viper.SetDefault("breaker.backoff_base", 2.0)
	viper.SetDefault("breaker.max_backoff", "5m")
	viper.SetDefault("breaker.half_open_attempts", 3)
	viper.SetDefault("breaker.max_breakers", 100)

	// Lifecycle defaults
	viper.SetDefault("lifecycle.warning_threshold_minutes", 180)
	viper.SetDefault("lifecycle.max_holding_time_minutes", 240)
	viper.SetDefault("lifecycle.enable_automatic_timeout", true)

	// Risk defaults
	viper.SetDefault("risk.time_at_risk_weight", 0.2)
	viper.SetDefault("risk.drawdown_weight", 0.2)
	viper.SetDefault("risk.volume_liquidity_weight", 0.2)
	viper.SetDefault("risk.volatility_weight", 0.2)
	viper.SetDefault("risk.profitability_weight", 0.2)
	viper.SetDefault("risk.check_interval_candles", 5)
	viper.SetDefault("risk.max_holding_time_minutes", 240)
	viper.SetDefault("risk.max_drawdown_percent", 5.0)
	viper.SetDefault("risk.target_pnl_percent", 2.0)
	viper.SetDefault("risk.health_score_threshold", 30.0)
	viper.SetDefault("risk.emergency_close_on_critical", true)

	// Execution defaults
	viper.SetDefault("execution.max_retries", 3)
	viper.SetDefault("execution.retry_delay", "1s")
	viper.SetDefault("execution.backoff_multiplier", 2.0)
	viper.SetDefault("execution.order_timeout", "30s")
	viper.SetDefault("execution.poll_interval", "500ms")
	viper.SetDefault("execution.max_slippage_percent", 0.5)

	// Shutdown defaults
	viper.SetDefault("shutdown.state_dir", "data")
	viper.SetDefault("shutdown.state_file_name", "bot-state.json")
	viper.SetDefault("shutdown.shutdown_timeout", "60s")

	// Journal defaults
	viper.SetDefault("journal.enabled", true)
	viper.SetDefault("journal.path", "data/trades.jsonl")

	// Trading defaults
	viper.SetDefault("trading.order_quantity", 0.001)
	viper.SetDefault("trading.max_open_positions", 3)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)
}
