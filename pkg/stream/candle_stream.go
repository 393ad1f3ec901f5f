// Package stream delivers live candle data over a websocket market feed
// with automatic reconnection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/types"
)

// Config holds candle stream tuning
type Config struct {
	URL               string        `json:"url"`
	Symbols           []string      `json:"symbols"`
	Interval          string        `json:"interval"`
	HandshakeTimeout  time.Duration `json:"handshake_timeout"`
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	MaxReconnectDelay time.Duration `json:"max_reconnect_delay"`
	PingInterval      time.Duration `json:"ping_interval"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:          "1m",
		HandshakeTimeout:  30 * time.Second,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: time.Minute,
		PingInterval:      30 * time.Second,
	}
}

// Handler consumes closed candles from the feed
type Handler func(candle types.Candle)

// Health reports the connection state of the stream
type Health struct {
	Connected     bool      `json:"connected"`
	Reconnects    int       `json:"reconnects"`
	CandlesRead   int64     `json:"candles_read"`
	LastMessageAt time.Time `json:"last_message_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// klineMessage mirrors the combined-stream kline payload of the exchange
type klineMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Kline struct {
			Symbol    string `json:"s"`
			Interval  string `json:"i"`
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			Closed    bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// CandleStream maintains a websocket subscription to the kline feed and
// invokes the handler for every closed candle. The read loop reconnects
// with exponential backoff until Stop is called.
type CandleStream struct {
	config  *Config
	logger  *zap.Logger
	handler Handler

	mu          sync.RWMutex
	conn        *websocket.Conn
	connected   bool
	reconnects  int
	candlesRead int64
	lastMessage time.Time
	lastError   error

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCandleStream creates a candle stream
func NewCandleStream(config *Config, logger *zap.Logger, handler Handler) *CandleStream {
	if config == nil {
		config = DefaultConfig()
	}
	return &CandleStream{
		config:  config,
		logger:  logger.Named("stream"),
		handler: handler,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// streamURL builds the combined-stream endpoint for the configured symbols
func (s *CandleStream) streamURL() string {
	parts := make([]string, 0, len(s.config.Symbols))
	for _, sym := range s.config.Symbols {
		parts = append(parts, fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), s.config.Interval))
	}
	return fmt.Sprintf("%s/stream?streams=%s", strings.TrimSuffix(s.config.URL, "/"), strings.Join(parts, "/"))
}

// Start launches the read loop. Returns an error only for invalid
// configuration; connection failures are retried in the background.
func (s *CandleStream) Start(ctx context.Context) error {
	if s.config.URL == "" {
		return fmt.Errorf("stream url is required")
	}
	if len(s.config.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go s.run(ctx)
	return nil
}

func (s *CandleStream) run(ctx context.Context) {
	defer close(s.doneCh)

	delay := s.config.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		err := s.connectAndRead(ctx)
		if err == nil {
			return
		}

		s.mu.Lock()
		s.connected = false
		s.reconnects++
		s.lastError = err
		s.mu.Unlock()

		s.logger.Warn("candle stream disconnected, reconnecting",
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// connectAndRead dials the feed and consumes messages until the connection
// drops. A nil return means the stream was stopped deliberately.
func (s *CandleStream) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.config.HandshakeTimeout,
		ReadBufferSize:   16 * 1024,
		WriteBufferSize:  16 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, s.streamURL(), http.Header{})
	if err != nil {
		return fmt.Errorf("failed to connect to candle feed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.lastError = nil
	s.mu.Unlock()

	s.logger.Info("candle stream connected",
		zap.Strings("symbols", s.config.Symbols),
		zap.String("interval", s.config.Interval))

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-pingTicker.C:
				s.mu.Lock()
				if s.conn != nil {
					s.conn.WriteMessage(websocket.PingMessage, nil)
				}
				s.mu.Unlock()
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return nil
		case <-s.stopCh:
			conn.Close()
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			select {
			case <-s.stopCh:
				return nil
			default:
				return fmt.Errorf("candle feed read failed: %w", err)
			}
		}
		s.handleMessage(message)
	}
}

func (s *CandleStream) handleMessage(message []byte) {
	s.mu.Lock()
	s.lastMessage = time.Now()
	s.mu.Unlock()

	var msg klineMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		// non-kline frames (subscription acks etc) are ignored
		return
	}
	k := msg.Data.Kline
	if k.Symbol == "" || !k.Closed {
		return
	}

	candle := types.Candle{
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Open:      parseFloat(k.Open),
		High:      parseFloat(k.High),
		Low:       parseFloat(k.Low),
		Close:     parseFloat(k.Close),
		Volume:    parseFloat(k.Volume),
	}

	s.mu.Lock()
	s.candlesRead++
	s.mu.Unlock()

	if s.handler != nil {
		s.handler(candle)
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

// GetHealth returns the current connection health
func (s *CandleStream) GetHealth() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := Health{
		Connected:     s.connected,
		Reconnects:    s.reconnects,
		CandlesRead:   s.candlesRead,
		LastMessageAt: s.lastMessage,
	}
	if s.lastError != nil {
		h.LastError = s.lastError.Error()
	}
	return h
}

// IsConnected reports whether the stream currently holds a live connection
func (s *CandleStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Stop closes the stream and waits for the read loop to exit
func (s *CandleStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connected = false
		started := s.started
		s.mu.Unlock()
		if !started {
			close(s.doneCh)
		}
	})
	<-s.doneCh
}
