package processing

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/pkg/clock"
)

// DefaultOrchestratorCacheSize is the default LRU capacity
const DefaultOrchestratorCacheSize = 10

// OrchestratorCache is a bounded LRU map of per-strategy orchestrator
// objects keyed by strategy id. Reads refresh recency; insertion past
// capacity evicts the least-recently-accessed entry.
type OrchestratorCache struct {
	mu      sync.Mutex
	logger  *zap.Logger
	clk     clock.Clock
	maxSize int
	order   *list.List               // front = most recently used
	entries map[string]*list.Element // strategyID -> element holding *cacheEntry
}

type cacheEntry struct {
	strategyID   string
	value        interface{}
	accessCount  int64
	createdAt    time.Time
	lastAccessAt time.Time
}

// CacheEntryStats describes one cached orchestrator
type CacheEntryStats struct {
	StrategyID      string        `json:"strategy_id"`
	AccessCount     int64         `json:"access_count"`
	Age             time.Duration `json:"age"`
	TimeSinceAccess time.Duration `json:"time_since_access"`
}

// CacheStats is a snapshot of cache occupancy
type CacheStats struct {
	Size    int               `json:"size"`
	MaxSize int               `json:"max_size"`
	Entries []CacheEntryStats `json:"entries"`
}

// NewOrchestratorCache creates an LRU cache. maxSize below 1 is clamped to 1.
func NewOrchestratorCache(maxSize int, logger *zap.Logger, clk clock.Clock) *OrchestratorCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &OrchestratorCache{
		logger:  logger.Named("orchestrator_cache"),
		clk:     clk,
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns the cached orchestrator for the strategy, refreshing its
// recency and bumping the access counter
func (c *OrchestratorCache) Get(strategyID string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[strategyID]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	entry.accessCount++
	entry.lastAccessAt = c.clk.Now()
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Put inserts or replaces the orchestrator for the strategy, evicting the
// least-recently-accessed entry when over capacity
func (c *OrchestratorCache) Put(strategyID string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	if elem, ok := c.entries[strategyID]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.lastAccessAt = now
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := oldest.Value.(*cacheEntry)
			c.order.Remove(oldest)
			delete(c.entries, evicted.strategyID)
			c.logger.Warn("evicting least recently used orchestrator",
				zap.String("strategy_id", evicted.strategyID),
				zap.Int64("access_count", evicted.accessCount),
				zap.Duration("age", now.Sub(evicted.createdAt)))
		}
	}

	entry := &cacheEntry{
		strategyID:   strategyID,
		value:        value,
		createdAt:    now,
		lastAccessAt: now,
	}
	c.entries[strategyID] = c.order.PushFront(entry)
}

// Remove drops a single entry, reporting whether it existed
func (c *OrchestratorCache) Remove(strategyID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[strategyID]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.entries, strategyID)
	return true
}

// Len returns the current entry count
func (c *OrchestratorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns per-entry statistics in most-recently-used order
func (c *OrchestratorCache) Stats() *CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	stats := &CacheStats{
		Size:    c.order.Len(),
		MaxSize: c.maxSize,
		Entries: make([]CacheEntryStats, 0, c.order.Len()),
	}
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*cacheEntry)
		stats.Entries = append(stats.Entries, CacheEntryStats{
			StrategyID:      entry.strategyID,
			AccessCount:     entry.accessCount,
			Age:             now.Sub(entry.createdAt),
			TimeSinceAccess: now.Sub(entry.lastAccessAt),
		})
	}
	return stats
}

// ClearAll drops every entry
func (c *OrchestratorCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element)
}
