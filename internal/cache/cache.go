// Package cache holds the in-process rolling state backing the chart API:
// per-pair rings of recent closed candles and recent trigger marks. The
// store remains the source of truth; the cache is rebuilt at startup and
// dropped on teardown.
package cache

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"crypto-screenerv1/internal/model"
)

const (
	// MaxCandles bounds each pair's candle ring (120 minutes = 2 hours).
	MaxCandles = 120

	// MarkRetentionSeconds bounds the trigger mark ring (2 hours).
	MarkRetentionSeconds = 2 * 3600

	// defaultMaxPairs bounds the number of tracked pairs across both
	// markets; least-recently-used pairs are evicted beyond this.
	defaultMaxPairs = 2048
)

type entry struct {
	mu      sync.Mutex
	candles []model.Candle // ascending by timestamp, len <= MaxCandles
	marks   []model.TriggerMark
}

// Cache is the process-wide rolling cache. Safe for concurrent use; each
// pair has its own small critical section.
type Cache struct {
	pairs *lru.Cache // key string -> *entry
}

// New creates a cache bounding tracked pairs to maxPairs (0 = default).
func New(maxPairs int) *Cache {
	if maxPairs <= 0 {
		maxPairs = defaultMaxPairs
	}
	pairs, err := lru.New(maxPairs)
	if err != nil {
		// lru.New only fails on size <= 0, guarded above.
		panic(err)
	}
	return &Cache{pairs: pairs}
}

func (c *Cache) pair(key string) *entry {
	if v, ok := c.pairs.Get(key); ok {
		return v.(*entry)
	}
	e := &entry{}
	// Racing adds for the same key may both succeed; the later Add wins
	// and the earlier entry is garbage. Harmless for a cache.
	c.pairs.Add(key, e)
	return e
}

// PutCandle inserts or updates one closed candle, keeping the ring sorted
// ascending and pruned to MaxCandles.
func (c *Cache) PutCandle(symbol string, market model.Market, candle model.Candle) {
	e := c.pair(model.PairKey(symbol, market))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles = upsertSorted(e.candles, candle)
	if len(e.candles) > MaxCandles {
		e.candles = e.candles[len(e.candles)-MaxCandles:]
	}
}

// BulkPut replaces the pair's ring from a warm-up batch.
func (c *Cache) BulkPut(symbol string, market model.Market, candles []model.Candle) {
	e := c.pair(model.PairKey(symbol, market))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles = e.candles[:0]
	for _, cd := range candles {
		e.candles = upsertSorted(e.candles, cd)
	}
	if len(e.candles) > MaxCandles {
		e.candles = e.candles[len(e.candles)-MaxCandles:]
	}
}

// Candles returns a copy of the pair's ring, ascending. Nil when the pair
// is cold.
func (c *Cache) Candles(symbol string, market model.Market) []model.Candle {
	v, ok := c.pairs.Get(model.PairKey(symbol, market))
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.candles) == 0 {
		return nil
	}
	out := make([]model.Candle, len(e.candles))
	copy(out, e.candles)
	return out
}

// PutTriggerMark appends a mark and prunes marks older than the retention
// window relative to the new mark.
func (c *Cache) PutTriggerMark(symbol string, market model.Market, mark model.TriggerMark) {
	e := c.pair(model.PairKey(symbol, market))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marks = append(e.marks, mark)
	cutoff := mark.Time - MarkRetentionSeconds
	i := 0
	for i < len(e.marks) && e.marks[i].Time < cutoff {
		i++
	}
	e.marks = e.marks[i:]
}

// TriggerMarks returns a copy of the pair's marks, ascending by time.
func (c *Cache) TriggerMarks(symbol string, market model.Market) []model.TriggerMark {
	v, ok := c.pairs.Get(model.PairKey(symbol, market))
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.marks) == 0 {
		return nil
	}
	out := make([]model.TriggerMark, len(e.marks))
	copy(out, e.marks)
	return out
}

// Pairs returns the number of tracked pairs.
func (c *Cache) Pairs() int {
	return c.pairs.Len()
}

// Purge drops all cached state.
func (c *Cache) Purge() {
	c.pairs.Purge()
}

// upsertSorted inserts cd into the ascending slice, replacing an existing
// candle with the same timestamp.
func upsertSorted(candles []model.Candle, cd model.Candle) []model.Candle {
	i := sort.Search(len(candles), func(i int) bool {
		return candles[i].Timestamp >= cd.Timestamp
	})
	if i < len(candles) && candles[i].Timestamp == cd.Timestamp {
		candles[i] = cd
		return candles
	}
	candles = append(candles, model.Candle{})
	copy(candles[i+1:], candles[i:])
	candles[i] = cd
	return candles
}
