package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charnn_generation_cache_hits_total",
		Help: "Generation requests answered from the cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charnn_generation_cache_misses_total",
		Help: "Generation requests that ran the sampler",
	})
)

// TextCache caches generated text. Only deterministic requests (those with
// an explicit seed) are worth caching.
type TextCache interface {
	// Get retrieves generated text.
	Get(key string) (string, bool)
	// Put stores generated text.
	Put(key string, text string)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is an in-memory TextCache holding at most capacity entries.
// The oldest entry is evicted first.
type MapCache struct {
	mu       sync.RWMutex
	data     map[string]string
	order    []string
	capacity int
}

// NewMapCache creates a cache; capacity <= 0 means unbounded.
func NewMapCache(capacity int) *MapCache {
	return &MapCache{
		data:     make(map[string]string),
		capacity: capacity,
	}
}

func (c *MapCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.data[key]
	if ok {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()
	}
	return v, ok
}

func (c *MapCache) Put(key string, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[key]; !ok {
		c.order = append(c.order, key)
	}
	c.data[key] = text

	for c.capacity > 0 && len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.data, oldest)
	}
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
