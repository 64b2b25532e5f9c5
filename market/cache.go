// Package market holds the per-instrument rolling history of price points.
package market

import (
	"sync"
	"time"
)

// PricePoint is a single market-data observation. Sequence numbers are
// assigned by the cache and are monotonic per instrument.
type PricePoint struct {
	Instrument string
	Price      float64
	Seq        uint64
	Ts         time.Time
}

// Cache keeps a bounded FIFO window of price points per instrument.
// Eviction is by arrival order, never by price.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	windows  map[string][]PricePoint
	seq      map[string]uint64
	last     map[string]time.Time
}

// NewCache creates a cache with the given per-instrument window capacity.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		windows:  make(map[string][]PricePoint),
		seq:      make(map[string]uint64),
		last:     make(map[string]time.Time),
	}
}

// Record appends a price observation, evicting the oldest entry once the
// window is full. It returns the stored point with its sequence number.
func (c *Cache) Record(instrument string, price float64, ts time.Time) PricePoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq[instrument]++
	pt := PricePoint{
		Instrument: instrument,
		Price:      price,
		Seq:        c.seq[instrument],
		Ts:         ts,
	}

	w := c.windows[instrument]
	if len(w) >= c.capacity {
		copy(w, w[1:])
		w = w[:len(w)-1]
	}
	c.windows[instrument] = append(w, pt)
	c.last[instrument] = ts
	return pt
}

// Window returns a copy of the current window, oldest first. The slice is
// empty when no data has been received yet.
func (c *Cache) Window(instrument string) []PricePoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w := c.windows[instrument]
	out := make([]PricePoint, len(w))
	copy(out, w)
	return out
}

// Last returns the most recent point for the instrument.
func (c *Cache) Last(instrument string) (PricePoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w := c.windows[instrument]
	if len(w) == 0 {
		return PricePoint{}, false
	}
	return w[len(w)-1], true
}

// Staleness returns the elapsed time since the last update, measured against
// now. Instruments that never received data report a year.
func (c *Cache) Staleness(instrument string, now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.last[instrument]
	if !ok {
		return time.Hour * 24 * 365
	}
	return now.Sub(ts)
}

// Len reports the current window length for the instrument.
func (c *Cache) Len(instrument string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.windows[instrument])
}
