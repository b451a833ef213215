package prices

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/backtest-sim/backtest-sim/sim"
)

// DefaultCacheEntries is the number of chunks a Cache holds.
const DefaultCacheEntries = 64

type cacheEntry struct {
	series    Series
	lastUsage uint64
}

// CacheStats counts cache outcomes since construction.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a bounded LRU cache of price chunks with interpolation search for
// point lookups.
//
// A Cache is owned by a single goroutine: each worker builds its own, so the
// lookup path takes no lock. The price of this is that several workers may
// hold copies of the same chunk.
type Cache struct {
	loader  Loader
	catalog *Catalog
	entries []cacheEntry
	clock   uint64
	stats   CacheStats
}

// NewCache returns a Cache with capacity empty entries backed by loader.
func NewCache(loader Loader, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheEntries
	}
	return &Cache{
		loader:  loader,
		entries: make([]cacheEntry, capacity),
	}
}

// WithCatalog attaches a symbol catalog used by DataWindow.
func (c *Cache) WithCatalog(cat *Catalog) *Cache {
	c.catalog = cat
	return c
}

func (e *cacheEntry) contains(sym sim.Symbol, t int64) bool {
	s := &e.series
	n := s.Len()
	if n == 0 || s.Symbol.ID() != sym.ID() || t < s.Times[0] {
		return false
	}
	return t <= s.Times[n-1] || s.Tail
}

// Price returns the last known price of sym at or before t. Times after the
// end of a symbol's data resolve to its final sample; times before its first
// sample return sim.ErrDataUnavailable.
func (c *Cache) Price(sym sim.Symbol, t int64) (int64, error) {
	c.clock++

	var hit, empty, lru *cacheEntry
	for i := range c.entries {
		e := &c.entries[i]
		if e.series.Symbol.IsZero() {
			if empty == nil {
				empty = e
			}
			continue
		}
		if e.contains(sym, t) {
			hit = e
			break
		}
		if lru == nil || e.lastUsage < lru.lastUsage {
			lru = e
		}
	}

	if hit != nil {
		c.stats.Hits++
	} else {
		c.stats.Misses++
		hit = empty
		if hit == nil {
			hit = lru
			c.stats.Evictions++
			logrus.Debugf("evicting %s chunk [%d, %d] for %s@%d", hit.series.Symbol,
				hit.series.Times[0], hit.series.Times[hit.series.Len()-1], sym, t)
		}
		if err := c.loader.Load(sym, t, &hit.series); err != nil {
			hit.series.reset(sim.Symbol{})
			hit.lastUsage = 0
			return 0, err
		}
		if hit.series.Len() == 0 {
			hit.series.reset(sim.Symbol{})
			return 0, fmt.Errorf("%s: empty chunk: %w", sym, sim.ErrDataUnavailable)
		}
	}
	hit.lastUsage = c.clock

	s := &hit.series
	if t < s.Times[0] {
		return 0, fmt.Errorf("%s: time %d precedes first sample %d: %w", sym, t, s.Times[0], sim.ErrDataUnavailable)
	}
	return s.Prices[s.search(t)], nil
}

// search returns the index of the last sample at or before t, which must not
// precede the first sample. The split point is guessed proportionally to t's
// position between the bracketing times and clamped strictly inside the
// bracket so each round narrows it.
func (s *Series) search(t int64) int {
	lo, hi := 0, s.Len()-1
	if t >= s.Times[hi] {
		return hi
	}
	for hi-lo > 1 {
		split := lo + int(int64(hi-lo)*(t-s.Times[lo])/(s.Times[hi]-s.Times[lo]))
		if split <= lo {
			split = lo + 1
		} else if split >= hi {
			split = hi - 1
		}
		if s.Times[split] <= t {
			lo = split
		} else {
			hi = split
		}
	}
	return lo
}

// DataWindow returns the first and last time with data for sym, as recorded
// in the attached catalog.
func (c *Cache) DataWindow(sym sim.Symbol) (start, end int64, ok bool) {
	if c.catalog == nil {
		return 0, 0, false
	}
	return c.catalog.Window(sym)
}

// Resident lists the symbols of all loaded entries, in slot order.
func (c *Cache) Resident() []sim.Symbol {
	var out []sim.Symbol
	for i := range c.entries {
		if sym := c.entries[i].series.Symbol; !sym.IsZero() {
			out = append(out, sym)
		}
	}
	return out
}

// Stats returns hit, miss and eviction counts.
func (c *Cache) Stats() CacheStats {
	return c.stats
}
