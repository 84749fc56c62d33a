package ohlcv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ohlcv-server/internal/apperror"
	"ohlcv-server/internal/timeframe"
)

type LookupState int

const (
	// LookupMiss: no usable prefix is cached; the whole window must be
	// fetched remotely.
	LookupMiss LookupState = iota
	// LookupPartial: a continuous prefix of the window is cached; the
	// remainder starting at NextFrom must be fetched remotely.
	LookupPartial
	// LookupFull: the whole window is cached and continuous.
	LookupFull
)

// LookupResult describes how much of a requested window the cache covers.
type LookupResult struct {
	State    LookupState
	Bars     []Bar
	NextFrom int64 // first boundary after the cached prefix; set for Partial
}

// Cache is the authoritative in-process view of cached bars, one ordered
// series per (market, asset, interval) key, backed by durable storage. Each
// key has its own lock serializing lookups and merges, so an interactive
// fetch and a backfill job touching the same key never observe a torn
// series; different keys do not contend.
type Cache struct {
	storage Storage

	mu      sync.Mutex
	entries map[string]*series
}

type series struct {
	mu     sync.Mutex
	loaded bool
	bars   []Bar // ascending by Timestamp, unique
}

func NewCache(storage Storage) *Cache {
	return &Cache{
		storage: storage,
		entries: make(map[string]*series),
	}
}

func cacheKey(marketID, asset string, tf timeframe.TimeFrame) string {
	return marketID + "|" + asset + "|" + tf.String()
}

func (c *Cache) entry(marketID, asset string, tf timeframe.TimeFrame) *series {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(marketID, asset, tf)
	e, ok := c.entries[key]
	if !ok {
		e = &series{}
		c.entries[key] = e
	}
	return e
}

// ensureLoaded populates the in-memory series from storage on first access.
// An absent series loads as empty.
func (e *series) ensureLoaded(ctx context.Context, storage Storage, marketID, asset string, tf timeframe.TimeFrame) error {
	if e.loaded {
		return nil
	}
	bars, err := storage.Load(ctx, marketID, asset, tf)
	if err != nil {
		return fmt.Errorf("load cached bars: %w", err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp < bars[j].Timestamp })
	e.bars = bars
	e.loaded = true
	return nil
}

// Lookup reports how much of the closed, boundary-aligned window [from, to]
// the cache covers. A cached region that does not start exactly at from, or
// an empty series, is a miss: a discontinuous cache is never trusted.
func (c *Cache) Lookup(ctx context.Context, marketID, asset string, tf timeframe.TimeFrame, from, to int64) (LookupResult, error) {
	e := c.entry(marketID, asset, tf)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoaded(ctx, c.storage, marketID, asset, tf); err != nil {
		return LookupResult{}, err
	}

	idx := sort.Search(len(e.bars), func(i int) bool { return e.bars[i].Timestamp >= from })
	if idx == len(e.bars) || e.bars[idx].Timestamp != from {
		return LookupResult{State: LookupMiss}, nil
	}

	// Walk the contiguous run of boundaries starting at from.
	var run []Bar
	last := from
	for boundary, i := from, idx; boundary <= to; boundary, i = tf.Next(boundary), i+1 {
		if i == len(e.bars) || e.bars[i].Timestamp != boundary {
			break
		}
		run = append(run, e.bars[i])
		last = boundary
	}

	if last == to {
		return LookupResult{State: LookupFull, Bars: run}, nil
	}
	return LookupResult{State: LookupPartial, Bars: run, NextFrom: tf.Next(last)}, nil
}

// Merge unions newBars into the series. On key collision the existing bar
// wins; re-fetched overlap bars are assumed identical. The updated series is
// written back to storage synchronously. Merging the same bars twice is a
// no-op beyond the first. A storage failure surfaces as a CACHE_PERSIST
// error, but the in-memory series is already updated when it is returned.
func (c *Cache) Merge(ctx context.Context, marketID, asset string, tf timeframe.TimeFrame, newBars []Bar) error {
	if len(newBars) == 0 {
		return nil
	}

	e := c.entry(marketID, asset, tf)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoaded(ctx, c.storage, marketID, asset, tf); err != nil {
		return err
	}

	existing := make(map[int64]struct{}, len(e.bars))
	for _, b := range e.bars {
		existing[b.Timestamp] = struct{}{}
	}

	added := false
	for _, b := range newBars {
		if _, ok := existing[b.Timestamp]; ok {
			continue
		}
		existing[b.Timestamp] = struct{}{}
		e.bars = append(e.bars, b)
		added = true
	}
	if !added {
		return nil
	}

	sort.Slice(e.bars, func(i, j int) bool { return e.bars[i].Timestamp < e.bars[j].Timestamp })

	if err := c.storage.Store(ctx, marketID, asset, tf, e.bars); err != nil {
		return apperror.Wrap(apperror.CachePersist, "store bars", err)
	}
	return nil
}

// IsContinuous reports whether every boundary of the closed window [from, to]
// has a cached bar. Backfill jobs use it to skip already-covered batches
// without touching the provider.
func (c *Cache) IsContinuous(ctx context.Context, marketID, asset string, tf timeframe.TimeFrame, from, to int64) (bool, error) {
	if to < from {
		return false, nil
	}

	e := c.entry(marketID, asset, tf)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureLoaded(ctx, c.storage, marketID, asset, tf); err != nil {
		return false, err
	}

	idx := sort.Search(len(e.bars), func(i int) bool { return e.bars[i].Timestamp >= from })
	if idx == len(e.bars) || e.bars[idx].Timestamp != from {
		return false, nil
	}
	for boundary, i := from, idx; boundary <= to; boundary, i = tf.Next(boundary), i+1 {
		if i == len(e.bars) || e.bars[i].Timestamp != boundary {
			return false, nil
		}
	}
	return true, nil
}
