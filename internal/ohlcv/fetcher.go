package ohlcv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ohlcv-server/internal/apperror"
	"ohlcv-server/internal/timeframe"
)

// Fetcher is the single entry point for bar requests against one asset of
// one market. It resolves the requested window, serves as much as possible
// from the cache, fetches only the missing sub-range from the provider, and
// always returns a contiguous, deduplicated, ascending series for the
// resolved window.
type Fetcher struct {
	marketID string
	asset    string
	source   Source
	cache    *Cache
	now      func() time.Time
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

func NewFetcher(marketID, asset string, source Source, cache *Cache, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		marketID: marketID,
		asset:    asset,
		source:   source,
		cache:    cache,
		now:      time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch returns up to limit bars for the given interval. since < 0 means the
// window of the last limit periods ending at the most recent boundary. A
// window reaching past "now" is clipped, never an error. The result is
// gapless and ascending over the covered range, or the call fails with a
// typed error.
func (f *Fetcher) Fetch(ctx context.Context, tf timeframe.TimeFrame, since int64, limit int) ([]Bar, error) {
	if limit <= 0 {
		return nil, apperror.New(apperror.BadRequest, "limit must be positive")
	}

	now := f.now().Unix()

	var from, to int64
	if since < 0 {
		to = tf.TsLast(now)
		from = tf.TsLastLimit(limit, now)
	} else {
		from = tf.TsSince(since)
		to = tf.TsSinceLimit(since, limit, now)
		limit = tf.PeriodCount(since, limit, now)
	}
	if to < from || limit == 0 {
		// The whole window lies in the future.
		return nil, nil
	}

	res, err := f.cache.Lookup(ctx, f.marketID, f.asset, tf, from, to)
	if err != nil {
		return nil, err
	}

	switch res.State {
	case LookupFull:
		return res.Bars, nil

	case LookupPartial:
		remaining := tf.Periods(res.NextFrom, to)
		fetched, err := f.fetchAndMerge(ctx, tf, res.NextFrom, remaining)
		if err != nil {
			return nil, err
		}
		out := append(res.Bars, fetched...)
		return f.checkContinuity(tf, out, from)

	default:
		fetched, err := f.fetchAndMerge(ctx, tf, from, limit)
		if err != nil {
			return nil, err
		}
		if len(fetched) == 0 {
			return nil, nil
		}
		return f.checkContinuity(tf, fetched, from)
	}
}

// fetchAndMerge pulls [since, since+limit periods) from the provider, drops
// anything outside the requested grid, and merges the rest into the cache. A
// persist failure is logged but does not discard the fetched data.
func (f *Fetcher) fetchAndMerge(ctx context.Context, tf timeframe.TimeFrame, since int64, limit int) ([]Bar, error) {
	bars, err := f.source.FetchOHLCV(ctx, f.asset, tf, since, limit)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperror.Wrap(apperror.MarketUnavailable,
			fmt.Sprintf("fetch %s %s bars", f.asset, tf), err)
	}

	// Providers may pad the reply with bars outside the window.
	end := tf.Add(since, limit-1)
	kept := bars[:0:0]
	for _, b := range bars {
		if b.Timestamp >= since && b.Timestamp <= end {
			kept = append(kept, b)
		}
	}

	if err := f.cache.Merge(ctx, f.marketID, f.asset, tf, kept); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Code() == apperror.CachePersist {
			// In-memory state is already updated; the fetched series is
			// still correct, so serve it and surface the problem in logs.
			slog.Error("persist bars failed", "market", f.marketID, "asset", f.asset,
				"interval", tf.String(), "error", err)
		} else {
			return nil, err
		}
	}
	return kept, nil
}

// checkContinuity verifies the composed result is a gapless run of interval
// boundaries starting at from. A provider reply with holes is never passed
// through to the caller.
func (f *Fetcher) checkContinuity(tf timeframe.TimeFrame, bars []Bar, from int64) ([]Bar, error) {
	boundary := from
	for i := range bars {
		if bars[i].Timestamp != boundary {
			return nil, apperror.New(apperror.MarketUnavailable,
				fmt.Sprintf("gapped %s series for %s at %d", tf, f.asset, boundary))
		}
		boundary = tf.Next(boundary)
	}
	return bars, nil
}
