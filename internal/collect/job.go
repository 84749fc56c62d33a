// Package collect runs incremental backfill jobs that walk a symbol's
// history batch by batch until the cache is complete up to the present.
package collect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ohlcv-server/internal/ohlcv"
	"ohlcv-server/internal/timeframe"
)

type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateTerminated State = "terminated"
)

// Key identifies a backfill job. At most one live job exists per key.
type Key struct {
	MarketID string `json:"market"`
	Asset    string `json:"asset"`
	Interval string `json:"interval"`
}

// Job walks the window [since, now] in fixed-size batches. Batches already
// covered by the cache are skipped without touching the provider, so a
// restarted job races through history it collected before and only slows
// down once it reaches uncached ground.
type Job struct {
	key     Key
	tf      timeframe.TimeFrame
	fetcher *ohlcv.Fetcher
	cache   *ohlcv.Cache

	since int64
	batch int
	pause time.Duration
	now   func() time.Time

	mu     sync.Mutex
	state  State
	cursor int64

	done chan struct{}
}

func newJob(key Key, tf timeframe.TimeFrame, fetcher *ohlcv.Fetcher, cache *ohlcv.Cache, since int64, batch int, pause time.Duration, now func() time.Time) *Job {
	return &Job{
		key:     key,
		tf:      tf,
		fetcher: fetcher,
		cache:   cache,
		since:   tf.TsSince(since),
		batch:   batch,
		pause:   pause,
		now:     now,
		state:   StateCreated,
		cursor:  tf.TsSince(since),
		done:    make(chan struct{}),
	}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Progress reports how many periods remain ahead of the cursor and how many
// the job spans in total. Percent is derived by the caller.
func (j *Job) Progress() (remaining, total int) {
	j.mu.Lock()
	cursor := j.cursor
	j.mu.Unlock()

	end := j.tf.TsLast(j.now().Unix())
	total = j.tf.Periods(j.since, end)
	remaining = j.tf.Periods(cursor, end)
	if cursor > end {
		remaining = 0
	}
	return remaining, total
}

// Percent returns backfill completion as a value in [0, 100].
func (j *Job) Percent() float64 {
	remaining, total := j.Progress()
	if total <= 0 {
		return 100
	}
	return 100 * float64(total-remaining) / float64(total)
}

// Run drives the job to completion or cancellation. It holds no locks while
// fetching, so Progress and State stay responsive.
func (j *Job) Run(ctx context.Context) {
	defer close(j.done)
	j.setState(StateRunning)

	slog.Info("backfill started", "market", j.key.MarketID, "asset", j.key.Asset,
		"interval", j.key.Interval, "since", j.since)

	for {
		if ctx.Err() != nil {
			j.setState(StateTerminated)
			slog.Info("backfill terminated", "market", j.key.MarketID, "asset", j.key.Asset,
				"interval", j.key.Interval)
			return
		}

		j.mu.Lock()
		cursor := j.cursor
		j.mu.Unlock()

		end := j.tf.TsLast(j.now().Unix())
		if cursor > end {
			j.setState(StateCompleted)
			slog.Info("backfill completed", "market", j.key.MarketID, "asset", j.key.Asset,
				"interval", j.key.Interval)
			return
		}

		windowTo := j.tf.Add(cursor, j.batch-1)
		if windowTo > end {
			windowTo = end
		}

		cached, err := j.cache.IsContinuous(ctx, j.key.MarketID, j.key.Asset, j.tf, cursor, windowTo)
		if err == nil && cached {
			// Already collected; advance without a provider round trip.
			j.advance(j.tf.Next(windowTo))
			continue
		}

		bars, err := j.fetcher.Fetch(ctx, j.tf, cursor, j.tf.Periods(cursor, windowTo))
		if err != nil || len(bars) == 0 {
			if err != nil {
				slog.Warn("backfill batch failed", "market", j.key.MarketID, "asset", j.key.Asset,
					"interval", j.key.Interval, "cursor", cursor, "error", err)
			}
			// Retry the same window after a pause.
			if !j.sleep(ctx) {
				j.setState(StateTerminated)
				return
			}
			continue
		}

		j.advance(j.tf.Next(bars[len(bars)-1].Timestamp))

		if !j.sleep(ctx) {
			j.setState(StateTerminated)
			return
		}
	}
}

func (j *Job) advance(cursor int64) {
	j.mu.Lock()
	j.cursor = cursor
	j.mu.Unlock()
}

// sleep waits out the inter-batch pause. It returns false when the context
// is cancelled while waiting.
func (j *Job) sleep(ctx context.Context) bool {
	if j.pause <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(j.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
