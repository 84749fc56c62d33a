package collect

import (
	"context"
	"sort"
	"sync"
	"time"

	"ohlcv-server/internal/ohlcv"
	"ohlcv-server/internal/timeframe"
)

// Start outcomes.
const (
	StatusStarted         = "started"
	StatusInProgress      = "in_progress"
	StatusAlreadyComplete = "already_complete"
)

// StartResult is the reply to a collection request.
type StartResult struct {
	Status  string  `json:"status"`
	Percent float64 `json:"percent"`
}

// JobStatus is one row of the registry snapshot.
type JobStatus struct {
	Key     Key     `json:"key"`
	State   State   `json:"state"`
	Percent float64 `json:"percent"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithBatchSize sets how many periods a job requests per provider call.
func WithBatchSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithPause sets the delay between consecutive backfill batches.
func WithPause(d time.Duration) Option {
	return func(r *Registry) { r.pause = d }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry owns all backfill jobs, at most one live job per key. Jobs run on
// a registry-internal context so an HTTP request finishing never cancels the
// collection it started.
type Registry struct {
	cache *ohlcv.Cache
	batch int
	pause time.Duration
	now   func() time.Time

	rootCtx context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	jobs map[Key]*Job
}

func NewRegistry(cache *ohlcv.Cache, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cache:   cache,
		batch:   500,
		pause:   time.Second,
		now:     time.Now,
		rootCtx: ctx,
		cancel:  cancel,
		jobs:    make(map[Key]*Job),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start begins collecting bars for the key from since onward. If a live job
// for the key already exists the call reports its progress instead of
// spawning a second one. If the cache already covers the whole span no job
// is needed at all.
func (r *Registry) Start(ctx context.Context, source ohlcv.Source, key Key, tf timeframe.TimeFrame, since int64) (StartResult, error) {
	now := r.now().Unix()
	from := tf.TsSince(since)
	to := tf.TsLast(now)

	done, err := r.cache.IsContinuous(ctx, key.MarketID, key.Asset, tf, from, to)
	if err != nil {
		return StartResult{}, err
	}
	if done || to < from {
		return StartResult{Status: StatusAlreadyComplete, Percent: 100}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[key]; ok {
		switch existing.State() {
		case StateCompleted, StateTerminated:
			delete(r.jobs, key)
		default:
			return StartResult{Status: StatusInProgress, Percent: existing.Percent()}, nil
		}
	}

	fetcher := ohlcv.NewFetcher(key.MarketID, key.Asset, source, r.cache, ohlcv.WithNow(r.now))
	job := newJob(key, tf, fetcher, r.cache, since, r.batch, r.pause, r.now)
	r.jobs[key] = job

	go job.Run(r.rootCtx)

	return StartResult{Status: StatusStarted, Percent: job.Percent()}, nil
}

// Get returns the job for key, or nil.
func (r *Registry) Get(key Key) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[key]
}

// Snapshot lists every known job, terminal ones included, ordered by key.
func (r *Registry) Snapshot() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobStatus, 0, len(r.jobs))
	for key, job := range r.jobs {
		out = append(out, JobStatus{Key: key, State: job.State(), Percent: job.Percent()})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		return a.Interval < b.Interval
	})
	return out
}

// Shutdown cancels all running jobs and waits for them to stop, bounded by
// ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()

	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	for _, j := range jobs {
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
