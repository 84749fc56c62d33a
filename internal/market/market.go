// Package market defines the capability interface implemented by one adapter
// per market venue, and a registry for looking adapters up by id. Venues are
// selected by configuration at startup, never by global singletons.
package market

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ohlcv-server/internal/apperror"
	"ohlcv-server/internal/ohlcv"
)

// Market is one data venue (an exchange or vendor API). FetchOHLCV returns
// bars covering at most limit periods starting at since (epoch seconds,
// boundary-aligned); it may return fewer when provider history is exhausted.
// NowMillis exposes the provider's clock for skew detection.
type Market interface {
	ohlcv.Source

	ID() string
	Name() string
	Type() string
	Init(ctx context.Context) error
	Assets() []string
	HasAsset(name string) bool
	NowMillis(ctx context.Context) (int64, error)
}

type Registry struct {
	mu      sync.RWMutex
	markets map[string]Market
}

func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]Market),
	}
}

func (r *Registry) Register(m Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[m.ID()] = m
}

func (r *Registry) Get(id string) (Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, fmt.Sprintf("unknown market: %s", id))
	}
	return m, nil
}

func (r *Registry) List() []Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
