package ohlcv

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ohlcv-server/internal/apperror"
	"ohlcv-server/internal/timeframe"
)

// --- mock storage ---

type mockStorage struct {
	data       map[string][]Bar
	loadCalls  int
	storeCalls int
	storeErr   error
}

func newMockStorage() *mockStorage {
	return &mockStorage{data: make(map[string][]Bar)}
}

func (m *mockStorage) key(marketID, asset string, tf timeframe.TimeFrame) string {
	return marketID + "|" + asset + "|" + tf.String()
}

func (m *mockStorage) Load(_ context.Context, marketID, asset string, tf timeframe.TimeFrame) ([]Bar, error) {
	m.loadCalls++
	return append([]Bar(nil), m.data[m.key(marketID, asset, tf)]...), nil
}

func (m *mockStorage) Store(_ context.Context, marketID, asset string, tf timeframe.TimeFrame, bars []Bar) error {
	m.storeCalls++
	if m.storeErr != nil {
		return m.storeErr
	}
	m.data[m.key(marketID, asset, tf)] = append([]Bar(nil), bars...)
	return nil
}

func hourly(t *testing.T) timeframe.TimeFrame {
	t.Helper()
	tf, err := timeframe.Parse("1h")
	if err != nil {
		t.Fatalf("parse 1h: %v", err)
	}
	return tf
}

// makeBars builds a contiguous run of count hourly bars starting at from.
func makeBars(from int64, count int) []Bar {
	bars := make([]Bar, count)
	for i := range bars {
		ts := from + int64(i)*3600
		bars[i] = Bar{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}
	}
	return bars
}

const t0 int64 = 1704103200 // 2024-01-01T10:00:00Z

func TestMergeLookupRoundTrip(t *testing.T) {
	tf := hourly(t)
	cache := NewCache(newMockStorage())
	ctx := context.Background()

	bars := makeBars(t0, 5)
	if err := cache.Merge(ctx, "binance", "btc_usdt", tf, bars); err != nil {
		t.Fatalf("merge: %v", err)
	}

	res, err := cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0+4*3600)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.State != LookupFull {
		t.Fatalf("state = %v, want Full", res.State)
	}
	if len(res.Bars) != 5 {
		t.Fatalf("got %d bars, want 5", len(res.Bars))
	}
	for i, b := range res.Bars {
		if b != bars[i] {
			t.Errorf("bar %d = %+v, want %+v", i, b, bars[i])
		}
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	tf := hourly(t)
	storage := newMockStorage()
	cache := NewCache(storage)
	ctx := context.Background()

	bars := makeBars(t0, 3)
	if err := cache.Merge(ctx, "binance", "btc_usdt", tf, bars); err != nil {
		t.Fatalf("merge: %v", err)
	}
	stores := storage.storeCalls

	// Merging identical bars again must not touch storage.
	if err := cache.Merge(ctx, "binance", "btc_usdt", tf, bars); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if storage.storeCalls != stores {
		t.Errorf("storeCalls = %d after re-merge, want %d", storage.storeCalls, stores)
	}

	res, err := cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0+2*3600)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.State != LookupFull || len(res.Bars) != 3 {
		t.Errorf("state = %v with %d bars, want Full with 3", res.State, len(res.Bars))
	}
}

func TestMergeExistingWins(t *testing.T) {
	tf := hourly(t)
	cache := NewCache(newMockStorage())
	ctx := context.Background()

	first := []Bar{{Timestamp: t0, Close: 100}}
	if err := cache.Merge(ctx, "binance", "btc_usdt", tf, first); err != nil {
		t.Fatalf("merge: %v", err)
	}
	refetched := []Bar{{Timestamp: t0, Close: 999}}
	if err := cache.Merge(ctx, "binance", "btc_usdt", tf, refetched); err != nil {
		t.Fatalf("merge overlap: %v", err)
	}

	res, err := cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.Bars[0].Close != 100 {
		t.Errorf("close = %v, want the first-written 100", res.Bars[0].Close)
	}
}

func TestLookupPartial(t *testing.T) {
	tf := hourly(t)
	cache := NewCache(newMockStorage())
	ctx := context.Background()

	if err := cache.Merge(ctx, "binance", "btc_usdt", tf, makeBars(t0, 3)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	res, err := cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0+9*3600)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.State != LookupPartial {
		t.Fatalf("state = %v, want Partial", res.State)
	}
	if len(res.Bars) != 3 {
		t.Errorf("prefix length = %d, want 3", len(res.Bars))
	}
	if res.NextFrom != t0+3*3600 {
		t.Errorf("nextFrom = %d, want %d", res.NextFrom, t0+3*3600)
	}
}

func TestLookupMiss(t *testing.T) {
	tf := hourly(t)
	cache := NewCache(newMockStorage())
	ctx := context.Background()

	// Empty series.
	res, err := cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0+3600)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.State != LookupMiss {
		t.Fatalf("state = %v, want Miss on empty series", res.State)
	}

	// Cached bars begin after the requested from.
	if err := cache.Merge(ctx, "binance", "btc_usdt", tf, makeBars(t0+2*3600, 3)); err != nil {
		t.Fatalf("merge: %v", err)
	}
	res, err = cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0+4*3600)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.State != LookupMiss {
		t.Errorf("state = %v, want Miss when from precedes earliest bar", res.State)
	}
}

func TestLookupGapBoundsPrefix(t *testing.T) {
	tf := hourly(t)
	cache := NewCache(newMockStorage())
	ctx := context.Background()

	// Bars at t0..t0+1h, a hole at t0+2h, more bars beyond. The hole must
	// bound the trusted prefix; the bars past it are never reported as
	// covering the window.
	bars := makeBars(t0, 2)
	bars = append(bars, makeBars(t0+3*3600, 2)...)
	if err := cache.Merge(ctx, "binance", "btc_usdt", tf, bars); err != nil {
		t.Fatalf("merge: %v", err)
	}

	res, err := cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0+4*3600)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.State != LookupPartial {
		t.Fatalf("state = %v, want Partial", res.State)
	}
	if len(res.Bars) != 2 || res.NextFrom != t0+2*3600 {
		t.Errorf("prefix %d bars, nextFrom %d; want 2 bars, nextFrom %d",
			len(res.Bars), res.NextFrom, t0+2*3600)
	}
}

func TestMergePersistErrorKeepsMemory(t *testing.T) {
	tf := hourly(t)
	storage := newMockStorage()
	storage.storeErr = fmt.Errorf("disk full")
	cache := NewCache(storage)
	ctx := context.Background()

	err := cache.Merge(ctx, "binance", "btc_usdt", tf, makeBars(t0, 2))
	if err == nil {
		t.Fatal("expected persist error")
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Code() != apperror.CachePersist {
		t.Fatalf("expected CACHE_PERSIST, got %v", err)
	}

	// In-memory series still serves the merged bars.
	res, err := cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0+3600)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.State != LookupFull {
		t.Errorf("state = %v, want Full from in-memory series", res.State)
	}
}

func TestLoadFromStorage(t *testing.T) {
	tf := hourly(t)
	storage := newMockStorage()
	storage.data[storage.key("binance", "btc_usdt", tf)] = makeBars(t0, 4)
	cache := NewCache(storage)
	ctx := context.Background()

	res, err := cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0+3*3600)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.State != LookupFull || len(res.Bars) != 4 {
		t.Fatalf("state = %v with %d bars, want Full with 4", res.State, len(res.Bars))
	}
	if storage.loadCalls != 1 {
		t.Errorf("loadCalls = %d, want 1 (lazy load once)", storage.loadCalls)
	}

	// Subsequent lookups stay in memory.
	if _, err := cache.Lookup(ctx, "binance", "btc_usdt", tf, t0, t0); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if storage.loadCalls != 1 {
		t.Errorf("loadCalls = %d after second lookup, want 1", storage.loadCalls)
	}
}

func TestIsContinuous(t *testing.T) {
	tf := hourly(t)
	cache := NewCache(newMockStorage())
	ctx := context.Background()

	bars := makeBars(t0, 3)
	bars = append(bars, makeBars(t0+4*3600, 2)...) // hole at t0+3h
	if err := cache.Merge(ctx, "binance", "btc_usdt", tf, bars); err != nil {
		t.Fatalf("merge: %v", err)
	}

	tests := []struct {
		from, to int64
		want     bool
	}{
		{t0, t0 + 2*3600, true},
		{t0, t0 + 4*3600, false}, // spans the hole
		{t0 + 4*3600, t0 + 5*3600, true},
		{t0 - 3600, t0, false}, // starts before earliest
		{t0, t0, true},
	}
	for _, tt := range tests {
		got, err := cache.IsContinuous(ctx, "binance", "btc_usdt", tf, tt.from, tt.to)
		if err != nil {
			t.Fatalf("isContinuous(%d, %d): %v", tt.from, tt.to, err)
		}
		if got != tt.want {
			t.Errorf("isContinuous(%d, %d) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
