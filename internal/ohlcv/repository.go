package ohlcv

import (
	"context"

	"ohlcv-server/internal/timeframe"
)

// Storage persists one bar series per (market, asset, interval). Load on an
// unknown series returns an empty slice, not an error. Store must be safe to
// call with a series that overlaps already-persisted bars; committed rows are
// never corrupted by re-storing.
type Storage interface {
	Load(ctx context.Context, marketID, asset string, tf timeframe.TimeFrame) ([]Bar, error)
	Store(ctx context.Context, marketID, asset string, tf timeframe.TimeFrame, bars []Bar) error
}

// Source supplies raw bars from a market data provider. Implementations
// return at most limit bars covering periods starting at since (epoch
// seconds, boundary-aligned); fewer when provider history is exhausted.
type Source interface {
	FetchOHLCV(ctx context.Context, asset string, tf timeframe.TimeFrame, since int64, limit int) ([]Bar, error)
}
