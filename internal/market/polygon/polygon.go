// Package polygon implements the Market interface for US equities using the
// Polygon.io aggregates API.
package polygon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	polygonrest "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"ohlcv-server/internal/apperror"
	"ohlcv-server/internal/ohlcv"
	"ohlcv-server/internal/timeframe"
)

const MarketID = "polygon"

// Polygon caps a single aggregates page at 50000 results.
const maxAggsLimit = 50000

var timespans = map[timeframe.Unit]models.Timespan{
	timeframe.Minute: models.Minute,
	timeframe.Hour:   models.Hour,
	timeframe.Day:    models.Day,
	timeframe.Week:   models.Week,
	timeframe.Month:  models.Month,
}

type Market struct {
	client *polygonrest.Client

	mu      sync.RWMutex
	tickers map[string]string // canonical lower-case name -> ticker
}

// Option configures a Market.
type Option func(*Market)

// WithClient overrides the SDK client, e.g. to point at a test server.
func WithClient(c *polygonrest.Client) Option {
	return func(m *Market) { m.client = c }
}

// New creates the adapter for the given tickers. Polygon has no cheap "list
// everything" call on free plans, so the tradable universe is configured.
func New(apiKey string, tickers []string, opts ...Option) *Market {
	m := &Market{
		client:  polygonrest.New(apiKey),
		tickers: make(map[string]string, len(tickers)),
	}
	for _, t := range tickers {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		m.tickers[strings.ToLower(t)] = strings.ToUpper(t)
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Market) ID() string   { return MarketID }
func (m *Market) Name() string { return "Polygon US Stocks" }
func (m *Market) Type() string { return "stock" }

func (m *Market) Init(_ context.Context) error {
	slog.Info("polygon market ready", "tickers", len(m.tickers))
	return nil
}

func (m *Market) Assets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tickers))
	for name := range m.tickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Market) HasAsset(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tickers[strings.ToLower(name)]
	return ok
}

// NowMillis uses the local clock; the REST API exposes no time endpoint.
func (m *Market) NowMillis(_ context.Context) (int64, error) {
	return time.Now().UnixMilli(), nil
}

// FetchOHLCV pulls up to limit bars starting at since via the aggregates
// iterator. Bar timestamps are re-aligned to the interval grid because
// Polygon stamps daily and coarser bars in exchange-local time.
func (m *Market) FetchOHLCV(ctx context.Context, asset string, tf timeframe.TimeFrame, since int64, limit int) ([]ohlcv.Bar, error) {
	timespan, ok := timespans[tf.Unit]
	if !ok {
		return nil, apperror.New(apperror.InvalidInterval,
			fmt.Sprintf("interval %s is not supported by polygon", tf))
	}
	if limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	ticker, ok := m.tickers[strings.ToLower(asset)]
	m.mu.RUnlock()
	if !ok {
		ticker = strings.ToUpper(asset)
	}

	end := tf.Add(since, limit-1)
	params := models.ListAggsParams{
		Ticker:     ticker,
		Multiplier: tf.Count,
		Timespan:   timespan,
		From:       models.Millis(time.Unix(since, 0).UTC()),
		To:         models.Millis(time.Unix(tf.Next(end), 0).UTC()),
	}.WithOrder(models.Asc).WithLimit(maxAggsLimit).WithAdjusted(true)

	iter := m.client.ListAggs(ctx, params)

	var bars []ohlcv.Bar
	for iter.Next() {
		agg := iter.Item()
		ts := tf.TsLast(time.Time(agg.Timestamp).Unix())
		bars = append(bars, ohlcv.Bar{
			Timestamp: ts,
			Open:      agg.Open,
			High:      agg.High,
			Low:       agg.Low,
			Close:     agg.Close,
			Volume:    agg.Volume,
		})
		if len(bars) == limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("polygon aggs %s: %w", ticker, err)
	}

	slog.Info("retrieved polygon aggs", "ticker", ticker, "interval", tf.String(),
		"since", since, "count", len(bars))
	return bars, nil
}
