// Package binance implements the Market interface for Binance spot pairs
// using the official REST API via the go-binance SDK. Asset names use the
// canonical lower-case "base_quote" form (e.g. "btc_usdt").
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/sync/errgroup"

	"ohlcv-server/internal/apperror"
	"ohlcv-server/internal/ohlcv"
	"ohlcv-server/internal/timeframe"
)

const (
	MarketID = "binance"

	// Binance caps a single klines request at 1000 rows.
	maxKlinesPerRequest = 1000
)

// Intervals accepted by the klines endpoint. Anything else is rejected
// before any network call.
var supportedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

type Market struct {
	client  *binance.Client
	workers int

	mu      sync.RWMutex
	ready   bool
	symbols map[string]string // canonical name -> exchange symbol
}

// Option configures a Market.
type Option func(*Market)

// WithWorkers sets the concurrency for parallel chunked kline fetches.
func WithWorkers(n int) Option {
	return func(m *Market) { m.workers = n }
}

// WithClient overrides the SDK client, e.g. to point at a test server.
func WithClient(c *binance.Client) Option {
	return func(m *Market) { m.client = c }
}

func New(apiKey, apiSecret string, opts ...Option) *Market {
	m := &Market{
		client:  binance.NewClient(apiKey, apiSecret),
		workers: 4,
		symbols: make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Market) ID() string   { return MarketID }
func (m *Market) Name() string { return "Binance" }
func (m *Market) Type() string { return "crypto" }

// Init loads the tradable USDT spot pairs from exchange info. Idempotent.
func (m *Market) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}

	info, err := m.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("binance exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != "USDT" {
			continue
		}
		canonical := strings.ToLower(s.BaseAsset + "_" + s.QuoteAsset)
		m.symbols[canonical] = s.Symbol
	}

	m.ready = true
	slog.Info("binance market ready", "pairs", len(m.symbols))
	return nil
}

func (m *Market) Assets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.symbols))
	for name := range m.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Market) HasAsset(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.symbols[strings.ToLower(name)]
	return ok
}

func (m *Market) exchangeSymbol(asset string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sym, ok := m.symbols[strings.ToLower(asset)]; ok {
		return sym
	}
	return strings.ToUpper(strings.ReplaceAll(asset, "_", ""))
}

// NowMillis returns the exchange server clock.
func (m *Market) NowMillis(ctx context.Context) (int64, error) {
	ts, err := m.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance server time: %w", err)
	}
	return ts, nil
}

// FetchOHLCV pulls up to limit bars starting at since (epoch seconds,
// boundary-aligned). Windows larger than one request are split on period
// boundaries and fetched in parallel.
func (m *Market) FetchOHLCV(ctx context.Context, asset string, tf timeframe.TimeFrame, since int64, limit int) ([]ohlcv.Bar, error) {
	interval := tf.String()
	if !supportedIntervals[interval] {
		return nil, apperror.New(apperror.InvalidInterval,
			fmt.Sprintf("interval %s is not supported by binance", interval))
	}
	if limit <= 0 {
		return nil, nil
	}
	symbol := m.exchangeSymbol(asset)

	if limit <= maxKlinesPerRequest {
		return m.fetchChunk(ctx, symbol, interval, since, limit)
	}

	type chunk struct {
		since int64
		limit int
	}
	var chunks []chunk
	for offset := 0; offset < limit; offset += maxKlinesPerRequest {
		n := min(maxKlinesPerRequest, limit-offset)
		chunks = append(chunks, chunk{since: tf.Add(since, offset), limit: n})
	}

	results := make([][]ohlcv.Bar, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for i, c := range chunks {
		g.Go(func() error {
			bars, err := m.fetchChunk(ctx, symbol, interval, c.since, c.limit)
			if err != nil {
				return err
			}
			results[i] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []ohlcv.Bar
	for _, bars := range results {
		all = append(all, bars...)
	}
	return all, nil
}

func (m *Market) fetchChunk(ctx context.Context, symbol, interval string, since int64, limit int) ([]ohlcv.Bar, error) {
	klines, err := m.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(since * 1000).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
	}

	bars := make([]ohlcv.Bar, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		bars = append(bars, ohlcv.Bar{
			Timestamp: k.OpenTime / 1000,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}

	slog.Info("retrieved binance klines", "symbol", symbol, "interval", interval,
		"since", since, "count", len(bars))
	return bars, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
