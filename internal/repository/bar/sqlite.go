// Package bar persists cached OHLCV series in sqlite.
package bar

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ohlcv-server/internal/ohlcv"
	"ohlcv-server/internal/timeframe"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Load returns every stored bar for the series, ascending by timestamp.
func (r *Repository) Load(ctx context.Context, marketID, asset string, tf timeframe.TimeFrame) ([]ohlcv.Bar, error) {
	const query = `SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE market_id = ? AND symbol = ? AND interval = ?
		ORDER BY ts ASC`

	rows, err := r.db.QueryContext(ctx, query, marketID, asset, tf.String())
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bars []ohlcv.Bar
	for rows.Next() {
		var b ohlcv.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, b)
	}

	return bars, rows.Err()
}

// Store upserts the series. Existing rows win on conflict, matching the
// in-memory merge rule, so re-storing overlapping data never rewrites bars.
func (r *Repository) Store(ctx context.Context, marketID, asset string, tf timeframe.TimeFrame, bars []ohlcv.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	const batchSize = 500
	interval := tf.String()

	for i := 0; i < len(bars); i += batchSize {
		end := i + batchSize
		if end > len(bars) {
			end = len(bars)
		}
		batch := bars[i:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*9)
		for j, b := range batch {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, marketID, asset, interval, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume)
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			"INSERT OR IGNORE INTO bars (market_id, symbol, interval, ts, open, high, low, close, volume) VALUES %s",
			strings.Join(placeholders, ", "),
		)

		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store bars: %w", err)
		}
	}

	return nil
}
