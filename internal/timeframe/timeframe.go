// Package timeframe provides bar-interval arithmetic: parsing interval
// tokens like "15m" or "1M", aligning wall-clock timestamps to interval
// boundaries, and counting periods between boundaries. All functions are
// pure; timestamps are epoch seconds and boundaries are computed in UTC.
package timeframe

import (
	"fmt"
	"strconv"
	"time"

	"ohlcv-server/internal/apperror"
)

type Unit byte

const (
	Minute Unit = 'm'
	Hour   Unit = 'h'
	Day    Unit = 'd'
	Week   Unit = 'w'
	Month  Unit = 'M'
)

var unitSeconds = map[Unit]int64{
	Minute: 60,
	Hour:   60 * 60,
	Day:    60 * 60 * 24,
	Week:   60 * 60 * 24 * 7,
}

// TimeFrame is one bar interval: a unit and a positive multiplier.
// Minute, hour and day intervals have a constant period length. Weeks are
// anchored to Monday 00:00 UTC. Months are calendar-variable and must never
// be treated as a fixed number of seconds.
type TimeFrame struct {
	Unit  Unit
	Count int
}

// Parse converts a token such as "5m", "4h", "1d", "1w" or "1M" into a
// TimeFrame. The unit is the final byte; everything before it is the count.
func Parse(token string) (TimeFrame, error) {
	if len(token) < 2 {
		return TimeFrame{}, apperror.New(apperror.InvalidInterval,
			fmt.Sprintf("malformed interval %q", token))
	}

	unit := Unit(token[len(token)-1])
	if _, ok := unitSeconds[unit]; !ok && unit != Month {
		return TimeFrame{}, apperror.New(apperror.InvalidInterval,
			fmt.Sprintf("unsupported interval unit in %q", token))
	}

	count, err := strconv.Atoi(token[:len(token)-1])
	if err != nil || count <= 0 {
		return TimeFrame{}, apperror.New(apperror.InvalidInterval,
			fmt.Sprintf("invalid interval count in %q", token))
	}

	return TimeFrame{Unit: unit, Count: count}, nil
}

func (tf TimeFrame) String() string {
	return fmt.Sprintf("%d%c", tf.Count, tf.Unit)
}

// PeriodSeconds returns the constant length of one period in seconds, or 0
// for month intervals, which have no constant length.
func (tf TimeFrame) PeriodSeconds() int64 {
	if tf.Unit == Month {
		return 0
	}
	return unitSeconds[tf.Unit] * int64(tf.Count)
}

// TsLast returns the latest interval boundary at or before ref.
func (tf TimeFrame) TsLast(ref int64) int64 {
	switch tf.Unit {
	case Minute, Hour, Day:
		period := tf.PeriodSeconds()
		return ref / period * period
	case Week:
		t := time.Unix(ref, 0).UTC()
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		monday := midnight.AddDate(0, 0, -((int(midnight.Weekday()) + 6) % 7))
		return monday.Unix()
	case Month:
		t := time.Unix(ref, 0).UTC()
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Unix()
	}
	return 0
}

// TsLastLimit returns the boundary n-1 periods before TsLast(ref), i.e. the
// start of a window of n periods ending at the last boundary.
func (tf TimeFrame) TsLastLimit(n int, ref int64) int64 {
	return tf.Add(tf.TsLast(ref), -(n - 1))
}

// TsSince returns the first interval boundary at or after t. A timestamp
// already on a boundary maps to itself.
func (tf TimeFrame) TsSince(t int64) int64 {
	last := tf.TsLast(t)
	if last == t {
		return t
	}
	return tf.Next(last)
}

// TsSinceLimit returns the boundary n-1 periods after TsSince(t), clamped to
// TsLast(now) so the window never extends into the future.
func (tf TimeFrame) TsSinceLimit(t int64, n int, now int64) int64 {
	end := tf.Add(tf.TsSince(t), n-1)
	if last := tf.TsLast(now); end > last {
		end = last
	}
	return end
}

// PeriodCount returns the actual number of periods between TsSince(t) and
// TsSinceLimit(t, maxN, now) inclusive, capped at maxN. Month windows cannot
// be sized by division, so the count is derived from calendar distance.
func (tf TimeFrame) PeriodCount(t int64, maxN int, now int64) int {
	start := tf.TsSince(t)
	end := tf.TsSinceLimit(t, maxN, now)
	n := tf.Periods(start, end)
	if n > maxN {
		n = maxN
	}
	return n
}

// Periods returns the number of bar periods in the closed range [from, to],
// both interval boundaries. A range with to < from holds zero periods.
func (tf TimeFrame) Periods(from, to int64) int {
	if to < from {
		return 0
	}
	if tf.Unit == Month {
		f := time.Unix(from, 0).UTC()
		t := time.Unix(to, 0).UTC()
		months := (t.Year()-f.Year())*12 + int(t.Month()) - int(f.Month())
		return months/tf.Count + 1
	}
	return int((to-from)/tf.PeriodSeconds()) + 1
}

// Next returns the boundary one period after ts. ts must be a boundary.
func (tf TimeFrame) Next(ts int64) int64 {
	return tf.Add(ts, 1)
}

// Add returns the boundary n periods after ts (n may be negative). Month
// stepping uses calendar arithmetic so year rollover and 28-31 day months
// are handled.
func (tf TimeFrame) Add(ts int64, n int) int64 {
	if tf.Unit == Month {
		t := time.Unix(ts, 0).UTC()
		return t.AddDate(0, n*tf.Count, 0).Unix()
	}
	return ts + int64(n)*tf.PeriodSeconds()
}
