package timeframe

import (
	"errors"
	"testing"
	"time"

	"ohlcv-server/internal/apperror"
)

func mustParse(t *testing.T, token string) TimeFrame {
	t.Helper()
	tf, err := Parse(token)
	if err != nil {
		t.Fatalf("Parse(%q): %v", token, err)
	}
	return tf
}

func utc(year int, month time.Month, day, hour, minute int) int64 {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC).Unix()
}

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		unit  Unit
		count int
	}{
		{"1m", Minute, 1},
		{"15m", Minute, 15},
		{"4h", Hour, 4},
		{"1d", Day, 1},
		{"1w", Week, 1},
		{"1M", Month, 1},
		{"3M", Month, 3},
	}

	for _, tt := range tests {
		tf, err := Parse(tt.token)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.token, err)
		}
		if tf.Unit != tt.unit || tf.Count != tt.count {
			t.Errorf("Parse(%q) = %+v, want unit %c count %d", tt.token, tf, tt.unit, tt.count)
		}
		if tf.String() != tt.token {
			t.Errorf("String() = %q, want %q", tf.String(), tt.token)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, token := range []string{"", "m", "1x", "0h", "-1d", "h1", "1s"} {
		_, err := Parse(token)
		if err == nil {
			t.Errorf("Parse(%q): expected error", token)
			continue
		}
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) || appErr.Code() != apperror.InvalidInterval {
			t.Errorf("Parse(%q): expected INVALID_INTERVAL, got %v", token, err)
		}
	}
}

func TestTsLastHourly(t *testing.T) {
	// 2024-01-01T10:37:00Z aligns down to 10:00:00Z on a 1h frame.
	tf := mustParse(t, "1h")
	ref := utc(2024, time.January, 1, 10, 37)
	if got := tf.TsLast(ref); got != utc(2024, time.January, 1, 10, 0) {
		t.Errorf("TsLast = %d, want %d", got, utc(2024, time.January, 1, 10, 0))
	}
}

func TestTsLastFixedUnits(t *testing.T) {
	ref := utc(2024, time.March, 7, 13, 47) + 23 // 13:47:23

	tests := []struct {
		token string
		want  int64
	}{
		{"1m", utc(2024, time.March, 7, 13, 47)},
		{"15m", utc(2024, time.March, 7, 13, 45)},
		{"4h", utc(2024, time.March, 7, 12, 0)},
		{"1d", utc(2024, time.March, 7, 0, 0)},
	}

	for _, tt := range tests {
		tf := mustParse(t, tt.token)
		got := tf.TsLast(ref)
		if got != tt.want {
			t.Errorf("%s: TsLast(%d) = %d, want %d", tt.token, ref, got, tt.want)
		}
		if got > ref {
			t.Errorf("%s: TsLast must not exceed ref", tt.token)
		}
		if ref-got >= tf.PeriodSeconds() {
			t.Errorf("%s: ref-TsLast = %d, want < period %d", tt.token, ref-got, tf.PeriodSeconds())
		}
	}
}

func TestTsLastWeek(t *testing.T) {
	tf := mustParse(t, "1w")
	// 2024-03-07 is a Thursday; the anchor Monday is 2024-03-04.
	ref := utc(2024, time.March, 7, 13, 47)
	if got := tf.TsLast(ref); got != utc(2024, time.March, 4, 0, 0) {
		t.Errorf("TsLast = %d, want Monday 2024-03-04", got)
	}
	// A Monday midnight is its own boundary.
	monday := utc(2024, time.March, 4, 0, 0)
	if got := tf.TsLast(monday); got != monday {
		t.Errorf("TsLast(monday) = %d, want %d", got, monday)
	}
}

func TestTsLastMonth(t *testing.T) {
	tf := mustParse(t, "1M")
	ref := utc(2024, time.February, 29, 18, 30)
	if got := tf.TsLast(ref); got != utc(2024, time.February, 1, 0, 0) {
		t.Errorf("TsLast = %d, want 2024-02-01", got)
	}
}

func TestTsLastLimitFixed(t *testing.T) {
	ref := utc(2024, time.June, 1, 9, 3)
	for _, token := range []string{"1m", "15m", "1h", "4h", "1d", "1w"} {
		tf := mustParse(t, token)
		for _, n := range []int{1, 2, 10, 100} {
			want := tf.TsLast(ref) - int64(n-1)*tf.PeriodSeconds()
			if got := tf.TsLastLimit(n, ref); got != want {
				t.Errorf("%s: TsLastLimit(%d) = %d, want %d", token, n, got, want)
			}
		}
	}
}

func TestTsLastLimitMonthYearRollover(t *testing.T) {
	tf := mustParse(t, "1M")
	ref := utc(2024, time.February, 15, 0, 0)
	// 5 months back from 2024-02-01 lands in 2023-10-01.
	if got := tf.TsLastLimit(5, ref); got != utc(2023, time.October, 1, 0, 0) {
		t.Errorf("TsLastLimit = %d, want 2023-10-01", got)
	}
}

func TestTsSince(t *testing.T) {
	tf := mustParse(t, "1h")

	unaligned := utc(2024, time.January, 1, 10, 37)
	if got := tf.TsSince(unaligned); got != utc(2024, time.January, 1, 11, 0) {
		t.Errorf("TsSince(unaligned) = %d, want 11:00", got)
	}

	aligned := utc(2024, time.January, 1, 10, 0)
	if got := tf.TsSince(aligned); got != aligned {
		t.Errorf("TsSince(aligned) = %d, want itself %d", got, aligned)
	}
}

func TestTsSinceMonth(t *testing.T) {
	tf := mustParse(t, "1M")

	mid := utc(2023, time.December, 14, 6, 0)
	if got := tf.TsSince(mid); got != utc(2024, time.January, 1, 0, 0) {
		t.Errorf("TsSince(mid-december) = %d, want 2024-01-01", got)
	}

	first := utc(2023, time.December, 1, 0, 0)
	if got := tf.TsSince(first); got != first {
		t.Errorf("TsSince(first-of-month) = %d, want itself", got)
	}
}

func TestTsSinceLimitClampsToNow(t *testing.T) {
	tf := mustParse(t, "1d")
	now := utc(2024, time.May, 10, 15, 0)
	since := utc(2024, time.May, 8, 0, 0)

	// 10 daily bars from May 8 would end May 17, beyond now; clamp to the
	// last complete boundary, May 10.
	if got := tf.TsSinceLimit(since, 10, now); got != utc(2024, time.May, 10, 0, 0) {
		t.Errorf("TsSinceLimit = %d, want 2024-05-10", got)
	}

	// A window that fits entirely in the past is untouched.
	past := utc(2024, time.January, 1, 0, 0)
	if got := tf.TsSinceLimit(past, 10, now); got != utc(2024, time.January, 10, 0, 0) {
		t.Errorf("TsSinceLimit(past) = %d, want 2024-01-10", got)
	}
}

func TestPeriodCount(t *testing.T) {
	tf := mustParse(t, "1d")
	now := utc(2024, time.May, 10, 15, 0)

	tests := []struct {
		since int64
		maxN  int
		want  int
	}{
		{utc(2024, time.January, 1, 0, 0), 10, 10},
		{utc(2024, time.May, 8, 0, 0), 10, 3}, // clipped: May 8, 9, 10
		{utc(2024, time.May, 10, 0, 0), 5, 1},
	}

	for _, tt := range tests {
		got := tf.PeriodCount(tt.since, tt.maxN, now)
		if got != tt.want {
			t.Errorf("PeriodCount(%d, %d) = %d, want %d", tt.since, tt.maxN, got, tt.want)
		}
		if got > tt.maxN {
			t.Errorf("PeriodCount exceeded maxN")
		}
	}
}

func TestPeriodCountMonth(t *testing.T) {
	tf := mustParse(t, "1M")
	now := utc(2024, time.June, 20, 0, 0)

	// From mid-December 2023 the first boundary is 2024-01-01; six complete
	// months are available through 2024-06-01.
	since := utc(2023, time.December, 15, 0, 0)
	if got := tf.PeriodCount(since, 12, now); got != 6 {
		t.Errorf("PeriodCount = %d, want 6", got)
	}
	if got := tf.PeriodCount(since, 3, now); got != 3 {
		t.Errorf("PeriodCount capped = %d, want 3", got)
	}
}

func TestPeriodsMonth(t *testing.T) {
	tf := mustParse(t, "1M")
	from := utc(2023, time.November, 1, 0, 0)
	to := utc(2024, time.February, 1, 0, 0)
	if got := tf.Periods(from, to); got != 4 {
		t.Errorf("Periods = %d, want 4", got)
	}
	if got := tf.Periods(to, from); got != 0 {
		t.Errorf("Periods(reversed) = %d, want 0", got)
	}
}

func TestAddAndNext(t *testing.T) {
	hourly := mustParse(t, "4h")
	base := utc(2024, time.March, 1, 8, 0)
	if got := hourly.Next(base); got != utc(2024, time.March, 1, 12, 0) {
		t.Errorf("Next = %d, want 12:00", got)
	}
	if got := hourly.Add(base, -2); got != utc(2024, time.March, 1, 0, 0) {
		t.Errorf("Add(-2) = %d, want 00:00", got)
	}

	monthly := mustParse(t, "1M")
	dec := utc(2023, time.December, 1, 0, 0)
	if got := monthly.Next(dec); got != utc(2024, time.January, 1, 0, 0) {
		t.Errorf("Next(december) = %d, want 2024-01-01", got)
	}

	quarterly := mustParse(t, "3M")
	if got := quarterly.Next(dec); got != utc(2024, time.March, 1, 0, 0) {
		t.Errorf("Next(quarterly) = %d, want 2024-03-01", got)
	}
}
