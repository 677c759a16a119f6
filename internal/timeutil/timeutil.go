// Package timeutil provides the minute-boundary arithmetic every
// time-sensitive decision in the screener routes through. All values are
// unix seconds; candle timestamps are aligned to minute starts.
package timeutil

import "time"

// Now returns the current wall-clock time as unix seconds.
func Now() int64 {
	return time.Now().Unix()
}

// MinuteOf rounds a timestamp down to its minute start.
func MinuteOf(ts int64) int64 {
	return ts - ts%60
}

// CurrentMinute returns the start of the currently open minute.
func CurrentMinute() int64 {
	return MinuteOf(Now())
}

// LastClosedMinute returns the start of the most recent whole minute whose
// interval is entirely in the past.
func LastClosedMinute() int64 {
	return CurrentMinute() - 60
}

// IntervalOf rounds a timestamp down to the start of its N-minute bucket.
// Used by the chart API to aggregate minute candles into larger timeframes.
func IntervalOf(ts int64, minutes int) int64 {
	step := int64(minutes) * 60
	return ts - ts%step
}

// NextFire returns the wall-clock time of the next scheduler tick: the
// nearest future minute boundary plus checkDelay. Always recomputed from
// now to avoid sleep-accumulation drift.
func NextFire(now time.Time, checkDelay time.Duration) time.Time {
	next := now.Truncate(time.Minute).Add(checkDelay)
	if !next.After(now) {
		next = next.Add(time.Minute)
	}
	return next
}

// HHMM formats a unix-seconds timestamp as "15:04" UTC.
func HHMM(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("15:04")
}
