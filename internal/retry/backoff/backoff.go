// Package backoff builds the delay schedules used between retry attempts.
//
// A schedule is a lazy, possibly infinite iter.Seq of delays. The retry
// filter pulls one element per retry and stops retrying when the sequence
// ends, so a finite schedule doubles as a retry limit. Delays come from
// go-retry backoffs; every range over a schedule starts a fresh backoff.
package backoff

import (
	"iter"
	"math"
	"time"

	"github.com/sethvargo/go-retry"
)

// seq yields delays from a new Backoff until it stops.
func seq(newBackoff func() retry.Backoff) iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		b := newBackoff()
		for {
			d, stop := b.Next()
			if stop || !yield(d) {
				return
			}
		}
	}
}

// wrap applies a go-retry middleware to an existing schedule.
func wrap(s iter.Seq[time.Duration], mw func(retry.Backoff) retry.Backoff) iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		next, stop := iter.Pull(s)
		defer stop()

		b := mw(retry.BackoffFunc(func() (time.Duration, bool) {
			d, ok := next()
			return d, !ok
		}))
		for {
			d, done := b.Next()
			if done || !yield(d) {
				return
			}
		}
	}
}

func zero() retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
}

// Constant yields d forever.
func Constant(d time.Duration) iter.Seq[time.Duration] {
	if d <= 0 {
		return seq(zero)
	}
	return seq(func() retry.Backoff { return retry.NewConstant(d) })
}

// Values yields the given delays once each.
func Values(ds ...time.Duration) iter.Seq[time.Duration] {
	return seq(func() retry.Backoff {
		i := 0
		return retry.BackoffFunc(func() (time.Duration, bool) {
			if i >= len(ds) {
				return 0, true
			}
			i++
			return ds[i-1], false
		})
	})
}

// None yields nothing: no retries.
func None() iter.Seq[time.Duration] {
	return seq(func() retry.Backoff {
		return retry.BackoffFunc(func() (time.Duration, bool) { return 0, true })
	})
}

// Exponential yields initial, initial*multiplier, ... capped at max. A zero
// max leaves the schedule uncapped; delays saturate at math.MaxInt64.
func Exponential(initial, max time.Duration, multiplier float64) iter.Seq[time.Duration] {
	if initial <= 0 {
		return Constant(0)
	}
	if multiplier < 1 {
		multiplier = 1
	}
	return seq(func() retry.Backoff {
		var b retry.Backoff
		switch multiplier {
		case 1:
			b = retry.NewConstant(initial)
		case 2:
			b = retry.NewExponential(initial)
		default:
			b = scaled(initial, multiplier)
		}
		if max > 0 {
			b = retry.WithCappedDuration(max, b)
		}
		return b
	})
}

// scaled grows by an arbitrary multiplier. go-retry only doubles.
func scaled(initial time.Duration, multiplier float64) retry.Backoff {
	next := float64(initial)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if next >= math.MaxInt64 {
			return math.MaxInt64, false
		}
		d := time.Duration(next)
		next *= multiplier
		return d, false
	})
}

// Jitter randomizes every delay of s by up to ±fraction.
func Jitter(s iter.Seq[time.Duration], fraction float64) iter.Seq[time.Duration] {
	pct := uint64(math.Round(min(fraction, 1) * 100))
	if fraction <= 0 || pct == 0 {
		return s
	}
	return wrap(s, func(b retry.Backoff) retry.Backoff {
		return retry.WithJitterPercent(pct, b)
	})
}

// Take limits s to its first n delays.
func Take(s iter.Seq[time.Duration], n int) iter.Seq[time.Duration] {
	if n <= 0 {
		return None()
	}
	return wrap(s, func(b retry.Backoff) retry.Backoff {
		return retry.WithMaxRetries(uint64(n), b)
	})
}
