package backoff

import (
	"iter"
	"math"
	"slices"
	"testing"
	"time"
)

func collect(seq iter.Seq[time.Duration], limit int) []time.Duration {
	return slices.Collect(Take(seq, limit))
}

func TestExponential(t *testing.T) {
	got := collect(Exponential(100*time.Millisecond, time.Second, 2), 6)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	if !slices.Equal(got, want) {
		t.Errorf("Exponential = %v, want %v", got, want)
	}
}

func TestConstantAndValues(t *testing.T) {
	if got := collect(Constant(time.Second), 3); !slices.Equal(got, []time.Duration{time.Second, time.Second, time.Second}) {
		t.Errorf("Constant = %v", got)
	}
	if got := slices.Collect(Values(1, 2)); !slices.Equal(got, []time.Duration{1, 2}) {
		t.Errorf("Values = %v", got)
	}
	if got := slices.Collect(None()); len(got) != 0 {
		t.Errorf("None = %v", got)
	}
	if got := slices.Collect(Take(Values(1, 2, 3), 0)); len(got) != 0 {
		t.Errorf("Take(0) = %v", got)
	}
}

func TestJitter(t *testing.T) {
	if got := collect(Jitter(Values(1, 2), 0), 5); !slices.Equal(got, []time.Duration{1, 2}) {
		t.Errorf("Jitter(0) = %v, want input unchanged", got)
	}

	for d := range Take(Jitter(Constant(time.Second), 0.25), 50) {
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("Jittered delay %v outside ±25%%", d)
		}
	}

	if got := slices.Collect(Jitter(Values(time.Second, time.Second), 0.5)); len(got) != 2 {
		t.Errorf("Jitter should keep the schedule length, got %v", got)
	}
}

func TestExponential_Uncapped(t *testing.T) {
	tests := []struct {
		name       string
		initial    time.Duration
		multiplier float64
	}{
		{"doubling", time.Second, 2},
		{"odd base", 5, 2},
		{"fractional", time.Millisecond, 1.5},
		{"large", time.Hour, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := time.Duration(0)
			attempt := 0
			for d := range Take(Exponential(tt.initial, 0, tt.multiplier), 200) {
				if d <= 0 || d < prev {
					t.Fatalf("attempt %d: delay %v after %v", attempt, d, prev)
				}
				prev = d
				attempt++
			}
			if prev != math.MaxInt64 {
				t.Errorf("Expected delays to saturate at MaxInt64, got %v", prev)
			}
		})
	}
}

func TestExponential_Multipliers(t *testing.T) {
	tests := []struct {
		name       string
		multiplier float64
		want       []time.Duration
	}{
		{"below one", 0.5, []time.Duration{10, 10, 10}},
		{"one", 1, []time.Duration{10, 10, 10}},
		{"three", 3, []time.Duration{10, 30, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := collect(Exponential(10, 50, tt.multiplier), 3); !slices.Equal(got, tt.want) {
				t.Errorf("Exponential = %v, want %v", got, tt.want)
			}
		})
	}

	if got := collect(Exponential(0, time.Second, 2), 2); !slices.Equal(got, []time.Duration{0, 0}) {
		t.Errorf("Exponential(0) = %v, want zeros", got)
	}
}

func TestScheduleRestartsPerRange(t *testing.T) {
	s := Take(Exponential(time.Millisecond, 0, 2), 3)
	first := slices.Collect(s)
	second := slices.Collect(s)
	if !slices.Equal(first, second) || len(first) != 3 {
		t.Errorf("Ranges differ: %v vs %v", first, second)
	}
}

func TestPullConsumesInOrder(t *testing.T) {
	next, stop := iter.Pull(Values(1, 2, 3))
	defer stop()

	for _, want := range []time.Duration{1, 2, 3} {
		d, ok := next()
		if !ok || d != want {
			t.Fatalf("next() = %v, %v; want %v", d, ok, want)
		}
	}
	if _, ok := next(); ok {
		t.Error("Sequence should be exhausted")
	}
}
