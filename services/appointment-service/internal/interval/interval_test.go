package interval

import (
	"testing"
	"time"
)

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"adjacent after", Of(at(0), 30), Of(at(30), 30), false},
		{"adjacent before", Of(at(30), 30), Of(at(0), 30), false},
		{"partial", Of(at(0), 30), Of(at(15), 30), true},
		{"contained", Of(at(0), 60), Of(at(15), 15), true},
		{"identical", Of(at(0), 30), Of(at(0), 30), true},
		{"disjoint", Of(at(0), 15), Of(at(45), 15), false},
	}
	for _, tc := range cases {
		if got := tc.a.Overlaps(tc.b); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		if got := tc.b.Overlaps(tc.a); got != tc.want {
			t.Fatalf("%s (swapped): expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestNewRejectsNonPositive(t *testing.T) {
	now := time.Now()
	for _, m := range []int{0, -5} {
		if _, err := New(now, m); err != ErrNonPositiveDuration {
			t.Fatalf("minutes %d: expected ErrNonPositiveDuration, got %v", m, err)
		}
	}
	iv, err := New(now, 1)
	if err != nil || iv.Duration() != time.Minute {
		t.Fatalf("expected 1 minute interval, got %v (%v)", iv.Duration(), err)
	}
}

func TestBookableMinutes(t *testing.T) {
	for m, want := range map[int]bool{14: false, 15: true, 30: true, 480: true, 481: false} {
		if BookableMinutes(m) != want {
			t.Fatalf("minutes %d: expected %v", m, want)
		}
	}
}
