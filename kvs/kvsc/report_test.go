package main

import (
	"testing"
	"time"
)

func TestDurationStats(t *testing.T) {
	var statTests = []struct {
		in   []time.Duration
		mean time.Duration
		ssd  time.Duration
	}{
		{nil, 0, 0},
		{[]time.Duration{5}, 5, 0},
		{[]time.Duration{2, 4, 4, 4, 5, 5, 7, 9}, 5, 2138},
	}
	for i, st := range statTests {
		scaled := make([]time.Duration, len(st.in))
		for j, d := range st.in {
			scaled[j] = d * time.Millisecond
		}
		if got := meanDuration(scaled...); got != st.mean*time.Millisecond {
			t.Errorf("%d. mean = %v, want %v", i, got, st.mean*time.Millisecond)
		}
		got := ssdDuration(scaled...)
		want := st.ssd * time.Microsecond
		if diff := got - want; diff < -time.Microsecond || diff > time.Microsecond {
			t.Errorf("%d. ssd = %v, want %v", i, got, want)
		}
	}
}
