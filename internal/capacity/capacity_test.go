package capacity

import (
	"testing"
	"time"
)

func TestSchedule_Active(t *testing.T) {
	s := Schedule{Primary: 50, Secondary: 20, FlipPeriod: 10 * time.Second}

	cases := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 50},
		{9*time.Second + 999*time.Millisecond, 50},
		{10 * time.Second, 20}, // boundary switches exactly at the period
		{19 * time.Second, 20},
		{20 * time.Second, 50},
		{30 * time.Second, 20},
		{40 * time.Second, 50},
	}
	for _, c := range cases {
		if got := s.Active(c.elapsed); got != c.want {
			t.Errorf("Active(%v) = %v, want %v", c.elapsed, got, c.want)
		}
	}
}

func TestSchedule_NoDriftAfterManyPeriods(t *testing.T) {
	s := Schedule{Primary: 50, Secondary: 20, FlipPeriod: time.Second}
	for i := 0; i < 100000; i++ {
		elapsed := time.Duration(i) * time.Second
		want := s.Primary
		if i%2 == 1 {
			want = s.Secondary
		}
		if got := s.Active(elapsed); got != want {
			t.Fatalf("Active(%v) = %v, want %v", elapsed, got, want)
		}
	}
}

func TestSchedule_FlippingDisabled(t *testing.T) {
	s := Schedule{Primary: 50, Secondary: 20}
	for _, elapsed := range []time.Duration{0, time.Minute, time.Hour} {
		if got := s.Active(elapsed); got != 50 {
			t.Errorf("Active(%v) = %v, want primary", elapsed, got)
		}
	}
	// A flip period far exceeding the run duration keeps the primary
	// capacity active for the whole run.
	s.FlipPeriod = 99999 * time.Second
	for elapsed := time.Duration(0); elapsed <= time.Minute; elapsed += time.Second {
		if got := s.Active(elapsed); got != 50 {
			t.Errorf("Active(%v) = %v, want primary", elapsed, got)
		}
	}
}
