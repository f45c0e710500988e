// Package window implements multi-timescale sliding-window statistics over
// a stream of timestamped values.
package window

import (
	"errors"
	"time"
)

// ErrBadTimescales is returned when the requested window widths are not
// strictly increasing.
var ErrBadTimescales = errors.New("window widths must be strictly increasing")

// Scale selects one of the three timescales of a Windows.
type Scale int

const (
	Short Scale = iota
	Medium
	Long
)

// Stats holds the outputs of one window at query time. An empty window
// reads as the zero value: the trace schema is fixed-width and a missing
// window must still produce columns.
type Stats struct {
	Avg float64
	Min float64
	Max float64
}

type point struct {
	t time.Duration
	v float64
}

// series is a single time-based sliding window. Eviction is strictly
// time-based so that different sampling rates do not change window
// semantics.
type series struct {
	width time.Duration
	pts   []point
}

func (s *series) observe(t time.Duration, v float64) {
	s.pts = append(s.pts, point{t: t, v: v})
}

// evict drops every point older than now - width. Points are appended in
// non-decreasing time order, so only a prefix can be stale.
func (s *series) evict(now time.Duration) {
	cutoff := now - s.width
	i := 0
	for i < len(s.pts) && s.pts[i].t < cutoff {
		i++
	}
	if i > 0 {
		s.pts = append(s.pts[:0], s.pts[i:]...)
	}
}

func (s *series) stats(now time.Duration) Stats {
	s.evict(now)
	if len(s.pts) == 0 {
		return Stats{}
	}
	out := Stats{Min: s.pts[0].v, Max: s.pts[0].v}
	sum := 0.0
	for _, p := range s.pts {
		sum += p.v
		if p.v < out.Min {
			out.Min = p.v
		}
		if p.v > out.Max {
			out.Max = p.v
		}
	}
	out.Avg = sum / float64(len(s.pts))
	return out
}

// Windows maintains three independent sliding windows (short, medium and
// long) over the same value stream.
type Windows struct {
	w [3]series
}

// New returns a Windows with the given timescales. The widths must be
// strictly increasing.
func New(short, medium, long time.Duration) (*Windows, error) {
	if short <= 0 || short >= medium || medium >= long {
		return nil, ErrBadTimescales
	}
	return &Windows{
		w: [3]series{
			{width: short},
			{width: medium},
			{width: long},
		},
	}, nil
}

// Observe records one value, timestamped with the elapsed time since flow
// start, into all three windows.
func (ws *Windows) Observe(elapsed time.Duration, v float64) {
	for i := range ws.w {
		ws.w[i].observe(elapsed, v)
	}
}

// Read evicts stale points from the selected window and returns its
// avg/min/max over the points whose timestamp falls within
// [now - width, now].
func (ws *Windows) Read(scale Scale, now time.Duration) Stats {
	return ws.w[scale].stats(now)
}

// Bank groups the per-metric-family aggregators of one flow. All six
// families observe the same underlying sample stream.
type Bank struct {
	RTT         *Windows
	Throughput  *Windows
	RTTGradient *Windows
	RTTVar      *Windows
	Inflight    *Windows
	Loss        *Windows
}

// NewBank returns a Bank whose aggregators all use the given timescales.
func NewBank(short, medium, long time.Duration) (*Bank, error) {
	b := &Bank{}
	for _, w := range []**Windows{
		&b.RTT, &b.Throughput, &b.RTTGradient, &b.RTTVar, &b.Inflight, &b.Loss,
	} {
		ws, err := New(short, medium, long)
		if err != nil {
			return nil, err
		}
		*w = ws
	}
	return b, nil
}
