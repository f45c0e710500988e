// Package tracelog writes the per-tick measurement trace: one
// whitespace-separated line of fixed-order numeric fields per sampling
// interval. The column count and order are a compatibility contract with
// downstream analysis tools.
package tracelog

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/Aruuni/tcpdatagen/internal/signals"
	"github.com/Aruuni/tcpdatagen/internal/window"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/spec"
)

// Row is one trace row. Values flatten in schema order:
//
//	0     time_on_trace_sec
//	1     active capacity (max_tmp)
//	2-7   base TCP prelude: rtt x100ms, rttvar ms, rto x100ms, ato x100ms,
//	      pacing rate (norm), delivery rate (norm)
//	8-9   snd_ssthresh, ca_state
//	10-63 six metric families x three timescales x (avg, min, max)
//	64-76 tail metrics, ending with reward and cwnd_rate
type Row struct {
	Time     float64
	Capacity float64

	RTT100xMs        float64
	RTTVarMs         float64
	RTO100xMs        float64
	ATO100xMs        float64
	PacingRateNorm   float64
	DeliveryRateNorm float64

	SndSsthresh float64
	CAState     float64

	Windows signals.WindowStats

	Tail signals.Tail
}

// Values flattens the row into its wire order.
func (r *Row) Values() []float64 {
	out := make([]float64, 0, spec.TraceFields)
	out = append(out,
		r.Time, r.Capacity,
		r.RTT100xMs, r.RTTVarMs, r.RTO100xMs, r.ATO100xMs,
		r.PacingRateNorm, r.DeliveryRateNorm,
		r.SndSsthresh, r.CAState,
	)
	for _, family := range []*[3]window.Stats{
		&r.Windows.RTT, &r.Windows.Throughput, &r.Windows.RTTGradient,
		&r.Windows.RTTVar, &r.Windows.Inflight, &r.Windows.Loss,
	} {
		for _, s := range family {
			out = append(out, s.Avg, s.Min, s.Max)
		}
	}
	out = append(out,
		r.Tail.DRMinusLoss, r.Tail.TimeDeltaNorm, r.Tail.RTTRateScalar,
		r.Tail.LossNorm, r.Tail.AckedRateNorm, r.Tail.DRWRatio,
		r.Tail.QueueDelayProxy, r.Tail.DRWNorm, r.Tail.CwndUnackedRate,
		r.Tail.DRWMaxRatio, r.Tail.DRWMaxNorm, r.Tail.Reward,
		r.Tail.CwndRate,
	)
	return out
}

// Writer appends trace rows to a file. Writes are unbuffered so that a
// crash loses at most the in-flight row. Flows with overlapping start
// offsets share one Writer, so Emit serializes callers.
type Writer struct {
	fp   *os.File
	path string

	mu   sync.Mutex
	rows int64
	buf  []byte
}

// New opens the trace file for appending, creating it if needed.
func New(path string) (*Writer, error) {
	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Writer{fp: fp, path: path}, nil
}

// Path returns the trace file path.
func (w *Writer) Path() string {
	return w.path
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Emit appends one row. It returns an error if the row does not have
// exactly spec.TraceFields values or if the write fails; a write failure
// means the measurement record is incomplete and the caller must treat it
// as fatal. Emit is safe for concurrent use: rows are written whole, never
// interleaved.
func (w *Writer) Emit(row *Row) error {
	values := row.Values()
	if len(values) != spec.TraceFields {
		return fmt.Errorf("trace row has %d fields, want %d",
			len(values), spec.TraceFields)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = w.buf[:0]
	for i, v := range values {
		if i > 0 {
			w.buf = append(w.buf, ' ')
		}
		w.buf = strconv.AppendFloat(w.buf, v, 'f', 7, 64)
	}
	w.buf = append(w.buf, '\n')
	if _, err := w.fp.Write(w.buf); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Close closes the trace file.
func (w *Writer) Close() error {
	return w.fp.Close()
}
