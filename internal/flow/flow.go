// Package flow implements the per-flow measurement controller: it owns one
// accepted connection, keeps it loaded with payload data, and turns the
// kernel statistics sampled from it into trace rows.
package flow

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Aruuni/tcpdatagen/internal/capacity"
	"github.com/Aruuni/tcpdatagen/internal/measurer"
	"github.com/Aruuni/tcpdatagen/internal/metrics"
	"github.com/Aruuni/tcpdatagen/internal/netx"
	"github.com/Aruuni/tcpdatagen/internal/signals"
	"github.com/Aruuni/tcpdatagen/internal/tracelog"
	"github.com/Aruuni/tcpdatagen/internal/window"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/model"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/spec"
)

// ErrTraceWrite wraps trace write failures. The experiment cannot proceed
// without its measurement record, so callers must treat it as fatal.
var ErrTraceWrite = errors.New("trace write failed")

// State is the lifecycle state of a Flow.
type State int

const (
	Scheduled State = iota
	Active
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Active:
		return "active"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Config holds the per-flow measurement configuration.
type Config struct {
	// Scheme is the congestion control algorithm to set on the flow.
	Scheme string
	// Duration bounds the flow runtime. Zero means unbounded.
	Duration time.Duration
	// ReportPeriod is the sampling interval; one trace row is emitted per
	// period.
	ReportPeriod time.Duration
	// Short, Medium and Long are the window aggregator timescales.
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
	// Signals are the derived-metric tuning constants.
	Signals signals.Config
	// Capacity is the emulated capacity schedule recorded in the trace.
	Capacity capacity.Schedule
	// ExperimentStart anchors the shared experiment clock. Capacity
	// regimes and trace timestamps are relative to it.
	ExperimentStart time.Time
}

// Flow owns one measured connection. The connection resource is released
// exactly once, after the send and sample activities have both stopped.
type Flow struct {
	conn  *netx.Conn
	trace *tracelog.Writer
	cfg   Config

	mu     sync.Mutex
	id     string
	uuid   string
	state  State
	rows   int64
	result model.FlowResult
}

// New returns a Flow for an accepted connection. The flow is in the
// Scheduled state until Run attaches it.
func New(conn *netx.Conn, trace *tracelog.Writer, cfg Config) *Flow {
	if cfg.ReportPeriod <= 0 {
		cfg.ReportPeriod = spec.ReportPeriod
	}
	return &Flow{
		conn:  conn,
		trace: trace,
		cfg:   cfg,
		state: Scheduled,
	}
}

// ID returns the flow id sent by the client, or "" before the handshake.
func (f *Flow) ID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

// UUID returns the flow's UUID, or "" before the flow is attached.
func (f *Flow) UUID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uuid
}

// State returns the flow's lifecycle state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the archival summary of the flow. It is only complete
// once Run has returned.
func (f *Flow) Result() model.FlowResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// Run attaches the flow and drives it to completion: it reads the client's
// identification header, pins the congestion control algorithm, then runs
// the send loop and the sampling pipeline concurrently until the flow
// duration elapses, the peer closes, or the context is canceled.
//
// Run returns nil on graceful completion (state Closed) and the flow-local
// error otherwise (state Failed). An error wrapping ErrTraceWrite is not
// flow-local and must abort the experiment.
func (f *Flow) Run(ctx context.Context) error {
	metrics.ActiveFlows.Inc()
	start := time.Now()
	err := f.run(ctx)

	state := Closed
	if err != nil {
		state = Failed
	}
	f.mu.Lock()
	f.state = state
	_, written := f.conn.ByteCounters()
	f.result.FlowID = f.id
	f.result.UUID = f.uuid
	f.result.Server = f.conn.LocalAddr().String()
	f.result.Client = f.conn.RemoteAddr().String()
	f.result.CCAlgorithm = f.cfg.Scheme
	f.result.StartTime = f.conn.AcceptTime()
	f.result.EndTime = time.Now()
	f.result.State = state.String()
	f.result.BytesSent = int64(written)
	f.mu.Unlock()

	metrics.ActiveFlows.Dec()
	metrics.FlowsCompleted.WithLabelValues(state.String()).Inc()
	log.Info("flow finished", "id", f.ID(), "state", state,
		"runtime", time.Since(start), "error", err)
	return err
}

func (f *Flow) run(ctx context.Context) error {
	// The connection is closed exactly once, here, after the send loop and
	// the sampling pipeline have both returned.
	defer f.conn.Close()

	id, err := f.readHeader()
	if err != nil {
		return fmt.Errorf("identification header: %w", err)
	}
	uuid, err := f.conn.UUID()
	if err != nil {
		return fmt.Errorf("flow uuid: %w", err)
	}
	f.mu.Lock()
	f.id = id
	f.uuid = uuid
	f.state = Active
	f.mu.Unlock()

	// Pin the congestion control algorithm for this flow. An unrecognized
	// scheme is a configuration error that cannot be retried.
	if err := f.conn.SetCC(f.cfg.Scheme); err != nil {
		return fmt.Errorf("cannot set congestion control %q: %w", f.cfg.Scheme, err)
	}
	log.Info("flow attached", "id", id, "uuid", uuid,
		"client", f.conn.RemoteAddr(), "cc", f.cfg.Scheme)

	if f.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Duration)
		defer cancel()
	}
	// Any stop condition observed by one activity stops the other.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	var sendErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		sendErr = f.sendLoop(ctx)
	}()

	m := measurer.Start(ctx, f.conn, f.cfg.ReportPeriod)
	sampleErr := f.samplePipeline(ctx, m)

	// A pipeline error is a stop condition for the send loop too: without
	// this an unbounded flow would keep streaming after a fatal trace
	// write failure. Draining to channel close joins the measurer, which
	// makes the skip counter final.
	stop()
	for range m.Samples() {
	}
	wg.Wait()
	f.mu.Lock()
	f.result.RowsEmitted = f.rows
	f.result.TicksSkipped = m.Skipped()
	f.mu.Unlock()

	if sampleErr != nil {
		return sampleErr
	}
	// A send error after the duration elapsed is just the teardown racing
	// the peer, and a peer-initiated close is a graceful stop condition,
	// not a flow failure.
	if sendErr != nil && ctx.Err() == nil && !isPeerClose(sendErr) {
		return fmt.Errorf("send loop: %w", sendErr)
	}
	return nil
}

// isPeerClose reports whether a send error means the peer closed the
// connection.
func isPeerClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// readHeader reads the client's one-line identification header.
func (f *Flow) readHeader() (string, error) {
	if err := f.conn.SetReadDeadline(time.Now().Add(spec.HandshakeTimeout)); err != nil {
		return "", err
	}
	defer f.conn.SetReadDeadline(time.Time{})
	r := bufio.NewReaderSize(f.conn, spec.MaxFlowIDLength)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	id := line[:len(line)-1]
	if id == "" {
		return "", errors.New("empty flow id")
	}
	return id, nil
}

// sendLoop keeps the connection loaded until a stop condition. Writes may
// block under backpressure; a short write deadline bounds how long a stop
// signal can go unobserved.
func (f *Flow) sendLoop(ctx context.Context) error {
	buf := make([]byte, spec.SendBufferSize)
	rand.Read(buf)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := f.conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
			return err
		}
		n, err := f.conn.Write(buf)
		metrics.BytesSent.Add(float64(n))
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Backpressure, not an error. Re-check the stop signal
				// and keep pushing.
				continue
			}
			// Peer-initiated close or an unrecoverable socket error.
			return err
		}
	}
}

// samplePipeline is the single writer of this flow's aggregates: each
// Sample is observed into the window bank, derived signals are computed,
// and one row is emitted, all on this goroutine. Rows of one flow are
// therefore emitted in non-decreasing timestamp order.
func (f *Flow) samplePipeline(ctx context.Context, m *measurer.Measurer) error {
	bank, err := window.NewBank(f.cfg.Short, f.cfg.Medium, f.cfg.Long)
	if err != nil {
		return err
	}
	calc := signals.New(f.cfg.Signals)
	// Offset of the flow clock from the shared experiment clock.
	expOffset := f.conn.AcceptTime().Sub(f.cfg.ExperimentStart)

	var prev *model.Sample
	for {
		select {
		case <-ctx.Done():
			// Stop signal raised: no sample proceeds past this point.
			// The caller drains what the measurer already buffered.
			return nil
		case s, ok := <-m.Samples():
			if !ok {
				return nil
			}
			if err := f.observeAndEmit(bank, calc, prev, &s, expOffset); err != nil {
				return err
			}
			prev = &s
		}
	}
}

func (f *Flow) observeAndEmit(bank *window.Bank, calc *signals.Calculator,
	prev, cur *model.Sample, expOffset time.Duration) error {
	elapsed := time.Duration(cur.ElapsedTime) * time.Microsecond
	inst := calc.Instant(prev, cur)
	bank.RTT.Observe(elapsed, inst.RTT)
	bank.Throughput.Observe(elapsed, inst.Throughput)
	bank.RTTGradient.Observe(elapsed, inst.RTTGradient)
	bank.RTTVar.Observe(elapsed, inst.RTTVar)
	bank.Inflight.Observe(elapsed, inst.Inflight)
	bank.Loss.Observe(elapsed, inst.Loss)

	var ws signals.WindowStats
	for scale := window.Short; scale <= window.Long; scale++ {
		ws.RTT[scale] = bank.RTT.Read(scale, elapsed)
		ws.Throughput[scale] = bank.Throughput.Read(scale, elapsed)
		ws.RTTGradient[scale] = bank.RTTGradient.Read(scale, elapsed)
		ws.RTTVar[scale] = bank.RTTVar.Read(scale, elapsed)
		ws.Inflight[scale] = bank.Inflight.Read(scale, elapsed)
		ws.Loss[scale] = bank.Loss.Read(scale, elapsed)
	}

	// All time-dependent decisions reference the experiment clock.
	expElapsed := expOffset + elapsed
	active := f.cfg.Capacity.Active(expElapsed)
	tail := calc.Tail(prev, cur, inst, &ws, active)

	bwNorm := f.cfg.Signals.BWNormFactor
	if bwNorm <= 0 {
		bwNorm = spec.DefaultBWNormFactor
	}
	row := &tracelog.Row{
		Time:             expElapsed.Seconds(),
		Capacity:         active,
		RTT100xMs:        float64(cur.TCPInfo.RTT) / 100000.0,
		RTTVarMs:         cur.RTTVar(),
		RTO100xMs:        float64(cur.TCPInfo.RTO) / 100000.0,
		ATO100xMs:        float64(cur.TCPInfo.ATO) / 100000.0,
		PacingRateNorm:   cur.PacingRate() / bwNorm,
		DeliveryRateNorm: cur.DeliveryRate() / bwNorm,
		SndSsthresh:      float64(cur.TCPInfo.SndSsThresh),
		CAState:          float64(cur.TCPInfo.CAState),
		Windows:          ws,
		Tail:             tail,
	}
	if err := f.trace.Emit(row); err != nil {
		return fmt.Errorf("%w: %s", ErrTraceWrite, err)
	}
	f.rows++
	metrics.RowsWritten.Inc()
	return nil
}
