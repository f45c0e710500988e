// Package measurer periodically queries the kernel statistics of a live
// TCP connection and turns them into Samples.
package measurer

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Aruuni/tcpdatagen/internal/metrics"
	"github.com/Aruuni/tcpdatagen/internal/netx"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/model"
)

// Measurer samples one connection on a fixed report period.
type Measurer struct {
	conn    netx.ConnInfo
	period  time.Duration
	dstChan chan model.Sample

	// skipped counts sampling ticks lost to failed kernel queries.
	skipped int64
}

// Start starts a measurer goroutine that reads the tcp_info and bbr_info
// kernel structs for the connection once per report period and sends them,
// wrapped in a Sample, over the returned channel. The channel is closed
// when the context is canceled.
//
// A failed kernel query is tick-local: the tick is skipped with a warning
// and sampling resumes at the next period.
func Start(ctx context.Context, conn netx.ConnInfo, period time.Duration) *Measurer {
	// Implementation note: this channel must be buffered to account for
	// slow readers. The typical reader also aggregates and writes a trace
	// row per sample, so give it a few seconds of slack:
	//
	// 5000ms / 50 ms/sample = 100 samples
	m := &Measurer{
		conn:    conn,
		period:  period,
		dstChan: make(chan model.Sample, 100),
	}
	go m.loop(ctx)
	return m
}

// Samples returns the channel on which Samples are delivered.
func (m *Measurer) Samples() <-chan model.Sample {
	return m.dstChan
}

// Skipped returns the number of ticks skipped because of failed kernel
// queries. It must only be read after the sample channel is closed.
func (m *Measurer) Skipped() int64 {
	return m.skipped
}

func (m *Measurer) loop(ctx context.Context) {
	log.Debug("measurer: start", "period", m.period)
	defer log.Debug("measurer: stop")
	defer close(m.dstChan)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.measure(ctx)
		}
	}
}

func (m *Measurer) measure(ctx context.Context) {
	bbrInfo, tcpInfo, err := m.conn.Info()
	if err != nil {
		// Tick-local failure: no Sample for this tick, no row emitted.
		m.skipped++
		metrics.TicksSkipped.Inc()
		log.Warn("kernel statistics query failed, skipping tick", "error", err)
		return
	}
	sample := model.Sample{
		ElapsedTime: time.Since(m.conn.AcceptTime()).Microseconds(),
		TCPInfo:     tcpInfo,
		BBRInfo:     bbrInfo,
	}
	select {
	case <-ctx.Done():
		// NOTHING - the flow is shutting down.
	case m.dstChan <- sample:
	}
}
