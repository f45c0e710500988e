// Package signals derives per-tick measurement signals from raw kernel
// samples and windowed aggregates: normalized rates, RTT gradients, a queue
// delay proxy and the scalar reward consumed by learning-based congestion
// control tuning.
package signals

import (
	"time"

	"github.com/Aruuni/tcpdatagen/internal/window"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/model"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/spec"
)

// BaseRTTMode selects the base RTT estimate used by the queue delay proxy.
type BaseRTTMode int

const (
	// BaseRTTKernel uses the kernel's windowed minimum RTT (tcpi_min_rtt).
	BaseRTTKernel BaseRTTMode = iota
	// BaseRTTConfigured uses twice the configured one-way path delay.
	BaseRTTConfigured
)

// Config holds the experiment-tunable constants of the calculator.
type Config struct {
	// BWNormFactor is the bandwidth normalization factor in Mbps. Rate
	// signals are emitted as Mbps divided by this factor.
	BWNormFactor float64
	// ReportPeriod normalizes the inter-sample time delta.
	ReportPeriod time.Duration
	// ThroughputWeight, LossWeight and GradientWeight are the reward
	// coefficients. The reward increases with delivered rate and decreases
	// with loss and with a rising RTT trend.
	ThroughputWeight float64
	LossWeight       float64
	GradientWeight   float64
	// BaseRTTMode selects the base RTT source for the queue delay proxy.
	BaseRTTMode BaseRTTMode
	// OneWayDelay is the configured one-way path delay, used when
	// BaseRTTMode is BaseRTTConfigured.
	OneWayDelay time.Duration
}

// DefaultConfig returns a Config seeded with the default tuning constants.
func DefaultConfig() Config {
	return Config{
		BWNormFactor:     spec.DefaultBWNormFactor,
		ReportPeriod:     spec.ReportPeriod,
		ThroughputWeight: spec.DefaultRewardThroughputWeight,
		LossWeight:       spec.DefaultRewardLossWeight,
		GradientWeight:   spec.DefaultRewardGradientWeight,
		BaseRTTMode:      BaseRTTKernel,
	}
}

// Instant holds the per-tick instantaneous values fed into the window
// aggregators, one per metric family.
type Instant struct {
	// RTT is the smoothed RTT in milliseconds.
	RTT float64
	// Throughput is the kernel delivery rate, normalized.
	Throughput float64
	// RTTGradient is the RTT change rate between the previous and the
	// current sample, in seconds per second.
	RTTGradient float64
	// RTTVar is the RTT variance in milliseconds.
	RTTVar float64
	// Inflight is the number of unacknowledged segments, in thousands.
	Inflight float64
	// Loss is the retransmitted-bytes rate since the previous sample,
	// normalized like Throughput.
	Loss float64
}

// WindowStats collects the short/medium/long outputs of every metric
// family at one query time.
type WindowStats struct {
	RTT         [3]window.Stats
	Throughput  [3]window.Stats
	RTTGradient [3]window.Stats
	RTTVar      [3]window.Stats
	Inflight    [3]window.Stats
	Loss        [3]window.Stats
}

// Tail holds the derived tail metrics of one trace row, in emit order.
type Tail struct {
	// DRMinusLoss is the short-window delivered rate minus the
	// short-window loss rate, in Mbps.
	DRMinusLoss float64
	// TimeDeltaNorm is the inter-sample time delta divided by the report
	// period.
	TimeDeltaNorm float64
	// RTTRateScalar is the instantaneous RTT gradient.
	RTTRateScalar float64
	// LossNorm is the short-window average loss rate, normalized.
	LossNorm float64
	// AckedRateNorm is the acked-bytes rate since the previous sample,
	// normalized.
	AckedRateNorm float64
	// DRWRatio is the short-window average delivered rate relative to the
	// active capacity.
	DRWRatio float64
	// QueueDelayProxy is the smoothed RTT minus the base RTT, in
	// milliseconds.
	QueueDelayProxy float64
	// DRWNorm is the short-window average delivered rate, normalized.
	DRWNorm float64
	// CwndUnackedRate is the fraction of the congestion window currently
	// unacknowledged.
	CwndUnackedRate float64
	// DRWMaxRatio is the short-window maximum delivered rate relative to
	// the active capacity.
	DRWMaxRatio float64
	// DRWMaxNorm is the short-window maximum delivered rate, normalized.
	DRWMaxNorm float64
	// Reward is the scalar reward signal.
	Reward float64
	// CwndRate is the rate implied by the congestion window, normalized.
	CwndRate float64
}

// Calculator derives signals from samples. It is a pure computation; all
// state it needs is passed in explicitly.
type Calculator struct {
	cfg Config
}

// New returns a Calculator using the given tuning constants.
func New(cfg Config) *Calculator {
	if cfg.BWNormFactor <= 0 {
		cfg.BWNormFactor = spec.DefaultBWNormFactor
	}
	if cfg.ReportPeriod <= 0 {
		cfg.ReportPeriod = spec.ReportPeriod
	}
	return &Calculator{cfg: cfg}
}

// Instant computes the per-tick window inputs from the previous and current
// samples. prev may be nil on the first tick; rate-of-change signals are
// zero in that case.
func (c *Calculator) Instant(prev, cur *model.Sample) Instant {
	inst := Instant{
		RTT:        cur.SRTT(),
		Throughput: cur.DeliveryRate() / c.cfg.BWNormFactor,
		RTTVar:     cur.RTTVar(),
		Inflight:   float64(cur.TCPInfo.Unacked) / 1000.0,
	}
	if prev == nil {
		return inst
	}
	dt := cur.Elapsed() - prev.Elapsed()
	if dt <= 0 {
		return inst
	}
	inst.RTTGradient = (cur.SRTT() - prev.SRTT()) / 1000.0 / dt
	retrans := float64(cur.TCPInfo.BytesRetrans - prev.TCPInfo.BytesRetrans)
	if retrans < 0 {
		retrans = 0
	}
	inst.Loss = retrans * 8.0 / dt / 1e6 / c.cfg.BWNormFactor
	return inst
}

// Tail computes the tail metrics for one trace row. activeCapacity is the
// nominally active emulated capacity in Mbps.
func (c *Calculator) Tail(prev, cur *model.Sample, inst Instant,
	w *WindowStats, activeCapacity float64) Tail {
	tail := Tail{
		RTTRateScalar:   inst.RTTGradient,
		LossNorm:        w.Loss[window.Short].Avg,
		DRWNorm:         w.Throughput[window.Short].Avg,
		DRWMaxNorm:      w.Throughput[window.Short].Max,
		QueueDelayProxy: cur.SRTT() - c.baseRTT(cur),
		CwndRate:        cur.CwndRate() / c.cfg.BWNormFactor,
	}
	tail.DRMinusLoss = (w.Throughput[window.Short].Avg -
		w.Loss[window.Short].Avg) * c.cfg.BWNormFactor
	if prev != nil {
		dt := cur.Elapsed() - prev.Elapsed()
		tail.TimeDeltaNorm = dt / c.cfg.ReportPeriod.Seconds()
		if dt > 0 {
			acked := float64(cur.TCPInfo.BytesAcked - prev.TCPInfo.BytesAcked)
			if acked < 0 {
				acked = 0
			}
			tail.AckedRateNorm = acked * 8.0 / dt / 1e6 / c.cfg.BWNormFactor
		}
	}
	if capNorm := activeCapacity / c.cfg.BWNormFactor; capNorm > 0 {
		tail.DRWRatio = w.Throughput[window.Short].Avg / capNorm
		tail.DRWMaxRatio = w.Throughput[window.Short].Max / capNorm
	}
	if cur.TCPInfo.SndCwnd > 0 {
		tail.CwndUnackedRate = float64(cur.TCPInfo.Unacked) /
			float64(cur.TCPInfo.SndCwnd)
	}
	gradPenalty := w.RTTGradient[window.Short].Avg
	if gradPenalty < 0 {
		gradPenalty = 0
	}
	tail.Reward = c.cfg.ThroughputWeight*inst.Throughput -
		c.cfg.LossWeight*tail.LossNorm -
		c.cfg.GradientWeight*gradPenalty
	return tail
}

// baseRTT returns the base RTT estimate in milliseconds.
func (c *Calculator) baseRTT(cur *model.Sample) float64 {
	if c.cfg.BaseRTTMode == BaseRTTConfigured {
		return 2 * float64(c.cfg.OneWayDelay.Milliseconds())
	}
	return cur.MinRTT()
}
