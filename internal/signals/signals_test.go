package signals

import (
	"testing"
	"time"

	"github.com/Aruuni/tcpdatagen/internal/window"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/model"
)

func sampleAt(elapsed time.Duration, rttUs uint32, deliveryRate int64,
	bytesAcked, bytesRetrans int64) *model.Sample {
	s := &model.Sample{ElapsedTime: elapsed.Microseconds()}
	s.TCPInfo.RTT = rttUs
	s.TCPInfo.MinRTT = rttUs / 2
	s.TCPInfo.DeliveryRate = deliveryRate
	s.TCPInfo.BytesAcked = bytesAcked
	s.TCPInfo.BytesRetrans = bytesRetrans
	s.TCPInfo.SndCwnd = 100
	s.TCPInfo.SndMSS = 1448
	s.TCPInfo.Unacked = 50
	return s
}

func TestCalculator_Instant(t *testing.T) {
	c := New(Config{BWNormFactor: 100, ReportPeriod: 50 * time.Millisecond})

	// 12.5 MB/s delivery rate = 100 Mbps = 1.0 normalized.
	cur := sampleAt(time.Second, 20000, 12500000, 1000000, 0)
	inst := c.Instant(nil, cur)
	if inst.RTT != 20 {
		t.Errorf("RTT = %v, want 20", inst.RTT)
	}
	if inst.Throughput != 1.0 {
		t.Errorf("Throughput = %v, want 1.0", inst.Throughput)
	}
	// No previous sample: rate-of-change signals are zero.
	if inst.RTTGradient != 0 || inst.Loss != 0 {
		t.Errorf("first-tick gradient/loss = %v/%v, want 0/0",
			inst.RTTGradient, inst.Loss)
	}
	if inst.Inflight != 0.05 {
		t.Errorf("Inflight = %v, want 0.05", inst.Inflight)
	}

	// One second later the RTT rose by 10ms: gradient is 0.01 s/s.
	prev := cur
	cur = sampleAt(2*time.Second, 30000, 12500000, 2000000, 125000)
	inst = c.Instant(prev, cur)
	if got, want := inst.RTTGradient, 0.01; !almostEqual(got, want) {
		t.Errorf("RTTGradient = %v, want %v", got, want)
	}
	// 125000 retransmitted bytes over 1s = 1 Mbps = 0.01 normalized.
	if got, want := inst.Loss, 0.01; !almostEqual(got, want) {
		t.Errorf("Loss = %v, want %v", got, want)
	}
}

func TestCalculator_Tail(t *testing.T) {
	c := New(Config{
		BWNormFactor:     100,
		ReportPeriod:     50 * time.Millisecond,
		ThroughputWeight: 1,
		LossWeight:       10,
		GradientWeight:   2,
	})
	prev := sampleAt(time.Second, 20000, 12500000, 1000000, 0)
	cur := sampleAt(time.Second+50*time.Millisecond, 20000, 12500000, 1625000, 0)
	inst := c.Instant(prev, cur)

	w := &WindowStats{}
	w.Throughput[window.Short] = window.Stats{Avg: 0.5, Min: 0.4, Max: 0.6}
	w.Loss[window.Short] = window.Stats{Avg: 0.01, Min: 0, Max: 0.02}
	w.RTTGradient[window.Short] = window.Stats{Avg: 0.005}

	tail := c.Tail(prev, cur, inst, w, 50)

	// (0.5 - 0.01) * 100 Mbps.
	if got, want := tail.DRMinusLoss, 49.0; !almostEqual(got, want) {
		t.Errorf("DRMinusLoss = %v, want %v", got, want)
	}
	// dt equals the report period.
	if got, want := tail.TimeDeltaNorm, 1.0; !almostEqual(got, want) {
		t.Errorf("TimeDeltaNorm = %v, want %v", got, want)
	}
	// 625000 bytes acked over 50ms = 100 Mbps = 1.0 normalized.
	if got, want := tail.AckedRateNorm, 1.0; !almostEqual(got, want) {
		t.Errorf("AckedRateNorm = %v, want %v", got, want)
	}
	// Capacity 50 Mbps = 0.5 normalized; 0.5 avg / 0.5 = 1.0.
	if got, want := tail.DRWRatio, 1.0; !almostEqual(got, want) {
		t.Errorf("DRWRatio = %v, want %v", got, want)
	}
	if got, want := tail.DRWMaxRatio, 1.2; !almostEqual(got, want) {
		t.Errorf("DRWMaxRatio = %v, want %v", got, want)
	}
	// Base RTT defaults to the kernel min RTT (10ms here).
	if got, want := tail.QueueDelayProxy, 10.0; !almostEqual(got, want) {
		t.Errorf("QueueDelayProxy = %v, want %v", got, want)
	}
	if got, want := tail.CwndUnackedRate, 0.5; !almostEqual(got, want) {
		t.Errorf("CwndUnackedRate = %v, want %v", got, want)
	}
	// reward = 1*1.0 - 10*0.01 - 2*0.005.
	if got, want := tail.Reward, 1.0-0.1-0.01; !almostEqual(got, want) {
		t.Errorf("Reward = %v, want %v", got, want)
	}
}

func TestCalculator_RewardIgnoresFallingRTT(t *testing.T) {
	c := New(Config{
		BWNormFactor:     100,
		ReportPeriod:     50 * time.Millisecond,
		ThroughputWeight: 1,
		LossWeight:       10,
		GradientWeight:   2,
	})
	prev := sampleAt(time.Second, 30000, 12500000, 1000000, 0)
	cur := sampleAt(2*time.Second, 20000, 12500000, 2000000, 0)
	inst := c.Instant(prev, cur)

	w := &WindowStats{}
	// A falling RTT trend must not increase the reward.
	w.RTTGradient[window.Short] = window.Stats{Avg: -0.5}
	tail := c.Tail(prev, cur, inst, w, 50)
	if got, want := tail.Reward, c.cfg.ThroughputWeight*inst.Throughput; !almostEqual(got, want) {
		t.Errorf("Reward = %v, want %v (no gradient bonus)", got, want)
	}
}

func TestCalculator_ConfiguredBaseRTT(t *testing.T) {
	c := New(Config{
		BWNormFactor: 100,
		ReportPeriod: 50 * time.Millisecond,
		BaseRTTMode:  BaseRTTConfigured,
		OneWayDelay:  20 * time.Millisecond,
	})
	cur := sampleAt(time.Second, 50000, 12500000, 1000000, 0)
	tail := c.Tail(nil, cur, c.Instant(nil, cur), &WindowStats{}, 50)
	// 50ms smoothed RTT minus 2*20ms configured base.
	if got, want := tail.QueueDelayProxy, 10.0; !almostEqual(got, want) {
		t.Errorf("QueueDelayProxy = %v, want %v", got, want)
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
