package experiment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Aruuni/tcpdatagen/internal/signals"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/spec"
)

// NumArgs is the number of positional CLI arguments.
const NumArgs = 11

// Config is the immutable experiment configuration. The first eleven
// fields map one-to-one onto the positional CLI arguments; the remaining
// fields are tunables seeded with defaults and overridable by flags.
type Config struct {
	// Port is the TCP port to listen on.
	Port int
	// FlowOffsets are the scheduled flow start offsets, one per flow,
	// relative to the experiment clock. The first flow always starts
	// immediately; its configured value is kept only for the record.
	FlowOffsets []time.Duration
	// EnvBW is the primary emulated capacity in Mbps.
	EnvBW float64
	// Scheme is the congestion control algorithm name.
	Scheme string
	// Delay is the emulated one-way path delay.
	Delay time.Duration
	// LogPrefix is the trace file prefix; the trace is written to
	// <LogPrefix>.txt.
	LogPrefix string
	// Duration bounds the experiment and each flow. Zero means unbounded.
	Duration time.Duration
	// LossRate is the emulated loss rate, recorded for the experiment
	// record only.
	LossRate float64
	// TimestampStart is an opaque base timestamp string passed through to
	// the experiment record.
	TimestampStart string
	// BW2 is the secondary emulated capacity in Mbps.
	BW2 float64
	// BW2FlipPeriod is how long each capacity regime lasts. A period far
	// exceeding Duration effectively disables flipping.
	BW2FlipPeriod time.Duration

	// Tunables.
	ReportPeriod           time.Duration
	ShortWindow            time.Duration
	MediumWindow           time.Duration
	LongWindow             time.Duration
	BWNormFactor           float64
	RewardThroughputWeight float64
	RewardLossWeight       float64
	RewardGradientWeight   float64
	// UseConfiguredBaseRTT makes the queue delay proxy use 2*Delay as the
	// base RTT instead of the kernel's windowed minimum.
	UseConfiguredBaseRTT bool
	// DataDir is where per-flow archival results are written.
	DataDir string
}

// ParseArgs builds a Config from the positional CLI arguments, in order:
// port, flow_interval_csv, env_bw_mbps, scheme, delay_ms, log_file_prefix,
// duration_s, loss_rate, timestamp_start, bw2_mbps, bw2_flip_period_s.
func ParseArgs(args []string) (*Config, error) {
	if len(args) != NumArgs {
		return nil, fmt.Errorf("expected %d positional arguments, got %d",
			NumArgs, len(args))
	}
	c := &Config{
		ReportPeriod:           spec.ReportPeriod,
		ShortWindow:            spec.ShortWindow,
		MediumWindow:           spec.MediumWindow,
		LongWindow:             spec.LongWindow,
		BWNormFactor:           spec.DefaultBWNormFactor,
		RewardThroughputWeight: spec.DefaultRewardThroughputWeight,
		RewardLossWeight:       spec.DefaultRewardLossWeight,
		RewardGradientWeight:   spec.DefaultRewardGradientWeight,
		DataDir:                "./data",
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %q", args[0])
	}
	c.Port = port

	for _, field := range strings.Split(args[1], ",") {
		secs, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("invalid flow interval %q", field)
		}
		c.FlowOffsets = append(c.FlowOffsets,
			time.Duration(secs*float64(time.Second)))
	}

	if c.EnvBW, err = strconv.ParseFloat(args[2], 64); err != nil || c.EnvBW <= 0 {
		return nil, fmt.Errorf("invalid env_bw %q", args[2])
	}
	if c.Scheme = args[3]; c.Scheme == "" {
		return nil, fmt.Errorf("empty congestion control scheme")
	}
	delayMs, err := strconv.ParseFloat(args[4], 64)
	if err != nil || delayMs < 0 {
		return nil, fmt.Errorf("invalid delay %q", args[4])
	}
	c.Delay = time.Duration(delayMs * float64(time.Millisecond))
	if c.LogPrefix = args[5]; c.LogPrefix == "" {
		return nil, fmt.Errorf("empty log file prefix")
	}
	durationS, err := strconv.ParseFloat(args[6], 64)
	if err != nil || durationS < 0 {
		return nil, fmt.Errorf("invalid duration %q", args[6])
	}
	c.Duration = time.Duration(durationS * float64(time.Second))
	if c.LossRate, err = strconv.ParseFloat(args[7], 64); err != nil || c.LossRate < 0 {
		return nil, fmt.Errorf("invalid loss rate %q", args[7])
	}
	c.TimestampStart = args[8]
	if c.BW2, err = strconv.ParseFloat(args[9], 64); err != nil || c.BW2 <= 0 {
		return nil, fmt.Errorf("invalid bw2 %q", args[9])
	}
	flipS, err := strconv.ParseFloat(args[10], 64)
	if err != nil || flipS < 0 {
		return nil, fmt.Errorf("invalid bw2 flip period %q", args[10])
	}
	c.BW2FlipPeriod = time.Duration(flipS * float64(time.Second))
	return c, nil
}

// TracePath returns the trace file path.
func (c *Config) TracePath() string {
	return c.LogPrefix + spec.TraceSuffix
}

// SignalsConfig returns the derived-metric tuning constants.
func (c *Config) SignalsConfig() signals.Config {
	sc := signals.Config{
		BWNormFactor:     c.BWNormFactor,
		ReportPeriod:     c.ReportPeriod,
		ThroughputWeight: c.RewardThroughputWeight,
		LossWeight:       c.RewardLossWeight,
		GradientWeight:   c.RewardGradientWeight,
		OneWayDelay:      c.Delay,
	}
	if c.UseConfiguredBaseRTT {
		sc.BaseRTTMode = signals.BaseRTTConfigured
	}
	return sc
}

// StartOffset returns the scheduled start offset of flow i on the
// experiment clock. The first flow starts immediately.
func (c *Config) StartOffset(i int) time.Duration {
	if i == 0 {
		return 0
	}
	return c.FlowOffsets[i]
}
