// Package spec contains constants for the flowtrace measurement harness.
package spec

import "time"

const (
	// ReportPeriod is the default interval between kernel statistics
	// queries. One trace row is emitted per period.
	ReportPeriod = 50 * time.Millisecond

	// ShortWindow, MediumWindow and LongWindow are the default timescales
	// of the sliding-window aggregator. They must be strictly increasing.
	ShortWindow  = 500 * time.Millisecond
	MediumWindow = 2500 * time.Millisecond
	LongWindow   = 10 * time.Second

	// TraceFields is the number of columns of a trace row. The column
	// order is a compatibility contract with downstream analysis tools
	// and must never change.
	TraceFields = 77

	// TraceSuffix is appended to the configured log-file prefix.
	TraceSuffix = ".txt"

	// MaxFlowIDLength is the maximum length of the identification header
	// sent by the client after connecting.
	MaxFlowIDLength = 64

	// HandshakeTimeout is how long the server waits for the client's
	// identification header before failing the flow.
	HandshakeTimeout = 10 * time.Second

	// SendBufferSize is the size of the payload chunk written by the
	// send loop on every iteration.
	SendBufferSize = 1 << 17

	// DefaultBWNormFactor is the default bandwidth normalization factor,
	// in Mbps. Rate columns are emitted as Mbps divided by this factor.
	DefaultBWNormFactor = 100.0

	// Default reward weights. All three are experiment-tunable flags;
	// these values only seed them.
	DefaultRewardThroughputWeight = 1.0
	DefaultRewardLossWeight       = 10.0
	DefaultRewardGradientWeight   = 2.0

	// DatatypeName is the datatype directory used for archival results.
	DatatypeName = "flowtrace"
)
