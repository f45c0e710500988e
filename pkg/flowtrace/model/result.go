package model

import "time"

// FlowResult is the struct that is serialized as JSON to disk as the
// archival record of one measured flow. The per-tick measurement record is
// the trace file, not this struct; FlowResult only summarizes the flow.
type FlowResult struct {
	// GitShortCommit is the Git commit (short form) of the running server
	// code.
	GitShortCommit string
	// Version is the symbolic version (if any) of the running server code.
	Version string

	// FlowID is the identifier sent by the client in its identification
	// header.
	FlowID string
	// UUID is the unique ID for this TCP flow.
	UUID string
	// Server is the server's TCP endpoint (ip:port).
	Server string
	// Client is the client's TCP endpoint (ip:port).
	Client string
	// CCAlgorithm is the congestion control algorithm used by this flow.
	CCAlgorithm string

	// StartTime is the time when the flow was accepted.
	StartTime time.Time
	// EndTime is the time when the flow ended.
	EndTime time.Time

	// State is the terminal lifecycle state of the flow ("closed" or
	// "failed").
	State string
	// Experiment echoes the experiment parameters this flow ran under.
	Experiment ExperimentInfo
	// BytesSent is the number of payload bytes written to the connection.
	BytesSent int64
	// RowsEmitted is the number of trace rows written for this flow.
	RowsEmitted int64
	// TicksSkipped is the number of sampling ticks skipped because the
	// kernel statistics query failed.
	TicksSkipped int64
}

// ExperimentInfo echoes the experiment-level parameters into the archival
// record, so that a result file is interpretable on its own.
type ExperimentInfo struct {
	// EnvBW is the primary emulated capacity in Mbps.
	EnvBW float64
	// BW2 is the secondary emulated capacity in Mbps.
	BW2 float64
	// BW2FlipPeriodSec is the capacity regime duration in seconds.
	BW2FlipPeriodSec float64
	// DelayMs is the emulated one-way path delay in milliseconds.
	DelayMs float64
	// LossRate is the emulated loss rate.
	LossRate float64
	// TimestampStart is the opaque base timestamp configured for the run.
	TimestampStart string
}
