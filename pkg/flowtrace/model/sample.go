package model

import (
	"github.com/m-lab/tcp-info/inetdiag"
	"github.com/m-lab/tcp-info/tcp"
)

// Sample is one timestamped snapshot of the kernel-reported statistics for
// a TCP flow. Samples are immutable once produced by the measurer.
type Sample struct {
	// ElapsedTime is the time since the flow was accepted, in microseconds.
	ElapsedTime int64

	// TCPInfo is the raw TCP_INFO struct read from the kernel.
	TCPInfo tcp.LinuxTCPInfo

	// BBRInfo contains BBR variables for this flow. It is only populated
	// when the flow's congestion control algorithm is BBR.
	BBRInfo inetdiag.BBRInfo
}

// Elapsed returns the sample time since flow start, in seconds.
func (s *Sample) Elapsed() float64 {
	return float64(s.ElapsedTime) / 1e6
}

// SRTT returns the smoothed RTT in milliseconds.
func (s *Sample) SRTT() float64 {
	return float64(s.TCPInfo.RTT) / 1000.0
}

// RTTVar returns the RTT variance in milliseconds.
func (s *Sample) RTTVar() float64 {
	return float64(s.TCPInfo.RTTVar) / 1000.0
}

// MinRTT returns the kernel's windowed minimum RTT in milliseconds.
func (s *Sample) MinRTT() float64 {
	return float64(s.TCPInfo.MinRTT) / 1000.0
}

// DeliveryRate returns the kernel delivery rate estimate in Mbps.
func (s *Sample) DeliveryRate() float64 {
	return float64(s.TCPInfo.DeliveryRate) * 8.0 / 1e6
}

// PacingRate returns the kernel pacing rate in Mbps.
func (s *Sample) PacingRate() float64 {
	return float64(s.TCPInfo.PacingRate) * 8.0 / 1e6
}

// CwndRate returns the rate implied by the congestion window, in Mbps:
// one window of MSS-sized segments per smoothed RTT.
func (s *Sample) CwndRate() float64 {
	if s.TCPInfo.RTT == 0 {
		return 0
	}
	cwndBytes := float64(s.TCPInfo.SndCwnd) * float64(s.TCPInfo.SndMSS)
	return cwndBytes * 8.0 / (float64(s.TCPInfo.RTT) / 1e6) / 1e6
}
