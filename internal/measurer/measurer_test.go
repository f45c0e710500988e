package measurer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-lab/tcp-info/inetdiag"
	"github.com/m-lab/tcp-info/tcp"

	"github.com/Aruuni/tcpdatagen/internal/measurer"
)

// fakeConn implements netx.ConnInfo with a scriptable kernel query.
type fakeConn struct {
	acceptTime time.Time
	calls      int
	failOn     map[int]bool
}

func (c *fakeConn) ByteCounters() (uint64, uint64) { return 0, 0 }
func (c *fakeConn) AcceptTime() time.Time          { return c.acceptTime }
func (c *fakeConn) UUID() (string, error)          { return "fake-uuid", nil }
func (c *fakeConn) GetCC() (string, error)         { return "cubic", nil }
func (c *fakeConn) SetCC(string) error             { return nil }

func (c *fakeConn) Info() (inetdiag.BBRInfo, tcp.LinuxTCPInfo, error) {
	c.calls++
	if c.failOn[c.calls] {
		return inetdiag.BBRInfo{}, tcp.LinuxTCPInfo{}, errors.New("query failed")
	}
	info := tcp.LinuxTCPInfo{RTT: 20000}
	return inetdiag.BBRInfo{}, info, nil
}

func TestMeasurer_Start(t *testing.T) {
	conn := &fakeConn{acceptTime: time.Now(), failOn: map[int]bool{}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := measurer.Start(ctx, conn, 10*time.Millisecond)
	select {
	case s := <-m.Samples():
		if s.TCPInfo.RTT != 20000 {
			t.Errorf("unexpected sample: %+v", s)
		}
		if s.ElapsedTime <= 0 {
			t.Errorf("sample has non-positive elapsed time: %d", s.ElapsedTime)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive any sample")
	}
}

func TestMeasurer_ChannelClosesOnCancel(t *testing.T) {
	conn := &fakeConn{acceptTime: time.Now(), failOn: map[int]bool{}}
	ctx, cancel := context.WithCancel(context.Background())
	m := measurer.Start(ctx, conn, 10*time.Millisecond)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-m.Samples():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("sample channel not closed after cancellation")
		}
	}
}

func TestMeasurer_SkipsFailedTick(t *testing.T) {
	// Exactly one failing query out of many: one fewer sample, and the
	// samples around the failure are intact.
	conn := &fakeConn{acceptTime: time.Now(), failOn: map[int]bool{3: true}}
	ctx, cancel := context.WithCancel(context.Background())
	m := measurer.Start(ctx, conn, 5*time.Millisecond)

	received := 0
	deadline := time.After(5 * time.Second)
	for received < 9 {
		select {
		case s, ok := <-m.Samples():
			if !ok {
				t.Fatalf("channel closed early")
			}
			if s.TCPInfo.RTT != 20000 {
				t.Errorf("corrupted sample: %+v", s)
			}
			received++
		case <-deadline:
			t.Fatalf("timed out after %d samples", received)
		}
	}
	cancel()
	for range m.Samples() {
	}
	if conn.calls < 10 {
		t.Errorf("expected at least 10 queries, got %d", conn.calls)
	}
	if m.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", m.Skipped())
	}
}
