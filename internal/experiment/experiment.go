// Package experiment drives the overall measurement lifecycle: it owns the
// listening socket, walks the flow schedule on the shared experiment clock,
// runs one flow controller per accepted connection, and archives per-flow
// results.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"
	"github.com/m-lab/go/prometheusx"

	"github.com/Aruuni/tcpdatagen/internal/capacity"
	"github.com/Aruuni/tcpdatagen/internal/congestion"
	"github.com/Aruuni/tcpdatagen/internal/flow"
	"github.com/Aruuni/tcpdatagen/internal/netx"
	"github.com/Aruuni/tcpdatagen/internal/persistence"
	"github.com/Aruuni/tcpdatagen/internal/tracelog"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/model"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/spec"
	"github.com/Aruuni/tcpdatagen/pkg/version"
)

// flowCacheGrace is added to the experiment duration to size the flow
// registry TTL, so that results of hung flows are still archived.
const flowCacheGrace = time.Minute

// Experiment owns one experiment run.
type Experiment struct {
	cfg      *Config
	trace    *tracelog.Writer
	listener *netx.Listener
	flows    *ttlcache.Cache[string, *flow.Flow]
	// stopArchiver blocks until every in-flight archival callback has
	// returned; eviction callbacks run on their own goroutines.
	stopArchiver func()
	start        time.Time
	wg           sync.WaitGroup
}

// New validates the configuration and acquires the experiment's resources:
// the congestion control scheme is checked against the kernel, the trace
// file is opened and the listening socket is bound. Every failure here is
// an unrecoverable configuration error.
func New(cfg *Config) (*Experiment, error) {
	if err := congestion.Validate(cfg.Scheme); err != nil {
		return nil, err
	}
	trace, err := tracelog.New(cfg.TracePath())
	if err != nil {
		return nil, fmt.Errorf("cannot open trace file: %w", err)
	}
	tcpl, err := net.ListenTCP("tcp", &net.TCPAddr{Port: cfg.Port})
	if err != nil {
		trace.Close()
		return nil, fmt.Errorf("cannot listen on port %d: %w", cfg.Port, err)
	}

	ttl := flowCacheGrace
	if cfg.Duration > 0 {
		ttl += cfg.Duration
	} else {
		ttl = 24 * time.Hour
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *flow.Flow](ttl),
		ttlcache.WithDisableTouchOnHit[string, *flow.Flow](),
	)
	e := &Experiment{
		cfg:      cfg,
		trace:    trace,
		listener: netx.NewListener(tcpl),
		flows:    cache,
	}
	// Results are archived when a flow leaves the registry, whether it
	// completed or its registry entry expired.
	e.stopArchiver = cache.OnEviction(func(ctx context.Context,
		er ttlcache.EvictionReason,
		i *ttlcache.Item[string, *flow.Flow]) {
		f := i.Value()
		result := f.Result()
		e.annotate(&result)
		df, err := persistence.WriteDataFile(cfg.DataDir, spec.DatatypeName,
			f.ID(), f.UUID(), result)
		if err != nil {
			log.Error("failed to write flow result", "uuid", f.UUID(), "error", err)
			return
		}
		log.Debug("flow result archived", "path", df.Path, "reason", er)
	})
	go cache.Start()
	return e, nil
}

// annotate copies experiment-level metadata into a flow result.
func (e *Experiment) annotate(r *model.FlowResult) {
	r.GitShortCommit = prometheusx.GitShortCommit
	r.Version = version.Version
	r.Experiment = model.ExperimentInfo{
		EnvBW:            e.cfg.EnvBW,
		BW2:              e.cfg.BW2,
		BW2FlipPeriodSec: e.cfg.BW2FlipPeriod.Seconds(),
		DelayMs:          float64(e.cfg.Delay.Milliseconds()),
		LossRate:         e.cfg.LossRate,
		TimestampStart:   e.cfg.TimestampStart,
	}
}

// Addr returns the listener address.
func (e *Experiment) Addr() net.Addr {
	return e.listener.Addr()
}

// Run executes the flow schedule and blocks until every flow has finished
// or the experiment duration has elapsed. It returns nil on a clean run;
// flow-local failures are logged, not returned. A trace write failure is
// returned as-is and must abort the process.
func (e *Experiment) Run(ctx context.Context) error {
	e.start = time.Now()
	if e.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Duration)
		defer cancel()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// Unblock Accept when the experiment ends.
	go func() {
		<-ctx.Done()
		e.listener.Close()
	}()

	log.Info("experiment started", "port", e.cfg.Port, "scheme", e.cfg.Scheme,
		"flows", len(e.cfg.FlowOffsets), "duration", e.cfg.Duration,
		"env_bw", e.cfg.EnvBW, "bw2", e.cfg.BW2,
		"bw2_flip_period", e.cfg.BW2FlipPeriod)

	fatal := make(chan error, len(e.cfg.FlowOffsets))
	for i := range e.cfg.FlowOffsets {
		if err := e.waitUntil(ctx, e.cfg.StartOffset(i)); err != nil {
			break
		}
		conn, err := e.accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// Flow-local: this flow never starts, the schedule goes on.
			log.Error("accept failed", "flow", i, "error", err)
			continue
		}
		f := flow.New(conn, e.trace, flow.Config{
			Scheme:          e.cfg.Scheme,
			Duration:        e.cfg.Duration,
			ReportPeriod:    e.cfg.ReportPeriod,
			Short:           e.cfg.ShortWindow,
			Medium:          e.cfg.MediumWindow,
			Long:            e.cfg.LongWindow,
			Signals:         e.cfg.SignalsConfig(),
			Capacity:        e.capacitySchedule(),
			ExperimentStart: e.start,
		})
		e.wg.Add(1)
		go func(i int) {
			defer e.wg.Done()
			err := f.Run(ctx)
			e.register(f)
			if errors.Is(err, flow.ErrTraceWrite) {
				fatal <- err
				stop()
				return
			}
			if err != nil {
				log.Error("flow failed", "flow", i, "error", err)
			}
		}(i)
	}

	e.wg.Wait()
	select {
	case err := <-fatal:
		return err
	default:
		return nil
	}
}

// capacitySchedule builds the emulated capacity schedule from the
// configuration.
func (e *Experiment) capacitySchedule() capacity.Schedule {
	return capacity.Schedule{
		Primary:    e.cfg.EnvBW,
		Secondary:  e.cfg.BW2,
		FlipPeriod: e.cfg.BW2FlipPeriod,
	}
}

// waitUntil sleeps until the given offset on the experiment clock.
func (e *Experiment) waitUntil(ctx context.Context, offset time.Duration) error {
	remaining := time.Until(e.start.Add(offset))
	if remaining <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Experiment) accept() (*netx.Conn, error) {
	conn, err := e.listener.Accept()
	if err != nil {
		return nil, err
	}
	return conn.(*netx.Conn), nil
}

// register records a finished flow in the registry; archival happens on
// eviction.
func (e *Experiment) register(f *flow.Flow) {
	key := f.UUID()
	if key == "" {
		// The flow failed before the handshake; archive under a
		// synthetic key so the failure is still recorded.
		key = fmt.Sprintf("unattached-%d", time.Now().UnixNano())
	}
	// Completed flows are archived within the grace period at the latest;
	// Close flushes them immediately.
	e.flows.Set(key, f, flowCacheGrace)
}

// Close releases the experiment's resources and archives any registered
// flow result that was not archived yet.
func (e *Experiment) Close() error {
	e.listener.Close()
	e.flows.DeleteAll()
	e.stopArchiver()
	e.flows.Stop()
	return e.trace.Close()
}
