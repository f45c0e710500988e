// Command tcpdatagen-server runs one congestion-control measurement
// experiment: it streams payload data to scheduled client flows while
// sampling kernel TCP statistics and writing the per-tick trace.
//
// Usage:
//
//	tcpdatagen-server [flags] port flow_interval_csv env_bw_mbps scheme \
//	    delay_ms log_file_prefix duration_s loss_rate timestamp_start \
//	    bw2_mbps bw2_flip_period_s
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/Aruuni/tcpdatagen/internal/experiment"
	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/spec"
)

var (
	flagReportPeriod = flag.Duration("report.period", spec.ReportPeriod,
		"Interval between kernel statistics queries; one trace row per interval")
	flagShortWindow = flag.Duration("window.short", spec.ShortWindow,
		"Short aggregation timescale")
	flagMediumWindow = flag.Duration("window.medium", spec.MediumWindow,
		"Medium aggregation timescale")
	flagLongWindow = flag.Duration("window.long", spec.LongWindow,
		"Long aggregation timescale")
	flagBWNorm = flag.Float64("bw.norm", spec.DefaultBWNormFactor,
		"Bandwidth normalization factor in Mbps")
	flagRewardThroughput = flag.Float64("reward.throughput",
		spec.DefaultRewardThroughputWeight, "Reward weight of the delivered rate")
	flagRewardLoss = flag.Float64("reward.loss",
		spec.DefaultRewardLossWeight, "Reward penalty weight of the loss rate")
	flagRewardGradient = flag.Float64("reward.gradient",
		spec.DefaultRewardGradientWeight, "Reward penalty weight of a rising RTT trend")
	flagConfiguredBaseRTT = flag.Bool("base-rtt.configured", false,
		"Use 2x the configured one-way delay as the base RTT for the queue delay proxy")
	flagDataDir = flag.String("datadir", "./data",
		"Directory to store per-flow archival results in")
)

func main() {
	flag.Parse()

	log.SetReportCaller(true)
	log.SetReportTimestamp(true)
	log.SetLevel(log.DebugLevel)

	cfg, err := experiment.ParseArgs(flag.Args())
	rtx.Must(err, "invalid configuration")
	cfg.ReportPeriod = *flagReportPeriod
	cfg.ShortWindow = *flagShortWindow
	cfg.MediumWindow = *flagMediumWindow
	cfg.LongWindow = *flagLongWindow
	cfg.BWNormFactor = *flagBWNorm
	cfg.RewardThroughputWeight = *flagRewardThroughput
	cfg.RewardLossWeight = *flagRewardLoss
	cfg.RewardGradientWeight = *flagRewardGradient
	cfg.UseConfiguredBaseRTT = *flagConfiguredBaseRTT
	cfg.DataDir = *flagDataDir

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	// Failed preconditions here (unknown scheme, bind failure, trace file
	// open failure) cannot be recovered at runtime.
	e, err := experiment.New(cfg)
	rtx.Must(err, "cannot start experiment")

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	err = e.Run(ctx)
	closeErr := e.Close()
	if err != nil {
		log.Fatal("experiment aborted", "error", err)
	}
	if closeErr != nil {
		log.Fatal("shutdown failed", "error", closeErr)
	}
	log.Info("experiment complete", "runtime", time.Since(start),
		"trace", cfg.TracePath())
}
