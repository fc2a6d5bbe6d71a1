package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/westphae/altfusion/altkal"
	"github.com/westphae/altfusion/altmqtt"
	"github.com/westphae/altfusion/altweb"
	"github.com/westphae/altfusion/config"
	"github.com/westphae/altfusion/logging"
	"github.com/westphae/altfusion/logreplay"
	"github.com/westphae/altfusion/report"
	"github.com/westphae/altfusion/sim"
)

// settle is how long the filter runs before it is scored against the truth, s.
const settle = 1.0

// replayFlags copies the replay flags that were set over cfg.
func replayFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	for name, dst := range map[string]*string{
		"policy":      &cfg.Filter.Policy,
		"observation": &cfg.Filter.Observation,
		"inverter":    &cfg.Filter.Inverter,
		"csv":         &cfg.Output.CSV,
		"plot":        &cfg.Output.Plot,
		"series":      &cfg.Output.Series,
		"web":         &cfg.Output.Web,
		"broker":      &cfg.MQTT.Broker,
		"topic":       &cfg.MQTT.Topic,
	} {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	if f.Changed("wait") {
		cfg.Output.Wait, _ = f.GetDuration("wait")
	}
	if f.Changed("pace") {
		cfg.Output.Pace, _ = f.GetFloat64("pace")
	}
	if f.Changed("mqtt") {
		cfg.Output.MQTT, _ = f.GetBool("mqtt")
	}
}

func doReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	replayFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	kcfg, err := cfg.Estimator(logger)
	if err != nil {
		return err
	}
	estimator, err := altkal.New(kcfg)
	if err != nil {
		return err
	}

	r, err := logreplay.Open(args[0], cfg.Replay, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		sinks   report.Multi
		pub     *altmqtt.Publisher
		tracker *sim.Tracker
	)
	closeSinks := func() error { return sinks.Close() }

	if name, _ := cmd.Flags().GetString("truth"); name != "" {
		situation, err := scenario(name)
		if err != nil {
			return err
		}
		h, err := r.Header()
		if err != nil {
			return err
		}
		simCfg := cfg.Sim
		simCfg.T0 = h.T0
		tracker = situation.Tracker(simCfg, settle)
		sinks = append(sinks, tracker)
	}

	if cfg.Output.CSV != "" {
		c, err := report.CreateCSV(cfg.Output.CSV)
		if err != nil {
			return err
		}
		sinks = append(sinks, c)
	}
	if cfg.Output.Plot != "" {
		series, err := report.ParseSeries(cfg.Output.Series)
		if err != nil {
			return errors.Join(err, closeSinks())
		}
		p := report.NewPlot(cfg.Output.Plot, series)
		p.Title = filepath.Base(args[0])
		sinks = append(sinks, p)
	}
	if cfg.Output.MQTT {
		if pub, err = altmqtt.Dial(cfg.MQTT, logger); err != nil {
			return errors.Join(err, closeSinks())
		}
		sinks = append(sinks, pub)
	}
	if cfg.Output.Web != "" {
		room := serveWeb(ctx, cfg.Output.Web, logger)
		waitForViewer(ctx, room, cfg.Output.Wait, logger)
		sinks = append(sinks, room)
	}

	anomalies, runErr := estimator.Run(r, paced(ctx, cfg.Output.Pace, sinks.Write))

	var sumErr error
	if pub != nil {
		sumErr = pub.PublishSummary(anomalies, estimator.Innovations())
	}
	closeErr := closeSinks()
	if r.Skipped() > 0 {
		logger.Warn("Replay: skipped malformed rows", "path", args[0], "rows", r.Skipped())
	}
	if err := report.WriteSummary(cmd.OutOrStdout(), anomalies, estimator.Innovations()); err != nil {
		return err
	}
	if tracker != nil {
		fmt.Fprintln(cmd.OutOrStdout(), tracker.Accuracy())
	}
	return errors.Join(runErr, sumErr, closeErr)
}

// serveWeb starts a room and serves it on addr until ctx is done.
func serveWeb(ctx context.Context, addr string, logger *slog.Logger) *altweb.Room {
	room := altweb.NewRoom(logger)
	room.Start(ctx)
	go func() {
		if err := altweb.ListenAndServe(ctx, addr, altweb.NewHandler(room), logger); err != nil {
			logger.Error("AltWeb: server stopped", "addr", addr, "err", err)
		}
	}()
	return room
}

func waitForViewer(ctx context.Context, room *altweb.Room, wait time.Duration, logger *slog.Logger) {
	if wait <= 0 {
		return
	}
	logger.Info("AltWeb: waiting for a viewer", "timeout", wait)
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for room.Clients() == 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			logger.Warn("AltWeb: no viewer connected, replaying anyway")
			return
		case <-tick.C:
		}
	}
}

// paced delays each estimate until its elapsed time, divided by pace, has passed
// on the wall clock. A pace of zero emits as fast as possible.
func paced(ctx context.Context, pace float64, emit func(altkal.Estimate) error) func(altkal.Estimate) error {
	if pace <= 0 {
		return emit
	}
	var start time.Time
	return func(est altkal.Estimate) error {
		if start.IsZero() {
			start = time.Now()
		}
		due := start.Add(time.Duration(est.Elapsed / pace * float64(time.Second)))
		if d := time.Until(due); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		return emit(est)
	}
}
