package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/westphae/altfusion/logging"
	"github.com/westphae/altfusion/logreplay"
	"github.com/westphae/altfusion/sim"
)

func scenario(name string) (*sim.Situation, error) {
	situation, ok := sim.Scenarios[name]
	if !ok {
		names := make([]string, 0, len(sim.Scenarios))
		for n := range sim.Scenarios {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown scenario %q, want one of %s", name, strings.Join(names, ", "))
	}
	return situation, nil
}

func doSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("scenario")
	out, _ := cmd.Flags().GetString("out")
	if cmd.Flags().Changed("jitter") {
		cfg.Sim.Jitter, _ = cmd.Flags().GetFloat64("jitter")
	}
	if seed, _ := cmd.Flags().GetInt64("seed"); seed != 0 {
		cfg.Sim.Seed = seed
	}

	situation, err := scenario(name)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	h, ms, err := situation.Log(cfg.Sim)
	if err != nil {
		return err
	}
	w, err := logreplay.Create(out, cfg.Replay)
	if err != nil {
		return err
	}
	if err := w.WriteHeader(h); err != nil {
		return errors.Join(err, w.Close())
	}
	for _, m := range ms {
		if err := w.Write(m); err != nil {
			return errors.Join(err, w.Close())
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	logger.Info("Replay: wrote simulated log", "scenario", name, "path", out,
		"measurements", len(ms), "seconds", situation.EndTime()-situation.BeginTime())
	return nil
}
