package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/westphae/altfusion/altkal"
)

// Tracker compares the estimates of a run against the situation its log was
// simulated from. It is a report.Sink.
type Tracker struct {
	s    *Situation
	cfg  Config
	from float64 // Elapsed seconds to let the filter settle before scoring

	errs []float64
}

// Tracker returns a Tracker for a log generated with cfg that ignores the first
// from seconds of estimates.
func (s *Situation) Tracker(cfg Config, from float64) *Tracker {
	return &Tracker{s: s, cfg: cfg, from: from}
}

func (tr *Tracker) Write(est altkal.Estimate) error {
	if est.Elapsed < tr.from {
		return nil
	}
	alt, _, err := tr.s.Truth(tr.cfg, est.T)
	if err != nil {
		return fmt.Errorf("sim: step %d: %w", est.Step, err)
	}
	tr.errs = append(tr.errs, est.Altitude-alt)
	return nil
}

func (tr *Tracker) Close() error { return nil }

// Accuracy summarizes the altitude error of the estimates, m.
type Accuracy struct {
	N       int
	Mean    float64 // Bias
	StdDev  float64
	MeanAbs float64
	MaxAbs  float64
}

func (a Accuracy) String() string {
	return fmt.Sprintf("altitude error over %d estimates: mean %+.4f m, stddev %.4f m, mean abs %.4f m, max abs %.4f m",
		a.N, a.Mean, a.StdDev, a.MeanAbs, a.MaxAbs)
}

// Accuracy returns the error statistics of the estimates written so far.
func (tr *Tracker) Accuracy() (a Accuracy) {
	a.N = len(tr.errs)
	if a.N == 0 {
		return a
	}
	a.Mean, a.StdDev = stat.MeanStdDev(tr.errs, nil)
	if a.N == 1 {
		a.StdDev = 0
	}
	abs := make([]float64, a.N)
	for i, e := range tr.errs {
		abs[i] = math.Abs(e)
	}
	a.MeanAbs = stat.Mean(abs, nil)
	a.MaxAbs = floats.Max(abs)
	return a
}
