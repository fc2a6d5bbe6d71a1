package report

import (
	"fmt"
	"io"

	"github.com/westphae/altfusion/altkal"
)

// Summary describes how much of a stream was skipped.
func Summary(a altkal.Anomalies) string {
	return fmt.Sprintf("%d of %d measurements skipped, %.2f%%", a.OutOfOrder, a.Total, a.SkipRatio())
}

// WriteSummary writes the skip summary followed by one line of residual
// statistics per observation channel.
func WriteSummary(w io.Writer, a altkal.Anomalies, stats []altkal.InnovationStats) error {
	if _, err := fmt.Fprintln(w, Summary(a)); err != nil {
		return err
	}
	if a.Unknown > 0 || a.Dropped > 0 {
		if _, err := fmt.Fprintf(w, "%d of unsupported kind, %d suppressed\n", a.Unknown, a.Dropped); err != nil {
			return err
		}
	}
	for _, s := range stats {
		if _, err := fmt.Fprintf(w, "%-10s residual mean %+.4f, variance %.6f (weight %.1f)\n",
			s.Channel, s.Mean, s.Variance, s.N); err != nil {
			return err
		}
	}
	return nil
}
