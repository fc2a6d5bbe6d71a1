package altkal

import "fmt"

// Anomalies counts what the estimator had to skip over a run.
type Anomalies struct {
	Total      int // Measurements pulled from the stream
	OutOfOrder int // Measurements whose elapsed time was negative
	Unknown    int // Measurements of a kind missing from the sensor table
	Dropped    int // Measurements suppressed by the dropout predicate
}

// SkipRatio returns the share of out-of-order measurements in percent.
func (a Anomalies) SkipRatio() float64 {
	if a.Total == 0 {
		return 0
	}
	return 100.0 * float64(a.OutOfOrder) / float64(a.Total)
}

func (a Anomalies) String() string {
	return fmt.Sprintf("%d of %d measurements skipped (%.2f%%), %d unknown, %d dropped",
		a.OutOfOrder, a.Total, a.SkipRatio(), a.Unknown, a.Dropped)
}
