package altkal

import "math"

// ObservationContext is what an ObservationModel sees when a correction is due.
type ObservationContext struct {
	Channel  Channel              // Channel measured this step, NoChannel for accelerometer steps
	Distance float64              // Altitude travelled during the time update, m
	Previous [NumChannels]float64 // Variances used on the previous correction
	Fixed    [NumChannels]float64 // Fixed variances from the sensor table
	Modeled  [NumChannels]bool    // Channels present in the sensor table
}

// Observation selects which channels observe altitude this step and their noise.
type Observation struct {
	Rows [NumChannels]bool    // Row i of H is [1 0] when set, zero otherwise
	R    [NumChannels]float64 // Diagonal of the measurement noise covariance
}

// H returns the observation matrix.
func (o Observation) H() (h mat32) {
	for i, on := range o.Rows {
		if on {
			h[i][0] = 1
		}
	}
	return h
}

// ObservationModel builds H and R for a correction.
type ObservationModel interface {
	Observe(c ObservationContext) Observation
	String() string
}

// FixedVariance observes only the measured channel, with its fixed variance.
type FixedVariance struct{}

func (FixedVariance) Observe(c ObservationContext) (o Observation) {
	if c.Channel.valid() && c.Modeled[c.Channel] {
		o.Rows[c.Channel] = true
		o.R[c.Channel] = c.Fixed[c.Channel]
	}
	return o
}

func (FixedVariance) String() string { return "fixed" }

// DistanceInflated observes every modeled channel with its last held reading.
// Each variance grows with the distance travelled since it was last measured and
// the measured channel falls back to its fixed floor.
type DistanceInflated struct{}

func (DistanceInflated) Observe(c ObservationContext) (o Observation) {
	for i, on := range c.Modeled {
		if !on {
			continue
		}
		o.Rows[i] = true
		o.R[i] = InflateVariance(c.Previous[i], c.Distance)
	}
	if c.Channel.valid() && c.Modeled[c.Channel] {
		o.R[c.Channel] = c.Fixed[c.Channel]
	}
	return o
}

func (DistanceInflated) String() string { return "distance-inflated" }

// InflateVariance widens the standard deviation of r by half of dx:
// ((√r·2 + dx)/2)². Anything not finite becomes +Inf.
func InflateVariance(r, dx float64) float64 {
	v := (math.Sqrt(r)*2 + dx) / 2
	v *= v
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}
