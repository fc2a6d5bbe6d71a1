package altkal

import "fmt"

// Measurement standard deviations of the stock sensors.
const (
	SigmaUltrasonic = 0.005 / 2
	SigmaBarometer  = 0.3 / 2
	SigmaGPS        = 10000000.0 / 2
)

// Sensor describes how readings of one Kind enter the filter.
type Sensor struct {
	Channel  Channel // Observation row, NoChannel for process inputs
	Variance float64 // Fixed measurement variance (floor for distance inflation)
	Offset   float64 // Subtracted from every raw reading
}

// SensorTable maps each supported Kind to its Sensor. Kinds missing from the
// table are skipped by the Estimator.
type SensorTable map[Kind]Sensor

// DefaultSensors returns the table for the stock accelerometer, ultrasonic
// rangefinder, barometer and GPS.
func DefaultSensors() SensorTable {
	return SensorTable{
		Accel:      {Channel: NoChannel},
		Ultrasonic: {Channel: ChannelUltrasonic, Variance: SigmaUltrasonic * SigmaUltrasonic},
		Barometer:  {Channel: ChannelBarometer, Variance: SigmaBarometer * SigmaBarometer},
		GPS:        {Channel: ChannelGPS, Variance: SigmaGPS * SigmaGPS},
	}
}

// Validate checks that no two kinds share a channel and that variances are usable.
func (t SensorTable) Validate() error {
	var seen [NumChannels]Kind
	for k, s := range t {
		if k == Unknown {
			return fmt.Errorf("altkal: sensor table cannot contain %s", k)
		}
		if s.Channel == NoChannel {
			continue
		}
		if !s.Channel.valid() {
			return fmt.Errorf("altkal: %s has invalid channel %d", k, s.Channel)
		}
		if seen[s.Channel] != Unknown {
			return fmt.Errorf("altkal: %s and %s both observe the %s channel", seen[s.Channel], k, s.Channel)
		}
		seen[s.Channel] = k
		if s.Variance <= 0 {
			return fmt.Errorf("altkal: %s variance must be positive, got %g", k, s.Variance)
		}
	}
	return nil
}

// WithOffsets returns a copy of t calibrated with the offsets of stream header h.
func (t SensorTable) WithOffsets(h Header) SensorTable {
	c := make(SensorTable, len(t))
	for k, s := range t {
		c[k] = s
	}
	if s, ok := c[Ultrasonic]; ok {
		s.Offset = h.UltrasonicOffset
		c[Ultrasonic] = s
	}
	if s, ok := c[Barometer]; ok {
		s.Offset = h.BarometerOffset
		c[Barometer] = s
	}
	return c
}

// Calibrate returns the raw reading corrected by the sensor offset.
func (s Sensor) Calibrate(raw float64) float64 {
	return raw - s.Offset
}

// channels returns which observation rows are modeled and their fixed variances.
func (t SensorTable) channels() (modeled [NumChannels]bool, fixed vec3) {
	for _, s := range t {
		if s.Channel.valid() {
			modeled[s.Channel] = true
			fixed[s.Channel] = s.Variance
		}
	}
	return
}
