// Package altkal implements an asynchronous, multi-rate Kalman filter estimating the
// altitude and vertical velocity of a small aircraft from accelerometer, ultrasonic,
// barometer and GPS measurements.
package altkal

import (
	"errors"
	"fmt"
	"math"
)

const (
	NumChannels = 3 // Ultrasonic, Barometer, GPS

	DefaultTimeScale               = 1e-6 // Vehicle clock ticks are µs
	DefaultInitialVelocityVariance = 0.1
	DefaultProcessNoiseOffset      = 0.35
)

// Channel is the observation row a sensor feeds; NoChannel for the accelerometer,
// which drives the process model instead.
type Channel int

const (
	NoChannel Channel = iota - 1
	ChannelUltrasonic
	ChannelBarometer
	ChannelGPS
)

func (c Channel) String() string {
	switch c {
	case ChannelUltrasonic:
		return "ultrasonic"
	case ChannelBarometer:
		return "barometer"
	case ChannelGPS:
		return "gps"
	}
	return "none"
}

func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(b []byte) error {
	for _, ch := range []Channel{NoChannel, ChannelUltrasonic, ChannelBarometer, ChannelGPS} {
		if ch.String() == string(b) {
			*c = ch
			return nil
		}
	}
	return fmt.Errorf("altkal: unknown channel %q", string(b))
}

func (c Channel) valid() bool {
	return c >= 0 && c < NumChannels
}

// Kind tags the sensor a measurement came from.
type Kind int

const (
	Unknown Kind = iota
	Accel
	Ultrasonic
	Barometer
	GPS
)

var kindNames = map[Kind]string{
	Unknown:    "unknown",
	Accel:      "accel",
	Ultrasonic: "ultrasonic",
	Barometer:  "barometer",
	GPS:        "gps",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the Kind with the given name, or Unknown.
func ParseKind(s string) Kind {
	for k, n := range kindNames {
		if n == s {
			return k
		}
	}
	return Unknown
}

// MarshalText lets kinds show up by name in JSON and YAML.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	if *k == Unknown && string(b) != "unknown" {
		return fmt.Errorf("altkal: unknown sensor kind %q", string(b))
	}
	return nil
}

// Header is the one-time record that opens a measurement stream.
type Header struct {
	T0               int64   // Vehicle clock at stream start
	UltrasonicOffset float64 // Ultrasonic reading when standing on the ground, m
	BarometerOffset  float64 // Barometer altitude when standing on the ground, m
}

// Measurement is a single raw sensor sample.
type Measurement struct {
	T     int64   // Vehicle clock
	Kind  Kind    // Sensor that produced Value
	Value float64 // Raw reading: m/s² for Accel, m otherwise
}

// ChannelEcho is the corrected reading held for one observation channel, with the
// innovation bounds used for it on this step.
type ChannelEcho struct {
	Valid bool    `json:"valid"`
	Value float64 `json:"value"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Estimate is emitted once for every processed measurement.
type Estimate struct {
	Step    int     `json:"step"`    // 1-based index of the measurement in the stream
	T       int64   `json:"t"`       // Vehicle clock of the measurement
	Kind    Kind    `json:"kind"`    // Kind of the measurement
	Elapsed float64 `json:"elapsed"` // Seconds since stream start

	Altitude      float64 `json:"altitude"` // m
	AltitudeLower float64 `json:"altitudeLower"`
	AltitudeUpper float64 `json:"altitudeUpper"`
	Velocity      float64 `json:"velocity"` // m/s
	VelocityLower float64 `json:"velocityLower"`
	VelocityUpper float64 `json:"velocityUpper"`

	Predicted float64 `json:"predicted"` // Altitude after the time update
	Distance  float64 `json:"distance"`  // Altitude travelled during the time update

	Channels [NumChannels]ChannelEcho `json:"channels"`
}

// Finite returns a copy of est that encoding/json accepts: infinite values are
// clamped to ±math.MaxFloat64 and NaNs zeroed.
func (est Estimate) Finite() Estimate {
	for _, v := range []*float64{&est.Elapsed, &est.Altitude, &est.AltitudeLower, &est.AltitudeUpper,
		&est.Velocity, &est.VelocityLower, &est.VelocityUpper, &est.Predicted, &est.Distance} {
		*v = finite(*v)
	}
	for i := range est.Channels {
		c := &est.Channels[i]
		c.Value, c.Lower, c.Upper = finite(c.Value), finite(c.Lower), finite(c.Upper)
	}
	return est
}

func finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

var (
	ErrNoHeader = errors.New("altkal: missing or malformed stream header")
	ErrSingular = errors.New("altkal: singular innovation covariance")
	ErrNotReady = errors.New("altkal: estimator not started")
)

// SingularError reports the step at which an exact inversion failed.
type SingularError struct {
	Step      int
	SkipRatio float64
}

func (e *SingularError) Error() string {
	return fmt.Sprintf("altkal: singular innovation covariance at step %d (%.2f%% skipped)", e.Step, e.SkipRatio)
}

func (e *SingularError) Unwrap() error {
	return ErrSingular
}

// bound returns v ± 2σ for variance variance.
func bound(v, variance float64) (lower, upper float64) {
	d := 2 * math.Sqrt(math.Abs(variance))
	return v - d, v + d
}
