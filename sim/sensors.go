package sim

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/westphae/altfusion/altkal"
)

// Sensor describes how one sensor samples a Situation.
type Sensor struct {
	Kind   altkal.Kind   `yaml:"kind"`
	Period time.Duration `yaml:"period"`
	Phase  time.Duration `yaml:"phase"` // Delay of the first sample after the start
	Noise  float64       `yaml:"noise"` // Gaussian stdev, m or m/s²
	Bias   float64       `yaml:"bias"`
}

// Config controls the log generated from a Situation.
type Config struct {
	Sensors []Sensor `yaml:"sensors"`

	T0               int64   `yaml:"t0"`                // Vehicle clock at the start, µs
	UltrasonicOffset float64 `yaml:"ultrasonic_offset"` // Ultrasonic reading on the ground, m
	BarometerOffset  float64 `yaml:"barometer_offset"`  // Barometric altitude of the ground, m

	Jitter float64 `yaml:"jitter"` // Probability of a sample being logged before its predecessor
	Seed   int64   `yaml:"seed"`
}

// DefaultConfig samples the accelerometer at 100 Hz, the ultrasonic sensor at
// 20 Hz, the barometer at 10 Hz and GPS at 1 Hz.
func DefaultConfig() Config {
	return Config{
		Sensors: []Sensor{
			{Kind: altkal.Accel, Period: 10 * time.Millisecond, Noise: 0.05},
			{Kind: altkal.Ultrasonic, Period: 50 * time.Millisecond, Phase: 3 * time.Millisecond, Noise: 0.01},
			{Kind: altkal.Barometer, Period: 100 * time.Millisecond, Phase: 7 * time.Millisecond, Noise: 0.15},
			{Kind: altkal.GPS, Period: time.Second, Phase: 505 * time.Millisecond, Noise: 2},
		},
		T0:               1000000,
		UltrasonicOffset: 0.12,
		BarometerOffset:  451.5,
		Seed:             1,
	}
}

// Log samples the situation with every sensor of cfg and returns the header and
// the measurements in logging order.
func (s *Situation) Log(cfg Config) (altkal.Header, []altkal.Measurement, error) {
	h := altkal.Header{T0: cfg.T0, UltrasonicOffset: cfg.UltrasonicOffset, BarometerOffset: cfg.BarometerOffset}
	rnd := rand.New(rand.NewSource(cfg.Seed))

	var ms []altkal.Measurement
	for _, sensor := range cfg.Sensors {
		if sensor.Period <= 0 {
			return h, nil, fmt.Errorf("sim: %s sensor needs a positive period", sensor.Kind)
		}
		for k := 0; ; k++ {
			dt := sensor.Phase + time.Duration(k)*sensor.Period
			t := s.BeginTime() + dt.Seconds()
			if t > s.EndTime() {
				break
			}
			alt, _, az, err := s.Interpolate(t)
			if err != nil {
				return h, nil, err
			}

			v := sensor.Bias + sensor.Noise*rnd.NormFloat64()
			switch sensor.Kind {
			case altkal.Accel:
				v += az
			case altkal.Ultrasonic:
				v += alt + cfg.UltrasonicOffset
			case altkal.Barometer:
				v += alt + cfg.BarometerOffset
			case altkal.GPS:
				v += alt
			default:
				return h, nil, fmt.Errorf("sim: can't simulate %s sensor", sensor.Kind)
			}
			ms = append(ms, altkal.Measurement{T: cfg.T0 + dt.Microseconds(), Kind: sensor.Kind, Value: v})
		}
	}

	sort.SliceStable(ms, func(i, j int) bool { return ms[i].T < ms[j].T })
	if cfg.Jitter > 0 {
		for i := 1; i < len(ms); i++ {
			if rnd.Float64() < cfg.Jitter {
				ms[i-1], ms[i] = ms[i], ms[i-1]
				i++
			}
		}
	}
	return h, ms, nil
}

// Stream returns the log of the situation as a stream.
func (s *Situation) Stream(cfg Config) (*altkal.SliceStream, error) {
	h, ms, err := s.Log(cfg)
	if err != nil {
		return nil, err
	}
	return altkal.NewSliceStream(h, ms...), nil
}

// Truth returns the altitude of the situation at vehicle clock time t of a log
// generated with cfg.
func (s *Situation) Truth(cfg Config, t int64) (alt, vz float64, err error) {
	tt := s.BeginTime() + float64(t-cfg.T0)*1e-6
	// Clock ticks are rounded; don't fall off the last sample.
	if tt > s.EndTime() && tt-s.EndTime() < 1e-6 {
		tt = s.EndTime()
	}
	alt, vz, _, err = s.Interpolate(tt)
	return alt, vz, err
}
