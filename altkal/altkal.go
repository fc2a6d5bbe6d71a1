package altkal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// Config selects the strategies and tuning of an Estimator.
// Nil strategies and a zero TimeScale take the values of DefaultConfig.
type Config struct {
	Policy      Policy
	Observation ObservationModel
	Inverter    Inverter
	Sensors     SensorTable
	Noise       ProcessNoise

	TimeScale               float64 // Seconds per vehicle clock tick
	InitialVelocityVariance float64 // Initial P[1][1], (m/s)²

	Dropout DropoutFunc  // Optional suppression of measurements, e.g. sensor occlusion
	Logger  *slog.Logger // Defaults to slog.Default()
}

// DefaultConfig integrates accelerometer samples only and corrects with each
// other sensor on its own channel, inverting S element-wise.
func DefaultConfig() Config {
	return Config{
		Policy:                  PredictOnAccelOnly{},
		Observation:             FixedVariance{},
		Inverter:                GuardedDiagonal{},
		Sensors:                 DefaultSensors(),
		Noise:                   ProcessNoise{Offset: DefaultProcessNoiseOffset},
		TimeScale:               DefaultTimeScale,
		InitialVelocityVariance: DefaultInitialVelocityVariance,
	}
}

// AlwaysPredictConfig predicts on every sample and corrects ultrasonic and
// barometer together, inflating their variances with the distance travelled and
// inverting S exactly.
func AlwaysPredictConfig() Config {
	sensors := DefaultSensors()
	delete(sensors, GPS)
	sensors[Barometer] = Sensor{Channel: ChannelBarometer, Variance: 0.5 * 0.5}
	return Config{
		Policy:                  AlwaysPredict{},
		Observation:             DistanceInflated{},
		Inverter:                Exact{},
		Sensors:                 sensors,
		Noise:                   ProcessNoise{Floor: 0.02},
		TimeScale:               DefaultTimeScale,
		InitialVelocityVariance: DefaultInitialVelocityVariance,
	}
}

// Estimator is the altitude Kalman filter. It is not safe for concurrent use.
type Estimator struct {
	cfg Config
	log *slog.Logger

	sensors SensorTable
	modeled [NumChannels]bool
	fixed   vec3

	x vec2 // Altitude, m; vertical velocity, m/s
	p mat2 // Covariance of x
	r vec3 // Measurement variances of the last correction
	z vec3 // Last corrected reading per channel
	s mat3 // Innovation covariance of the last correction

	zValid  [NumChannels]bool
	last    int64   // Vehicle clock of the last accepted measurement
	elapsed float64 // s
	started bool

	anomalies Anomalies
	innov     *innovations
}

// New returns an Estimator for cfg. Call Start (or Run) before Step.
func New(cfg Config) (*Estimator, error) {
	def := DefaultConfig()
	if cfg.Policy == nil {
		cfg.Policy = def.Policy
	}
	if cfg.Observation == nil {
		cfg.Observation = def.Observation
	}
	if cfg.Inverter == nil {
		cfg.Inverter = def.Inverter
	}
	if cfg.Sensors == nil {
		cfg.Sensors = def.Sensors
	}
	if cfg.TimeScale == 0 {
		cfg.TimeScale = def.TimeScale
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := cfg.Sensors.Validate(); err != nil {
		return nil, err
	}
	if cfg.TimeScale < 0 || math.IsInf(cfg.TimeScale, 0) || math.IsNaN(cfg.TimeScale) {
		return nil, fmt.Errorf("altkal: invalid time scale %g", cfg.TimeScale)
	}
	if cfg.Noise.Floor < 0 || cfg.Noise.Offset < 0 {
		return nil, fmt.Errorf("altkal: process noise must not be negative, got %+v", cfg.Noise)
	}
	if cfg.InitialVelocityVariance < 0 {
		return nil, fmt.Errorf("altkal: initial velocity variance must not be negative, got %g", cfg.InitialVelocityVariance)
	}

	return &Estimator{cfg: cfg, log: cfg.Logger}, nil
}

// Config returns the configuration the Estimator runs with.
func (e *Estimator) Config() Config {
	return e.cfg
}

// Start puts the filter into its initial state for a stream opening with h.
func (e *Estimator) Start(h Header) {
	e.sensors = e.cfg.Sensors.WithOffsets(h)
	e.modeled, e.fixed = e.sensors.channels()

	e.x = vec2{0, 0}
	e.p = mat2{{0, 0}, {0, e.cfg.InitialVelocityVariance}}
	e.r = e.fixed
	e.z = vec3{}
	e.s = mat3{}
	e.zValid = [NumChannels]bool{}
	e.last = h.T0
	e.elapsed = 0
	e.anomalies = Anomalies{}
	e.innov = newInnovations()
	e.started = true

	e.log.Debug("AltKal: started", "policy", e.cfg.Policy, "observation", e.cfg.Observation,
		"inverter", e.cfg.Inverter, "t0", h.T0,
		"ultrasonicOffset", h.UltrasonicOffset, "barometerOffset", h.BarometerOffset)
}

// Step processes one measurement. ok is false when the measurement was skipped
// and no Estimate was produced. A *SingularError leaves the state untouched.
func (e *Estimator) Step(m Measurement) (est Estimate, ok bool, err error) {
	if !e.started {
		return est, false, ErrNotReady
	}

	e.anomalies.Total++
	step := e.anomalies.Total

	dt := float64(m.T-e.last) * e.cfg.TimeScale
	if dt < 0 {
		e.anomalies.OutOfOrder++
		var keep bool
		if dt, keep = e.cfg.Policy.Reorder(dt); !keep {
			e.log.Debug("AltKal: dropping out-of-order measurement", "step", step, "kind", m.Kind, "t", m.T, "last", e.last)
			return est, false, nil
		}
	}
	e.last = m.T
	e.elapsed += dt

	sensor, known := e.sensors[m.Kind]
	if !known {
		e.anomalies.Unknown++
		e.log.Warn("AltKal: skipping measurement of unsupported kind", "step", step, "kind", m.Kind, "t", m.T)
		return est, false, nil
	}
	if e.cfg.Dropout != nil && e.cfg.Dropout(step, m) {
		e.anomalies.Dropped++
		e.log.Debug("AltKal: measurement suppressed by dropout", "step", step, "kind", m.Kind, "t", m.T)
		return est, false, nil
	}
	v := sensor.Calibrate(m.Value)

	x, p := e.x, e.p
	if e.cfg.Policy.Predicts(m.Kind) {
		pm := NewProcessModel(dt)
		if m.Kind == Accel {
			x, p = pm.PredictAccel(x, p, v, e.cfg.Noise)
		} else {
			x, p = pm.Predict(x, p)
		}
	}
	predicted := x[0]
	distance := math.Abs(x[0] - e.x[0])

	if e.cfg.Policy.Corrects(m.Kind) {
		z, zValid := e.z, e.zValid
		if sensor.Channel.valid() {
			z[sensor.Channel] = v
			zValid[sensor.Channel] = true
		}

		obs := e.cfg.Observation.Observe(ObservationContext{
			Channel:  sensor.Channel,
			Distance: distance,
			Previous: e.r,
			Fixed:    e.fixed,
			Modeled:  e.modeled,
		})
		h := obs.H()
		pht := p.mulMat23(h.transpose())
		s := h.mulMat23(pht).add(diag3(obs.R))

		sInv, err := e.cfg.Inverter.Invert(s, obs.Rows)
		if err != nil {
			if errors.Is(err, ErrSingular) {
				err = &SingularError{Step: step, SkipRatio: e.anomalies.SkipRatio()}
			}
			e.log.Error("AltKal: can't invert innovation covariance", "step", step, "kind", m.Kind,
				"skipRatio", e.anomalies.SkipRatio())
			return est, false, err
		}

		k := pht.mulMat3(sInv)
		y := z.sub(h.mulVec(x))
		x = x.add(k.mulVec(y))
		p = eye2().sub(k.mulMat32(h)).mul(p)

		if sensor.Channel.valid() {
			e.innov.add(sensor.Channel, y[sensor.Channel])
		}
		e.z, e.zValid = z, zValid
		e.r = obs.R
		e.s = s
	}

	e.x, e.p = x, p
	return e.estimate(step, m, predicted, distance), true, nil
}

func (e *Estimator) estimate(step int, m Measurement, predicted, distance float64) (est Estimate) {
	est.Step = step
	est.T = m.T
	est.Kind = m.Kind
	est.Elapsed = e.elapsed
	est.Altitude = e.x[0]
	est.AltitudeLower, est.AltitudeUpper = bound(e.x[0], e.p[0][0])
	est.Velocity = e.x[1]
	est.VelocityLower, est.VelocityUpper = bound(e.x[1], e.p[1][1])
	est.Predicted = predicted
	est.Distance = distance
	for i := range est.Channels {
		c := &est.Channels[i]
		c.Valid = e.modeled[i] && e.zValid[i]
		c.Value = e.z[i]
		c.Lower, c.Upper = bound(e.z[i], e.s[i][i])
	}
	return est
}

// Run feeds every measurement of s through the filter, handing each Estimate
// to emit. It stops at the end of the stream, on a fatal filter error or when
// emit fails.
func (e *Estimator) Run(s Stream, emit func(Estimate) error) (Anomalies, error) {
	h, err := s.Header()
	if err != nil {
		if !errors.Is(err, ErrNoHeader) {
			err = fmt.Errorf("%w: %v", ErrNoHeader, err)
		}
		return Anomalies{}, err
	}
	e.Start(h)

	for {
		m, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return e.anomalies, err
		}
		est, ok, err := e.Step(m)
		if err != nil {
			return e.anomalies, err
		}
		if ok && emit != nil {
			if err := emit(est); err != nil {
				return e.anomalies, err
			}
		}
	}

	e.log.Info("AltKal: stream finished", "total", e.anomalies.Total, "outOfOrder", e.anomalies.OutOfOrder,
		"skipRatio", e.anomalies.SkipRatio(), "unknown", e.anomalies.Unknown, "dropped", e.anomalies.Dropped)
	return e.anomalies, nil
}

// State returns the current altitude (m) and vertical velocity (m/s).
func (e *Estimator) State() (altitude, velocity float64) {
	return e.x[0], e.x[1]
}

// Covariance returns the current state covariance.
func (e *Estimator) Covariance() [2][2]float64 {
	return e.p
}

// Anomalies returns the counters of the current run.
func (e *Estimator) Anomalies() Anomalies {
	return e.anomalies
}

// Innovations returns the residual statistics of every modeled channel.
func (e *Estimator) Innovations() []InnovationStats {
	var out []InnovationStats
	if e.innov == nil {
		return out
	}
	for i, on := range e.modeled {
		if on {
			out = append(out, e.innov.stats[i])
		}
	}
	return out
}
