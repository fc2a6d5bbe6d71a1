// Package config holds the YAML configuration of the altfusion tools and
// turns it into an altitude filter configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/westphae/altfusion/altkal"
	"github.com/westphae/altfusion/altmqtt"
	"github.com/westphae/altfusion/logging"
	"github.com/westphae/altfusion/logreplay"
	"github.com/westphae/altfusion/sim"
)

// Preset names.
const (
	AccelOnly     = "accel-only"
	AlwaysPredict = "always-predict"
)

// Config is the complete configuration file.
type Config struct {
	Preset  string           `yaml:"preset,omitempty"` // Defaults for everything the file leaves out
	Filter  Filter           `yaml:"filter"`
	Sensors Sensors          `yaml:"sensors"`
	Dropout []Dropout        `yaml:"dropout,omitempty"`
	Replay  logreplay.Layout `yaml:"replay"`
	Sim     sim.Config       `yaml:"sim"`
	Log     logging.Config   `yaml:"log"`
	Output  Output           `yaml:"output"`
	MQTT    altmqtt.Config   `yaml:"mqtt"`
}

// Filter selects the strategies and tuning of the estimator.
type Filter struct {
	Policy      string `yaml:"policy"`      // predict-on-accel-only or always-predict
	Observation string `yaml:"observation"` // fixed or distance-inflated
	Inverter    string `yaml:"inverter"`    // guarded-diagonal or exact

	TimeScale               float64 `yaml:"time_scale"` // Seconds per clock tick
	InitialVelocityVariance float64 `yaml:"initial_velocity_variance"`
	NoiseOffset             float64 `yaml:"noise_offset"` // Added to |a| when scaling Q
	NoiseFloor              float64 `yaml:"noise_floor"`  // Added to the velocity variance of Q
}

// Sensor configures one sensor kind. Sigma is the standard deviation of its
// readings; the filter uses sigma² as measurement variance.
type Sensor struct {
	Channel altkal.Channel `yaml:"channel"`
	Sigma   float64        `yaml:"sigma,omitempty"`
}

// Sensors maps sensor kinds to their configuration.
type Sensors map[altkal.Kind]Sensor

// Dropout suppresses measurements of one kind, either over a range of steps
// (exclusive at both ends) or a range of clock times [from_t, to_t).
type Dropout struct {
	Kind     altkal.Kind `yaml:"kind"`
	FromStep int         `yaml:"from_step,omitempty"`
	ToStep   int         `yaml:"to_step,omitempty"`
	FromT    int64       `yaml:"from_t,omitempty"`
	ToT      int64       `yaml:"to_t,omitempty"`
}

// Output configures the sinks of a replay.
type Output struct {
	CSV    string        `yaml:"csv,omitempty"`
	Plot   string        `yaml:"plot,omitempty"`
	Series string        `yaml:"series"`
	Web    string        `yaml:"web,omitempty"`  // Listen address of the websocket feed
	Wait   time.Duration `yaml:"wait,omitempty"` // Wait for viewers before replaying
	Pace   float64       `yaml:"pace,omitempty"` // Replay speed relative to the log clock, 0 for as fast as possible
	MQTT   bool          `yaml:"mqtt,omitempty"`
}

func sensorsFrom(t altkal.SensorTable) Sensors {
	s := make(Sensors, len(t))
	for k, sensor := range t {
		s[k] = Sensor{Channel: sensor.Channel, Sigma: math.Sqrt(sensor.Variance)}
	}
	return s
}

func base(f altkal.Config, name string) *Config {
	return &Config{
		Preset: name,
		Filter: Filter{
			Policy:                  f.Policy.String(),
			Observation:             f.Observation.String(),
			Inverter:                f.Inverter.String(),
			TimeScale:               f.TimeScale,
			InitialVelocityVariance: f.InitialVelocityVariance,
			NoiseOffset:             f.Noise.Offset,
			NoiseFloor:              f.Noise.Floor,
		},
		Sensors: sensorsFrom(f.Sensors),
		Replay:  logreplay.DefaultLayout(),
		Sim:     sim.DefaultConfig(),
		Log:     logging.DefaultConfig(),
		Output:  Output{Series: "fvubpd2"},
		MQTT:    altmqtt.DefaultConfig(),
	}
}

// Default returns the accel-only preset.
func Default() *Config {
	c := base(altkal.DefaultConfig(), AccelOnly)
	// The rangefinder is blanked between steps 2000 and 2500.
	c.Dropout = []Dropout{{Kind: altkal.Ultrasonic, FromStep: 2000, ToStep: 2500}}
	return c
}

// Preset returns the named preset configuration.
func Preset(name string) (*Config, error) {
	switch name {
	case AccelOnly, "":
		return Default(), nil
	case AlwaysPredict:
		return base(altkal.AlwaysPredictConfig(), name), nil
	}
	return nil, fmt.Errorf("config: unknown preset %q, want %s or %s", name, AccelOnly, AlwaysPredict)
}

// Load reads the configuration at path. Settings missing from the file keep
// the values of the preset named by its preset key, or of Default.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse parses a configuration document.
func Parse(b []byte) (*Config, error) {
	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c, err := Preset(head.Preset)
	if err != nil {
		return nil, err
	}

	// A sensors section replaces the preset's table rather than merging into it.
	var sensors struct {
		Sensors Sensors `yaml:"sensors"`
	}
	if err := yaml.Unmarshal(b, &sensors); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if sensors.Sensors != nil {
		c.Sensors = nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Marshal returns c as a YAML document.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks every section of c.
func (c *Config) Validate() error {
	if _, err := c.Filter.strategies(); err != nil {
		return err
	}
	if _, err := c.Sensors.Table(); err != nil {
		return err
	}
	for _, d := range c.Dropout {
		if err := d.validate(); err != nil {
			return err
		}
	}
	if err := c.Replay.Validate(); err != nil {
		return fmt.Errorf("config: replay: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log: %w", err)
	}
	if c.Output.Pace < 0 {
		return fmt.Errorf("config: output pace must not be negative, got %g", c.Output.Pace)
	}
	return nil
}

type strategies struct {
	policy      altkal.Policy
	observation altkal.ObservationModel
	inverter    altkal.Inverter
}

var (
	policies     = []altkal.Policy{altkal.PredictOnAccelOnly{}, altkal.AlwaysPredict{}}
	observations = []altkal.ObservationModel{altkal.FixedVariance{}, altkal.DistanceInflated{}}
	inverters    = []altkal.Inverter{altkal.GuardedDiagonal{}, altkal.Exact{}}
)

func lookup[T fmt.Stringer](what, name string, all []T) (T, error) {
	var names []string
	for _, s := range all {
		if s.String() == name {
			return s, nil
		}
		names = append(names, s.String())
	}
	var zero T
	return zero, fmt.Errorf("config: unknown %s %q, want one of %s", what, name, strings.Join(names, ", "))
}

func (f Filter) strategies() (s strategies, err error) {
	if s.policy, err = lookup("policy", f.Policy, policies); err != nil {
		return s, err
	}
	if s.observation, err = lookup("observation model", f.Observation, observations); err != nil {
		return s, err
	}
	if s.inverter, err = lookup("inverter", f.Inverter, inverters); err != nil {
		return s, err
	}
	return s, nil
}

// Table returns the sensor table the filter uses.
func (s Sensors) Table() (altkal.SensorTable, error) {
	t := make(altkal.SensorTable, len(s))
	for k, sensor := range s {
		if sensor.Sigma < 0 {
			return nil, fmt.Errorf("config: %s sigma must not be negative", k)
		}
		t[k] = altkal.Sensor{Channel: sensor.Channel, Variance: sensor.Sigma * sensor.Sigma}
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("config: sensors: %w", err)
	}
	return t, nil
}

// Kinds returns the configured sensor kinds in order.
func (s Sensors) Kinds() []altkal.Kind {
	ks := make([]altkal.Kind, 0, len(s))
	for k := range s {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}

func (d Dropout) validate() error {
	if d.Kind == altkal.Unknown {
		return errors.New("config: dropout needs a sensor kind")
	}
	steps := d.FromStep != 0 || d.ToStep != 0
	times := d.FromT != 0 || d.ToT != 0
	switch {
	case steps && times:
		return fmt.Errorf("config: %s dropout sets both a step and a time range", d.Kind)
	case steps && d.ToStep <= d.FromStep:
		return fmt.Errorf("config: %s dropout steps %d..%d are empty", d.Kind, d.FromStep, d.ToStep)
	case times && d.ToT <= d.FromT:
		return fmt.Errorf("config: %s dropout times %d..%d are empty", d.Kind, d.FromT, d.ToT)
	case !steps && !times:
		return fmt.Errorf("config: %s dropout has no range", d.Kind)
	}
	return nil
}

func (d Dropout) fn() altkal.DropoutFunc {
	if d.FromT != 0 || d.ToT != 0 {
		return altkal.TimeWindow(d.Kind, d.FromT, d.ToT)
	}
	return altkal.StepWindow(d.Kind, d.FromStep, d.ToStep)
}

// DropoutFunc combines every configured dropout; nil when there is none.
func (c *Config) DropoutFunc() altkal.DropoutFunc {
	if len(c.Dropout) == 0 {
		return nil
	}
	fns := make([]altkal.DropoutFunc, len(c.Dropout))
	for i, d := range c.Dropout {
		fns[i] = d.fn()
	}
	return func(step int, m altkal.Measurement) bool {
		for _, fn := range fns {
			if fn(step, m) {
				return true
			}
		}
		return false
	}
}

// Estimator returns the filter configuration described by c.
func (c *Config) Estimator(logger *slog.Logger) (altkal.Config, error) {
	s, err := c.Filter.strategies()
	if err != nil {
		return altkal.Config{}, err
	}
	table, err := c.Sensors.Table()
	if err != nil {
		return altkal.Config{}, err
	}
	return altkal.Config{
		Policy:                  s.policy,
		Observation:             s.observation,
		Inverter:                s.inverter,
		Sensors:                 table,
		Noise:                   altkal.ProcessNoise{Offset: c.Filter.NoiseOffset, Floor: c.Filter.NoiseFloor},
		TimeScale:               c.Filter.TimeScale,
		InitialVelocityVariance: c.Filter.InitialVelocityVariance,
		Dropout:                 c.DropoutFunc(),
		Logger:                  logger,
	}, nil
}
