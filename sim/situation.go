// Package sim generates synthetic sensor logs from scripted vertical flight
// profiles, for exercising the altitude filter against a known truth.
package sim

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrOutOfRange is returned when a time outside of a Situation is requested.
var ErrOutOfRange = errors.New("sim: requested time is outside of scenario")

// Situation defines a vertical flight by a piecewise-linear climb rate.
// Altitude is its integral and is piecewise quadratic.
type Situation struct {
	t   []float64 // Times, s
	vz  []float64 // Climb rate, m/s
	alt []float64 // Altitude at each time, m (derived)
}

// NewSituation returns a Situation starting at altitude alt0 and climbing at vz[i]
// at time t[i], linear in between.
func NewSituation(alt0 float64, t, vz []float64) (*Situation, error) {
	if len(t) < 2 || len(t) != len(vz) {
		return nil, fmt.Errorf("sim: need at least two matching times and climb rates, got %d and %d", len(t), len(vz))
	}
	if !sort.Float64sAreSorted(t) {
		return nil, errors.New("sim: times must be increasing")
	}
	s := &Situation{t: t, vz: vz, alt: make([]float64, len(t))}
	s.alt[0] = alt0
	for i := 1; i < len(t); i++ {
		s.alt[i] = s.alt[i-1] + 0.5*(vz[i-1]+vz[i])*(t[i]-t[i-1])
	}
	return s, nil
}

// BeginTime returns the time when the situation begins.
func (s *Situation) BeginTime() float64 {
	return s.t[0]
}

// EndTime returns the time when the situation ends.
func (s *Situation) EndTime() float64 {
	return s.t[len(s.t)-1]
}

// Interpolate returns altitude (m), climb rate (m/s) and vertical acceleration
// (m/s²) at time t.
func (s *Situation) Interpolate(t float64) (alt, vz, az float64, err error) {
	if t < s.t[0] || t > s.t[len(s.t)-1] || math.IsNaN(t) {
		return 0, 0, 0, ErrOutOfRange
	}
	ix := 0
	if t > s.t[0] {
		ix = sort.SearchFloat64s(s.t, t) - 1
	}
	if ix >= len(s.t)-1 {
		ix = len(s.t) - 2
	}

	ddt := s.t[ix+1] - s.t[ix]
	if ddt == 0 {
		return s.alt[ix+1], s.vz[ix+1], 0, nil
	}
	az = (s.vz[ix+1] - s.vz[ix]) / ddt
	dt := t - s.t[ix]
	vz = s.vz[ix] + az*dt
	alt = s.alt[ix] + s.vz[ix]*dt + 0.5*az*dt*dt
	return alt, vz, az, nil
}

// Hover lifts off, hovers at 1.5 m, and lands again.
var Hover = mustSituation(0,
	[]float64{0, 2, 3, 5, 6, 16, 17, 19, 20, 22},
	[]float64{0, 0, 0.5, 0.5, 0, 0, -0.5, -0.5, 0, 0},
)

// Steps climbs in three stages of 1.5 m with short hovers in between, and
// descends in one go.
var Steps = mustSituation(0,
	[]float64{0, 1, 1.5, 2.5, 3, 5, 5.5, 6.5, 7, 9, 9.5, 10.5, 11, 13, 14, 18, 19, 21},
	[]float64{0, 0, 1, 1, 0, 0, 1, 1, 0, 0, 1, 1, 0, 0, -0.9, -0.9, 0, 0},
)

// Scenarios holds the predefined situations by name.
var Scenarios = map[string]*Situation{
	"hover": Hover,
	"steps": Steps,
}

func mustSituation(alt0 float64, t, vz []float64) *Situation {
	s, err := NewSituation(alt0, t, vz)
	if err != nil {
		panic(err)
	}
	return s
}
