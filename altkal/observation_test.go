package altkal

import (
	"errors"
	"math"
	"testing"
)

var allModeled = [NumChannels]bool{true, true, true}

func TestFixedVarianceObservation(t *testing.T) {
	fixed := [NumChannels]float64{1, 2, 3}
	for ch := ChannelUltrasonic; ch <= ChannelGPS; ch++ {
		o := FixedVariance{}.Observe(ObservationContext{Channel: ch, Distance: 5, Fixed: fixed, Modeled: allModeled})
		for i := 0; i < NumChannels; i++ {
			if o.Rows[i] != (Channel(i) == ch) {
				t.Errorf("%s: row %d active=%t", ch, i, o.Rows[i])
			}
			want := 0.0
			if Channel(i) == ch {
				want = fixed[i]
			}
			if o.R[i] != want {
				t.Errorf("%s: R[%d]=%g, want %g", ch, i, o.R[i], want)
			}
		}
		h := o.H()
		if h[ch] != [2]float64{1, 0} {
			t.Errorf("%s: H row is %v", ch, h[ch])
		}
	}

	o := FixedVariance{}.Observe(ObservationContext{Channel: NoChannel, Fixed: fixed, Modeled: allModeled})
	if o.H() != (mat32{}) || o.R != [NumChannels]float64{} {
		t.Errorf("accelerometer observation should be empty, got %+v", o)
	}
}

func TestDistanceInflatedObservation(t *testing.T) {
	prev := [NumChannels]float64{0.04, 1, 4}
	fixed := [NumChannels]float64{0.01, 0.25, 9}
	modeled := [NumChannels]bool{true, true, false}

	o := DistanceInflated{}.Observe(ObservationContext{
		Channel:  ChannelBarometer,
		Distance: 0.2,
		Previous: prev,
		Fixed:    fixed,
		Modeled:  modeled,
	})
	if !o.Rows[0] || !o.Rows[1] || o.Rows[2] {
		t.Errorf("rows %v, want modeled channels only", o.Rows)
	}
	// ((0.2*2 + 0.2)/2)² = 0.09
	if math.Abs(o.R[0]-0.09) > eps {
		t.Errorf("inflated ultrasonic variance %g, want 0.09", o.R[0])
	}
	if o.R[1] != fixed[1] {
		t.Errorf("measured channel variance %g, want floor %g", o.R[1], fixed[1])
	}
	if o.R[2] != 0 {
		t.Errorf("unmodeled channel variance %g, want 0", o.R[2])
	}
}

func TestInflateVariance(t *testing.T) {
	if v := InflateVariance(1, 0); v != 1 {
		t.Errorf("no distance should keep variance, got %g", v)
	}
	if v := InflateVariance(1, 2); math.Abs(v-4) > eps {
		t.Errorf("got %g, want 4", v)
	}
	if v := InflateVariance(math.MaxFloat64, 0); math.IsInf(v, 0) || math.IsNaN(v) {
		t.Errorf("largest finite variance without distance should stay finite, got %g", v)
	}
	for _, c := range []struct{ r, dx float64 }{
		{math.MaxFloat64, 1e154},
		{1, math.MaxFloat64},
		{math.Inf(1), 1},
		{math.NaN(), 1},
	} {
		if v := InflateVariance(c.r, c.dx); !math.IsInf(v, 1) {
			t.Errorf("InflateVariance(%g, %g) = %g, want +Inf", c.r, c.dx, v)
		}
	}
}

func TestGuardedDiagonal(t *testing.T) {
	s := mat3{{4, 1, 0}, {1, 0, 0}, {0, 0, 0.5}}
	x, err := GuardedDiagonal{}.Invert(s, allModeled)
	if err != nil {
		t.Fatal(err)
	}
	want := mat3{{0.25, 1, 0}, {1, 0, 0}, {0, 0, 2}}
	if x != want {
		t.Errorf("got %v, want %v", x, want)
	}
}

func TestExactInverse(t *testing.T) {
	s := mat3{{2, 1, 0}, {1, 3, 0}, {0, 0, 0}}
	modeled := [NumChannels]bool{true, true, false}
	x, err := Exact{}.Invert(s, modeled)
	if err != nil {
		t.Fatal(err)
	}
	// Inverse of [[2 1] [1 3]] is [[3 -1] [-1 2]]/5
	want := mat3{{0.6, -0.2, 0}, {-0.2, 0.4, 0}, {0, 0, 0}}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(x[i][j]-want[i][j]) > eps {
				t.Errorf("x[%d][%d]=%g, want %g", i, j, x[i][j], want[i][j])
			}
		}
	}

	if _, err := (Exact{}).Invert(s, allModeled); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular with a zero observed row, got %v", err)
	}
}

func TestExactInverseCutsInfiniteChannels(t *testing.T) {
	s := mat3{{math.Inf(1), 1, 0}, {1, 2, 0}, {0, 0, 4}}
	x, err := Exact{}.Invert(s, allModeled)
	if err != nil {
		t.Fatal(err)
	}
	want := mat3{{0, 0, 0}, {0, 0.5, 0}, {0, 0, 0.25}}
	if x != want {
		t.Errorf("got %v, want %v", x, want)
	}

	if _, err := (Exact{}).Invert(s, [NumChannels]bool{}); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular with nothing observed, got %v", err)
	}
}
