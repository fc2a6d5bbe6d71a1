package altkal

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/skelterjohn/go.matrix"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEstimator(t *testing.T, cfg Config) *Estimator {
	t.Helper()
	cfg.Logger = quietLogger()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	return e
}

func collect(t *testing.T, e *Estimator, s Stream) ([]Estimate, Anomalies, error) {
	t.Helper()
	var out []Estimate
	a, err := e.Run(s, func(est Estimate) error {
		out = append(out, est)
		return nil
	})
	return out, a, err
}

// A single ultrasonic reading moves the altitude towards it by P/(P+R) and
// never past it.
func TestSingleUltrasonicCorrection(t *testing.T) {
	for _, policy := range []Policy{PredictOnAccelOnly{}, AlwaysPredict{}} {
		cfg := DefaultConfig()
		cfg.Policy = policy
		e := newEstimator(t, cfg)

		ests, _, err := collect(t, e, NewSliceStream(Header{},
			Measurement{T: 1000, Kind: Ultrasonic, Value: 1.0}))
		if err != nil {
			t.Fatalf("%s: %s", policy, err)
		}
		if len(ests) != 1 {
			t.Fatalf("%s: got %d estimates, want 1", policy, len(ests))
		}

		dt := 1000 * DefaultTimeScale
		pPrior := 0.0
		if policy.Predicts(Ultrasonic) {
			pPrior = dt * dt * DefaultInitialVelocityVariance
		}
		r := SigmaUltrasonic * SigmaUltrasonic
		gain := pPrior / (pPrior + r)

		got := ests[0].Altitude
		if math.Abs(got-gain*1.0) > 1e-12 {
			t.Errorf("%s: altitude %g, want %g", policy, got, gain)
		}
		if got < 0 || got > 1.0 {
			t.Errorf("%s: altitude %g overshoots the measurement", policy, got)
		}
		if !ests[0].Channels[ChannelUltrasonic].Valid || ests[0].Channels[ChannelUltrasonic].Value != 1.0 {
			t.Errorf("%s: ultrasonic echo %+v", policy, ests[0].Channels[ChannelUltrasonic])
		}
	}
}

func TestOffsetsAreSubtracted(t *testing.T) {
	cfg := DefaultConfig()
	e := newEstimator(t, cfg)
	h := Header{UltrasonicOffset: 0.12, BarometerOffset: 451.5}
	ests, _, err := collect(t, e, NewSliceStream(h,
		Measurement{T: 10, Kind: Ultrasonic, Value: 0.62},
		Measurement{T: 20, Kind: Barometer, Value: 452.0},
		Measurement{T: 30, Kind: GPS, Value: 3},
	))
	if err != nil {
		t.Fatal(err)
	}
	last := ests[len(ests)-1].Channels
	if math.Abs(last[ChannelUltrasonic].Value-0.5) > eps {
		t.Errorf("ultrasonic %g, want 0.5", last[ChannelUltrasonic].Value)
	}
	if math.Abs(last[ChannelBarometer].Value-0.5) > eps {
		t.Errorf("barometer %g, want 0.5", last[ChannelBarometer].Value)
	}
	if last[ChannelGPS].Value != 3 {
		t.Errorf("gps %g, want raw 3", last[ChannelGPS].Value)
	}
}

func TestZeroAccelStep(t *testing.T) {
	cfg := AlwaysPredictConfig()
	cfg.Inverter = GuardedDiagonal{}
	cfg.Observation = FixedVariance{}
	e := newEstimator(t, cfg)
	e.Start(Header{T0: 500})
	before := e.Covariance()

	est, ok, err := e.Step(Measurement{T: 500, Kind: Accel, Value: 0})
	if err != nil || !ok {
		t.Fatalf("step: ok=%t err=%v", ok, err)
	}
	if est.Velocity != 0 {
		t.Errorf("velocity %g, want 0", est.Velocity)
	}
	after := e.Covariance()
	growth := (after[0][0] + after[1][1]) - (before[0][0] + before[1][1])
	if growth > cfg.Noise.Floor+eps {
		t.Errorf("covariance grew by %g, floor is %g", growth, cfg.Noise.Floor)
	}
}

// Replaying a timestamp predicts nothing but still corrects.
func TestZeroElapsedStillCorrects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = AlwaysPredict{}
	e := newEstimator(t, cfg)
	e.Start(Header{T0: 1000})
	e.x = vec2{0.5, 2}
	e.p = mat2{{0.01, 0}, {0, 0.1}}

	est, ok, err := e.Step(Measurement{T: 1000, Kind: Ultrasonic, Value: 1.0})
	if err != nil || !ok {
		t.Fatalf("step: ok=%t err=%v", ok, err)
	}
	if est.Predicted != 0.5 || est.Distance != 0 {
		t.Errorf("zero-length step moved the prediction: predicted %g, distance %g", est.Predicted, est.Distance)
	}
	if est.Altitude == 0.5 {
		t.Errorf("correction did not run")
	}
}

func randomCovariance(r *rand.Rand) mat2 {
	a := mat2{{r.Float64(), r.Float64()}, {r.Float64(), r.Float64()}}
	return a.mul(a.transpose())
}

func TestCorrectionNeverIncreasesTrace(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	kinds := []Kind{Ultrasonic, Barometer, GPS}
	configs := []Config{DefaultConfig(), AlwaysPredictConfig()}
	configs[1].Policy = PredictOnAccelOnly{}

	for _, cfg := range configs {
		e := newEstimator(t, cfg)
		e.Start(Header{})
		for n := 0; n < 200; n++ {
			p := randomCovariance(rnd)
			e.p = p
			k := kinds[rnd.Intn(len(kinds))]
			if _, ok := e.sensors[k]; !ok {
				continue
			}
			if _, _, err := e.Step(Measurement{T: int64(n), Kind: k, Value: rnd.Float64()*4 - 2}); err != nil {
				t.Fatal(err)
			}
			if e.p.trace() > p.trace()+1e-12 {
				t.Errorf("%s/%s: trace grew from %g to %g", cfg.Observation, k, p.trace(), e.p.trace())
			}
		}
	}
}

func TestSkipCounterCountsNegativeElapsed(t *testing.T) {
	ts := []int64{10, 20, 15, 30, 25, 25, 40}
	var ms []Measurement
	for _, v := range ts {
		ms = append(ms, Measurement{T: v * 1000, Kind: Ultrasonic, Value: 0.1})
	}

	cases := []struct {
		policy     Policy
		outOfOrder int
		emitted    int
	}{
		// Dropped samples leave the clock at 20 and 30, so 15, 25 and 25 are late.
		{PredictOnAccelOnly{}, 3, 4},
		// Clamped samples move the clock back, so only 15 and the first 25 are late.
		{AlwaysPredict{}, 2, 7},
	}
	for _, c := range cases {
		cfg := DefaultConfig()
		cfg.Policy = c.policy
		e := newEstimator(t, cfg)
		ests, a, err := collect(t, e, NewSliceStream(Header{}, ms...))
		if err != nil {
			t.Fatal(err)
		}
		if a.OutOfOrder != c.outOfOrder {
			t.Errorf("%s: %d out of order, want %d", c.policy, a.OutOfOrder, c.outOfOrder)
		}
		if len(ests) != c.emitted {
			t.Errorf("%s: %d estimates, want %d", c.policy, len(ests), c.emitted)
		}
		if a.Total != len(ts) {
			t.Errorf("%s: total %d, want %d", c.policy, a.Total, len(ts))
		}
		want := 100 * float64(c.outOfOrder) / float64(len(ts))
		if math.Abs(a.SkipRatio()-want) > eps {
			t.Errorf("%s: skip ratio %g, want %g", c.policy, a.SkipRatio(), want)
		}
	}
}

func TestOutOfOrderClampKeepsElapsed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = AlwaysPredict{}
	e := newEstimator(t, cfg)
	ests, _, err := collect(t, e, NewSliceStream(Header{T0: 0},
		Measurement{T: 2000000, Kind: Accel, Value: 1},
		Measurement{T: 1000000, Kind: Accel, Value: 1},
	))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ests[0].Elapsed-2) > eps || ests[1].Elapsed != ests[0].Elapsed {
		t.Errorf("elapsed %g, %g; want 2, 2", ests[0].Elapsed, ests[1].Elapsed)
	}
	if ests[1].Distance != 0 {
		t.Errorf("clamped step travelled %g", ests[1].Distance)
	}
}

func TestUnknownKindIsSkipped(t *testing.T) {
	e := newEstimator(t, DefaultConfig())
	ests, a, err := collect(t, e, NewSliceStream(Header{},
		Measurement{T: 10, Kind: Unknown, Value: 1},
		Measurement{T: 20, Kind: Kind(42), Value: 1},
		Measurement{T: 30, Kind: Ultrasonic, Value: 1},
	))
	if err != nil {
		t.Fatal(err)
	}
	if a.Unknown != 2 || len(ests) != 1 || ests[0].Step != 3 {
		t.Errorf("unknown=%d estimates=%d; want 2 unknown and one estimate at step 3", a.Unknown, len(ests))
	}
}

func TestDropoutWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dropout = StepWindow(Ultrasonic, 1, 4)
	e := newEstimator(t, cfg)

	var ms []Measurement
	for i := 1; i <= 5; i++ {
		ms = append(ms, Measurement{T: int64(i * 1000), Kind: Ultrasonic, Value: 1})
	}
	ms = append(ms, Measurement{T: 6000, Kind: Barometer, Value: 1})

	ests, a, err := collect(t, e, NewSliceStream(Header{}, ms...))
	if err != nil {
		t.Fatal(err)
	}
	if a.Dropped != 2 {
		t.Errorf("dropped %d, want 2", a.Dropped)
	}
	var steps []int
	for _, est := range ests {
		steps = append(steps, est.Step)
	}
	want := []int{1, 4, 5, 6}
	if len(steps) != len(want) {
		t.Fatalf("steps %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("steps %v, want %v", steps, want)
			break
		}
	}
}

func TestTimeWindow(t *testing.T) {
	d := TimeWindow(Ultrasonic, 100, 200)
	if !d(0, Measurement{T: 100, Kind: Ultrasonic}) || d(0, Measurement{T: 200, Kind: Ultrasonic}) ||
		d(0, Measurement{T: 150, Kind: Barometer}) {
		t.Error("time window boundaries wrong")
	}
}

// An exact inversion with nothing observed is fatal on the first correction.
func TestSingularCorrectionIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = AlwaysPredict{}
	cfg.Inverter = Exact{}

	e := newEstimator(t, cfg)
	ests, a, err := collect(t, e, NewSliceStream(Header{},
		Measurement{T: 10, Kind: Unknown, Value: 1},
		Measurement{T: 5, Kind: Accel, Value: 0.5},
		Measurement{T: 20, Kind: Accel, Value: 0.5},
	))
	var se *SingularError
	if !errors.As(err, &se) {
		t.Fatalf("expected a SingularError, got %v", err)
	}
	if !errors.Is(err, ErrSingular) {
		t.Errorf("error does not wrap ErrSingular")
	}
	if se.Step != 2 {
		t.Errorf("failed at step %d, want 2", se.Step)
	}
	if math.Abs(se.SkipRatio-50) > eps {
		t.Errorf("skip ratio %g, want 50", se.SkipRatio)
	}
	if len(ests) != 0 || a.Total != 2 {
		t.Errorf("run continued past the failure: %d estimates, %d total", len(ests), a.Total)
	}
	if x, v := e.State(); x != 0 || v != 0 {
		t.Errorf("failed step changed the state to %g, %g", x, v)
	}
}

func TestSensorWithoutChannelIsSingular(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Inverter = Exact{}
	cfg.Sensors = SensorTable{GPS: {Channel: NoChannel}}

	e := newEstimator(t, cfg)
	_, _, err := collect(t, e, NewSliceStream(Header{}, Measurement{T: 1, Kind: GPS, Value: 1}))
	var se *SingularError
	if !errors.As(err, &se) || se.Step != 1 {
		t.Errorf("expected a SingularError at step 1, got %v", err)
	}
}

// With fixed variances only the measured row of S is populated; the exact
// inverse must agree with the element-wise one instead of failing.
func TestExactWithFixedVarianceMatchesDiagonal(t *testing.T) {
	stream := func() Stream {
		return NewSliceStream(Header{UltrasonicOffset: 0.1, BarometerOffset: 400},
			Measurement{T: 10000, Kind: Accel, Value: 0.3},
			Measurement{T: 20000, Kind: Ultrasonic, Value: 0.15},
			Measurement{T: 30000, Kind: Accel, Value: -0.1},
			Measurement{T: 40000, Kind: Barometer, Value: 400.2},
			Measurement{T: 50000, Kind: GPS, Value: 3},
		)
	}

	cfg := DefaultConfig()
	want, _, err := collect(t, newEstimator(t, cfg), stream())
	if err != nil {
		t.Fatal(err)
	}
	cfg.Inverter = Exact{}
	got, a, err := collect(t, newEstimator(t, cfg), stream())
	if err != nil {
		t.Fatalf("exact inverse with fixed variances failed: %v", err)
	}
	if len(got) != len(want) || a.Total != 5 {
		t.Fatalf("got %d estimates, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i].Altitude-want[i].Altitude) > eps || math.Abs(got[i].Velocity-want[i].Velocity) > eps {
			t.Errorf("step %d: exact %g/%g, diagonal %g/%g", got[i].Step,
				got[i].Altitude, got[i].Velocity, want[i].Altitude, want[i].Velocity)
		}
	}
}

type badHeader struct{ SliceStream }

func (badHeader) Header() (Header, error) { return Header{}, io.ErrUnexpectedEOF }

func TestMissingHeader(t *testing.T) {
	e := newEstimator(t, DefaultConfig())
	_, _, err := collect(t, e, &badHeader{})
	if !errors.Is(err, ErrNoHeader) {
		t.Errorf("expected ErrNoHeader, got %v", err)
	}
	if _, _, err := newEstimator(t, DefaultConfig()).Step(Measurement{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady before Start, got %v", err)
	}
}

func TestEmitErrorStopsRun(t *testing.T) {
	e := newEstimator(t, DefaultConfig())
	stop := errors.New("sink full")
	n := 0
	_, err := e.Run(NewSliceStream(Header{},
		Measurement{T: 1, Kind: Ultrasonic},
		Measurement{T: 2, Kind: Ultrasonic},
	), func(Estimate) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Errorf("err=%v after %d emits", err, n)
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sensors = SensorTable{Ultrasonic: {Channel: ChannelUltrasonic, Variance: 1}, Barometer: {Channel: ChannelUltrasonic, Variance: 1}}
	if _, err := New(cfg); err == nil {
		t.Error("expected an error for two sensors on one channel")
	}
	cfg = DefaultConfig()
	cfg.Noise.Floor = -1
	if _, err := New(cfg); err == nil {
		t.Error("expected an error for negative process noise")
	}
	if _, err := New(Config{}); err != nil {
		t.Errorf("zero config should take defaults: %s", err)
	}
}

// Two always-predict steps checked against a dense-matrix rendition of the
// same filter.
func TestAlwaysPredictMatchesDense(t *testing.T) {
	cfg := AlwaysPredictConfig()
	e := newEstimator(t, cfg)
	h := Header{T0: 0, UltrasonicOffset: 0.1, BarometerOffset: 100}
	ests, _, err := collect(t, e, NewSliceStream(h,
		Measurement{T: 10000, Kind: Accel, Value: 0.5},
		Measurement{T: 20000, Kind: Barometer, Value: 100.3},
	))
	if err != nil {
		t.Fatal(err)
	}

	rU := cfg.Sensors[Ultrasonic].Variance
	rB := cfg.Sensors[Barometer].Variance
	x := matrix.Zeros(2, 1)
	p := matrix.Diagonal([]float64{0, DefaultInitialVelocityVariance})
	hh := matrix.MakeDenseMatrix([]float64{1, 0, 1, 0}, 2, 2)
	z := matrix.Zeros(2, 1)
	r := []float64{rU, rB}

	step := func(dt, a float64, accel bool, ch int, v float64) {
		f := matrix.MakeDenseMatrix([]float64{1, dt, 0, 1}, 2, 2)
		g := matrix.MakeDenseMatrix([]float64{0.5 * dt * dt, dt}, 2, 1)
		xHat := matrix.Product(f, x)
		pHat := matrix.Product(f, matrix.Product(p, f.Transpose()))
		if accel {
			xHat = matrix.Sum(xHat, matrix.Scaled(g, a))
			q := matrix.Scaled(matrix.Product(g, g.Transpose()), math.Abs(a)+cfg.Noise.Offset)
			pHat = matrix.Sum(pHat, matrix.Sum(q, matrix.Diagonal([]float64{0, cfg.Noise.Floor})))
		}
		dx := math.Abs(xHat.Get(0, 0) - x.Get(0, 0))
		for i := range r {
			r[i] = math.Pow((math.Sqrt(r[i])*2+dx)/2, 2)
		}
		if ch >= 0 {
			z.Set(ch, 0, v)
			r[ch] = []float64{rU, rB}[ch]
		}
		s := matrix.Sum(matrix.Product(hh, matrix.Product(pHat, hh.Transpose())), matrix.Diagonal(r))
		sInv, err := s.Inverse()
		if err != nil {
			t.Fatal(err)
		}
		k := matrix.Product(pHat, matrix.Product(hh.Transpose(), sInv))
		p = matrix.Product(matrix.Difference(matrix.Eye(2), matrix.Product(k, hh)), pHat)
		x = matrix.Sum(xHat, matrix.Product(k, matrix.Difference(z, matrix.Product(hh, xHat))))
	}

	step(0.01, 0.5, true, -1, 0)
	if math.Abs(ests[0].Altitude-x.Get(0, 0)) > 1e-12 || math.Abs(ests[0].Velocity-x.Get(1, 0)) > 1e-12 {
		t.Errorf("accel step: got %g, %g; dense %g, %g", ests[0].Altitude, ests[0].Velocity, x.Get(0, 0), x.Get(1, 0))
	}
	step(0.01, 0, false, 1, 0.3)
	if math.Abs(ests[1].Altitude-x.Get(0, 0)) > 1e-9 || math.Abs(ests[1].Velocity-x.Get(1, 0)) > 1e-9 {
		t.Errorf("barometer step: got %g, %g; dense %g, %g", ests[1].Altitude, ests[1].Velocity, x.Get(0, 0), x.Get(1, 0))
	}
	pp := e.Covariance()
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(pp[i][j]-p.Get(i, j)) > 1e-9 {
				t.Errorf("P[%d][%d] = %g, dense %g", i, j, pp[i][j], p.Get(i, j))
			}
		}
	}
	if ests[1].Channels[ChannelGPS].Valid {
		t.Error("gps channel is not modeled in this configuration")
	}
}

func TestInnovationStats(t *testing.T) {
	e := newEstimator(t, DefaultConfig())
	_, _, err := collect(t, e, NewSliceStream(Header{},
		Measurement{T: 1, Kind: Barometer, Value: 1},
		Measurement{T: 2, Kind: Barometer, Value: 1},
	))
	if err != nil {
		t.Fatal(err)
	}
	stats := e.Innovations()
	if len(stats) != NumChannels {
		t.Fatalf("got %d channels of stats", len(stats))
	}
	b := stats[ChannelBarometer]
	if b.Channel != ChannelBarometer || b.N <= 1 || b.Mean <= 0 {
		t.Errorf("barometer innovations %+v", b)
	}
	if stats[ChannelUltrasonic].N != 0 {
		t.Errorf("ultrasonic saw no residuals, got %+v", stats[ChannelUltrasonic])
	}
}
