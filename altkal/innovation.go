package altkal

// InnovationDecay is the exponential decay constant of the innovation statistics.
const InnovationDecay = 1 - 1.0/50

// NewVarianceAccumulator returns a function that, when passed a float,
// accumulates an exponentially weighted mean and variance with decay constant
// "decay". The accumulator starts with a mean of "init" and returns the current
// estimates of the effective number of observations, the mean and the variance.
func NewVarianceAccumulator(init, decay float64) func(float64) (float64, float64, float64) {
	var (
		n float64 = 0
		m float64 = init
		v float64 = 0
	)

	return func(obs float64) (float64, float64, float64) {
		d := obs - m
		dm := (1 - decay) * d

		n = 1 + decay*n
		m += dm
		v = decay * (v + dm*d)
		return n, m, v
	}
}

// InnovationStats summarizes the residuals seen on one channel.
type InnovationStats struct {
	Channel  Channel `json:"channel"`
	N        float64 `json:"n"` // Effective number of observations
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

type innovations struct {
	accums [NumChannels]func(float64) (float64, float64, float64)
	stats  [NumChannels]InnovationStats
}

func newInnovations() *innovations {
	in := new(innovations)
	for i := range in.accums {
		in.accums[i] = NewVarianceAccumulator(0, InnovationDecay)
		in.stats[i].Channel = Channel(i)
	}
	return in
}

func (in *innovations) add(ch Channel, y float64) {
	if !ch.valid() {
		return
	}
	s := &in.stats[ch]
	s.N, s.Mean, s.Variance = in.accums[ch](y)
}
