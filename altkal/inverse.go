package altkal

import "math"

// Inverter inverts the innovation covariance S. Rows of channels that are not
// observed this step are all zero.
type Inverter interface {
	Invert(s mat3, observed [NumChannels]bool) (mat3, error)
	String() string
}

// GuardedDiagonal replaces every non-zero diagonal entry of S by its reciprocal
// and leaves everything else alone. Zero rows stay zero and yield no gain.
type GuardedDiagonal struct{}

func (GuardedDiagonal) Invert(s mat3, _ [NumChannels]bool) (mat3, error) {
	for i := 0; i < NumChannels; i++ {
		if s[i][i] != 0 {
			s[i][i] = 1 / s[i][i]
		}
	}
	return s, nil
}

func (GuardedDiagonal) String() string { return "guarded-diagonal" }

// Exact computes the true inverse over the observed channels. Channels with
// infinite variance are cut out and get no gain. It fails with ErrSingular
// only when no channel is observed (an accelerometer step corrected with
// FixedVariance, or a sensor without a channel) or when the observed block of
// S has a zero determinant.
type Exact struct{}

func (Exact) Invert(s mat3, observed [NumChannels]bool) (mat3, error) {
	var cut [NumChannels]bool
	n := 0
	for i := 0; i < NumChannels; i++ {
		if observed[i] {
			n++
		}
	}
	if n == 0 {
		return mat3{}, ErrSingular
	}
	for i := 0; i < NumChannels; i++ {
		if !observed[i] || math.IsInf(s[i][i], 1) {
			cut[i] = true
			for j := 0; j < NumChannels; j++ {
				s[i][j], s[j][i] = 0, 0
			}
			s[i][i] = 1
		}
	}
	x, ok := s.inverse()
	if !ok {
		return x, ErrSingular
	}
	for i, c := range cut {
		if c {
			x[i][i] = 0
		}
	}
	return x, nil
}

func (Exact) String() string { return "exact" }
