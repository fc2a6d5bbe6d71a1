package altkal

import "math"

// Lightweight fixed-size matrix algebra for the 2-state, 3-channel filter.
// Everything is passed by value and lives on the stack.

type vec2 [2]float64

type vec3 [NumChannels]float64

type mat2 [2][2]float64

type mat3 [NumChannels][NumChannels]float64

// mat32 maps state to channels (H).
type mat32 [NumChannels][2]float64

// mat23 maps channels to state (Hᵀ, K).
type mat23 [2][NumChannels]float64

func eye2() mat2 {
	return mat2{{1, 0}, {0, 1}}
}

func (a mat2) add(b mat2) (x mat2) {
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			x[i][j] = a[i][j] + b[i][j]
		}
	}
	return x
}

func (a mat2) sub(b mat2) (x mat2) {
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			x[i][j] = a[i][j] - b[i][j]
		}
	}
	return x
}

func (a mat2) mul(b mat2) (x mat2) {
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				x[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return x
}

func (a mat2) mulVec(v vec2) vec2 {
	return vec2{
		a[0][0]*v[0] + a[0][1]*v[1],
		a[1][0]*v[0] + a[1][1]*v[1],
	}
}

func (a mat2) transpose() mat2 {
	return mat2{{a[0][0], a[1][0]}, {a[0][1], a[1][1]}}
}

func (a mat2) trace() float64 {
	return a[0][0] + a[1][1]
}

func (v vec2) add(w vec2) vec2 {
	return vec2{v[0] + w[0], v[1] + w[1]}
}

func (v vec2) scale(k float64) vec2 {
	return vec2{k * v[0], k * v[1]}
}

// outer returns v·vᵀ.
func (v vec2) outer() mat2 {
	return mat2{
		{v[0] * v[0], v[0] * v[1]},
		{v[1] * v[0], v[1] * v[1]},
	}
}

func (a mat2) scale(k float64) (x mat2) {
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			x[i][j] = k * a[i][j]
		}
	}
	return x
}

func (h mat32) transpose() (x mat23) {
	for i := 0; i < NumChannels; i++ {
		for j := 0; j < 2; j++ {
			x[j][i] = h[i][j]
		}
	}
	return x
}

func (h mat32) mulVec(v vec2) (x vec3) {
	for i := 0; i < NumChannels; i++ {
		x[i] = h[i][0]*v[0] + h[i][1]*v[1]
	}
	return x
}

// mulMat2 returns h·a.
func (h mat32) mulMat2(a mat2) (x mat32) {
	for i := 0; i < NumChannels; i++ {
		for j := 0; j < 2; j++ {
			x[i][j] = h[i][0]*a[0][j] + h[i][1]*a[1][j]
		}
	}
	return x
}

// mulMat23 returns h·b, a channel-by-channel matrix.
func (h mat32) mulMat23(b mat23) (x mat3) {
	for i := 0; i < NumChannels; i++ {
		for j := 0; j < NumChannels; j++ {
			x[i][j] = h[i][0]*b[0][j] + h[i][1]*b[1][j]
		}
	}
	return x
}

// mulMat23 returns a·b.
func (a mat2) mulMat23(b mat23) (x mat23) {
	for i := 0; i < 2; i++ {
		for j := 0; j < NumChannels; j++ {
			x[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j]
		}
	}
	return x
}

// mulMat3 returns k·s.
func (k mat23) mulMat3(s mat3) (x mat23) {
	for i := 0; i < 2; i++ {
		for j := 0; j < NumChannels; j++ {
			for l := 0; l < NumChannels; l++ {
				x[i][j] += k[i][l] * s[l][j]
			}
		}
	}
	return x
}

// mulMat32 returns k·h, a state-by-state matrix.
func (k mat23) mulMat32(h mat32) (x mat2) {
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for l := 0; l < NumChannels; l++ {
				x[i][j] += k[i][l] * h[l][j]
			}
		}
	}
	return x
}

func (k mat23) mulVec(v vec3) (x vec2) {
	for i := 0; i < 2; i++ {
		for l := 0; l < NumChannels; l++ {
			x[i] += k[i][l] * v[l]
		}
	}
	return x
}

func (v vec3) sub(w vec3) (x vec3) {
	for i := range v {
		x[i] = v[i] - w[i]
	}
	return x
}

func (a mat3) add(b mat3) (x mat3) {
	for i := 0; i < NumChannels; i++ {
		for j := 0; j < NumChannels; j++ {
			x[i][j] = a[i][j] + b[i][j]
		}
	}
	return x
}

func diag3(v vec3) (x mat3) {
	for i := range v {
		x[i][i] = v[i]
	}
	return x
}

func (a mat3) det() float64 {
	return a[0][0]*(a[1][1]*a[2][2]-a[1][2]*a[2][1]) -
		a[0][1]*(a[1][0]*a[2][2]-a[1][2]*a[2][0]) +
		a[0][2]*(a[1][0]*a[2][1]-a[1][1]*a[2][0])
}

// inverse returns the inverse of a by the adjugate; ok is false when a is singular.
func (a mat3) inverse() (x mat3, ok bool) {
	d := a.det()
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return x, false
	}
	x[0][0] = (a[1][1]*a[2][2] - a[1][2]*a[2][1]) / d
	x[0][1] = (a[0][2]*a[2][1] - a[0][1]*a[2][2]) / d
	x[0][2] = (a[0][1]*a[1][2] - a[0][2]*a[1][1]) / d
	x[1][0] = (a[1][2]*a[2][0] - a[1][0]*a[2][2]) / d
	x[1][1] = (a[0][0]*a[2][2] - a[0][2]*a[2][0]) / d
	x[1][2] = (a[0][2]*a[1][0] - a[0][0]*a[1][2]) / d
	x[2][0] = (a[1][0]*a[2][1] - a[1][1]*a[2][0]) / d
	x[2][1] = (a[0][1]*a[2][0] - a[0][0]*a[2][1]) / d
	x[2][2] = (a[0][0]*a[1][1] - a[0][1]*a[1][0]) / d
	return x, true
}
