package altkal

import "math"

// ProcessModel is the constant-velocity transition over an elapsed time DT (s),
// with the vertical acceleration as control input.
type ProcessModel struct {
	DT float64
	F  mat2 // [[1, dT], [0, 1]]
	G  vec2 // [½dT², dT]ᵀ
}

// NewProcessModel builds F and G for elapsed time dt.
func NewProcessModel(dt float64) ProcessModel {
	return ProcessModel{
		DT: dt,
		F:  mat2{{1, dt}, {0, 1}},
		G:  vec2{0.5 * dt * dt, dt},
	}
}

// ProcessNoise scales G·Gᵀ by the sensed acceleration.
type ProcessNoise struct {
	Offset float64 // Added to |a| before scaling G·Gᵀ
	Floor  float64 // Velocity variance added on every accelerometer prediction
}

// Scale returns the factor applied to G·Gᵀ for acceleration a.
func (n ProcessNoise) Scale(a float64) float64 {
	return math.Abs(a) + n.Offset
}

// Q returns the process noise covariance for acceleration a.
func (pm ProcessModel) Q(a float64, n ProcessNoise) mat2 {
	return pm.G.outer().scale(n.Scale(a)).add(mat2{{0, 0}, {0, n.Floor}})
}

// Predict advances x and p with no control input.
func (pm ProcessModel) Predict(x vec2, p mat2) (vec2, mat2) {
	return pm.F.mulVec(x), pm.F.mul(p).mul(pm.F.transpose())
}

// PredictAccel advances x and p integrating acceleration a and adding process noise.
func (pm ProcessModel) PredictAccel(x vec2, p mat2, a float64, n ProcessNoise) (vec2, mat2) {
	xx, pp := pm.Predict(x, p)
	return xx.add(pm.G.scale(a)), pp.add(pm.Q(a, n))
}
