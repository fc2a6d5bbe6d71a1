package altkal

// Policy decides which steps run a time update and which run a correction.
type Policy interface {
	// Reorder is called with a negative dt. It returns the dt to use and whether
	// the measurement is kept; a dropped measurement leaves the clock untouched.
	Reorder(dt float64) (float64, bool)
	Predicts(k Kind) bool
	Corrects(k Kind) bool
	String() string
}

// PredictOnAccelOnly integrates accelerometer samples and corrects with every
// other sensor against the unmodified state. Out-of-order samples are dropped.
type PredictOnAccelOnly struct{}

func (PredictOnAccelOnly) Reorder(dt float64) (float64, bool) { return dt, false }
func (PredictOnAccelOnly) Predicts(k Kind) bool { return k == Accel }
func (PredictOnAccelOnly) Corrects(k Kind) bool { return k != Accel }
func (PredictOnAccelOnly) String() string { return "predict-on-accel-only" }

// AlwaysPredict advances the constant-velocity model on every sample and then
// corrects against the prediction. Out-of-order samples get a zero-length step.
type AlwaysPredict struct{}

func (AlwaysPredict) Reorder(dt float64) (float64, bool) { return 0, true }
func (AlwaysPredict) Predicts(k Kind) bool { return true }
func (AlwaysPredict) Corrects(k Kind) bool { return true }
func (AlwaysPredict) String() string { return "always-predict" }
