// Package ewma implements a weight-corrected exponential moving average
// for noisy, non-negative samples.
package ewma

// Estimator is a weight-corrected EWMA. Unlike a naive EWMA, it starts
// reporting the true value of a constant input stream immediately
// instead of biasing low during the first few updates.
//
// Access must be externally synchronized; Estimator holds no lock of
// its own (it's a leaf value type embedded in the pacer under the
// pacer's single mutex).
type Estimator struct {
	alpha         float64
	current       float64
	currentWeight float64
}

// New returns an Estimator with the given smoothing factor. alpha must
// satisfy 0 < alpha < 1; larger values mean less smoothing (bumpier,
// faster response).
func New(alpha float64) *Estimator {
	return &Estimator{alpha: alpha}
}

// NewFullWeight returns an Estimator that starts at current_weight=1,
// skipping the cold-start correction. Use this for signals naturally
// centered on zero, such as a correction/error term, where reporting 0
// before any samples arrive is the correct behavior rather than an
// artifact to correct for.
func NewFullWeight(alpha float64) *Estimator {
	return &Estimator{alpha: alpha, currentWeight: 1}
}

// Update folds v into the estimate. v must be non-negative for the
// non-full-weight variant; the full-weight variant is also used for
// signed correction terms and accepts any value.
func (e *Estimator) Update(v float64) {
	e.current = (1-e.alpha)*e.current + e.alpha*v
	e.currentWeight = (1-e.alpha)*e.currentWeight + e.alpha
}

// Get returns the current weight-corrected estimate, or 0 if no
// samples have been observed yet.
func (e *Estimator) Get() float64 {
	if e.currentWeight == 0 {
		return 0
	}
	return e.current / e.currentWeight
}

// Reset clears the estimator back to its just-constructed state. fullWeight
// must match how the estimator was originally constructed (New vs
// NewFullWeight) to preserve cold-start semantics.
func (e *Estimator) Reset(fullWeight bool) {
	e.current = 0
	if fullWeight {
		e.currentWeight = 1
	} else {
		e.currentWeight = 0
	}
}
