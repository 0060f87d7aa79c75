package model

import "fmt"

// Propensity evaluates the instantaneous rate of one transition given a
// node's current state. Implementations must be side-effect free: the
// stepper may call Eval any number of times for the same state.
type Propensity interface {
	Eval(u []int64, v []float64, ldata []float64, gdata []float64, t float64) (float64, error)
}

// PropensityFunc adapts a plain function to the Propensity interface.
type PropensityFunc func(u []int64, v []float64, ldata []float64, gdata []float64, t float64) (float64, error)

// Eval implements Propensity.
func (f PropensityFunc) Eval(u []int64, v []float64, ldata []float64, gdata []float64, t float64) (float64, error) {
	return f(u, v, ldata, gdata, t)
}

// Registry is a fixed, validated-at-construction set of propensities,
// one per transition column of S.
type Registry struct {
	fns []Propensity
}

// NewRegistry validates that every slot is non-nil and wraps them for
// positional lookup by transition index.
func NewRegistry(fns ...Propensity) (*Registry, error) {
	if len(fns) == 0 {
		return nil, fmt.Errorf("model: registry must contain at least one propensity")
	}
	for i, f := range fns {
		if f == nil {
			return nil, fmt.Errorf("model: nil propensity at index %d", i)
		}
	}
	cp := make([]Propensity, len(fns))
	copy(cp, fns)
	return &Registry{fns: cp}, nil
}

// Len returns the number of registered transitions.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fns)
}

// Eval evaluates transition i's propensity.
func (r *Registry) Eval(i int, u []int64, v []float64, ldata []float64, gdata []float64, t float64) (float64, error) {
	return r.fns[i].Eval(u, v, ldata, gdata, t)
}
