package core

import (
	"fmt"

	"github.com/tjmckinley/siminf-engine/model"
)

// Constant returns a propensity with a fixed rate, independent of state.
func Constant(rate float64) model.Propensity {
	return model.PropensityFunc(func(u []int64, v []float64, ldata, gdata []float64, t float64) (float64, error) {
		if rate < 0 {
			return 0, fmt.Errorf("core: constant propensity has negative rate %g", rate)
		}
		return rate, nil
	})
}

// MassAction returns a mass-action propensity: rateConst times the
// product of the population of every compartment index in reactants
// (with repeats for stoichiometric coefficients above one, e.g. pass an
// index twice for a second-order self-reaction).
func MassAction(rateConst float64, reactants ...int) model.Propensity {
	idx := append([]int(nil), reactants...)
	return model.PropensityFunc(func(u []int64, v []float64, ldata, gdata []float64, t float64) (float64, error) {
		rate := rateConst
		for _, c := range idx {
			if c < 0 || c >= len(u) {
				return 0, fmt.Errorf("core: mass-action compartment index %d out of range [0,%d)", c, len(u))
			}
			rate *= float64(u[c])
			if rate == 0 {
				return 0, nil
			}
		}
		return rate, nil
	})
}
