package core

import (
	"math"

	"github.com/tjmckinley/siminf-engine/internal/sim/state"
	"github.com/tjmckinley/siminf-engine/kb"
)

// InitializeNodeRates evaluates every transition's propensity for node n
// at time t0 and seeds the run state's rate cache. It must be called
// once per node before the first AdvanceNode call.
func InitializeNodeRates(rs *state.RunState, m *kb.Model, n int, t0 float64) error {
	var outerErr error
	rs.WithNode(n, func() {
		if err := evalAllRatesLocked(rs, m, n, t0, 0); err != nil {
			outerErr = err
			return
		}
		rs.SetTNodeLocked(n, t0)
	})
	return outerErr
}

// RefreshNodeRates re-evaluates every transition's propensity for node n
// at time t and replaces the cached rates in full. Events may touch many
// compartments at once, so the dependency graph (scoped to a single
// firing transition) isn't sufficient after one; the event applier calls
// this for every node an event touched, before SSA resumes.
func RefreshNodeRates(rs *state.RunState, m *kb.Model, n int, t float64, tickIndex int) error {
	var outerErr error
	rs.WithNode(n, func() {
		if err := evalAllRatesLocked(rs, m, n, t, tickIndex); err != nil {
			outerErr = err
			return
		}
		rs.RecordFullRecompute()
	})
	return outerErr
}

// evalAllRatesLocked re-evaluates every propensity for node n at time t
// and caches the results, assuming node n's lock is held.
func evalAllRatesLocked(rs *state.RunState, m *kb.Model, n int, t float64, tickIndex int) error {
	u := rs.UForNodeLocked(n)
	v := rs.VForNodeLocked(n)
	ld := m.LdataFor(n)
	for i := 0; i < m.Propensities.Len(); i++ {
		rate, err := m.Propensities.Eval(i, u, v, ld, m.Gdata, t)
		if err != nil {
			return NewRunError(KindPropensityError, n, tickIndex, err)
		}
		if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return NewRunError(KindPropensityError, n, tickIndex, errBadRate(i, rate))
		}
		rs.SetRateLocked(n, i, rate)
	}
	return nil
}

// AdvanceNode runs node n's Gillespie direct-method loop, firing
// transitions until its local time reaches bound. It assumes node n's
// lock is not held by the caller; it acquires and releases it itself so
// that a driver's cooperative cancellation check between fires never
// blocks behind a long-held lock.
func AdvanceNode(rs *state.RunState, m *kb.Model, n int, bound float64, tickIndex int) (fires int, err error) {
	for {
		var (
			done      bool
			stepFires int
			stepErr   error
		)
		rs.WithNode(n, func() {
			f, e := advanceNodeStepLocked(rs, m, n, bound, tickIndex)
			stepFires = f
			stepErr = e
			done = e != nil || rs.TNodeLocked(n) >= bound
		})
		fires += stepFires
		if stepErr != nil {
			return fires, stepErr
		}
		if done {
			return fires, nil
		}
	}
}

// advanceNodeStepLocked fires at most one transition (or advances
// t_node to bound if no transition fires before it), assuming node n's
// lock is held.
func advanceNodeStepLocked(rs *state.RunState, m *kb.Model, n int, bound float64, tickIndex int) (fires int, err error) {
	rateSum := rs.RateSumLocked(n)
	if math.IsNaN(rateSum) || math.IsInf(rateSum, 0) || rateSum < 0 {
		// Incremental updates can drift below zero; recompute from the
		// cached rates before treating the sum as corrupt.
		rs.RecomputeRateSumLocked(n)
		rateSum = rs.RateSumLocked(n)
		if math.IsNaN(rateSum) || math.IsInf(rateSum, 0) || rateSum < 0 {
			return 0, NewRunError(KindInternal, n, tickIndex, errBadRateSum(rateSum))
		}
	}
	if rateSum == 0 {
		rs.SetTNodeLocked(n, bound)
		return 0, nil
	}

	stream := rs.StreamLocked(n)
	u1 := stream.Float64()
	for u1 == 0 {
		u1 = stream.Float64()
	}
	tau := -math.Log(u1) / rateSum

	t := rs.TNodeLocked(n)
	if t+tau > bound {
		rs.SetTNodeLocked(n, bound)
		return 0, nil
	}

	nt := m.Propensities.Len()
	target := stream.Float64() * rateSum
	cum := 0.0
	j := nt - 1
	for i := 0; i < nt; i++ {
		cum += rs.RateLocked(n, i)
		if cum >= target {
			j = i
			break
		}
	}

	rowind, values := m.S.Column(j)
	for k, r := range rowind {
		delta := roundHalfAwayFromZero(values[k])
		newVal := rs.ULocked(n, r) + delta
		if newVal < 0 {
			return 0, NewRunError(KindStoichiometryViolation, n, tickIndex, errNegativeCompartment(r, newVal))
		}
		rs.SetULocked(n, r, newVal)
	}

	tNow := t + tau
	depRows, _ := m.G.Column(j)
	u := rs.UForNodeLocked(n)
	v := rs.VForNodeLocked(n)
	ld := m.LdataFor(n)
	for _, i := range depRows {
		rate, evalErr := m.Propensities.Eval(i, u, v, ld, m.Gdata, tNow)
		if evalErr != nil {
			return 0, NewRunError(KindPropensityError, n, tickIndex, evalErr)
		}
		if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return 0, NewRunError(KindPropensityError, n, tickIndex, errBadRate(i, rate))
		}
		rs.SetRateLocked(n, i, rate)
	}
	rs.RecordDependencyRecompute()

	rs.SetTNodeLocked(n, tNow)
	if rs.RecordFireLocked(n) {
		rs.RecomputeRateSumLocked(n)
	}
	return 1, nil
}
