package core

import (
	"fmt"
	"math/rand"

	"github.com/tjmckinley/siminf-engine/internal/sim/state"
	"github.com/tjmckinley/siminf-engine/kb"
	"github.com/tjmckinley/siminf-engine/model"
)

// ApplyEvent applies a single scheduled event against rs, dispatching on
// its Kind. It returns the number of individuals actually moved/added/
// removed, for the result recorder's audit trail.
func ApplyEvent(rs *state.RunState, m *kb.Model, ev model.Event, tickIndex int) (int64, error) {
	switch ev.Kind {
	case model.EventExit:
		return applyExit(rs, m, ev, tickIndex)
	case model.EventEnter:
		return applyEnter(rs, m, ev, tickIndex)
	case model.EventInternalTransfer:
		return applyInternalTransfer(rs, m, ev, tickIndex)
	case model.EventExternalTransfer:
		return applyExternalTransfer(rs, m, ev, tickIndex)
	default:
		return 0, NewRunError(KindInvalidInput, ev.Node, tickIndex, fmt.Errorf("unknown event kind %v", ev.Kind))
	}
}

// selectedRows returns the compartment rows an event's select column
// names, along with E's stored value for each of those rows, used as a
// per-row weight.
func selectedRows(m *kb.Model, selectCol int) ([]int, []float64) {
	rows, vals := m.E.Column(selectCol)
	rowsCp := append([]int(nil), rows...)
	valsCp := append([]float64(nil), vals...)
	return rowsCp, valsCp
}

// resolveCount turns an event's N/Proportion pair into an absolute
// count given the total population available to it.
func resolveCount(ev model.Event, total int64) int64 {
	if ev.N > 0 {
		return ev.N
	}
	return roundHalfAwayFromZero(ev.Proportion * float64(total))
}

func applyExit(rs *state.RunState, m *kb.Model, ev model.Event, tickIndex int) (int64, error) {
	var moved int64
	var outerErr error
	rs.WithNode(ev.Node, func() {
		rows, weights := selectedRows(m, ev.Select)
		counts := make([]float64, len(rows))
		var total int64
		for i, r := range rows {
			c := rs.ULocked(ev.Node, r)
			counts[i] = float64(c) * weights[i]
			total += c
		}
		n := resolveCount(ev, total)
		if n == 0 {
			return
		}
		draws, err := sampleWithoutReplacement(rs.StreamLocked(ev.Node), counts, n)
		if err != nil {
			outerErr = NewRunError(KindInconsistentEvent, ev.Node, tickIndex, err)
			return
		}
		for i, r := range rows {
			rs.AddULocked(ev.Node, r, -draws[i])
		}
		moved = n
	})
	return moved, outerErr
}

func applyEnter(rs *state.RunState, m *kb.Model, ev model.Event, tickIndex int) (int64, error) {
	var moved int64
	var outerErr error
	rs.WithNode(ev.Node, func() {
		rows, _ := selectedRows(m, ev.Select)
		if len(rows) == 0 {
			outerErr = NewRunError(KindInvalidInput, ev.Node, tickIndex, fmt.Errorf("ENTER event selects no compartments"))
			return
		}
		if ev.N == 0 {
			outerErr = NewRunError(KindInvalidInput, ev.Node, tickIndex, fmt.Errorf("ENTER event requires an absolute N, not a proportion"))
			return
		}
		// ENTER adds every individual to the first compartment the select
		// column names.
		rs.AddULocked(ev.Node, rows[0], ev.N)
		moved = ev.N
	})
	return moved, outerErr
}

func applyInternalTransfer(rs *state.RunState, m *kb.Model, ev model.Event, tickIndex int) (int64, error) {
	var moved int64
	var outerErr error
	rs.WithNode(ev.Node, func() {
		rows, weights := selectedRows(m, ev.Select)
		counts := make([]float64, len(rows))
		var total int64
		for i, r := range rows {
			c := rs.ULocked(ev.Node, r)
			counts[i] = float64(c) * weights[i]
			total += c
		}
		n := resolveCount(ev, total)
		if n == 0 {
			return
		}
		draws, err := sampleWithoutReplacement(rs.StreamLocked(ev.Node), counts, n)
		if err != nil {
			outerErr = NewRunError(KindInconsistentEvent, ev.Node, tickIndex, err)
			return
		}
		for i, r := range rows {
			if draws[i] == 0 {
				continue
			}
			dest := int(m.N.At(r, ev.Shift))
			if dest < 0 || dest >= m.Nc {
				outerErr = NewRunError(KindInconsistentEvent, ev.Node, tickIndex,
					fmt.Errorf("shift column %d maps compartment %d to out-of-range %d", ev.Shift, r, dest))
				return
			}
			rs.AddULocked(ev.Node, r, -draws[i])
			rs.AddULocked(ev.Node, dest, draws[i])
		}
		moved = n
	})
	return moved, outerErr
}

func applyExternalTransfer(rs *state.RunState, m *kb.Model, ev model.Event, tickIndex int) (int64, error) {
	var moved int64
	var outerErr error
	rs.WithNodePair(ev.Node, ev.Dest, func() {
		rows, weights := selectedRows(m, ev.Select)
		counts := make([]float64, len(rows))
		var total int64
		for i, r := range rows {
			c := rs.ULocked(ev.Node, r)
			counts[i] = float64(c) * weights[i]
			total += c
		}
		n := resolveCount(ev, total)
		if n == 0 {
			return
		}
		draws, err := sampleWithoutReplacement(rs.StreamLocked(ev.Node), counts, n)
		if err != nil {
			outerErr = NewRunError(KindInconsistentEvent, ev.Node, tickIndex, err)
			return
		}
		for i, r := range rows {
			if draws[i] == 0 {
				continue
			}
			rs.AddULocked(ev.Node, r, -draws[i])
			rs.AddULocked(ev.Dest, r, draws[i])
		}
		moved = n
	})
	return moved, outerErr
}

// sampleWithoutReplacement draws exactly k individuals across the
// compartments described by weights, one at a time, decrementing the
// drawn compartment's remaining weight after each draw — the
// generalized (multivariate) hypergeometric sampling spec calls for.
// It fails with inconsistent-event semantics if weights can't supply k.
func sampleWithoutReplacement(rng *rand.Rand, weights []float64, k int64) ([]int64, error) {
	remaining := append([]float64(nil), weights...)
	var total float64
	for _, w := range remaining {
		total += w
	}
	draws := make([]int64, len(remaining))

	for step := int64(0); step < k; step++ {
		if total <= 0 {
			return nil, fmt.Errorf("cannot draw %d individuals: only %d available", k, step)
		}
		target := rng.Float64() * total
		cum := 0.0
		picked := -1
		for i, w := range remaining {
			if w <= 0 {
				continue
			}
			cum += w
			if cum >= target {
				picked = i
				break
			}
		}
		if picked == -1 {
			for i := len(remaining) - 1; i >= 0; i-- {
				if remaining[i] > 0 {
					picked = i
					break
				}
			}
		}
		draws[picked]++
		remaining[picked]--
		total--
	}
	return draws, nil
}
