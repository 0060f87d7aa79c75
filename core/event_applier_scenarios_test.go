package core

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjmckinley/siminf-engine/internal/sim/state"
	"github.com/tjmckinley/siminf-engine/kb"
	"github.com/tjmckinley/siminf-engine/matrix"
	"github.com/tjmckinley/siminf-engine/model"
)

// zeroPropensityRegistry builds a single always-zero propensity, enough
// to satisfy kb.NewModel's "at least one propensity" requirement for
// models that exist only to exercise event application, not the SSA.
func zeroPropensityRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg, err := model.NewRegistry(model.PropensityFunc(func(u []int64, v, ld, gd []float64, tm float64) (float64, error) { return 0, nil }))
	require.NoError(t, err)
	return reg
}

func runStateFor(t *testing.T, m *kb.Model, seeds ...int64) *state.RunState {
	t.Helper()
	streams := make([]*rand.Rand, m.Nn)
	for i := range streams {
		seed := int64(i) + 1
		if i < len(seeds) {
			seed = seeds[i]
		}
		streams[i] = rand.New(rand.NewSource(seed))
	}
	rs, err := state.New(m, streams)
	require.NoError(t, err)
	return rs
}

// TestScenarioExternalTransferMovesExactCount is spec scenario 2: a
// two-node SIR model with a single EXTERNAL_TRANSFER event moving 10
// susceptibles from node 0 to node 1.
func TestScenarioExternalTransferMovesExactCount(t *testing.T) {
	s, err := matrix.New(3, 1, []int{0, 0}, nil, nil, matrix.WithRowNames([]string{"S", "I", "R"}))
	require.NoError(t, err)
	g, err := matrix.New(1, 1, []int{0, 0}, nil, nil)
	require.NoError(t, err)
	e, err := matrix.New(3, 1, []int{0, 1}, []int{0}, []float64{1}, matrix.WithRowNames([]string{"S", "I", "R"}))
	require.NoError(t, err)
	n, err := matrix.New(3, 0, []int{0}, nil, nil)
	require.NoError(t, err)

	m, err := kb.NewModel(kb.Config{
		Nc: 3, Nn: 2,
		U0:           []int64{100, 0, 0, 0, 0, 0},
		Tspan:        []float64{0, 5},
		G:            g,
		S:            s,
		E:            e,
		N:            n,
		Propensities: zeroPropensityRegistry(t),
	})
	require.NoError(t, err)
	rs := runStateFor(t, m)

	moved, err := ApplyEvent(rs, m, model.Event{Kind: model.EventExternalTransfer, Node: 0, Dest: 1, Select: 0, N: 10, Shift: -1}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), moved)

	u, _ := rs.Snapshot()
	assert.Equal(t, []int64{90, 0, 0, 10, 0, 0}, u)
}

// TestScenarioInternalTransferShiftsCompartment is spec scenario 3: a
// single-node model shifting 20 individuals from compartment 0 to
// compartment 1 via an INTERNAL_TRANSFER event.
func TestScenarioInternalTransferShiftsCompartment(t *testing.T) {
	s, err := matrix.New(2, 1, []int{0, 0}, nil, nil)
	require.NoError(t, err)
	g, err := matrix.New(1, 1, []int{0, 0}, nil, nil)
	require.NoError(t, err)
	e, err := matrix.New(2, 1, []int{0, 1}, []int{0}, []float64{1})
	require.NoError(t, err)
	n, err := matrix.New(2, 1, []int{0, 1}, []int{0}, []float64{1})
	require.NoError(t, err)

	m, err := kb.NewModel(kb.Config{
		Nc: 2, Nn: 1,
		U0:           []int64{50, 0},
		Tspan:        []float64{0, 3},
		G:            g,
		S:            s,
		E:            e,
		N:            n,
		Propensities: zeroPropensityRegistry(t),
	})
	require.NoError(t, err)
	rs := runStateFor(t, m)

	moved, err := ApplyEvent(rs, m, model.Event{Kind: model.EventInternalTransfer, Node: 0, Select: 0, Shift: 0, N: 20}, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(20), moved)

	u, _ := rs.Snapshot()
	assert.Equal(t, []int64{30, 20}, u)
}

// TestScenarioProportionalExitRemovesHalfHypergeometrically is spec
// scenario 4: a proportional EXIT event (N==0, Proportion set) must
// resolve to an absolute count via resolveCount and distribute the
// removal across the selected compartments via
// sampleWithoutReplacement's weighted draws, rather than failing or
// silently skipping because no explicit N was supplied.
func TestScenarioProportionalExitRemovesHalfHypergeometrically(t *testing.T) {
	s, err := matrix.New(2, 1, []int{0, 0}, nil, nil)
	require.NoError(t, err)
	g, err := matrix.New(1, 1, []int{0, 0}, nil, nil)
	require.NoError(t, err)
	e, err := matrix.New(2, 1, []int{0, 2}, []int{0, 1}, []float64{1, 1})
	require.NoError(t, err)
	n, err := matrix.New(2, 0, []int{0}, nil, nil)
	require.NoError(t, err)

	m, err := kb.NewModel(kb.Config{
		Nc: 2, Nn: 1,
		U0:           []int64{80, 20},
		Tspan:        []float64{0, 1},
		G:            g,
		S:            s,
		E:            e,
		N:            n,
		Propensities: zeroPropensityRegistry(t),
	})
	require.NoError(t, err)

	ev := model.Event{Kind: model.EventExit, Node: 0, Select: 0, N: 0, Proportion: 0.5}

	// A single draw: resolveCount must turn the proportion into exactly
	// 50 removed (round-half-away-from-zero of 0.5*100), not zero.
	rs := runStateFor(t, m, 1)
	moved, err := ApplyEvent(rs, m, ev, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), moved)
	u, _ := rs.Snapshot()
	assert.Equal(t, int64(50), u[0]+u[1])

	// Over many seeds, the hypergeometric draw should distribute the 50
	// removed proportionally to each compartment's weight, leaving a
	// mean of 40 survivors in compartment 0 (80 * (100-50)/100).
	const trials = 10000
	var survivorSum int64
	for seed := int64(1); seed <= trials; seed++ {
		rs := runStateFor(t, m, seed)
		_, err := ApplyEvent(rs, m, ev, 1)
		require.NoError(t, err)
		u, _ := rs.Snapshot()
		survivorSum += u[0]
	}
	mean := float64(survivorSum) / float64(trials)
	assert.InDelta(t, 40.0, mean, 1.0, "mean survivors in compartment 0 over %d trials", trials)
}
