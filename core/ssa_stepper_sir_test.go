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

// sirModel builds a single-node SIR model: S -> I (mass action) and
// I -> R (constant per-capita recovery).
func sirModel(t *testing.T, s0, i0, r0 int64) *kb.Model {
	t.Helper()
	reg, err := model.NewRegistry(
		MassAction(0.001, 0, 1), // infection: beta*S*I
		MassAction(0.1, 1),      // recovery: gamma*I
	)
	require.NoError(t, err)

	s, err := matrix.NewFromTriplets(3, 2, []matrix.Triplet{
		{Row: 0, Col: 0, Value: -1}, {Row: 1, Col: 0, Value: 1},
		{Row: 1, Col: 1, Value: -1}, {Row: 2, Col: 1, Value: 1},
	}, matrix.WithRowNames([]string{"S", "I", "R"}))
	require.NoError(t, err)

	// both transitions depend on S and I counts, so firing either one
	// invalidates both rates (G is 2x2, all entries present).
	g, err := matrix.NewFromTriplets(2, 2, []matrix.Triplet{
		{Row: 0, Col: 0, Value: 1}, {Row: 1, Col: 0, Value: 1},
		{Row: 0, Col: 1, Value: 1}, {Row: 1, Col: 1, Value: 1},
	})
	require.NoError(t, err)

	e, err := matrix.New(3, 1, []int{0, 3}, []int{0, 1, 2}, []float64{1, 1, 1}, matrix.WithRowNames([]string{"S", "I", "R"}))
	require.NoError(t, err)
	n, err := matrix.New(3, 0, []int{0}, nil, nil)
	require.NoError(t, err)

	m, err := kb.NewModel(kb.Config{
		Nc: 3, Nn: 1,
		U0:           []int64{s0, i0, r0},
		Tspan:        []float64{0, 1, 2, 3, 4, 5},
		G:            g,
		S:            s,
		E:            e,
		N:            n,
		Propensities: reg,
	})
	require.NoError(t, err)
	return m
}

func TestSIRSingleNodeConservesPopulation(t *testing.T) {
	m := sirModel(t, 99, 1, 0)
	rs, err := state.New(m, []*rand.Rand{rand.New(rand.NewSource(1))})
	require.NoError(t, err)
	require.NoError(t, InitializeNodeRates(rs, m, 0, m.Tspan[0]))

	total := func() int64 {
		u, _ := rs.Snapshot()
		return u[0] + u[1] + u[2]
	}
	require.Equal(t, int64(100), total())

	for k := 1; k < len(m.Tspan); k++ {
		_, err := AdvanceNode(rs, m, 0, m.Tspan[k], k)
		require.NoError(t, err)
		assert.Equal(t, int64(100), total(), "population must be conserved at tick %d", k)
	}
}

func TestSIRWithNoInfectedNeverFires(t *testing.T) {
	// P6: an empty event schedule and zero infected means only the
	// (zero) propensities exist; no transition should ever fire, and
	// the node's clock should simply advance to each bound.
	m := sirModel(t, 100, 0, 0)
	rs, err := state.New(m, []*rand.Rand{rand.New(rand.NewSource(1))})
	require.NoError(t, err)
	require.NoError(t, InitializeNodeRates(rs, m, 0, m.Tspan[0]))

	fires, err := AdvanceNode(rs, m, 0, m.Tspan[len(m.Tspan)-1], len(m.Tspan)-1)
	require.NoError(t, err)
	assert.Equal(t, 0, fires)

	u, _ := rs.Snapshot()
	assert.Equal(t, []int64{100, 0, 0}, u)
}

func TestSIRDeterministicReplay(t *testing.T) {
	// P5: identical seed and model produce identical trajectories.
	run := func() []int64 {
		m := sirModel(t, 99, 1, 0)
		rs, err := state.New(m, []*rand.Rand{rand.New(rand.NewSource(99))})
		require.NoError(t, err)
		require.NoError(t, InitializeNodeRates(rs, m, 0, m.Tspan[0]))
		for k := 1; k < len(m.Tspan); k++ {
			_, err := AdvanceNode(rs, m, 0, m.Tspan[k], k)
			require.NoError(t, err)
		}
		u, _ := rs.Snapshot()
		return u
	}

	a := run()
	b := run()
	assert.Equal(t, a, b)
}
