package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjmckinley/siminf-engine/kb"
	"github.com/tjmckinley/siminf-engine/matrix"
	"github.com/tjmckinley/siminf-engine/model"
)

// twoNodeSIRWithTransfer builds a two-node SIR model with a single
// scheduled EXTERNAL_TRANSFER event moving susceptibles from node 0 to
// node 1 partway through the run, exercising P1-P4 and P7 together: no
// negative compartments, total population conserved, the transfer's
// count resolved exactly, and cross-node movement balances exactly.
// S, G and E are per-compartment matrices shared by both nodes.
func twoNodeSIRWithTransfer(t *testing.T) *kb.Model {
	t.Helper()
	reg, err := model.NewRegistry(
		MassAction(0.002, 0, 1),
		MassAction(0.15, 1),
	)
	require.NoError(t, err)

	s, err := matrix.NewFromTriplets(3, 2, []matrix.Triplet{
		{Row: 0, Col: 0, Value: -1}, {Row: 1, Col: 0, Value: 1},
		{Row: 1, Col: 1, Value: -1}, {Row: 2, Col: 1, Value: 1},
	})
	require.NoError(t, err)

	g, err := matrix.NewFromTriplets(2, 2, []matrix.Triplet{
		{Row: 0, Col: 0, Value: 1}, {Row: 1, Col: 0, Value: 1},
		{Row: 0, Col: 1, Value: 1}, {Row: 1, Col: 1, Value: 1},
	})
	require.NoError(t, err)

	// one selector column picking the S compartment.
	e, err := matrix.New(3, 1, []int{0, 1}, []int{0}, []float64{1})
	require.NoError(t, err)
	n, err := matrix.New(3, 0, []int{0}, nil, nil)
	require.NoError(t, err)

	m, err := kb.NewModel(kb.Config{
		Nc: 3, Nn: 2,
		U0:    []int64{80, 5, 0, 120, 0, 0},
		Tspan: []float64{0, 1, 2, 3, 4, 5},
		Events: []model.Event{
			{Kind: model.EventExternalTransfer, Time: 2, Node: 0, Dest: 1, N: 10, Select: 0, Shift: -1},
		},
		G: g, S: s, E: e, N: n,
		Propensities: reg,
	})
	require.NoError(t, err)
	return m
}

func TestDriverConservesTotalPopulationAcrossNodes(t *testing.T) {
	m := twoNodeSIRWithTransfer(t)
	d := NewDriver(m, WithWorkers(2), WithMasterSeed(123))

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, res.Status)

	const want = int64(80 + 5 + 0 + 120 + 0 + 0)
	for col := range m.Tspan {
		var total int64
		for row := range res.U {
			total += res.U[row][col]
		}
		assert.Equal(t, want, total, "total population not conserved at tspan index %d", col)
		for row := range res.U {
			assert.GreaterOrEqual(t, res.U[row][col], int64(0), "negative compartment at row %d col %d", row, col)
		}
	}

	require.Len(t, res.EventLog, 1)
	assert.Equal(t, int64(10), res.EventLog[0].Count)
}

func TestDriverRunIsCancellable(t *testing.T) {
	m := twoNodeSIRWithTransfer(t)
	d := NewDriver(m, WithMasterSeed(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Run(ctx)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCancelled))
	assert.Equal(t, model.StatusCancelled, res.Status)
}
