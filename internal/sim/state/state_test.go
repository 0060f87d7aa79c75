package state

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjmckinley/siminf-engine/kb"
	"github.com/tjmckinley/siminf-engine/matrix"
	"github.com/tjmckinley/siminf-engine/model"
)

func twoNodeModel(t *testing.T) *kb.Model {
	t.Helper()
	reg, err := model.NewRegistry(model.PropensityFunc(func(u []int64, v, ld, gd []float64, tm float64) (float64, error) { return 1, nil }))
	require.NoError(t, err)
	s, err := matrix.New(1, 1, []int{0, 1}, []int{0}, []float64{-1})
	require.NoError(t, err)
	g, err := matrix.New(1, 1, []int{0, 1}, []int{0}, []float64{1})
	require.NoError(t, err)
	e, err := matrix.New(1, 1, []int{0, 1}, []int{0}, []float64{1})
	require.NoError(t, err)
	n, err := matrix.New(1, 0, []int{0}, nil, nil)
	require.NoError(t, err)

	m, err := kb.NewModel(kb.Config{
		Nc: 1, Nn: 2,
		U0:           []int64{10, 20},
		Tspan:        []float64{0, 1},
		G:            g,
		S:            s,
		E:            e,
		N:            n,
		Propensities: reg,
	})
	require.NoError(t, err)
	return m
}

func TestNewValidatesStreamCount(t *testing.T) {
	m := twoNodeModel(t)
	_, err := New(m, []*rand.Rand{rand.New(rand.NewSource(1))})
	require.Error(t, err)
}

func TestULockedRoundTrip(t *testing.T) {
	m := twoNodeModel(t)
	rs, err := New(m, []*rand.Rand{rand.New(rand.NewSource(1)), rand.New(rand.NewSource(2))})
	require.NoError(t, err)

	rs.WithNode(0, func() {
		assert.Equal(t, int64(10), rs.ULocked(0, 0))
		rs.AddULocked(0, 0, -3)
		assert.Equal(t, int64(7), rs.ULocked(0, 0))
	})
	rs.WithNode(1, func() {
		assert.Equal(t, int64(20), rs.ULocked(1, 0))
	})
}

func TestRateSumTracksSetRate(t *testing.T) {
	m := twoNodeModel(t)
	rs, err := New(m, []*rand.Rand{rand.New(rand.NewSource(1)), rand.New(rand.NewSource(2))})
	require.NoError(t, err)

	rs.WithNode(0, func() {
		rs.SetRateLocked(0, 0, 2.5)
		assert.Equal(t, 2.5, rs.RateSumLocked(0))
		rs.SetRateLocked(0, 0, 1.0)
		assert.Equal(t, 1.0, rs.RateSumLocked(0))
	})
}

func TestRecordFireLockedSignalsRefreshInterval(t *testing.T) {
	m := twoNodeModel(t)
	rs, err := New(m, []*rand.Rand{rand.New(rand.NewSource(1)), rand.New(rand.NewSource(2))})
	require.NoError(t, err)

	rs.WithNode(0, func() {
		var due bool
		for i := 0; i < ssaRateSumRefreshInterval; i++ {
			due = rs.RecordFireLocked(0)
		}
		assert.True(t, due)
	})
}

func TestWithNodePairLocksBothRegardlessOfOrder(t *testing.T) {
	m := twoNodeModel(t)
	rs, err := New(m, []*rand.Rand{rand.New(rand.NewSource(1)), rand.New(rand.NewSource(2))})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rs.WithNodePair(0, 1, func() {
				rs.AddULocked(0, 0, 1)
				rs.AddULocked(1, 0, -1)
			})
		}()
		go func() {
			defer wg.Done()
			rs.WithNodePair(1, 0, func() {
				rs.AddULocked(1, 0, 1)
				rs.AddULocked(0, 0, -1)
			})
		}()
	}
	wg.Wait()

	u, _ := rs.Snapshot()
	assert.Equal(t, int64(10), u[0])
	assert.Equal(t, int64(20), u[1])
}
