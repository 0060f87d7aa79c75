package timectrl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsShortOrNonIncreasingTspan(t *testing.T) {
	_, err := New([]float64{0})
	require.Error(t, err)

	_, err = New([]float64{0, 1, 1})
	require.Error(t, err)
}

func TestAdvanceWalksTspanAndNotifiesListeners(t *testing.T) {
	tc, err := New([]float64{0, 1, 2, 3})
	require.NoError(t, err)

	var seen []int
	tc.AddListener(func(idx int, t float64) { seen = append(seen, idx) })

	idx, tval, done := tc.Advance()
	assert.Equal(t, 1, idx)
	assert.Equal(t, 1.0, tval)
	assert.False(t, done)

	tc.Advance()
	idx, _, done = tc.Advance()
	assert.Equal(t, 3, idx)
	assert.True(t, done)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestCancelIsObservable(t *testing.T) {
	tc, err := New([]float64{0, 1})
	require.NoError(t, err)
	assert.False(t, tc.Cancelled())
	tc.Cancel()
	assert.True(t, tc.Cancelled())
}

func TestIntegerTickCursorIsFinerThanTspan(t *testing.T) {
	tc, err := New([]float64{0, 7, 14, 21})
	require.NoError(t, err)

	assert.Equal(t, 0, tc.NextIntegerTick())

	var consumed []int
	bound := tc.At(1)
	for tc.PendingIntegerTick(bound) {
		consumed = append(consumed, tc.ConsumeIntegerTick())
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, consumed)
	assert.False(t, tc.PendingIntegerTick(bound))
}

func TestIntegerTickCursorStopsAtLastTick(t *testing.T) {
	tc, err := New([]float64{0, 2.5})
	require.NoError(t, err)

	var consumed []int
	for tc.PendingIntegerTick(tc.At(1)) {
		consumed = append(consumed, tc.ConsumeIntegerTick())
	}
	assert.Equal(t, []int{0, 1, 2}, consumed)
}
