package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesShape(t *testing.T) {
	_, err := New(2, 2, []int{0, 1}, []int{0}, []float64{1})
	require.Error(t, err, "colptr too short must be rejected")

	_, err = New(2, 2, []int{0, 1, 1}, []int{5}, []float64{1})
	require.Error(t, err, "out-of-range row index must be rejected")

	s, err := New(2, 2, []int{0, 1, 2}, []int{0, 1}, []float64{4, 5})
	require.NoError(t, err)
	assert.Equal(t, 4.0, s.At(0, 0))
	assert.Equal(t, 5.0, s.At(1, 1))
	assert.Equal(t, 0.0, s.At(0, 1))
}

func TestNewFromTripletsSortsAndSumsDuplicates(t *testing.T) {
	s, err := NewFromTriplets(3, 2, []Triplet{
		{Row: 2, Col: 0, Value: 1},
		{Row: 0, Col: 0, Value: 2},
		{Row: 0, Col: 0, Value: 3}, // duplicate: should sum with the entry above
		{Row: 1, Col: 1, Value: 7},
	})
	require.NoError(t, err)

	rowind, values := s.Column(0)
	assert.Equal(t, []int{0, 2}, rowind)
	assert.Equal(t, []float64{5, 1}, values)

	assert.Equal(t, 7.0, s.At(1, 1))
	assert.Equal(t, 1, s.ColumnNNZ(1))
}

func TestRowNamesValidation(t *testing.T) {
	_, err := New(2, 1, []int{0, 1}, []int{0}, []float64{1}, WithRowNames([]string{"S"}))
	require.Error(t, err, "row name count must match row count")

	s, err := New(2, 1, []int{0, 1}, []int{0}, []float64{1}, WithRowNames([]string{"S", "I"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"S", "I"}, s.RowNames)
}

func TestSameRowNames(t *testing.T) {
	a, _ := New(2, 1, []int{0, 1}, []int{0}, []float64{1}, WithRowNames([]string{"S", "I"}))
	b, _ := New(2, 1, []int{0, 1}, []int{1}, []float64{1}, WithRowNames([]string{"S", "I"}))
	c, _ := New(2, 1, []int{0, 1}, []int{1}, []float64{1}, WithRowNames([]string{"S", "R"}))

	assert.True(t, a.SameRowNames(b))
	assert.False(t, a.SameRowNames(c))
}
