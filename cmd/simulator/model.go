package main

import "github.com/tjmckinley/siminf-engine/matrix"

// buildSIRStoichiometry returns S for S->I->R: transition 0 removes one
// S and adds one I, transition 1 removes one I and adds one R.
func buildSIRStoichiometry() (*matrix.Sparse, error) {
	return matrix.NewFromTriplets(3, 2, []matrix.Triplet{
		{Row: 0, Col: 0, Value: -1}, {Row: 1, Col: 0, Value: 1},
		{Row: 1, Col: 1, Value: -1}, {Row: 2, Col: 1, Value: 1},
	}, matrix.WithRowNames([]string{"S", "I", "R"}))
}

// buildSIRDependencyGraph returns G: both rates depend on I and both
// transitions change I, so firing either transition invalidates both
// rates.
func buildSIRDependencyGraph() (*matrix.Sparse, error) {
	return matrix.NewFromTriplets(2, 2, []matrix.Triplet{
		{Row: 0, Col: 0, Value: 1}, {Row: 1, Col: 0, Value: 1},
		{Row: 0, Col: 1, Value: 1}, {Row: 1, Col: 1, Value: 1},
	})
}

// buildEmptySelector returns an Nc-row event selector matrix with no
// columns, used when a model schedules no discrete events.
func buildEmptySelector(nc int) (*matrix.Sparse, error) {
	return matrix.New(nc, 0, []int{0}, nil, nil)
}

// buildEmptyShift returns an Nc-row shift-remap matrix with no columns,
// used when a model schedules no INTERNAL_TRANSFER events.
func buildEmptyShift(nc int) (*matrix.Sparse, error) {
	return matrix.New(nc, 0, []int{0}, nil, nil)
}
