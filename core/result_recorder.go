package core

import (
	"github.com/tjmckinley/siminf-engine/internal/sim/state"
	"github.com/tjmckinley/siminf-engine/model"
)

// RecordMask decides whether a given (node, slot, timeIndex) triple
// should be kept when sparse recording is in effect. slot addresses a
// compartment index for U or a continuous-variable index for V.
type RecordMask func(node, slot, timeIndex int) bool

// Recorder accumulates U/V state at each tspan index, either densely or
// through a caller-supplied sparse mask.
type Recorder struct {
	nc, nd, nn int

	dense bool
	mask  RecordMask

	u [][]int64
	v [][]float64

	sparseU *model.SparseSeries
	sparseV *model.SparseSeries

	eventLog []model.AppliedEvent
	col      int
}

// NewDenseRecorder allocates a recorder that keeps every (node,
// compartment) and (node, continuous-variable) series across all T
// tspan output points.
func NewDenseRecorder(nc, nd, nn, t int) *Recorder {
	r := &Recorder{nc: nc, nd: nd, nn: nn, dense: true}
	r.u = make([][]int64, nc*nn)
	for i := range r.u {
		r.u[i] = make([]int64, t)
	}
	r.v = make([][]float64, nd*nn)
	for i := range r.v {
		r.v[i] = make([]float64, t)
	}
	return r
}

// NewSparseRecorder allocates a recorder that only retains the (node,
// slot, timeIndex) triples mask approves.
func NewSparseRecorder(nc, nd, nn int, mask RecordMask) *Recorder {
	return &Recorder{
		nc: nc, nd: nd, nn: nn,
		mask:    mask,
		sparseU: model.NewSparseSeries(),
		sparseV: model.NewSparseSeries(),
	}
}

// Record captures rs's current state at tspan index timeIndex.
func (r *Recorder) Record(rs *state.RunState, timeIndex int) {
	u, v := rs.Snapshot()

	if r.dense {
		for row := range r.u {
			r.u[row][timeIndex] = u[row]
		}
		for row := range r.v {
			r.v[row][timeIndex] = v[row]
		}
		r.col = timeIndex + 1
		return
	}

	for n := 0; n < r.nn; n++ {
		for c := 0; c < r.nc; c++ {
			if r.mask(n, c, timeIndex) {
				r.sparseU.Set(n, c, timeIndex, float64(u[n*r.nc+c]))
			}
		}
		for d := 0; d < r.nd; d++ {
			if r.mask(n, d, timeIndex) {
				r.sparseV.Set(n, d, timeIndex, v[n*r.nd+d])
			}
		}
	}
	r.col = timeIndex + 1
}

// AppendEvent adds one entry to the applied-event audit trail.
func (r *Recorder) AppendEvent(ev model.AppliedEvent) {
	r.eventLog = append(r.eventLog, ev)
}

// Result assembles the recorded series into a model.Result.
func (r *Recorder) Result(tspan []float64, status model.RunStatus) *model.Result {
	res := &model.Result{
		Tspan:    append([]float64(nil), tspan...),
		EventLog: append([]model.AppliedEvent(nil), r.eventLog...),
		Status:   status,
	}
	if r.dense {
		res.U = r.u
		res.V = r.v
	} else {
		res.SparseU = r.sparseU
		res.SparseV = r.sparseV
	}
	return res
}
