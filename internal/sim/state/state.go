// Package state holds RunState, the mutable per-node arrays a Driver
// advances: compartment counts, continuous state, per-node simulation
// time, propensity rates, and RNG streams. It follows the locking
// discipline of a larger knowledge-base type: a coarse lock for
// structural, whole-run operations like Snapshot, and a fine-grained
// per-node lock for the hot path, with *Locked-suffixed helpers that
// assume the caller already holds the relevant lock(s).
package state

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/tjmckinley/siminf-engine/internal/logging"
	"github.com/tjmckinley/siminf-engine/kb"
)

// MetricsRecorder receives the active-node count once, when New
// constructs a RunState.
type MetricsRecorder interface {
	SetActiveNodes(n int)
}

// RunState is the single-writer-partitioned store of per-node state for
// one run. Workers own disjoint node ranges and only need the node lock
// for EXTERNAL_TRANSFER's cross-node mutation; Snapshot takes the coarse
// lock and is meant to be called only at tick barriers, when no worker
// holds any node lock.
type RunState struct {
	mu sync.RWMutex

	nodeMu []sync.Mutex

	nc, nd, nn, nt int

	u       []int64
	v       []float64
	tNode   []float64
	rate    []float64
	rateSum []float64
	fires   []uint64
	streams []*rand.Rand

	// rateSumRefreshes, depRecomputes, and fullRecomputes are run-wide
	// observability counters, updated with atomic ops since they're read
	// from the driver goroutine while worker goroutines hold per-node
	// locks, not the coarse one.
	rateSumRefreshes int64
	depRecomputes    int64
	fullRecomputes   int64

	log     logging.Logger
	metrics MetricsRecorder
}

// Option customises RunState construction.
type Option func(*RunState)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(rs *RunState) { rs.log = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(rs *RunState) { rs.metrics = m }
}

// New constructs a RunState for m, seeding u/v from the model's initial
// conditions and assigning one RNG stream per node.
func New(m *kb.Model, streams []*rand.Rand, opts ...Option) (*RunState, error) {
	if m == nil {
		return nil, fmt.Errorf("state: model must not be nil")
	}
	if len(streams) != m.Nn {
		return nil, fmt.Errorf("state: got %d RNG streams, want %d (one per node)", len(streams), m.Nn)
	}

	rs := &RunState{
		nodeMu:  make([]sync.Mutex, m.Nn),
		nc:      m.Nc,
		nd:      m.Nd,
		nn:      m.Nn,
		nt:      m.Propensities.Len(),
		u:       append([]int64(nil), m.U0...),
		v:       append([]float64(nil), m.V0...),
		tNode:   make([]float64, m.Nn),
		rate:    make([]float64, m.Propensities.Len()*m.Nn),
		rateSum: make([]float64, m.Nn),
		fires:   make([]uint64, m.Nn),
		streams: streams,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(rs)
	}
	if rs.log == nil {
		rs.log = logging.Noop()
	}
	if rs.metrics != nil {
		rs.metrics.SetActiveNodes(m.Nn)
	}
	return rs, nil
}

// Lock acquires node n's lock.
func (rs *RunState) Lock(n int) { rs.nodeMu[n].Lock() }

// Unlock releases node n's lock.
func (rs *RunState) Unlock(n int) { rs.nodeMu[n].Unlock() }

// WithNode runs fn with node n's lock held.
func (rs *RunState) WithNode(n int, fn func()) {
	rs.Lock(n)
	defer rs.Unlock(n)
	fn()
}

// WithNodePair runs fn with both nodes' locks held, always acquired in
// ascending index order to avoid deadlocks regardless of call order.
func (rs *RunState) WithNodePair(a, b int, fn func()) {
	if a == b {
		rs.WithNode(a, fn)
		return
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	rs.Lock(lo)
	defer rs.Unlock(lo)
	rs.Lock(hi)
	defer rs.Unlock(hi)
	fn()
}

// --- *Locked helpers: caller must already hold node n's lock. ---

// ULocked returns node n's compartment c count.
func (rs *RunState) ULocked(n, c int) int64 { return rs.u[n*rs.nc+c] }

// SetULocked sets node n's compartment c count.
func (rs *RunState) SetULocked(n, c int, val int64) { rs.u[n*rs.nc+c] = val }

// AddULocked adds delta to node n's compartment c count.
func (rs *RunState) AddULocked(n, c int, delta int64) { rs.u[n*rs.nc+c] += delta }

// ULocked doesn't copy; UForNodeLocked returns node n's full compartment
// slice directly for stoichiometry/propensity evaluation.
func (rs *RunState) UForNodeLocked(n int) []int64 { return rs.u[n*rs.nc : (n+1)*rs.nc] }

// VLocked returns node n's continuous variable d.
func (rs *RunState) VLocked(n, d int) float64 { return rs.v[n*rs.nd+d] }

// SetVLocked sets node n's continuous variable d.
func (rs *RunState) SetVLocked(n, d int, val float64) { rs.v[n*rs.nd+d] = val }

// VForNodeLocked returns node n's full continuous-state slice.
func (rs *RunState) VForNodeLocked(n int) []float64 {
	if rs.nd == 0 {
		return nil
	}
	return rs.v[n*rs.nd : (n+1)*rs.nd]
}

// TNodeLocked returns node n's local simulation time.
func (rs *RunState) TNodeLocked(n int) float64 { return rs.tNode[n] }

// SetTNodeLocked sets node n's local simulation time.
func (rs *RunState) SetTNodeLocked(n int, t float64) { rs.tNode[n] = t }

// RateLocked returns node n's cached propensity i.
func (rs *RunState) RateLocked(n, i int) float64 { return rs.rate[n*rs.nt+i] }

// SetRateLocked caches node n's propensity i and keeps rateSum in sync.
func (rs *RunState) SetRateLocked(n, i int, val float64) {
	idx := n*rs.nt + i
	rs.rateSum[n] += val - rs.rate[idx]
	rs.rate[idx] = val
}

// RateSumLocked returns node n's cached total propensity.
func (rs *RunState) RateSumLocked(n int) float64 { return rs.rateSum[n] }

// RecomputeRateSumLocked recomputes node n's rate sum from scratch,
// correcting for floating point drift accumulated via SetRateLocked.
func (rs *RunState) RecomputeRateSumLocked(n int) {
	var sum float64
	base := n * rs.nt
	for i := 0; i < rs.nt; i++ {
		sum += rs.rate[base+i]
	}
	rs.rateSum[n] = sum
	atomic.AddInt64(&rs.rateSumRefreshes, 1)
}

// RateSumRefreshCount reports how many times RecomputeRateSumLocked has
// run across all nodes so far this run.
func (rs *RunState) RateSumRefreshCount() int64 {
	return atomic.LoadInt64(&rs.rateSumRefreshes)
}

// RecordDependencyRecompute notes that a transition fired and its
// dependency-graph neighbours were recomputed in place, as opposed to a
// full node refresh (RecordFullRecompute) after an event.
func (rs *RunState) RecordDependencyRecompute() {
	atomic.AddInt64(&rs.depRecomputes, 1)
}

// RecordFullRecompute notes that every transition's rate was
// recomputed for one node, e.g. after an event touched it.
func (rs *RunState) RecordFullRecompute() {
	atomic.AddInt64(&rs.fullRecomputes, 1)
}

// RecomputeCounts reports the running totals RecordDependencyRecompute
// and RecordFullRecompute have accumulated this run.
func (rs *RunState) RecomputeCounts() (dependency, full int64) {
	return atomic.LoadInt64(&rs.depRecomputes), atomic.LoadInt64(&rs.fullRecomputes)
}

// ssaRateSumRefreshInterval bounds how many fires occur between full
// rate_sum recomputations, limiting accumulated floating point drift.
const ssaRateSumRefreshInterval = 10_000

// RecordFireLocked increments node n's fire counter and reports whether
// a full rate_sum refresh is due.
func (rs *RunState) RecordFireLocked(n int) (refreshDue bool) {
	rs.fires[n]++
	return rs.fires[n]%ssaRateSumRefreshInterval == 0
}

// StreamLocked returns node n's RNG stream.
func (rs *RunState) StreamLocked(n int) *rand.Rand { return rs.streams[n] }

// NumNodes, NumCompartments, NumContinuous, and NumTransitions expose
// fixed dimensions; they require no locking since they never change
// after construction.
func (rs *RunState) NumNodes() int        { return rs.nn }
func (rs *RunState) NumCompartments() int { return rs.nc }
func (rs *RunState) NumContinuous() int   { return rs.nd }
func (rs *RunState) NumTransitions() int  { return rs.nt }

// Snapshot copies the current u and v arrays. It takes the coarse lock
// and must only be called at a tick barrier, when no worker holds any
// per-node lock — otherwise it may observe a torn cross-node state.
func (rs *RunState) Snapshot() (u []int64, v []float64) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return append([]int64(nil), rs.u...), append([]float64(nil), rs.v...)
}
