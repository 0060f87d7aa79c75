// Package timectrl sequences a run's integer tick boundaries against its
// tspan output points and exposes cooperative cancellation, the same
// mutex-protected "current position plus registered listeners" shape a
// wall-clock time controller uses, repurposed for numeric simulation
// time instead of real time.
package timectrl

import (
	"fmt"
	"math"
	"sync"
)

// Listener is notified once per completed tick, after the driver has
// advanced every node and applied that tick's events.
type Listener func(tickIndex int, t float64)

// TickController walks a fixed tspan vector one index at a time, while
// separately tracking the finer-grained integer tick cursor events fire
// on — tspan output points and integer ticks coincide only when tspan
// happens to be consecutive integers, e.g. a weekly-output run over a
// daily-tick model needs seven integer ticks applied per tspan step.
// It also tracks whether a caller has requested cancellation.
type TickController struct {
	mu sync.RWMutex

	tspan     []float64
	index     int
	cancelled bool
	listeners []Listener

	nextTick int // next integer tick not yet consumed
	lastTick int // last integer tick in range, floor(tspan[len-1])
}

// New validates tspan and constructs a controller positioned at index 0
// and at the first integer tick, ceil(tspan[0]).
func New(tspan []float64) (*TickController, error) {
	if len(tspan) < 2 {
		return nil, fmt.Errorf("timectrl: tspan must have at least 2 points, got %d", len(tspan))
	}
	for i := 1; i < len(tspan); i++ {
		if tspan[i] <= tspan[i-1] {
			return nil, fmt.Errorf("timectrl: tspan must be strictly increasing at index %d", i)
		}
	}
	return &TickController{
		tspan:    append([]float64(nil), tspan...),
		nextTick: int(math.Ceil(tspan[0])),
		lastTick: int(math.Floor(tspan[len(tspan)-1])),
	}, nil
}

// Len returns the number of tspan output points.
func (tc *TickController) Len() int { return len(tc.tspan) }

// At returns tspan[i].
func (tc *TickController) At(i int) float64 { return tc.tspan[i] }

// AddListener registers a callback invoked after each completed tick.
func (tc *TickController) AddListener(fn Listener) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance moves from the current index to the next one, notifying
// listeners with the index just reached and its output time. It returns
// done=true once index len(tspan)-1 has been reached.
func (tc *TickController) Advance() (idx int, t float64, done bool) {
	tc.mu.Lock()
	tc.index++
	idx = tc.index
	t = tc.tspan[idx]
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(idx, t)
	}
	return idx, t, idx >= len(tc.tspan)-1
}

// Cancel requests cooperative cancellation; Cancelled() observes it at
// the next tick boundary.
func (tc *TickController) Cancel() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.cancelled = true
}

// Cancelled reports whether Cancel has been called.
func (tc *TickController) Cancelled() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.cancelled
}

// Index returns the controller's current tspan index.
func (tc *TickController) Index() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.index
}

// PendingIntegerTick reports whether an integer tick remains to be
// consumed at or before bound (and within the run's overall tick
// range). The driver calls this to decide whether its per-tspan-step
// loop needs another pass through the nested per-tick loop before
// advancing straight to bound.
func (tc *TickController) PendingIntegerTick(bound float64) bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.nextTick <= tc.lastTick && float64(tc.nextTick) <= bound
}

// NextIntegerTick returns the next integer tick not yet consumed,
// without consuming it.
func (tc *TickController) NextIntegerTick() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.nextTick
}

// ConsumeIntegerTick returns the next integer tick and advances the
// cursor past it.
func (tc *TickController) ConsumeIntegerTick() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	t := tc.nextTick
	tc.nextTick++
	return t
}
