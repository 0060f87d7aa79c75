package core

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tjmckinley/siminf-engine/internal/logging"
	"github.com/tjmckinley/siminf-engine/internal/observability"
	"github.com/tjmckinley/siminf-engine/internal/sim/state"
	"github.com/tjmckinley/siminf-engine/kb"
	"github.com/tjmckinley/siminf-engine/model"
	"github.com/tjmckinley/siminf-engine/timectrl"
)

const tracerName = "github.com/tjmckinley/siminf-engine/core"

// PostStepHook runs after every tick's SSA advance and event application
// have both completed, before that tick's state is recorded. It may
// mutate v (continuous per-node state) but must not touch u.
type PostStepHook func(rs *state.RunState, m *kb.Model, tickIndex int, t float64) error

// Driver runs a compiled Model to completion, advancing every node with
// the Gillespie direct method between tspan output points and applying
// scheduled events at tick boundaries.
type Driver struct {
	model      *kb.Model
	nWorkers   int
	masterSeed int64
	mask       RecordMask
	postStep   PostStepHook
	log        logging.Logger
	metrics    *observability.SchedulerCollector
	runMetrics *observability.RunCollector

	eventsByTick map[int][]model.Event

	// reportedRefreshes is the rate_sum refresh count already pushed to
	// metrics, so reportRecomputeMetrics can report the delta rather
	// than double-counting across ticks.
	reportedRefreshes int64
}

// Option customises Driver construction.
type Option func(*Driver)

// WithWorkers sets the number of goroutines nodes are partitioned
// across. Defaults to 1 (fully sequential) when unset or non-positive.
func WithWorkers(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.nWorkers = n
		}
	}
}

// WithMasterSeed fixes the master seed worker RNG streams derive from.
func WithMasterSeed(seed int64) Option {
	return func(d *Driver) { d.masterSeed = seed }
}

// WithRecordMask switches the recorder from dense to sparse recording,
// keeping only the (node, slot, timeIndex) triples mask approves.
func WithRecordMask(mask RecordMask) Option {
	return func(d *Driver) { d.mask = mask }
}

// WithPostStepHook attaches a hook invoked once per tick after events
// have been applied and before that tick is recorded.
func WithPostStepHook(hook PostStepHook) Option {
	return func(d *Driver) { d.postStep = hook }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithSchedulerMetrics attaches a Prometheus collector for tick-level
// timing metrics.
func WithSchedulerMetrics(c *observability.SchedulerCollector) Option {
	return func(d *Driver) { d.metrics = c }
}

// WithRunMetrics attaches a Prometheus collector for run-level counters:
// fires, applied events, and terminal status.
func WithRunMetrics(c *observability.RunCollector) Option {
	return func(d *Driver) { d.runMetrics = c }
}

// NewDriver constructs a Driver for m.
func NewDriver(m *kb.Model, opts ...Option) *Driver {
	d := &Driver{
		model:    m,
		nWorkers: 1,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logging.Noop()
	}
	d.eventsByTick = indexEventsByTick(m)
	return d
}

// indexEventsByTick groups events by the integer tick they fire on
// (kb.NewModel guarantees every event's Time is a positive integer
// within the run's tick range), preserving input order within a tick
// so ties resolve deterministically.
func indexEventsByTick(m *kb.Model) map[int][]model.Event {
	byTick := make(map[int][]model.Event)
	for _, ev := range m.Events {
		tick := int(ev.Time)
		byTick[tick] = append(byTick[tick], ev)
	}
	return byTick
}

// partitionNodes splits [0,n) into up to workers contiguous blocks.
func partitionNodes(n, workers int) [][]int {
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	blocks := make([][]int, 0, workers)
	base := n / workers
	rem := n % workers
	start := 0
	for w := 0; w < workers; w++ {
		size := base
		if w < rem {
			size++
		}
		block := make([]int, size)
		for i := 0; i < size; i++ {
			block[i] = start + i
		}
		start += size
		blocks = append(blocks, block)
	}
	return blocks
}

// Run advances the model across its full tspan, returning the recorded
// result. On cancellation or a fatal per-node error, it returns the
// partial result recorded up to the last completed tick alongside the
// error.
func (d *Driver) Run(ctx context.Context) (*model.Result, error) {
	m := d.model
	tc, err := timectrl.New(m.Tspan)
	if err != nil {
		return nil, NewRunError(KindInvalidInput, -1, 0, err)
	}

	tracer := otel.Tracer(tracerName)
	ctx, runSpan := tracer.Start(ctx, "Driver.Run", trace.WithAttributes(
		attribute.Int("nodes", m.Nn),
		attribute.Int("tspan_len", len(m.Tspan)),
	))
	defer runSpan.End()

	streams := NewStreams(d.masterSeed, m.Nn)
	rs, err := state.New(m, streams, state.WithLogger(d.log))
	if err != nil {
		err = NewRunError(KindInvalidInput, -1, 0, err)
		runSpan.RecordError(err)
		return nil, err
	}

	for n := 0; n < m.Nn; n++ {
		if err := InitializeNodeRates(rs, m, n, m.Tspan[0]); err != nil {
			runSpan.RecordError(err)
			return nil, err
		}
	}

	var recorder *Recorder
	if d.mask != nil {
		recorder = NewSparseRecorder(m.Nc, m.Nd, m.Nn, d.mask)
	} else {
		recorder = NewDenseRecorder(m.Nc, m.Nd, m.Nn, len(m.Tspan))
	}

	blocks := partitionNodes(m.Nn, d.nWorkers)

	if ctx.Err() != nil || tc.Cancelled() {
		cancelErr := NewRunError(KindCancelled, -1, 0, ctx.Err())
		runSpan.RecordError(cancelErr)
		d.runMetrics.ObserveRunCompleted(model.StatusCancelled.String())
		return recorder.Result(m.Tspan, model.StatusCancelled), cancelErr
	}

	// Consume every integer tick at or before tspan[0] (applying its
	// events) before the initial snapshot is recorded.
	if err := d.advanceThroughTicks(ctx, rs, blocks, recorder, tc, m.Tspan[0], 0); err != nil {
		runSpan.RecordError(err)
		d.runMetrics.ObserveRunCompleted(model.StatusFailed.String())
		return recorder.Result(m.Tspan, model.StatusFailed), err
	}
	recorder.Record(rs, 0)
	d.runMetrics.SetNodesActive(m.Nn)
	d.reportRecomputeMetrics(rs)

	for tc.Index() < tc.Len()-1 {
		if ctx.Err() != nil || tc.Cancelled() {
			cancelErr := NewRunError(KindCancelled, -1, tc.Index(), ctx.Err())
			runSpan.RecordError(cancelErr)
			d.runMetrics.ObserveRunCompleted(model.StatusCancelled.String())
			return recorder.Result(m.Tspan, model.StatusCancelled), cancelErr
		}

		nextIdx := tc.Index() + 1
		bound := m.Tspan[nextIdx]
		tickStart := time.Now()

		tickCtx, tickSpan := tracer.Start(ctx, "Driver.Tick", trace.WithAttributes(
			attribute.Int("tick_index", nextIdx),
			attribute.Float64("tick_bound", bound),
		))

		if err := d.advanceThroughTicks(tickCtx, rs, blocks, recorder, tc, bound, nextIdx); err != nil {
			tickSpan.RecordError(err)
			tickSpan.End()
			runSpan.RecordError(err)
			status := model.StatusFailed
			if IsKind(err, KindCancelled) {
				status = model.StatusCancelled
			}
			d.runMetrics.ObserveRunCompleted(status.String())
			return recorder.Result(m.Tspan, status), err
		}

		if d.postStep != nil {
			if err := d.postStep(rs, m, nextIdx, bound); err != nil {
				wrapped := NewRunError(KindInternal, -1, nextIdx, err)
				tickSpan.RecordError(wrapped)
				tickSpan.End()
				runSpan.RecordError(wrapped)
				d.runMetrics.ObserveRunCompleted(model.StatusFailed.String())
				return recorder.Result(m.Tspan, model.StatusFailed), wrapped
			}
		}

		recorder.Record(rs, nextIdx)
		if d.metrics != nil {
			d.metrics.ObserveTickAdvance(time.Since(tickStart))
			d.metrics.SetNodesPendingAdvance(0)
		}
		d.runMetrics.SetTickIndex(nextIdx)
		d.reportRecomputeMetrics(rs)

		tickSpan.End()

		tc.Advance()
		d.log.Debug(ctx, "tick complete",
			logging.Int("tick_index", nextIdx),
			logging.Float64("tick_bound", bound),
		)
	}

	d.runMetrics.ObserveRunCompleted(model.StatusCompleted.String())
	return recorder.Result(m.Tspan, model.StatusCompleted), nil
}

// advanceThroughTicks advances every node from wherever it currently
// stands to bound, pausing at every integer tick boundary in between
// (there may be several, e.g. a weekly tspan over a daily-tick model)
// to apply that tick's scheduled events before resuming, per §4.5's
// nested advance/apply loop. idx identifies the tspan output point
// being worked toward, for error attribution.
func (d *Driver) advanceThroughTicks(ctx context.Context, rs *state.RunState, blocks [][]int, recorder *Recorder, tc *timectrl.TickController, bound float64, idx int) error {
	m := d.model

	advanceTo := func(t float64) float64 {
		if tc.PendingIntegerTick(bound) {
			t = math.Min(t, float64(tc.NextIntegerTick()))
		}
		return t
	}

	if err := d.parallelAdvance(ctx, rs, blocks, advanceTo(bound), idx); err != nil {
		return err
	}

	for tc.PendingIntegerTick(bound) {
		tick := tc.ConsumeIntegerTick()
		for _, ev := range d.eventsByTick[tick] {
			moved, err := ApplyEvent(rs, m, ev, idx)
			if err != nil {
				return err
			}
			if moved != 0 {
				if err := refreshNodesForEvent(rs, m, ev, float64(tick), idx); err != nil {
					return err
				}
			}
			recorder.AppendEvent(model.AppliedEvent{
				TickIndex: idx,
				Kind:      ev.Kind,
				Node:      ev.Node,
				Dest:      ev.Dest,
				Count:     moved,
			})
			d.runMetrics.ObserveEventApplied(ev.Kind.String())
		}

		if err := d.parallelAdvance(ctx, rs, blocks, advanceTo(bound), idx); err != nil {
			return err
		}
	}
	return nil
}

// parallelAdvance advances every node to bound, fanning out across the
// worker blocks and returning the first error encountered (including
// context cancellation).
func (d *Driver) parallelAdvance(ctx context.Context, rs *state.RunState, blocks [][]int, bound float64, tickIndex int) error {
	m := d.model
	g, gCtx := errgroup.WithContext(ctx)
	for _, block := range blocks {
		block := block
		g.Go(func() error {
			for _, n := range block {
				if gCtx.Err() != nil {
					return NewRunError(KindCancelled, -1, tickIndex, gCtx.Err())
				}
				fires, err := AdvanceNode(rs, m, n, bound, tickIndex)
				if err != nil {
					return err
				}
				d.runMetrics.ObserveFires(n, fires)
			}
			return nil
		})
	}
	return g.Wait()
}

// refreshNodesForEvent re-evaluates every propensity for each node an
// applied event touched, per §4.4: an event may change many
// compartments at once, so the dependency graph scoped to a single SSA
// fire isn't sufficient to bring rates back in sync.
func refreshNodesForEvent(rs *state.RunState, m *kb.Model, ev model.Event, t float64, tickIndex int) error {
	if err := RefreshNodeRates(rs, m, ev.Node, t, tickIndex); err != nil {
		return err
	}
	if ev.Kind == model.EventExternalTransfer && ev.Dest != ev.Node {
		if err := RefreshNodeRates(rs, m, ev.Dest, t, tickIndex); err != nil {
			return err
		}
	}
	return nil
}

// reportRecomputeMetrics pushes this run's cumulative rate_sum refresh
// count and dependency-vs-full recompute ratio to the scheduler
// collector, reporting only the delta since the last call so repeated
// calls across ticks don't double-count.
func (d *Driver) reportRecomputeMetrics(rs *state.RunState) {
	if d.metrics == nil {
		return
	}
	refreshes := rs.RateSumRefreshCount()
	d.metrics.IncRateSumRefreshesBy(int(refreshes - d.reportedRefreshes))
	d.reportedRefreshes = refreshes

	dep, full := rs.RecomputeCounts()
	if total := dep + full; total > 0 {
		d.metrics.SetDependencyRecomputeRatio(float64(dep) / float64(total))
	}
}
