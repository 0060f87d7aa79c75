// Package kb compiles a validated simulation specification — the Model —
// from caller-supplied dimensions, sparse matrices, data vectors, events,
// and propensities. Once constructed, a Model is shared read-only by every
// worker a Driver spawns; SetGlobalData is its only mutator.
package kb

import (
	"fmt"
	"math"

	"github.com/tjmckinley/siminf-engine/matrix"
	"github.com/tjmckinley/siminf-engine/model"
)

// Model is the compiled, read-only specification a Driver runs.
type Model struct {
	Nc, Nd, Nn, Nld, Ngd int

	U0 []int64   // Nc*Nn, node-major
	V0 []float64 // Nd*Nn, node-major

	Ldata []float64 // Nld*Nn, node-major
	Gdata []float64 // Ngd

	gdataNames map[string]int

	G *matrix.Sparse // Nt x Nt dependency graph
	S *matrix.Sparse // Nc x Nt stoichiometry
	E *matrix.Sparse // Nc x Nselect event selector
	N *matrix.Sparse // Nc x Nshift shift remap

	Tspan  []float64
	Events []model.Event

	Propensities *model.Registry
}

// Config is the unvalidated input to NewModel.
type Config struct {
	Nc, Nn, Nd int

	U0 []int64
	V0 []float64

	Ldata      []float64
	Gdata      []float64
	GdataNames []string

	G, S, E, N *matrix.Sparse

	Tspan  []float64
	Events []model.Event

	Propensities *model.Registry
}

// NewModel validates cfg in full and returns the first violation found
// as a plain error; there is no partial Model on failure.
func NewModel(cfg Config) (*Model, error) {
	if cfg.Nc <= 0 {
		return nil, fmt.Errorf("kb: Nc must be positive, got %d", cfg.Nc)
	}
	if cfg.Nn <= 0 {
		return nil, fmt.Errorf("kb: Nn must be positive, got %d", cfg.Nn)
	}
	if cfg.Nd < 0 {
		return nil, fmt.Errorf("kb: Nd must not be negative, got %d", cfg.Nd)
	}
	if cfg.Propensities == nil || cfg.Propensities.Len() == 0 {
		return nil, fmt.Errorf("kb: at least one propensity is required")
	}
	nt := cfg.Propensities.Len()

	if len(cfg.U0) != cfg.Nc*cfg.Nn {
		return nil, fmt.Errorf("kb: len(U0) = %d, want Nc*Nn = %d", len(cfg.U0), cfg.Nc*cfg.Nn)
	}
	for i, v := range cfg.U0 {
		if v < 0 {
			return nil, fmt.Errorf("kb: U0[%d] = %d is negative", i, v)
		}
	}
	if len(cfg.V0) != cfg.Nd*cfg.Nn {
		return nil, fmt.Errorf("kb: len(V0) = %d, want Nd*Nn = %d", len(cfg.V0), cfg.Nd*cfg.Nn)
	}
	if cfg.Ldata != nil && len(cfg.Ldata)%cfg.Nn != 0 {
		return nil, fmt.Errorf("kb: len(Ldata) = %d is not a multiple of Nn = %d", len(cfg.Ldata), cfg.Nn)
	}
	nld := 0
	if cfg.Nn > 0 {
		nld = len(cfg.Ldata) / cfg.Nn
	}

	if cfg.G == nil || cfg.G.Rows != nt || cfg.G.Cols != nt {
		return nil, fmt.Errorf("kb: G must be %d x %d", nt, nt)
	}
	if cfg.S == nil || cfg.S.Rows != cfg.Nc || cfg.S.Cols != nt {
		return nil, fmt.Errorf("kb: S must be %d x %d", cfg.Nc, nt)
	}
	if cfg.E == nil || cfg.E.Rows != cfg.Nc {
		return nil, fmt.Errorf("kb: E must have %d rows", cfg.Nc)
	}
	if cfg.N == nil || cfg.N.Rows != cfg.Nc {
		return nil, fmt.Errorf("kb: N must have %d rows", cfg.Nc)
	}
	if len(cfg.S.RowNames) > 0 && len(cfg.E.RowNames) > 0 && !cfg.S.SameRowNames(cfg.E) {
		return nil, fmt.Errorf("kb: S and E row names must match")
	}

	if len(cfg.Tspan) < 2 {
		return nil, fmt.Errorf("kb: tspan must have at least 2 points, got %d", len(cfg.Tspan))
	}
	for i := 1; i < len(cfg.Tspan); i++ {
		if cfg.Tspan[i] <= cfg.Tspan[i-1] {
			return nil, fmt.Errorf("kb: tspan must be strictly increasing at index %d", i)
		}
	}

	firstTick := math.Ceil(cfg.Tspan[0])
	lastTick := math.Floor(cfg.Tspan[len(cfg.Tspan)-1])
	for i, e := range cfg.Events {
		if e.Time != math.Trunc(e.Time) || e.Time <= 0 {
			return nil, fmt.Errorf("kb: event %d: time must be a positive integer, got %g", i, e.Time)
		}
		if e.Time < firstTick || e.Time > lastTick {
			return nil, fmt.Errorf("kb: event %d: time %g outside the run's integer tick range [%g,%g]", i, e.Time, firstTick, lastTick)
		}
		if e.Node < 0 || e.Node >= cfg.Nn {
			return nil, fmt.Errorf("kb: event %d: node %d out of range [0,%d)", i, e.Node, cfg.Nn)
		}
		if e.Kind == model.EventExternalTransfer && (e.Dest < 0 || e.Dest >= cfg.Nn) {
			return nil, fmt.Errorf("kb: event %d: dest %d out of range [0,%d)", i, e.Dest, cfg.Nn)
		}
		if e.Select < 0 || e.Select >= cfg.E.Cols {
			return nil, fmt.Errorf("kb: event %d: select %d out of range [0,%d)", i, e.Select, cfg.E.Cols)
		}
		if e.Shift != -1 && e.Kind != model.EventInternalTransfer {
			return nil, fmt.Errorf("kb: event %d: shift is only valid for INTERNAL_TRANSFER events", i)
		}
		if e.Kind == model.EventInternalTransfer && (e.Shift < 0 || e.Shift >= cfg.N.Cols) {
			return nil, fmt.Errorf("kb: event %d: shift %d out of range [0,%d)", i, e.Shift, cfg.N.Cols)
		}
		if e.N < 0 {
			return nil, fmt.Errorf("kb: event %d: N must not be negative, got %d", i, e.N)
		}
		if e.N == 0 && (e.Proportion < 0 || e.Proportion > 1) {
			return nil, fmt.Errorf("kb: event %d: proportion %g out of range [0,1]", i, e.Proportion)
		}
	}

	gdataNames := make(map[string]int, len(cfg.GdataNames))
	if cfg.GdataNames != nil {
		if len(cfg.GdataNames) != len(cfg.Gdata) {
			return nil, fmt.Errorf("kb: len(GdataNames) = %d, want len(Gdata) = %d", len(cfg.GdataNames), len(cfg.Gdata))
		}
		for i, name := range cfg.GdataNames {
			if name == "" {
				continue
			}
			gdataNames[name] = i
		}
	}

	return &Model{
		Nc: cfg.Nc, Nd: cfg.Nd, Nn: cfg.Nn, Nld: nld, Ngd: len(cfg.Gdata),
		U0:           append([]int64(nil), cfg.U0...),
		V0:           append([]float64(nil), cfg.V0...),
		Ldata:        append([]float64(nil), cfg.Ldata...),
		Gdata:        append([]float64(nil), cfg.Gdata...),
		gdataNames:   gdataNames,
		G:            cfg.G,
		S:            cfg.S,
		E:            cfg.E,
		N:            cfg.N,
		Tspan:        append([]float64(nil), cfg.Tspan...),
		Events:       append([]model.Event(nil), cfg.Events...),
		Propensities: cfg.Propensities,
	}, nil
}

// SetGlobalData updates a named entry in Gdata, validating the model was
// built with GdataNames covering it.
func (m *Model) SetGlobalData(name string, value float64) error {
	idx, ok := m.gdataNames[name]
	if !ok {
		return fmt.Errorf("kb: unknown global data name %q", name)
	}
	m.Gdata[idx] = value
	return nil
}

// GlobalData returns a named entry in Gdata.
func (m *Model) GlobalData(name string) (float64, bool) {
	idx, ok := m.gdataNames[name]
	if !ok {
		return 0, false
	}
	return m.Gdata[idx], true
}

// LdataFor returns node n's local data row, Nld entries long.
func (m *Model) LdataFor(n int) []float64 {
	if m.Nld == 0 {
		return nil
	}
	return m.Ldata[n*m.Nld : (n+1)*m.Nld]
}
