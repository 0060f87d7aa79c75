package core

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tjmckinley/siminf-engine/kb"
	"github.com/tjmckinley/siminf-engine/matrix"
	"github.com/tjmckinley/siminf-engine/model"
)

// LoadedConfig is a small summary of what was decoded, mainly useful for
// logging from main().
type LoadedConfig struct {
	Compartments []string
	Transitions  []string
	NumNodes     int
}

// internal JSON shapes, kept unexported so the wire format is free to
// evolve independently of kb.Config.
type modelJSON struct {
	Compartments []string           `json:"compartments"`
	Nodes        int                `json:"nodes"`
	U0           [][]int64          `json:"u0"` // one row per node, len(Compartments) wide
	Tspan        []float64          `json:"tspan"`
	Transitions  []transitionJSON   `json:"transitions"`
	Events       []eventJSON        `json:"events"`
	GlobalData   map[string]float64 `json:"global_data"`
}

type transitionJSON struct {
	Name       string  `json:"name"`
	Kind       string  `json:"kind"` // "constant" | "mass_action"
	Rate       float64 `json:"rate"`
	Reactants  []string `json:"reactants,omitempty"`
	Products   []productJSON `json:"products"`
	DependsOn  []string `json:"depends_on,omitempty"` // transition names invalidated by this one firing
}

type productJSON struct {
	Compartment string `json:"compartment"`
	Delta       int    `json:"delta"`
}

type eventJSON struct {
	Kind        string  `json:"kind"` // "exit" | "enter" | "internal_transfer" | "external_transfer"
	Time        float64 `json:"time"`
	Node        int     `json:"node"`
	Dest        int     `json:"dest"`
	N           int64   `json:"n"`
	Proportion  float64 `json:"proportion"`
	Select      []string `json:"select"` // compartment names the event draws from
	ShiftTo     string   `json:"shift_to,omitempty"` // destination compartment name, INTERNAL_TRANSFER only
}

// LoadModel reads a JSON scenario from r and compiles it into a kb.Model,
// building the sparse S, G, E and N matrices and the propensity registry
// from the declared transitions.
//
// It supports only the two built-in propensity shapes core exposes
// (Constant and MassAction); scenarios needing custom kinetics must be
// constructed programmatically with kb.NewModel instead.
func LoadModel(r io.Reader) (*kb.Model, *LoadedConfig, error) {
	var payload modelJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("core: decode model config: %w", err)
	}

	nc := len(payload.Compartments)
	if nc == 0 {
		return nil, nil, fmt.Errorf("core: model config has no compartments")
	}
	if payload.Nodes <= 0 {
		return nil, nil, fmt.Errorf("core: model config nodes must be positive, got %d", payload.Nodes)
	}
	compIdx := make(map[string]int, nc)
	for i, name := range payload.Compartments {
		compIdx[name] = i
	}

	u0, err := flattenU0(payload.U0, nc, payload.Nodes)
	if err != nil {
		return nil, nil, err
	}

	reg, sTriplets, gDeps, err := buildTransitions(payload.Transitions, compIdx)
	if err != nil {
		return nil, nil, err
	}
	nt := reg.Len()

	s, err := matrix.NewFromTriplets(nc, nt, sTriplets)
	if err != nil {
		return nil, nil, fmt.Errorf("core: building stoichiometry matrix: %w", err)
	}
	g, err := matrix.NewFromTriplets(nt, nt, gDeps)
	if err != nil {
		return nil, nil, fmt.Errorf("core: building dependency graph: %w", err)
	}

	events, selectTriplets, nSelectCols, nShiftCols, shiftTriplets, err := buildEvents(payload.Events, compIdx)
	if err != nil {
		return nil, nil, err
	}
	e, err := matrix.NewFromTriplets(nc, nSelectCols, selectTriplets)
	if err != nil {
		return nil, nil, fmt.Errorf("core: building event selector matrix: %w", err)
	}
	n, err := matrix.NewFromTriplets(nc, nShiftCols, shiftTriplets)
	if err != nil {
		return nil, nil, fmt.Errorf("core: building shift matrix: %w", err)
	}

	gdataNames := make([]string, 0, len(payload.GlobalData))
	gdata := make([]float64, 0, len(payload.GlobalData))
	for name, val := range payload.GlobalData {
		gdataNames = append(gdataNames, name)
		gdata = append(gdata, val)
	}

	m, err := kb.NewModel(kb.Config{
		Nc: nc, Nn: payload.Nodes,
		U0:           u0,
		Tspan:        payload.Tspan,
		G:            g,
		S:            s,
		E:            e,
		N:            n,
		Events:       events,
		Gdata:        gdata,
		GdataNames:   gdataNames,
		Propensities: reg,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("core: compiling model: %w", err)
	}

	names := make([]string, len(payload.Transitions))
	for i, tr := range payload.Transitions {
		names[i] = tr.Name
	}
	return m, &LoadedConfig{
		Compartments: append([]string(nil), payload.Compartments...),
		Transitions:  names,
		NumNodes:     payload.Nodes,
	}, nil
}

func flattenU0(rows [][]int64, nc, nn int) ([]int64, error) {
	if len(rows) != nn {
		return nil, fmt.Errorf("core: u0 has %d node rows, want %d", len(rows), nn)
	}
	u0 := make([]int64, 0, nc*nn)
	for i, row := range rows {
		if len(row) != nc {
			return nil, fmt.Errorf("core: u0 row %d has %d entries, want %d", i, len(row), nc)
		}
		u0 = append(u0, row...)
	}
	return u0, nil
}

func buildTransitions(defs []transitionJSON, compIdx map[string]int) (*model.Registry, []matrix.Triplet, []matrix.Triplet, error) {
	if len(defs) == 0 {
		return nil, nil, nil, fmt.Errorf("core: model config has no transitions")
	}
	nameIdx := make(map[string]int, len(defs))
	for i, tr := range defs {
		if tr.Name != "" {
			nameIdx[tr.Name] = i
		}
	}

	fns := make([]model.Propensity, len(defs))
	var sTriplets []matrix.Triplet
	var gTriplets []matrix.Triplet
	for i, tr := range defs {
		reactants := make([]int, 0, len(tr.Reactants))
		for _, name := range tr.Reactants {
			idx, ok := compIdx[name]
			if !ok {
				return nil, nil, nil, fmt.Errorf("core: transition %q: unknown reactant compartment %q", tr.Name, name)
			}
			reactants = append(reactants, idx)
		}

		switch tr.Kind {
		case "constant":
			fns[i] = Constant(tr.Rate)
		case "mass_action":
			fns[i] = MassAction(tr.Rate, reactants...)
		default:
			return nil, nil, nil, fmt.Errorf("core: transition %q: unknown kind %q", tr.Name, tr.Kind)
		}

		for _, name := range tr.Reactants {
			idx := compIdx[name]
			sTriplets = append(sTriplets, matrix.Triplet{Row: idx, Col: i, Value: -1})
		}
		for _, p := range tr.Products {
			idx, ok := compIdx[p.Compartment]
			if !ok {
				return nil, nil, nil, fmt.Errorf("core: transition %q: unknown product compartment %q", tr.Name, p.Compartment)
			}
			sTriplets = append(sTriplets, matrix.Triplet{Row: idx, Col: i, Value: float64(p.Delta)})
		}

		gTriplets = append(gTriplets, matrix.Triplet{Row: i, Col: i, Value: 1})
		for _, dep := range tr.DependsOn {
			depIdx, ok := nameIdx[dep]
			if !ok {
				return nil, nil, nil, fmt.Errorf("core: transition %q: unknown depends_on transition %q", tr.Name, dep)
			}
			gTriplets = append(gTriplets, matrix.Triplet{Row: depIdx, Col: i, Value: 1})
		}
	}

	reg, err := model.NewRegistry(fns...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("core: building propensity registry: %w", err)
	}
	return reg, sTriplets, gTriplets, nil
}

func buildEvents(defs []eventJSON, compIdx map[string]int) ([]model.Event, []matrix.Triplet, int, int, []matrix.Triplet, error) {
	events := make([]model.Event, len(defs))
	var selectTriplets, shiftTriplets []matrix.Triplet
	selectCol, shiftCol := 0, 0

	for i, ev := range defs {
		kind, err := eventKindFromString(ev.Kind)
		if err != nil {
			return nil, nil, 0, 0, nil, fmt.Errorf("core: event %d: %w", i, err)
		}

		thisSelect := selectCol
		for _, name := range ev.Select {
			idx, ok := compIdx[name]
			if !ok {
				return nil, nil, 0, 0, nil, fmt.Errorf("core: event %d: unknown select compartment %q", i, name)
			}
			selectTriplets = append(selectTriplets, matrix.Triplet{Row: idx, Col: thisSelect, Value: 1})
		}
		selectCol++

		shift := -1
		if kind == model.EventInternalTransfer {
			destIdx, ok := compIdx[ev.ShiftTo]
			if !ok {
				return nil, nil, 0, 0, nil, fmt.Errorf("core: event %d: unknown shift_to compartment %q", i, ev.ShiftTo)
			}
			shift = shiftCol
			// every row shares the same destination compartment for this
			// shift column; N.At(sourceRow, shift) resolves to destIdx.
			for _, name := range ev.Select {
				srcIdx := compIdx[name]
				shiftTriplets = append(shiftTriplets, matrix.Triplet{Row: srcIdx, Col: shift, Value: float64(destIdx)})
			}
			shiftCol++
		}

		events[i] = model.Event{
			Kind:       kind,
			Time:       ev.Time,
			Node:       ev.Node,
			Dest:       ev.Dest,
			N:          ev.N,
			Proportion: ev.Proportion,
			Select:     thisSelect,
			Shift:      shift,
		}
	}
	return events, selectTriplets, selectCol, shiftCol, shiftTriplets, nil
}

func eventKindFromString(s string) (model.EventKind, error) {
	switch s {
	case "exit":
		return model.EventExit, nil
	case "enter":
		return model.EventEnter, nil
	case "internal_transfer":
		return model.EventInternalTransfer, nil
	case "external_transfer":
		return model.EventExternalTransfer, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", s)
	}
}
