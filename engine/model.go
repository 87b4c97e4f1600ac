package engine

import (
	"github.com/sirupsen/logrus"
)

// Model is a fully resolved, immutable calculation model: variables,
// dependency graph, calculation schedule and output selection. A Model is
// safe for concurrent use; all per-run state lives in the evaluators.
type Model struct {
	cfg     Config
	points  *SetCollection
	nodes   []varNode
	deps    [][]Edge
	byName  map[string]VarID
	allowed [][]bool
	groups  []evalGroup
	needed  []bool
	outIDs  []VarID
}

// NewModel builds a model from registered variables, model point sets and
// a configuration. All construction failures surface here as BuildErrors,
// before any formula runs.
func NewModel(reg *Registry, points *SetCollection, cfg Config) (*Model, error) {
	if reg == nil || reg.Len() == 0 {
		return nil, buildErrf("", "model has no variables")
	}
	if points == nil {
		return nil, buildErrf("", "model has no model point sets")
	}
	if err := cfg.Validate(); err != nil {
		return nil, buildErrf("", "invalid configuration: %v", err)
	}

	nodes, deps, byName, err := buildGraph(reg.sortedDefs())
	if err != nil {
		return nil, err
	}

	for i := range nodes {
		def := &nodes[i].def
		if def.PointSet != "" {
			if _, ok := points.Set(def.PointSet); !ok {
				return nil, buildErrf(def.Name, "references unknown model point set %q", def.PointSet)
			}
		}
		if nodes[i].kind == KindStochastic && cfg.Scenarios < 1 {
			return nil, buildErrf(def.Name, "is stochastic but the configuration has no scenarios")
		}
	}
	if err := checkRecordScope(nodes, deps); err != nil {
		return nil, err
	}
	if cfg.GroupBy != "" && !points.Primary().HasColumn(cfg.GroupBy) {
		return nil, buildErrf("", "there is no column %q in the %q model point set; review the group-by setting",
			cfg.GroupBy, points.primary)
	}

	groups, err := resolveOrder(nodes, deps)
	if err != nil {
		return nil, err
	}
	needed, outIDs, err := selectNeeded(deps, byName, cfg.Output)
	if err != nil {
		return nil, err
	}

	m := &Model{
		cfg:     cfg,
		points:  points,
		nodes:   nodes,
		deps:    deps,
		byName:  byName,
		allowed: allowedReads(deps),
		groups:  groups,
		needed:  needed,
		outIDs:  outIDs,
	}
	logrus.Debugf("model built: %d variables, %d schedule steps, %d output columns",
		len(nodes), len(groups), len(outIDs))
	return m, nil
}

// checkRecordScope rejects record-independent variables that read
// record-dependent ones; their broadcast results would depend on which
// record happened to be evaluated first.
func checkRecordScope(nodes []varNode, deps [][]Edge) error {
	for i := range nodes {
		if !nodes[i].def.RecordIndependent {
			continue
		}
		for _, e := range deps[i] {
			if e.To == nodes[i].id {
				continue
			}
			if !nodes[e.To].def.RecordIndependent {
				return buildErrf(nodes[i].def.Name,
					"is record-independent but reads record-dependent %q", nodes[e.To].def.Name)
			}
		}
	}
	return nil
}

// Config returns the configuration the model was built with.
func (m *Model) Config() Config { return m.cfg }

// Points returns the model point sets the model was built with.
func (m *Model) Points() *SetCollection { return m.points }

// Variables returns every variable name in lexical order.
func (m *Model) Variables() []string {
	out := make([]string, len(m.nodes))
	for i := range m.nodes {
		out[i] = m.nodes[i].def.Name
	}
	return out
}
