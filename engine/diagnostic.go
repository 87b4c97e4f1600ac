package engine

import (
	"sort"
	"time"
)

// DiagnosticRow describes one variable's schedule assignment and its
// measured evaluation time, summed across records and workers. Cycle
// members report the cycle's wall time split evenly among them.
type DiagnosticRow struct {
	Variable   string
	CalcOrder  int
	Cycle      bool
	CycleOrder int
	Direction  Direction
	Kind       Kind
	Agg        Aggregation
	Runtime    time.Duration
}

// Diagnostic lists one row per registered variable, needed or not, in
// calculation order.
type Diagnostic struct {
	Rows []DiagnosticRow
}

func newDiagnostic(m *Model, runtimes []time.Duration) *Diagnostic {
	rows := make([]DiagnosticRow, len(m.nodes))
	for i := range m.nodes {
		node := &m.nodes[i]
		rows[i] = DiagnosticRow{
			Variable:   node.def.Name,
			CalcOrder:  node.rank,
			Cycle:      node.cycle,
			CycleOrder: node.cycleOrder,
			Direction:  node.dir,
			Kind:       node.kind,
			Agg:        node.def.Agg,
			Runtime:    runtimes[i],
		}
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a].CalcOrder != rows[b].CalcOrder {
			return rows[a].CalcOrder < rows[b].CalcOrder
		}
		return rows[a].Variable < rows[b].Variable
	})
	return &Diagnostic{Rows: rows}
}
