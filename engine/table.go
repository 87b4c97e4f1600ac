package engine

import (
	"gonum.org/v1/gonum/floats"
)

// Table is one shaped result set. Label columns identify the row (group
// value, record key), then the period column, then the requested variable
// columns. Aggregated tables carry numeric columns only; individual
// tables also carry the text constants of their model point set.
type Table struct {
	set       string
	labels    []labelColumn
	periods   []int
	numNames  []string
	nums      [][]float64
	textNames []string
	texts     [][]string
}

type labelColumn struct {
	name string
	vals []string
}

func newTable(set string, labels []string, numNames, textNames []string, rows int) *Table {
	tb := &Table{
		set:       set,
		labels:    make([]labelColumn, len(labels)),
		periods:   make([]int, rows),
		numNames:  numNames,
		nums:      make([][]float64, len(numNames)),
		textNames: textNames,
		texts:     make([][]string, len(textNames)),
	}
	for i, name := range labels {
		tb.labels[i] = labelColumn{name: name, vals: make([]string, rows)}
	}
	for i := range tb.nums {
		tb.nums[i] = make([]float64, rows)
	}
	for i := range tb.texts {
		tb.texts[i] = make([]string, rows)
	}
	return tb
}

// Set returns the model point set the table reports on.
func (tb *Table) Set() string { return tb.set }

// Len returns the row count.
func (tb *Table) Len() int { return len(tb.periods) }

// Headers returns every column name in emission order: labels, "t",
// numeric variables, text variables.
func (tb *Table) Headers() []string {
	out := make([]string, 0, len(tb.labels)+1+len(tb.numNames)+len(tb.textNames))
	for _, l := range tb.labels {
		out = append(out, l.name)
	}
	out = append(out, "t")
	out = append(out, tb.numNames...)
	out = append(out, tb.textNames...)
	return out
}

// LabelNames returns the leading label column names in order.
func (tb *Table) LabelNames() []string {
	out := make([]string, len(tb.labels))
	for i, l := range tb.labels {
		out[i] = l.name
	}
	return out
}

// Label returns a label column by name.
func (tb *Table) Label(name string) ([]string, bool) {
	for _, l := range tb.labels {
		if l.name == name {
			return l.vals, true
		}
	}
	return nil, false
}

// Periods returns the period column.
func (tb *Table) Periods() []int { return tb.periods }

// Columns returns the numeric variable column names in order.
func (tb *Table) Columns() []string { return tb.numNames }

// Column returns a numeric variable column by name.
func (tb *Table) Column(name string) ([]float64, bool) {
	for i, n := range tb.numNames {
		if n == name {
			return tb.nums[i], true
		}
	}
	return nil, false
}

// TextColumns returns the text variable column names in order.
func (tb *Table) TextColumns() []string { return tb.textNames }

// TextColumn returns a text variable column by name.
func (tb *Table) TextColumn(name string) ([]string, bool) {
	for i, n := range tb.textNames {
		if n == name {
			return tb.texts[i], true
		}
	}
	return nil, false
}

// batchBuf stacks the output series of up to cap records. The evaluator
// reuses its columns between records, so each series is copied in; the
// backing arrays are reused across batches.
type batchBuf struct {
	cap     int
	periods int
	records []int
	series  [][][]float64 // [i][outVar][t]
}

func newBatchBuf(capRecords, numOuts, periods int) *batchBuf {
	b := &batchBuf{
		cap:     capRecords,
		periods: periods,
		records: make([]int, 0, capRecords),
		series:  make([][][]float64, capRecords),
	}
	for i := range b.series {
		b.series[i] = make([][]float64, numOuts)
		for v := range b.series[i] {
			b.series[i][v] = make([]float64, periods)
		}
	}
	return b
}

func (b *batchBuf) add(record int, ev *evaluator, outIDs []VarID) {
	i := len(b.records)
	b.records = append(b.records, record)
	for v, id := range outIDs {
		copy(b.series[i][v], ev.seriesOut(id))
	}
}

func (b *batchBuf) full() bool { return len(b.records) == b.cap }

func (b *batchBuf) reset() { b.records = b.records[:0] }

// accumulator folds batches into per-group running sums. Every worker
// builds one over the same pre-computed group list, so merging is an
// element-wise add over identical shapes.
type accumulator struct {
	nodes   []varNode
	outIDs  []VarID
	groupOf []int
	firstOf []bool
	sums    [][][]float64 // [group][outVar][t]
}

func newAccumulator(nodes []varNode, outIDs []VarID, numGroups int, groupOf []int, firstOf []bool, periods int) *accumulator {
	a := &accumulator{
		nodes:   nodes,
		outIDs:  outIDs,
		groupOf: groupOf,
		firstOf: firstOf,
		sums:    make([][][]float64, numGroups),
	}
	for g := range a.sums {
		a.sums[g] = make([][]float64, len(outIDs))
		for v := range a.sums[g] {
			a.sums[g][v] = make([]float64, periods)
		}
	}
	return a
}

// fold adds every record stacked in the batch to its group's sums, then
// leaves the batch ready for reuse. Variables with the first-record
// policy take only the first record of each group.
func (a *accumulator) fold(b *batchBuf) {
	for i, record := range b.records {
		g := a.groupOf[record]
		for v, id := range a.outIDs {
			if a.nodes[id].def.Agg == AggFirst && !a.firstOf[record] {
				continue
			}
			floats.Add(a.sums[g][v], b.series[i][v])
		}
	}
	b.reset()
}

// merge adds another worker's sums into this accumulator. Non-contributing
// workers hold zero vectors, so summing is policy-safe for every column.
func (a *accumulator) merge(other *accumulator) {
	for g := range a.sums {
		for v := range a.sums[g] {
			floats.Add(a.sums[g][v], other.sums[g][v])
		}
	}
}
