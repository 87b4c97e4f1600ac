package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Result holds the materialized output of one run: one table per model
// point set that owns output variables, plus the per-variable diagnostic.
type Result struct {
	Tables     map[string]*Table
	Diagnostic *Diagnostic
}

// TableSink receives one model point set's output in record order, one
// bounded chunk at a time. All chunks of a set share headers.
type TableSink interface {
	WriteChunk(chunk *Table) error
}

// Run evaluates every record of the primary model point set and
// materializes the result tables. Aggregated runs keep at most one batch
// of per-record series per worker in memory; individual runs need the
// whole table to fit the budget, otherwise Run reports a ResourceError
// before evaluating anything. Stream through RunTo when it does not fit.
func (m *Model) Run(ctx context.Context) (*Result, error) {
	lay := m.layout()
	n := m.points.Primary().Len()
	if m.cfg.Aggregate {
		tables, runtimes, err := m.runAggregated(ctx, lay, n)
		if err != nil {
			return nil, err
		}
		return &Result{Tables: tables, Diagnostic: newDiagnostic(m, runtimes)}, nil
	}
	if need := m.perRecordBytes(lay) * int64(n); m.cfg.MemoryLimit > 0 && need > m.cfg.MemoryLimit {
		return nil, &ResourceError{
			NeededBytes: need,
			LimitBytes:  m.cfg.MemoryLimit,
			Reason:      "individual output does not fit in memory; aggregate, restrict the outputs or stream through RunTo",
		}
	}
	tables := make(map[string]*Table, len(lay.sets))
	runtimes, err := m.runIndividual(ctx, lay, n, n, func(set string, chunk *Table) error {
		tables[set] = chunk
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Tables: tables, Diagnostic: newDiagnostic(m, runtimes)}, nil
}

// RunTo evaluates like Run but hands every result table to a sink keyed
// by model point set name. Individual output is streamed in bounded
// chunks sized from the memory budget, so the full table never exists in
// memory; aggregated output arrives as a single chunk per set.
func (m *Model) RunTo(ctx context.Context, sinks map[string]TableSink) (*Diagnostic, error) {
	lay := m.layout()
	for _, set := range lay.sets {
		if sinks[set] == nil {
			return nil, fmt.Errorf("no sink for model point set %q", set)
		}
	}
	n := m.points.Primary().Len()
	if m.cfg.Aggregate {
		tables, runtimes, err := m.runAggregated(ctx, lay, n)
		if err != nil {
			return nil, err
		}
		for _, set := range lay.sets {
			if err := sinks[set].WriteChunk(tables[set]); err != nil {
				return nil, fmt.Errorf("writing output of %q: %w", set, err)
			}
		}
		return newDiagnostic(m, runtimes), nil
	}
	chunk := n
	if per := m.perRecordBytes(lay); m.cfg.MemoryLimit > 0 && per > 0 {
		chunk = int(m.cfg.MemoryLimit / per)
		if chunk < 1 {
			chunk = 1
		}
		if chunk > n {
			chunk = n
		}
	}
	runtimes, err := m.runIndividual(ctx, lay, n, chunk, func(set string, tb *Table) error {
		if err := sinks[set].WriteChunk(tb); err != nil {
			return fmt.Errorf("writing output of %q: %w", set, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newDiagnostic(m, runtimes), nil
}

// runAggregated evaluates record chunks in parallel, each worker folding
// memory-bounded batches into its own per-group accumulator, then merges
// the accumulators in chunk order.
func (m *Model) runAggregated(ctx context.Context, lay outLayout, n int) (map[string]*Table, []time.Duration, error) {
	groups, groupOf, firstOf := m.groupIndex()
	workers := m.workerCount(n)
	periods := m.cfg.HorizonOut + 1
	batchCap := m.batchRecords(m.perRecordBytes(lay), n, workers)
	logrus.Infof("Starting calculations: %d records, %d workers", n, workers)

	chunks := splitRecords(n, workers)
	accs := make([]*accumulator, len(chunks))
	runts := make([][]time.Duration, len(chunks))
	errs := make([]error, len(chunks))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for ci := range chunks {
		wg.Add(1)
		go func(ci int, rng recordRange) {
			defer wg.Done()
			ev := newEvaluator(m)
			acc := newAccumulator(m.nodes, lay.allNum, len(groups), groupOf, firstOf, periods)
			batch := newBatchBuf(batchCap, len(lay.allNum), periods)
			for r := rng.start; r < rng.end; r++ {
				if err := runCtx.Err(); err != nil {
					errs[ci] = err
					return
				}
				if err := ev.evalRecord(r); err != nil {
					errs[ci] = err
					cancel()
					return
				}
				batch.add(r, ev, lay.allNum)
				if batch.full() {
					acc.fold(batch)
					logrus.Debugf("worker %d folded a batch through record %d", ci, r)
				}
			}
			acc.fold(batch)
			accs[ci] = acc
			runts[ci] = ev.runtimes
		}(ci, chunks[ci])
	}
	wg.Wait()
	if err := firstError(errs); err != nil {
		return nil, nil, err
	}

	total := newAccumulator(m.nodes, lay.allNum, len(groups), groupOf, firstOf, periods)
	for _, acc := range accs {
		total.merge(acc)
	}
	logrus.Info("Preparing output")
	return m.aggregatedTables(lay, groups, total), mergeRuntimes(runts, len(m.nodes)), nil
}

// runIndividual materializes records [start, start+chunkRecords) at a
// time, workers filling disjoint row ranges of the chunk tables, and
// emits every chunk in record order.
func (m *Model) runIndividual(ctx context.Context, lay outLayout, n, chunkRecords int, emit func(string, *Table) error) ([]time.Duration, error) {
	workers := m.workerCount(n)
	periods := m.cfg.HorizonOut + 1
	recordLabel := m.points.Key()
	if recordLabel == "" {
		recordLabel = "record"
	}
	logrus.Infof("Starting calculations: %d records, %d workers", n, workers)

	evs := make([]*evaluator, workers)
	emitChunk := func(start, end int) error {
		rows := (end - start) * periods
		tables := make(map[string]*Table, len(lay.sets))
		for _, set := range lay.sets {
			tables[set] = newTable(set, []string{recordLabel}, m.names(lay.numIDs[set]), m.names(lay.textIDs[set]), rows)
		}
		subchunks := splitRecords(end-start, workers)
		errs := make([]error, len(subchunks))
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var wg sync.WaitGroup
		for wi := range subchunks {
			wg.Add(1)
			go func(wi int, rng recordRange) {
				defer wg.Done()
				if evs[wi] == nil {
					evs[wi] = newEvaluator(m)
				}
				ev := evs[wi]
				for rel := rng.start; rel < rng.end; rel++ {
					if err := runCtx.Err(); err != nil {
						errs[wi] = err
						return
					}
					record := start + rel
					if err := ev.evalRecord(record); err != nil {
						errs[wi] = err
						cancel()
						return
					}
					key := m.points.keyOf(record)
					base := rel * periods
					for _, set := range lay.sets {
						fillRows(tables[set], base, key, ev, lay.numIDs[set], lay.textIDs[set], periods)
					}
				}
			}(wi, subchunks[wi])
		}
		wg.Wait()
		if err := firstError(errs); err != nil {
			return err
		}
		for _, set := range lay.sets {
			if err := emit(set, tables[set]); err != nil {
				return err
			}
		}
		return nil
	}

	if n == 0 {
		if err := emitChunk(0, 0); err != nil {
			return nil, err
		}
	}
	for start := 0; start < n; start += chunkRecords {
		end := start + chunkRecords
		if end > n {
			end = n
		}
		if err := emitChunk(start, end); err != nil {
			return nil, err
		}
		logrus.Debugf("records %d-%d written", start, end-1)
	}
	logrus.Info("Preparing output")
	runts := make([][]time.Duration, len(evs))
	for i, ev := range evs {
		if ev != nil {
			runts[i] = ev.runtimes
		}
	}
	return mergeRuntimes(runts, len(m.nodes)), nil
}

// fillRows writes one record's output into rows [base, base+periods) of a
// chunk table. Text constants repeat down the record's rows.
func fillRows(tb *Table, base int, key string, ev *evaluator, numIDs, textIDs []VarID, periods int) {
	for t := 0; t < periods; t++ {
		row := base + t
		tb.labels[0].vals[row] = key
		tb.periods[row] = t
	}
	for c, id := range numIDs {
		copy(tb.nums[c][base:base+periods], ev.seriesOut(id))
	}
	for c, id := range textIDs {
		val := ev.textOut(id)
		col := tb.texts[c]
		for t := 0; t < periods; t++ {
			col[base+t] = val
		}
	}
}

// aggregatedTables shapes the merged accumulator into one table per model
// point set: group blocks in first-seen record order, periods 0..HorizonOut
// within each block.
func (m *Model) aggregatedTables(lay outLayout, groups []string, total *accumulator) map[string]*Table {
	periods := m.cfg.HorizonOut + 1
	pos := make(map[VarID]int, len(lay.allNum))
	for v, id := range lay.allNum {
		pos[id] = v
	}
	var labels []string
	if m.cfg.GroupBy != "" {
		labels = []string{m.cfg.GroupBy}
	}
	tables := make(map[string]*Table, len(lay.sets))
	for _, set := range lay.sets {
		ids := lay.numIDs[set]
		tb := newTable(set, labels, m.names(ids), nil, len(groups)*periods)
		for g, gv := range groups {
			base := g * periods
			for t := 0; t < periods; t++ {
				row := base + t
				tb.periods[row] = t
				if len(labels) > 0 {
					tb.labels[0].vals[row] = gv
				}
				for c, id := range ids {
					tb.nums[c][row] = total.sums[g][pos[id]][t]
				}
			}
		}
		tables[set] = tb
	}
	return tables
}

// outLayout partitions the requested outputs by model point set. Text
// variables never enter aggregated output.
type outLayout struct {
	sets    []string
	numIDs  map[string][]VarID
	textIDs map[string][]VarID
	allNum  []VarID
}

func (m *Model) layout() outLayout {
	lay := outLayout{
		numIDs:  make(map[string][]VarID),
		textIDs: make(map[string][]VarID),
	}
	withOut := make(map[string]bool)
	for _, id := range m.outIDs {
		set := m.nodes[id].def.PointSet
		if set == "" {
			set = m.points.primary
		}
		if m.nodes[id].kind == KindText {
			if m.cfg.Aggregate {
				logrus.Debugf("text variable %q left out of aggregated output", m.nodes[id].def.Name)
				continue
			}
			lay.textIDs[set] = append(lay.textIDs[set], id)
		} else {
			lay.numIDs[set] = append(lay.numIDs[set], id)
			lay.allNum = append(lay.allNum, id)
		}
		withOut[set] = true
	}
	for _, name := range m.points.order {
		if withOut[name] {
			lay.sets = append(lay.sets, name)
		}
	}
	return lay
}

// OutputSets returns the model point sets that produce a result table,
// in registration order. RunTo needs a sink for each of them.
func (m *Model) OutputSets() []string {
	return m.layout().sets
}

func (m *Model) names(ids []VarID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = m.nodes[id].def.Name
	}
	return out
}

func (m *Model) perRecordBytes(lay outLayout) int64 {
	return int64(m.cfg.HorizonOut+1) * int64(len(lay.allNum)) * 8
}

// groupIndex maps records to aggregation groups: first-seen order of the
// grouping column's cells, or a single group when no grouping is set.
// firstOf marks the first record of each group, which is the one record
// the first-record aggregation policy keeps.
func (m *Model) groupIndex() (groups []string, groupOf []int, firstOf []bool) {
	n := m.points.Primary().Len()
	groupOf = make([]int, n)
	firstOf = make([]bool, n)
	if m.cfg.GroupBy == "" {
		if n > 0 {
			firstOf[0] = true
		}
		return []string{""}, groupOf, firstOf
	}
	cells, _ := m.points.Primary().columnStrings(m.cfg.GroupBy)
	idx := make(map[string]int)
	for r, cell := range cells {
		g, ok := idx[cell]
		if !ok {
			g = len(groups)
			idx[cell] = g
			groups = append(groups, cell)
			firstOf[r] = true
		}
		groupOf[r] = g
	}
	return groups, groupOf, firstOf
}

func (m *Model) workerCount(records int) int {
	w := m.cfg.Workers
	if w < 1 {
		w = 1
	}
	if records > 0 && w > records {
		w = records
	}
	return w
}

// batchRecords bounds how many records' series a worker stacks before
// folding them into its accumulator, keeping one batch per worker within
// the memory budget.
func (m *Model) batchRecords(perRecord int64, records, workers int) int {
	chunkMax := (records + workers - 1) / workers
	if chunkMax < 1 {
		chunkMax = 1
	}
	if m.cfg.MemoryLimit <= 0 || perRecord <= 0 {
		return chunkMax
	}
	b := int(m.cfg.MemoryLimit / int64(workers) / perRecord)
	if b < 1 {
		b = 1
	}
	if b > chunkMax {
		b = chunkMax
	}
	return b
}

type recordRange struct {
	start, end int
}

// splitRecords cuts n records into at most workers contiguous ranges; the
// first n%workers ranges carry one extra record. The split is a pure
// function of (n, workers), so partitioning is deterministic.
func splitRecords(n, workers int) []recordRange {
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	base, extra := n/workers, n%workers
	out := make([]recordRange, 0, workers)
	start := 0
	for i := 0; i < workers; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, recordRange{start, start + size})
		start += size
	}
	return out
}

// firstError picks the run error: the first real failure in chunk order.
// Context errors only surface when no chunk failed on its own, meaning
// the run was canceled from outside.
func firstError(errs []error) error {
	var fallback error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if fallback == nil {
			fallback = err
		}
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return fallback
}

func mergeRuntimes(parts [][]time.Duration, n int) []time.Duration {
	total := make([]time.Duration, n)
	for _, part := range parts {
		for i, d := range part {
			total[i] += d
		}
	}
	return total
}
