package engine

import (
	"fmt"
	"time"
)

// evaluator computes every needed variable for one record at a time.
// Each worker owns one evaluator; nothing in it is shared.
type evaluator struct {
	m        *Model
	vals     *Values
	runtimes []time.Duration
	constBuf []float64

	indepDone bool
	curT      int
}

func newEvaluator(m *Model) *evaluator {
	return &evaluator{
		m:        m,
		vals:     newValues(m),
		runtimes: make([]time.Duration, len(m.nodes)),
		constBuf: make([]float64, m.cfg.HorizonOut+1),
	}
}

// evalRecord runs the calculation schedule for one primary record. Any
// panic raised by a formula, or by an invalid read it performs, is
// reported as an EvalError carrying the variable and period.
func (e *evaluator) evalRecord(record int) (err error) {
	e.vals.bindRecord(record, e.indepDone)
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			err = &EvalError{
				Variable: e.m.nodes[e.vals.reader].def.Name,
				T:        e.curT,
				Record:   record,
				Key:      e.vals.key,
				Err:      cause,
			}
		}
	}()

	for _, g := range e.m.groups {
		if !e.m.needed[g.members[0]] {
			continue
		}
		if g.recIndep && e.indepDone {
			continue
		}
		if g.cycle {
			e.evalCycle(g)
			continue
		}
		id := g.members[0]
		start := time.Now()
		switch e.m.nodes[id].kind {
		case KindConstant:
			e.evalConstant(id)
		case KindText:
			e.evalText(id)
		case KindArray:
			e.evalArray(id)
		case KindStochastic:
			e.evalStochastic(id, g.dir)
		default:
			e.evalDefault(id, g.dir)
		}
		e.runtimes[id] += time.Since(start)
	}
	e.indepDone = true
	return nil
}

func (e *evaluator) evalDefault(id VarID, dir Direction) {
	node := &e.m.nodes[id]
	col := &e.vals.cols[id]
	e.vals.reader = id
	if dir == DirBackward {
		for t := e.vals.horizon; t >= 0; t-- {
			e.curT = t
			col.write(t, node.def.Formula(e.vals, t))
		}
		return
	}
	for t := 0; t <= e.vals.horizon; t++ {
		e.curT = t
		col.write(t, node.def.Formula(e.vals, t))
	}
}

func (e *evaluator) evalConstant(id VarID) {
	node := &e.m.nodes[id]
	e.vals.reader, e.curT = id, 0
	e.vals.cols[id].writeConst(node.def.Const(e.vals))
}

func (e *evaluator) evalText(id VarID) {
	node := &e.m.nodes[id]
	e.vals.reader, e.curT = id, 0
	e.vals.cols[id].writeText(node.def.Text(e.vals))
}

func (e *evaluator) evalArray(id VarID) {
	node := &e.m.nodes[id]
	col := &e.vals.cols[id]
	e.vals.reader, e.curT = id, 0
	res := node.def.Array(e.vals)
	if len(res) != e.vals.horizon+1 {
		panic(fmt.Errorf("array formula returned %d values, want %d", len(res), e.vals.horizon+1))
	}
	for t, val := range res {
		col.write(t, val)
	}
}

func (e *evaluator) evalStochastic(id VarID, dir Direction) {
	node := &e.m.nodes[id]
	col := &e.vals.cols[id]
	e.vals.reader = id
	if dir == DirBackward {
		for t := e.vals.horizon; t >= 0; t-- {
			e.stochStep(node, col, t)
		}
		return
	}
	for t := 0; t <= e.vals.horizon; t++ {
		e.stochStep(node, col, t)
	}
}

// stochStep fills every scenario at one period and memoizes the mean, so
// same-rank and later readers see the averaged value immediately.
func (e *evaluator) stochStep(node *varNode, col *column, t int) {
	e.curT = t
	for s := 1; s <= e.vals.scen; s++ {
		col.writeStoch(t, s, node.def.Stoch(e.vals, t, s))
	}
	col.meanAt(t)
}

// evalCycle walks the periods in the group direction, evaluating every
// member per period in the within-cycle order. The elapsed time is split
// evenly across members.
func (e *evaluator) evalCycle(g evalGroup) {
	start := time.Now()
	if g.dir == DirBackward {
		for t := e.vals.horizon; t >= 0; t-- {
			for _, id := range g.members {
				e.calcStep(id, t)
			}
		}
	} else {
		for t := 0; t <= e.vals.horizon; t++ {
			for _, id := range g.members {
				e.calcStep(id, t)
			}
		}
	}
	share := time.Since(start) / time.Duration(len(g.members))
	for _, id := range g.members {
		e.runtimes[id] += share
	}
}

func (e *evaluator) calcStep(id VarID, t int) {
	node := &e.m.nodes[id]
	col := &e.vals.cols[id]
	e.vals.reader, e.curT = id, t
	switch node.kind {
	case KindConstant:
		if !col.constHas {
			col.writeConst(node.def.Const(e.vals))
		}
	case KindText:
		if !col.textHas {
			col.writeText(node.def.Text(e.vals))
		}
	case KindStochastic:
		e.stochStep(node, col, t)
	default:
		col.write(t, node.def.Formula(e.vals, t))
	}
}

// seriesOut returns one variable's values over the output range. For
// constants the value is broadcast into a scratch buffer that stays valid
// until the next seriesOut call.
func (e *evaluator) seriesOut(id VarID) []float64 {
	col := &e.vals.cols[id]
	switch col.kind {
	case KindConstant:
		for t := range e.constBuf {
			e.constBuf[t] = col.constVal
		}
		return e.constBuf
	default:
		return col.vals[:e.m.cfg.HorizonOut+1]
	}
}

func (e *evaluator) textOut(id VarID) string {
	return e.vals.cols[id].text
}
