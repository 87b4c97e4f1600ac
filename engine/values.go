package engine

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// column holds the write-once results of one variable for the current
// record. Reads of entries that were never written panic with an error
// value; the evaluator recovers them into an EvalError.
type column struct {
	kind Kind

	// KindDefault and KindArray series, also the scenario mean of a
	// KindStochastic variable once every scenario at a period is filled
	vals []float64
	has  []bool

	// KindStochastic, period-major: stoch[t][scenario-1]
	stoch    [][]float64
	stochHas [][]bool
	fill     []int

	// KindConstant
	constVal float64
	constHas bool

	// KindText
	text    string
	textHas bool
}

func (c *column) init(kind Kind, horizon, scenarios int) {
	c.kind = kind
	switch kind {
	case KindDefault, KindArray:
		c.vals = make([]float64, horizon+1)
		c.has = make([]bool, horizon+1)
	case KindStochastic:
		c.vals = make([]float64, horizon+1)
		c.has = make([]bool, horizon+1)
		c.stoch = make([][]float64, horizon+1)
		c.stochHas = make([][]bool, horizon+1)
		c.fill = make([]int, horizon+1)
		for t := range c.stoch {
			c.stoch[t] = make([]float64, scenarios)
			c.stochHas[t] = make([]bool, scenarios)
		}
	}
}

func (c *column) reset() {
	for i := range c.has {
		c.has[i] = false
	}
	for t := range c.stochHas {
		for s := range c.stochHas[t] {
			c.stochHas[t][s] = false
		}
		c.fill[t] = 0
	}
	c.constHas = false
	c.textHas = false
}

func (c *column) write(t int, v float64) {
	if c.has[t] {
		panic(fmt.Errorf("internal: period %d written twice", t))
	}
	c.vals[t] = v
	c.has[t] = true
}

func (c *column) writeStoch(t, scenario int, v float64) {
	if c.stochHas[t][scenario-1] {
		panic(fmt.Errorf("internal: period %d scenario %d written twice", t, scenario))
	}
	c.stoch[t][scenario-1] = v
	c.stochHas[t][scenario-1] = true
	c.fill[t]++
}

func (c *column) writeConst(v float64) {
	if c.constHas {
		panic(fmt.Errorf("internal: constant written twice"))
	}
	c.constVal = v
	c.constHas = true
}

func (c *column) writeText(s string) {
	if c.textHas {
		panic(fmt.Errorf("internal: text written twice"))
	}
	c.text = s
	c.textHas = true
}

// meanReady reports whether the scenario mean at t can be produced.
func (c *column) meanReady(t int) bool {
	return c.has[t] || c.fill[t] == len(c.stoch[t])
}

// meanAt memoizes and returns the scenario mean at t.
func (c *column) meanAt(t int) float64 {
	if !c.has[t] {
		c.vals[t] = stat.Mean(c.stoch[t], nil)
		c.has[t] = true
	}
	return c.vals[t]
}

// Values is the read facade passed to every formula. All reads are
// checked against the reader's declared dependencies; reads of values
// that are not computed yet fail the record's evaluation.
type Values struct {
	model   *Model
	horizon int
	scen    int
	cols    []column
	views   map[string]*PointView
	record  int
	key     string
	reader  VarID
}

func newValues(m *Model) *Values {
	v := &Values{
		model:   m,
		horizon: m.cfg.HorizonCalc,
		scen:    m.cfg.Scenarios,
		cols:    make([]column, len(m.nodes)),
		views:   make(map[string]*PointView, len(m.points.order)),
	}
	for i := range m.nodes {
		if m.needed[i] {
			v.cols[i].init(m.nodes[i].kind, v.horizon, v.scen)
		}
	}
	for _, name := range m.points.order {
		v.views[name] = &PointView{set: m.points.sets[name]}
	}
	return v
}

// bindRecord points the facade at one primary record: the primary view
// narrows to that row, secondary views to the rows matching its key, and
// every column except the kept record-independent ones is cleared.
func (v *Values) bindRecord(record int, keepIndependent bool) {
	v.record = record
	v.key = v.model.points.keyOf(record)
	for name, view := range v.views {
		if name == v.model.points.primary {
			view.rows = append(view.rows[:0], record)
			continue
		}
		view.rows = v.model.points.joins[name][v.key]
	}
	for i := range v.cols {
		if !v.model.needed[i] {
			continue
		}
		if keepIndependent && v.model.nodes[i].def.RecordIndependent {
			continue
		}
		v.cols[i].reset()
	}
}

func (v *Values) lookup(name string) (VarID, *varNode) {
	id, ok := v.model.byName[name]
	if !ok {
		panic(fmt.Errorf("unknown variable %q", name))
	}
	if !v.model.allowed[v.reader][id] {
		panic(fmt.Errorf("reads %q without declaring the dependency", name))
	}
	return id, &v.model.nodes[id]
}

// At reads a variable's value at period t. Constants answer for any t;
// stochastic variables answer with their scenario mean.
func (v *Values) At(name string, t int) float64 {
	id, node := v.lookup(name)
	col := &v.cols[id]
	switch node.kind {
	case KindConstant:
		if !col.constHas {
			panic(fmt.Errorf("constant %q has no value yet", name))
		}
		return col.constVal
	case KindText:
		panic(fmt.Errorf("text variable %q must be read with TextOf", name))
	case KindStochastic:
		v.checkRange(name, t)
		if !col.meanReady(t) {
			panic(fmt.Errorf("stochastic %q has no complete scenario set for period %d yet", name, t))
		}
		return col.meanAt(t)
	default:
		v.checkRange(name, t)
		if !col.has[t] {
			panic(fmt.Errorf("%q has no value for period %d yet", name, t))
		}
		return col.vals[t]
	}
}

// AtScenario reads one scenario of a stochastic variable at period t.
// Scenarios are numbered from 1.
func (v *Values) AtScenario(name string, t, scenario int) float64 {
	id, node := v.lookup(name)
	if node.kind != KindStochastic {
		panic(fmt.Errorf("%q is not stochastic", name))
	}
	v.checkRange(name, t)
	if scenario < 1 || scenario > v.scen {
		panic(fmt.Errorf("scenario %d outside 1..%d for %q", scenario, v.scen, name))
	}
	col := &v.cols[id]
	if !col.stochHas[t][scenario-1] {
		panic(fmt.Errorf("%q has no value for period %d scenario %d yet", name, t, scenario))
	}
	return col.stoch[t][scenario-1]
}

// Const reads a constant variable.
func (v *Values) Const(name string) float64 {
	id, node := v.lookup(name)
	if node.kind != KindConstant {
		panic(fmt.Errorf("%q is not a constant", name))
	}
	col := &v.cols[id]
	if !col.constHas {
		panic(fmt.Errorf("constant %q has no value yet", name))
	}
	return col.constVal
}

// TextOf reads a text variable.
func (v *Values) TextOf(name string) string {
	id, node := v.lookup(name)
	if node.kind != KindText {
		panic(fmt.Errorf("%q is not a text variable", name))
	}
	col := &v.cols[id]
	if !col.textHas {
		panic(fmt.Errorf("text %q has no value yet", name))
	}
	return col.text
}

// Series reads a variable's complete series, periods 0..HorizonCalc.
// The returned slice is the cache itself and must not be modified.
func (v *Values) Series(name string) []float64 {
	id, node := v.lookup(name)
	col := &v.cols[id]
	switch node.kind {
	case KindConstant, KindText:
		panic(fmt.Errorf("%q has no series; read it with Const or TextOf", name))
	case KindStochastic:
		for t := 0; t <= v.horizon; t++ {
			if !col.meanReady(t) {
				panic(fmt.Errorf("series of %q is not fully computed", name))
			}
			col.meanAt(t)
		}
		return col.vals
	default:
		for t := 0; t <= v.horizon; t++ {
			if !col.has[t] {
				panic(fmt.Errorf("series of %q is not fully computed", name))
			}
		}
		return col.vals
	}
}

// Point returns the view of one model point set for the current record.
func (v *Values) Point(set string) *PointView {
	view, ok := v.views[set]
	if !ok {
		panic(fmt.Errorf("unknown model point set %q", set))
	}
	return view
}

// Record reports the current primary record's row index.
func (v *Values) Record() int { return v.record }

// Key reports the current primary record's key value, or its row index
// when the collection has no key column.
func (v *Values) Key() string { return v.key }

// Scenarios reports the configured stochastic scenario count.
func (v *Values) Scenarios() int { return v.scen }

func (v *Values) checkRange(name string, t int) {
	if t < 0 || t > v.horizon {
		panic(fmt.Errorf("%q read for period %d outside the calculation range [0, %d]", name, t, v.horizon))
	}
}
