package engine

import (
	"fmt"
	"sort"
)

// Kind classifies how a variable's formula is invoked and stored.
type Kind int

const (
	KindDefault    Kind = iota // scalar formula invoked once per period
	KindConstant               // scalar formula invoked once, same value for every period
	KindArray                  // formula returns the whole series in one call
	KindStochastic             // scalar formula invoked once per (period, scenario)
	KindText                   // constant formula returning a label instead of a number
)

func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindConstant:
		return "constant"
	case KindArray:
		return "array"
	case KindStochastic:
		return "stochastic"
	case KindText:
		return "text"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Aggregation selects how one variable's per-record results combine in
// aggregated output.
type Aggregation int

const (
	AggSum   Aggregation = iota // add record results together (default)
	AggFirst                    // keep the first record's result within each group
)

func (a Aggregation) String() string {
	switch a {
	case AggSum:
		return "sum"
	case AggFirst:
		return "first"
	}
	return fmt.Sprintf("Aggregation(%d)", int(a))
}

// Ref declares one read a formula makes: the target variable and the
// period it is read at. The declared reads are the dependency graph; a
// read performed by a formula but missing from its Reads list fails the
// evaluation of the current record.
type Ref struct {
	Name   string
	Offset int  // reader's own period plus this offset (ignored for Abs and Whole)
	Abs    bool // read at the fixed Period instead of relative to the reader
	Period int
	Whole  bool // read the complete series (Values.Series)
}

// At declares a read of name at the reader's own period shifted by offset.
// Constants are read with offset 0.
func At(name string, offset int) Ref { return Ref{Name: name, Offset: offset} }

// Fixed declares a read of name at one fixed period, independent of the
// reader's own period. Fixed reads never influence the calculation
// direction; the target period must already be evaluated when read.
func Fixed(name string, period int) Ref { return Ref{Name: name, Abs: true, Period: period} }

// Series declares a read of name's complete series.
func Series(name string) Ref { return Ref{Name: name, Whole: true} }

func (r Ref) String() string {
	switch {
	case r.Whole:
		return r.Name + "(...)"
	case r.Abs:
		return fmt.Sprintf("%s(%d)", r.Name, r.Period)
	case r.Offset == 0:
		return r.Name + "(t)"
	case r.Offset > 0:
		return fmt.Sprintf("%s(t+%d)", r.Name, r.Offset)
	}
	return fmt.Sprintf("%s(t%d)", r.Name, r.Offset)
}

// Def declares one model variable. Exactly one formula field must be set;
// it determines the variable's kind.
type Def struct {
	// Name uniquely identifies the variable. "t" is reserved for the time
	// index and cannot be used.
	Name string

	// Formula computes one value per period.
	Formula func(v *Values, t int) float64
	// Const computes one value shared by every period.
	Const func(v *Values) float64
	// Array computes the whole series in one call; the returned slice must
	// have exactly HorizonCalc+1 elements. Array variables cannot be part
	// of a cycle nor depend on one.
	Array func(v *Values) []float64
	// Stoch computes one value per period and scenario. Scenarios are
	// numbered from 1; the value seen by non-stochastic readers and by the
	// output is the mean across scenarios.
	Stoch func(v *Values, t, scenario int) float64
	// Text computes a label shared by every period. Text variables are
	// excluded from aggregation and appear in individual output only.
	Text func(v *Values) string

	// Reads declares every variable this formula reads, in the order the
	// formula reads them.
	Reads []Ref

	// PointSet names the model point set this variable is evaluated
	// against. Empty means the primary set. The per-record loop is always
	// driven by the primary set; this only selects the table the
	// variable's results are reported in.
	PointSet string

	// RecordIndependent marks results as identical across records, letting
	// the engine compute the variable once per worker and reuse the
	// values. Every dependency of a record-independent variable must
	// itself be record-independent.
	RecordIndependent bool

	// Agg selects the aggregation policy, AggSum unless set. Ignored for
	// text variables, which never aggregate.
	Agg Aggregation
}

func (d Def) kind() (Kind, error) {
	set := 0
	kind := KindDefault
	if d.Formula != nil {
		set++
		kind = KindDefault
	}
	if d.Const != nil {
		set++
		kind = KindConstant
	}
	if d.Array != nil {
		set++
		kind = KindArray
	}
	if d.Stoch != nil {
		set++
		kind = KindStochastic
	}
	if d.Text != nil {
		set++
		kind = KindText
	}
	if set == 0 {
		return 0, fmt.Errorf("no formula set")
	}
	if set > 1 {
		return 0, fmt.Errorf("%d formulas set, want exactly one", set)
	}
	return kind, nil
}

// Registry collects variable definitions before a model is built.
type Registry struct {
	defs  []Def
	names map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Add validates and records one definition.
func (r *Registry) Add(def Def) error {
	if def.Name == "" {
		return buildErrf("", "variable has no name")
	}
	if def.Name == "t" {
		return buildErrf(def.Name, "'t' is the time index and cannot be used as a variable name")
	}
	if _, ok := r.names[def.Name]; ok {
		return buildErrf(def.Name, "already defined")
	}
	if _, err := def.kind(); err != nil {
		return buildErrf(def.Name, "%v", err)
	}
	for _, ref := range def.Reads {
		if ref.Name != def.Name {
			continue
		}
		if ref.Whole {
			return buildErrf(def.Name, "reads its own complete series")
		}
		if !ref.Abs && ref.Offset == 0 {
			return buildErrf(def.Name, "reads itself at its own period")
		}
	}
	def.Reads = append([]Ref(nil), def.Reads...)
	r.defs = append(r.defs, def)
	r.names[def.Name] = struct{}{}
	return nil
}

// Len reports the number of registered variables.
func (r *Registry) Len() int { return len(r.defs) }

// sortedDefs returns the definitions in lexical name order. Variable IDs,
// tie-breaking and table column defaults all derive from this order.
func (r *Registry) sortedDefs() []Def {
	defs := append([]Def(nil), r.defs...)
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
