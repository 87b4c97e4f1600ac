package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/acturtle/cashflower/internal/testutil"
)

func runOneRecord(t *testing.T, reg *Registry, cfg Config) *Result {
	t.Helper()
	points := newTestPoints(t, []string{"1", "1000"})
	m := mustModel(t, reg, points, cfg)
	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func columnOf(t *testing.T, res *Result, set, name string) []float64 {
	t.Helper()
	tb, ok := res.Tables[set]
	if !ok {
		t.Fatalf("no table for set %q", set)
	}
	col, ok := tb.Column(name)
	if !ok {
		t.Fatalf("table %q has no column %q", set, name)
	}
	return col
}

func TestModel_Run_ForwardSelfReference(t *testing.T) {
	// GIVEN a balance that starts at the record's base and declines by 10
	reg := mustRegistry(t, Def{
		Name: "balance",
		Formula: func(v *Values, t int) float64 {
			if t == 0 {
				return v.Point("policy").Float("base")
			}
			return v.At("balance", t-1) - 10
		},
		Reads: []Ref{At("balance", -1)},
	})

	// WHEN the model runs over one record
	res := runOneRecord(t, reg, testConfig(3))

	// THEN the series carries the recurrence forward
	got := columnOf(t, res, "policy", "balance")
	testutil.AssertSeriesEqual(t, "balance", []float64{1000, 990, 980, 970}, got, 1e-12)
}

func TestModel_Run_BackwardSelfReference(t *testing.T) {
	// GIVEN a discount factor anchored at the horizon
	reg := mustRegistry(t, Def{
		Name: "discount",
		Formula: func(v *Values, t int) float64 {
			if t == 3 {
				return 1
			}
			return v.At("discount", t+1) * 0.9
		},
		Reads: []Ref{At("discount", 1)},
	})

	// WHEN the model runs
	res := runOneRecord(t, reg, testConfig(3))

	// THEN periods were filled from the horizon downwards
	got := columnOf(t, res, "policy", "discount")
	testutil.AssertSeriesEqual(t, "discount", []float64{0.729, 0.81, 0.9, 1}, got, 1e-12)
}

func TestModel_Run_FormulaInvokedOncePerPeriod(t *testing.T) {
	// GIVEN a rate read by two dependents
	calls := 0
	reg := mustRegistry(t,
		Def{Name: "rate", Formula: func(v *Values, t int) float64 {
			calls++
			return 0.01
		}},
		Def{Name: "x", Formula: func(v *Values, t int) float64 {
			return v.At("rate", t) * 2
		}, Reads: []Ref{At("rate", 0)}},
		Def{Name: "y", Formula: func(v *Values, t int) float64 {
			return v.At("rate", t) * 3
		}, Reads: []Ref{At("rate", 0)}},
	)

	// WHEN the model runs over one record with horizon 4
	runOneRecord(t, reg, testConfig(4))

	// THEN the rate formula ran once per period, readers hit the cache
	if calls != 5 {
		t.Errorf("rate formula calls: got %d, want 5", calls)
	}
}

func TestModel_Run_RecordIndependentComputedOnce(t *testing.T) {
	// GIVEN a record-independent scale and three records
	calls := 0
	reg := mustRegistry(t,
		Def{Name: "scale", RecordIndependent: true, Formula: func(v *Values, t int) float64 {
			calls++
			return 2
		}},
		Def{Name: "amount", Formula: func(v *Values, t int) float64 {
			return v.At("scale", t) * v.Point("policy").Float("base")
		}, Reads: []Ref{At("scale", 0)}},
	)
	points := newTestPoints(t, []string{"1", "10"}, []string{"2", "20"}, []string{"3", "30"})
	m := mustModel(t, reg, points, testConfig(2))

	// WHEN the model runs serially
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// THEN the scale was evaluated for the first record only
	if calls != 3 {
		t.Errorf("scale formula calls: got %d, want 3", calls)
	}
}

func TestModel_Run_ArrayMatchesScalarSeries(t *testing.T) {
	// GIVEN the same series computed per period and in one array call
	reg := mustRegistry(t,
		Def{Name: "scalar", Formula: func(v *Values, t int) float64 {
			return float64(t) * 1.5
		}},
		Def{Name: "vec", Array: func(v *Values) []float64 {
			out := make([]float64, 4)
			for t := range out {
				out[t] = float64(t) * 1.5
			}
			return out
		}},
	)

	// WHEN the model runs
	res := runOneRecord(t, reg, testConfig(3))

	// THEN both columns agree
	testutil.AssertSeriesEqual(t, "vec", columnOf(t, res, "policy", "scalar"), columnOf(t, res, "policy", "vec"), 1e-12)
}

func TestModel_Run_ArrayWrongLength_Fails(t *testing.T) {
	reg := mustRegistry(t, Def{
		Name:  "vec",
		Array: func(v *Values) []float64 { return []float64{1, 2} },
	})
	points := newTestPoints(t, []string{"1", "10"})
	m := mustModel(t, reg, points, testConfig(3))

	_, err := m.Run(context.Background())

	var evalErr *EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("error: got %v, want EvalError", err)
	}
	if evalErr.Variable != "vec" {
		t.Errorf("variable: got %q, want vec", evalErr.Variable)
	}
	if want := "returned 2 values, want 4"; !errorContains(err, want) {
		t.Errorf("error: got %q, want substring %q", err, want)
	}
}

func TestModel_Run_StochasticMeanAcrossScenarios(t *testing.T) {
	// GIVEN three scenarios with period-1 values 1100, 1050, 1010
	reg := mustRegistry(t, Def{
		Name: "fund",
		Stoch: func(v *Values, t, scenario int) float64 {
			if t == 0 {
				return 1000
			}
			switch scenario {
			case 1:
				return 1100
			case 2:
				return 1050
			default:
				return 1010
			}
		},
	})
	cfg := testConfig(1)
	cfg.Scenarios = 3

	// WHEN the model runs
	res := runOneRecord(t, reg, cfg)

	// THEN the output carries the scenario mean per period
	got := columnOf(t, res, "policy", "fund")
	testutil.AssertFloat64Equal(t, "fund[0]", 1000, got[0], 1e-9)
	testutil.AssertFloat64Equal(t, "fund[1]", 1053.33, got[1], 1e-5)
}

func TestModel_Run_ScenarioReadPicksOnePath(t *testing.T) {
	// GIVEN a variable reading scenario 2 of a stochastic fund
	reg := mustRegistry(t,
		Def{Name: "fund", Stoch: func(v *Values, t, scenario int) float64 {
			return float64(100 * scenario)
		}},
		Def{Name: "mid_path", Formula: func(v *Values, t int) float64 {
			return v.AtScenario("fund", t, 2)
		}, Reads: []Ref{At("fund", 0)}},
	)
	cfg := testConfig(2)
	cfg.Scenarios = 3

	res := runOneRecord(t, reg, cfg)

	testutil.AssertSeriesEqual(t, "mid_path", []float64{200, 200, 200}, columnOf(t, res, "policy", "mid_path"), 1e-12)
}

func TestModel_Run_ConstantInCycleComputedOnce(t *testing.T) {
	// GIVEN a forward cycle holding a constant that reads period 0 of a
	// member computed earlier in the step order
	kCalls := 0
	reg := mustRegistry(t,
		Def{Name: "a", Formula: func(v *Values, t int) float64 {
			if t == 0 {
				return 100
			}
			return v.At("b", t-1) + 1
		}, Reads: []Ref{At("b", -1)}},
		Def{Name: "b", Formula: func(v *Values, t int) float64 {
			return v.At("a", t) + v.Const("k")
		}, Reads: []Ref{At("a", 0), At("k", 0)}},
		Def{Name: "k", Const: func(v *Values) float64 {
			kCalls++
			return v.At("a", 0) * 2
		}, Reads: []Ref{Fixed("a", 0)}},
	)

	// WHEN the model runs with horizon 2
	res := runOneRecord(t, reg, testConfig(2))

	// THEN the constant ran exactly once and the recurrence used it
	if kCalls != 1 {
		t.Errorf("constant formula calls: got %d, want 1", kCalls)
	}
	testutil.AssertSeriesEqual(t, "a", []float64{100, 301, 502}, columnOf(t, res, "policy", "a"), 1e-12)
	testutil.AssertSeriesEqual(t, "b", []float64{300, 501, 702}, columnOf(t, res, "policy", "b"), 1e-12)
	testutil.AssertSeriesEqual(t, "k", []float64{200, 200, 200}, columnOf(t, res, "policy", "k"), 1e-12)
}

func TestModel_Run_UndeclaredRead_Fails(t *testing.T) {
	// GIVEN a formula reading a variable missing from its declared reads
	reg := mustRegistry(t,
		Def{Name: "x", Formula: func(v *Values, t int) float64 {
			return v.At("y", t)
		}},
		Def{Name: "y", Formula: func(v *Values, t int) float64 { return 1 }},
	)
	points := newTestPoints(t, []string{"1", "10"})
	m := mustModel(t, reg, points, testConfig(2))

	// WHEN the model runs
	_, err := m.Run(context.Background())

	// THEN the hidden dependency fails the evaluation
	var evalErr *EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("error: got %v, want EvalError", err)
	}
	if evalErr.Variable != "x" {
		t.Errorf("variable: got %q, want x", evalErr.Variable)
	}
	if want := "without declaring"; !errorContains(err, want) {
		t.Errorf("error: got %q, want substring %q", err, want)
	}
}

func TestModel_Run_OutOfRangeRead_Fails(t *testing.T) {
	// GIVEN a read beyond the calculation horizon
	reg := mustRegistry(t,
		Def{Name: "x", Formula: func(v *Values, t int) float64 { return 1 }},
		Def{Name: "y", Formula: func(v *Values, t int) float64 {
			return v.At("x", 10)
		}, Reads: []Ref{Fixed("x", 10)}},
	)
	points := newTestPoints(t, []string{"1", "10"})
	m := mustModel(t, reg, points, testConfig(3))

	_, err := m.Run(context.Background())

	var evalErr *EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("error: got %v, want EvalError", err)
	}
	if evalErr.Variable != "y" || evalErr.T != 0 {
		t.Errorf("context: got %q t=%d, want y at t=0", evalErr.Variable, evalErr.T)
	}
	if want := "outside the calculation range"; !errorContains(err, want) {
		t.Errorf("error: got %q, want substring %q", err, want)
	}
}

func TestModel_Run_FormulaPanicCarriesRecordIdentity(t *testing.T) {
	// GIVEN a formula failing for the second of three records
	reg := mustRegistry(t, Def{
		Name: "rate",
		Formula: func(v *Values, t int) float64 {
			if v.Point("policy").Float("base") == 20 {
				panic(fmt.Errorf("bad rate"))
			}
			return 1
		},
	})
	points := newTestPoints(t, []string{"7", "10"}, []string{"8", "20"}, []string{"9", "30"})
	m := mustModel(t, reg, points, testConfig(2))

	// WHEN the model runs serially
	_, err := m.Run(context.Background())

	// THEN the error names the variable, period, record and key
	var evalErr *EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("error: got %v, want EvalError", err)
	}
	if evalErr.Variable != "rate" || evalErr.T != 0 || evalErr.Record != 1 || evalErr.Key != "8" {
		t.Errorf("identity: got %+v, want rate t=0 record=1 key=8", evalErr)
	}
	if !errorContains(err, "bad rate") {
		t.Errorf("error: got %q, want the formula's cause", err)
	}
}

func TestModel_Run_TextReadWithAt_Fails(t *testing.T) {
	// GIVEN a numeric formula reading a text variable as a number
	reg := mustRegistry(t,
		Def{Name: "label", Text: func(v *Values) string { return "X" }},
		Def{Name: "wrong", Formula: func(v *Values, t int) float64 {
			return v.At("label", t)
		}, Reads: []Ref{At("label", 0)}},
	)
	points := newTestPoints(t, []string{"1", "10"})
	cfg := testConfig(1)
	cfg.Aggregate = false
	m := mustModel(t, reg, points, cfg)

	_, err := m.Run(context.Background())

	var evalErr *EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("error: got %v, want EvalError", err)
	}
	if want := "must be read with TextOf"; !errorContains(err, want) {
		t.Errorf("error: got %q, want substring %q", err, want)
	}
}

func TestModel_Run_WholeSeriesRead(t *testing.T) {
	// GIVEN a constant summing another variable's complete series
	reg := mustRegistry(t,
		Def{Name: "x", Formula: func(v *Values, t int) float64 {
			return float64(t) + 1
		}},
		Def{Name: "total", Const: func(v *Values) float64 {
			var sum float64
			for _, val := range v.Series("x") {
				sum += val
			}
			return sum
		}, Reads: []Ref{Series("x")}},
	)

	res := runOneRecord(t, reg, testConfig(3))

	testutil.AssertSeriesEqual(t, "total", []float64{10, 10, 10, 10}, columnOf(t, res, "policy", "total"), 1e-12)
}

func TestModel_Run_MortgageAmortization(t *testing.T) {
	// GIVEN a level-payment loan whose interest, principal and balance
	// form a cycle broken by the lagged balance read
	set, err := NewModelPointSet("policy", []string{"id", "loan", "interest_rate", "term"}, [][]string{
		{"1", "100000", "0.1", "360"},
	})
	if err != nil {
		t.Fatalf("NewModelPointSet: %v", err)
	}
	points, err := NewSetCollection("policy", "id", set)
	if err != nil {
		t.Fatalf("NewSetCollection: %v", err)
	}
	reg := mustRegistry(t,
		Def{Name: "monthly_interest_rate", Const: func(v *Values) float64 {
			return v.Point("policy").Float("interest_rate") / 12
		}},
		Def{Name: "payment", Const: func(v *Values) float64 {
			j := v.Const("monthly_interest_rate")
			term := v.Point("policy").Float("term")
			annuity := (1 - math.Pow(1/(1+j), term)) / j
			return v.Point("policy").Float("loan") / annuity
		}, Reads: []Ref{At("monthly_interest_rate", 0)}},
		Def{Name: "balance", Formula: func(v *Values, t int) float64 {
			if t == 0 {
				return v.Point("policy").Float("loan")
			}
			return v.At("balance", t-1) - v.At("principal", t)
		}, Reads: []Ref{At("balance", -1), At("principal", 0)}},
		Def{Name: "interest", Formula: func(v *Values, t int) float64 {
			if t == 0 {
				return 0
			}
			return v.At("balance", t-1) * v.Const("monthly_interest_rate")
		}, Reads: []Ref{At("balance", -1), At("monthly_interest_rate", 0)}},
		Def{Name: "principal", Formula: func(v *Values, t int) float64 {
			if t == 0 {
				return 0
			}
			return v.Const("payment") - v.At("interest", t)
		}, Reads: []Ref{At("payment", 0), At("interest", 0)}},
	)
	m := mustModel(t, reg, points, Config{HorizonCalc: 360, HorizonOut: 360, Aggregate: true})

	// WHEN the model runs over the full term
	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	payment := columnOf(t, res, "policy", "payment")
	interest := columnOf(t, res, "policy", "interest")
	principal := columnOf(t, res, "policy", "principal")
	balance := columnOf(t, res, "policy", "balance")

	// THEN the payment matches the annuity closed form
	j := 0.1 / 12
	want := 100000 * j / (1 - math.Pow(1/(1+j), 360))
	testutil.AssertFloat64Equal(t, "payment", want, payment[0], 1e-9)

	// THEN the first interest charge is one month of interest on the
	// full loan and every later payment splits into interest plus principal
	testutil.AssertFloat64Equal(t, "interest at t=1", 100000*j, interest[1], 1e-9)
	for i := 1; i <= 360; i++ {
		if got := interest[i] + principal[i]; math.Abs(got-payment[i]) > 1e-6 {
			t.Fatalf("interest+principal at t=%d: got %v, want %v", i, got, payment[i])
		}
	}

	// THEN the balance declines every month and amortizes to zero
	for i := 1; i <= 360; i++ {
		if balance[i] >= balance[i-1] {
			t.Fatalf("balance at t=%d: got %v, want below %v", i, balance[i], balance[i-1])
		}
	}
	if math.Abs(balance[360]) > 1e-4 {
		t.Errorf("balance at t=360: got %v, want 0", balance[360])
	}
}

func errorContains(err error, want string) bool {
	return err != nil && strings.Contains(err.Error(), want)
}
