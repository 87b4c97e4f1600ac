package engine

import (
	"fmt"
	"strconv"
)

// Runplan is a versioned table of scalar run parameters. Each row is one
// version keyed by the version column; formulas read cells of the
// selected version by column name. Select the version before the run
// starts, the table is read concurrently afterwards.
type Runplan struct {
	columns  []string
	index    map[string]int
	numeric  []bool
	floats   [][]float64
	cells    [][]string
	versions []string
	byVer    map[string]int
	current  int
}

// NewRunplan builds a runplan from raw cells. A version column is
// required, its values must be unique, and the first row is the default
// version.
func NewRunplan(columns []string, rows [][]string) (*Runplan, error) {
	rp := &Runplan{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
		numeric: make([]bool, len(columns)),
		floats:  make([][]float64, len(columns)),
		cells:   make([][]string, len(columns)),
		byVer:   make(map[string]int, len(rows)),
	}
	for i, name := range columns {
		if _, ok := rp.index[name]; ok {
			return nil, fmt.Errorf("duplicate column %q in the runplan", name)
		}
		rp.index[name] = i
	}
	vc, ok := rp.index["version"]
	if !ok {
		return nil, fmt.Errorf("the runplan needs a %q column", "version")
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("the runplan has no versions")
	}
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("runplan row %d has %d cells, want %d", r, len(row), len(columns))
		}
		ver := row[vc]
		if _, dup := rp.byVer[ver]; dup {
			return nil, fmt.Errorf("duplicate version %q in the runplan", ver)
		}
		rp.byVer[ver] = r
		rp.versions = append(rp.versions, ver)
	}
	for c := range columns {
		rp.cells[c] = make([]string, len(rows))
		rp.floats[c] = make([]float64, len(rows))
		rp.numeric[c] = c != vc
		for r, row := range rows {
			rp.cells[c][r] = row[c]
			if !rp.numeric[c] {
				continue
			}
			f, err := strconv.ParseFloat(row[c], 64)
			if err != nil {
				rp.numeric[c] = false
				continue
			}
			rp.floats[c][r] = f
		}
	}
	return rp, nil
}

// Version returns the selected version.
func (rp *Runplan) Version() string { return rp.versions[rp.current] }

// Versions returns every version in row order.
func (rp *Runplan) Versions() []string { return append([]string(nil), rp.versions...) }

// SetVersion selects the version formulas read from.
func (rp *Runplan) SetVersion(version string) error {
	r, ok := rp.byVer[version]
	if !ok {
		return fmt.Errorf("there is no version %q in the runplan", version)
	}
	rp.current = r
	return nil
}

// Has reports whether the runplan carries a column.
func (rp *Runplan) Has(column string) bool {
	_, ok := rp.index[column]
	return ok
}

// Get reads a numeric cell of the selected version.
func (rp *Runplan) Get(column string) float64 {
	c, ok := rp.index[column]
	if !ok {
		panic(fmt.Errorf("there is no column %q in the runplan", column))
	}
	if !rp.numeric[c] {
		panic(fmt.Errorf("column %q of the runplan is not numeric", column))
	}
	return rp.floats[c][rp.current]
}

// Str reads a cell of the selected version as its raw text.
func (rp *Runplan) Str(column string) string {
	c, ok := rp.index[column]
	if !ok {
		panic(fmt.Errorf("there is no column %q in the runplan", column))
	}
	return rp.cells[c][rp.current]
}
