// Package input loads model inputs from CSV files: model point sets,
// the runplan and assumption tables. The readers only deal with file
// shape; column typing and validation happen in the engine
// constructors, so a file loaded here behaves exactly like data built
// in code.
package input

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/acturtle/cashflower/engine"
)

// readCSV loads one file into a header and data rows. The csv reader
// enforces a uniform record width.
func readCSV(path string) ([]string, [][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%s is empty, want a header row", path)
	}
	return records[0], records[1:], nil
}

// ReadModelPointCSV loads one model point set from a CSV file. The
// header row names the columns; records keep their file order.
func ReadModelPointCSV(path, name string) (*engine.ModelPointSet, error) {
	columns, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	set, err := engine.NewModelPointSet(name, columns, rows)
	if err != nil {
		return nil, fmt.Errorf("loading model point set from %s: %w", path, err)
	}
	return set, nil
}

// ReadRunplanCSV loads the runplan from a CSV file.
func ReadRunplanCSV(path string) (*engine.Runplan, error) {
	columns, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	rp, err := engine.NewRunplan(columns, rows)
	if err != nil {
		return nil, fmt.Errorf("loading runplan from %s: %w", path, err)
	}
	return rp, nil
}

// ReadAssumptionCSV loads an assumption table from a CSV file. The
// first column of the file keys the rows.
func ReadAssumptionCSV(path string) (*AssumptionTable, error) {
	columns, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	at, err := NewAssumptionTable(columns, rows)
	if err != nil {
		return nil, fmt.Errorf("loading assumptions from %s: %w", path, err)
	}
	return at, nil
}

// AssumptionTable is a lookup table keyed by the first column of its
// file, the shape mortality or lapse assumptions usually ship in.
// Formulas capture the table and read cells directly; the engine never
// sees it. Lookups panic on unknown labels so a bad read fails the
// record's evaluation instead of passing a silent zero downstream.
type AssumptionTable struct {
	keyColumn string
	columns   []string
	rows      map[string]int
	cols      map[string]int
	numeric   []bool
	floats    [][]float64
	cells     [][]string
}

// NewAssumptionTable builds a table from raw cells. The first column
// holds the row keys and its values must be unique; the remaining
// columns are readable by name.
func NewAssumptionTable(columns []string, rows [][]string) (*AssumptionTable, error) {
	if len(columns) < 2 {
		return nil, fmt.Errorf("an assumption table needs a key column and at least one value column, got %d", len(columns))
	}
	at := &AssumptionTable{
		keyColumn: columns[0],
		columns:   append([]string(nil), columns...),
		rows:      make(map[string]int, len(rows)),
		cols:      make(map[string]int, len(columns)-1),
		numeric:   make([]bool, len(columns)),
		floats:    make([][]float64, len(columns)),
		cells:     make([][]string, len(columns)),
	}
	seen := make(map[string]struct{}, len(columns))
	for i, name := range columns {
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate column %q in the assumption table", name)
		}
		seen[name] = struct{}{}
		if i > 0 {
			at.cols[name] = i
		}
	}
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("assumption row %d has %d cells, want %d", r+1, len(row), len(columns))
		}
		key := row[0]
		if prev, dup := at.rows[key]; dup {
			return nil, fmt.Errorf("key %q appears in rows %d and %d of the assumption table", key, prev+1, r+1)
		}
		at.rows[key] = r
	}
	for c := 1; c < len(columns); c++ {
		at.cells[c] = make([]string, len(rows))
		at.floats[c] = make([]float64, len(rows))
		at.numeric[c] = true
		for r, row := range rows {
			at.cells[c][r] = row[c]
			if !at.numeric[c] {
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(row[c]), 64)
			if err != nil {
				at.numeric[c] = false
				continue
			}
			at.floats[c][r] = f
		}
	}
	return at, nil
}

// KeyColumn returns the name of the key column, the first of the file.
func (at *AssumptionTable) KeyColumn() string { return at.keyColumn }

// Columns returns the value column names in file order, without the
// key column.
func (at *AssumptionTable) Columns() []string {
	return append([]string(nil), at.columns[1:]...)
}

// Len reports the number of rows.
func (at *AssumptionTable) Len() int { return len(at.rows) }

// Has reports whether a row key exists.
func (at *AssumptionTable) Has(row string) bool {
	_, ok := at.rows[row]
	return ok
}

// Get reads a numeric cell by row key and column name.
func (at *AssumptionTable) Get(row, column string) float64 {
	r, c := at.cell(row, column)
	if !at.numeric[c] {
		panic(fmt.Errorf("column %q of the assumption table is not numeric", column))
	}
	return at.floats[c][r]
}

// Str reads a cell by row key and column name as its raw text.
func (at *AssumptionTable) Str(row, column string) string {
	r, c := at.cell(row, column)
	return at.cells[c][r]
}

func (at *AssumptionTable) cell(row, column string) (int, int) {
	r, ok := at.rows[row]
	if !ok {
		panic(fmt.Errorf("there is no row %q in the assumption table", row))
	}
	c, ok := at.cols[column]
	if !ok {
		panic(fmt.Errorf("there is no column %q in the assumption table", column))
	}
	return r, c
}
