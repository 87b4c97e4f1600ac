package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// ModelPointSet is an ordered, immutable collection of records. Columns
// whose every cell parses as a number are stored as float64 and readable
// through PointView.Float; all columns are readable as text.
type ModelPointSet struct {
	name   string
	cols   []pointColumn
	colIdx map[string]int
	n      int
}

type pointColumn struct {
	name    string
	numeric bool
	floats  []float64
	texts   []string
}

// NewModelPointSet builds a set from a header and rows of raw cell text.
// Every row must have exactly one cell per column.
func NewModelPointSet(name string, columns []string, rows [][]string) (*ModelPointSet, error) {
	if name == "" {
		return nil, fmt.Errorf("model point set has no name")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("model point set %q has no columns", name)
	}
	colIdx := make(map[string]int, len(columns))
	for i, c := range columns {
		if c == "" {
			return nil, fmt.Errorf("model point set %q: column %d has no name", name, i+1)
		}
		if _, ok := colIdx[c]; ok {
			return nil, fmt.Errorf("model point set %q: duplicate column %q", name, c)
		}
		colIdx[c] = i
	}
	cols := make([]pointColumn, len(columns))
	for i, c := range columns {
		cols[i] = pointColumn{name: c, numeric: true, texts: make([]string, 0, len(rows))}
	}
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("model point set %q: row %d has %d cells, want %d", name, r+1, len(row), len(columns))
		}
		for i, cell := range row {
			cols[i].texts = append(cols[i].texts, cell)
		}
	}
	for i := range cols {
		col := &cols[i]
		col.floats = make([]float64, len(col.texts))
		for r, cell := range col.texts {
			f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				col.numeric = false
				col.floats = nil
				break
			}
			col.floats[r] = f
		}
	}
	return &ModelPointSet{name: name, cols: cols, colIdx: colIdx, n: len(rows)}, nil
}

func (s *ModelPointSet) Name() string { return s.name }

// Len reports the number of records.
func (s *ModelPointSet) Len() int { return s.n }

// Columns returns the column names in file order.
func (s *ModelPointSet) Columns() []string {
	out := make([]string, len(s.cols))
	for i, c := range s.cols {
		out[i] = c.name
	}
	return out
}

func (s *ModelPointSet) HasColumn(column string) bool {
	_, ok := s.colIdx[column]
	return ok
}

func (s *ModelPointSet) textAt(row int, ci int) string { return s.cols[ci].texts[row] }

// columnStrings returns the raw text of one column, used for keys and
// group values.
func (s *ModelPointSet) columnStrings(column string) ([]string, bool) {
	ci, ok := s.colIdx[column]
	if !ok {
		return nil, false
	}
	return s.cols[ci].texts, true
}

func (s *ModelPointSet) subsetRows(rows []int) *ModelPointSet {
	cols := make([]pointColumn, len(s.cols))
	for i, c := range s.cols {
		nc := pointColumn{name: c.name, numeric: c.numeric}
		nc.texts = make([]string, len(rows))
		if c.numeric {
			nc.floats = make([]float64, len(rows))
		}
		for j, r := range rows {
			nc.texts[j] = c.texts[r]
			if c.numeric {
				nc.floats[j] = c.floats[r]
			}
		}
		cols[i] = nc
	}
	return &ModelPointSet{name: s.name, cols: cols, colIdx: s.colIdx, n: len(rows)}
}

// SetCollection holds the model point sets of a model: one primary set
// that drives the per-record loop, and any number of secondary sets
// joined to it by the key column.
type SetCollection struct {
	primary string
	key     string
	order   []string
	sets    map[string]*ModelPointSet
	joins   map[string]map[string][]int
}

// NewSetCollection validates and indexes the given sets. With more than
// one set, a key column is required and every set must carry it; key
// values must be unique within the primary set.
func NewSetCollection(primary, key string, sets ...*ModelPointSet) (*SetCollection, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("set collection has no model point sets")
	}
	c := &SetCollection{
		primary: primary,
		key:     key,
		sets:    make(map[string]*ModelPointSet, len(sets)),
		joins:   make(map[string]map[string][]int),
	}
	for _, s := range sets {
		if _, ok := c.sets[s.name]; ok {
			return nil, fmt.Errorf("duplicate model point set %q", s.name)
		}
		c.sets[s.name] = s
		c.order = append(c.order, s.name)
	}
	main, ok := c.sets[primary]
	if !ok {
		return nil, fmt.Errorf("primary model point set %q not found", primary)
	}
	if len(sets) > 1 && key == "" {
		return nil, fmt.Errorf("a key column is required to correlate %d model point sets", len(sets))
	}
	if key != "" {
		keys, ok := main.columnStrings(key)
		if !ok {
			return nil, fmt.Errorf("primary set %q has no key column %q", primary, key)
		}
		seen := make(map[string]int, len(keys))
		for r, k := range keys {
			if prev, dup := seen[k]; dup {
				return nil, fmt.Errorf("primary set %q: key %q appears in rows %d and %d", primary, k, prev+1, r+1)
			}
			seen[k] = r
		}
		for _, name := range c.order {
			if name == primary {
				continue
			}
			vals, ok := c.sets[name].columnStrings(key)
			if !ok {
				return nil, fmt.Errorf("model point set %q has no key column %q", name, key)
			}
			join := make(map[string][]int)
			for r, k := range vals {
				join[k] = append(join[k], r)
			}
			c.joins[name] = join
		}
	}
	return c, nil
}

// Primary returns the set driving the per-record loop.
func (c *SetCollection) Primary() *ModelPointSet { return c.sets[c.primary] }

// Key returns the key column name, empty for single-set collections
// without one.
func (c *SetCollection) Key() string { return c.key }

// Names returns the set names in registration order.
func (c *SetCollection) Names() []string { return append([]string(nil), c.order...) }

// Set returns a set by name.
func (c *SetCollection) Set(name string) (*ModelPointSet, bool) {
	s, ok := c.sets[name]
	return s, ok
}

// keyOf returns the key value of one primary record, falling back to the
// row index when the collection has no key column.
func (c *SetCollection) keyOf(record int) string {
	if c.key == "" {
		return strconv.Itoa(record)
	}
	ci := c.Primary().colIdx[c.key]
	return c.Primary().textAt(record, ci)
}

// FilterPrimary narrows the primary set to the single record with the
// given key value, keeping the secondary sets as they are.
func (c *SetCollection) FilterPrimary(keyValue string) (*SetCollection, error) {
	if c.key == "" {
		return nil, fmt.Errorf("set collection has no key column to filter by")
	}
	keys, _ := c.Primary().columnStrings(c.key)
	row := -1
	for r, k := range keys {
		if k == keyValue {
			row = r
			break
		}
	}
	if row < 0 {
		return nil, fmt.Errorf("there is no key %q in the %q model point set", keyValue, c.primary)
	}
	sets := make([]*ModelPointSet, 0, len(c.order))
	for _, name := range c.order {
		if name == c.primary {
			sets = append(sets, c.Primary().subsetRows([]int{row}))
			continue
		}
		sets = append(sets, c.sets[name])
	}
	return NewSetCollection(c.primary, c.key, sets...)
}

// PointView exposes the records of one model point set matched to the
// current primary record. Reads of a missing column fail the evaluation;
// an empty match yields zero values, mirroring an absent record.
type PointView struct {
	set  *ModelPointSet
	rows []int
}

// Size reports how many records of the set match the current key.
func (p *PointView) Size() int { return len(p.rows) }

// Float reads a numeric column of the first matched record.
func (p *PointView) Float(column string) float64 { return p.FloatAt(column, 0) }

// FloatAt reads a numeric column of the record-th matched record.
func (p *PointView) FloatAt(column string, record int) float64 {
	ci, ok := p.set.colIdx[column]
	if !ok {
		panic(fmt.Errorf("model point set %q has no column %q", p.set.name, column))
	}
	if len(p.rows) == 0 {
		return 0
	}
	if record < 0 || record >= len(p.rows) {
		panic(fmt.Errorf("model point set %q has %d matched records, record %d requested", p.set.name, len(p.rows), record))
	}
	col := &p.set.cols[ci]
	if !col.numeric {
		panic(fmt.Errorf("column %q of model point set %q is not numeric", column, p.set.name))
	}
	return col.floats[p.rows[record]]
}

// Str reads any column of the first matched record as text.
func (p *PointView) Str(column string) string { return p.StrAt(column, 0) }

// StrAt reads any column of the record-th matched record as text.
func (p *PointView) StrAt(column string, record int) string {
	ci, ok := p.set.colIdx[column]
	if !ok {
		panic(fmt.Errorf("model point set %q has no column %q", p.set.name, column))
	}
	if len(p.rows) == 0 {
		return ""
	}
	if record < 0 || record >= len(p.rows) {
		panic(fmt.Errorf("model point set %q has %d matched records, record %d requested", p.set.name, len(p.rows), record))
	}
	return p.set.textAt(p.rows[record], ci)
}
