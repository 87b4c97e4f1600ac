// Package output writes result and diagnostic tables as CSV files and
// provides the streaming sink used when individual output does not fit
// in memory.
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/acturtle/cashflower/engine"
)

// WriteTable writes one result table as CSV: the header row, then one
// row per record and period.
func WriteTable(w io.Writer, tb *engine.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tb.Headers()); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	if err := writeRows(cw, tb); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteTableCSV writes one result table to a file.
func WriteTableCSV(path string, tb *engine.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if err := WriteTable(file, tb); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func writeRows(w *csv.Writer, tb *engine.Table) error {
	labels := make([][]string, 0, len(tb.LabelNames()))
	for _, name := range tb.LabelNames() {
		col, _ := tb.Label(name)
		labels = append(labels, col)
	}
	nums := make([][]float64, 0, len(tb.Columns()))
	for _, name := range tb.Columns() {
		col, _ := tb.Column(name)
		nums = append(nums, col)
	}
	texts := make([][]string, 0, len(tb.TextColumns()))
	for _, name := range tb.TextColumns() {
		col, _ := tb.TextColumn(name)
		texts = append(texts, col)
	}
	periods := tb.Periods()

	row := make([]string, 0, len(labels)+1+len(nums)+len(texts))
	for r := 0; r < tb.Len(); r++ {
		row = row[:0]
		for _, col := range labels {
			row = append(row, col[r])
		}
		row = append(row, strconv.Itoa(periods[r]))
		for _, col := range nums {
			row = append(row, strconv.FormatFloat(col[r], 'f', -1, 64))
		}
		for _, col := range texts {
			row = append(row, col[r])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", r+1, err)
		}
	}
	return nil
}

// Diagnostic CSV columns, one row per variable.
var diagnosticColumns = []string{
	"variable", "calc_order", "calc_direction", "cycle", "cycle_order",
	"variable_type", "aggregation_type", "runtime",
}

// WriteDiagnostic writes the per-variable schedule and runtime table as
// CSV. Runtimes are reported in seconds.
func WriteDiagnostic(w io.Writer, d *engine.Diagnostic) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(diagnosticColumns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for i, row := range d.Rows {
		rec := []string{
			row.Variable,
			strconv.Itoa(row.CalcOrder),
			row.Direction.String(),
			strconv.FormatBool(row.Cycle),
			strconv.Itoa(row.CycleOrder),
			row.Kind.String(),
			row.Agg.String(),
			strconv.FormatFloat(row.Runtime.Seconds(), 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDiagnosticCSV writes the diagnostic table to a file.
func WriteDiagnosticCSV(path string, d *engine.Diagnostic) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if err := WriteDiagnostic(file, d); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// CSVSink streams result chunks into one CSV file: the header ahead of
// the first chunk, then the rows of every chunk in arrival order. It
// serves exactly one model point set, matching how Model.RunTo
// partitions its output. Close flushes and closes the file.
type CSVSink struct {
	file    *os.File
	w       *csv.Writer
	started bool
}

// NewCSVSink creates the file and returns a sink writing to it.
func NewCSVSink(path string) (*CSVSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &CSVSink{file: file, w: csv.NewWriter(file)}, nil
}

// WriteChunk implements engine.TableSink.
func (s *CSVSink) WriteChunk(chunk *engine.Table) error {
	if !s.started {
		if err := s.w.Write(chunk.Headers()); err != nil {
			return fmt.Errorf("writing CSV header: %w", err)
		}
		s.started = true
	}
	if err := writeRows(s.w, chunk); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes buffered rows and closes the file.
func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("flushing CSV: %w", err)
	}
	return s.file.Close()
}
