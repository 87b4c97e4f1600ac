// Package app orchestrates a model run the way the command line does:
// load settings, apply run arguments, build the model, calculate and
// save the output files.
package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/acturtle/cashflower/engine"
)

// Settings mirrors settings.yaml. Pointer fields distinguish an absent
// key from an explicit zero; LoadSettings fills the defaults in.
type Settings struct {
	Aggregate           *bool    `yaml:"aggregate"`                // sum records into one table instead of per-record rows (default true)
	GroupByColumn       string   `yaml:"group_by_column"`          // primary-set column grouping aggregated output ("" = one group)
	IDColumn            string   `yaml:"id_column"`                // key column of the primary model point set (default "id")
	MemoryLimitMB       int      `yaml:"memory_limit_mb"`          // budget for result buffers in MB (0 = unbounded)
	Multiprocessing     bool     `yaml:"multiprocessing"`          // spread records over every CPU
	OutputVariables     []string `yaml:"output_variables"`         // variables to report in column order (empty = all)
	SaveDiagnostic      *bool    `yaml:"save_diagnostic"`          // write <timestamp>_diagnostic.csv (default true)
	SaveLog             *bool    `yaml:"save_log"`                 // write <timestamp>_log.txt (default true)
	SaveOutput          *bool    `yaml:"save_output"`              // write <timestamp>_output.csv (default true)
	StochasticScenarios int      `yaml:"num_stochastic_scenarios"` // scenario count (0 = deterministic model)
	TMaxCalculation     *int     `yaml:"t_max_calculation"`        // last calculated period, inclusive (default 720)
	TMaxOutput          *int     `yaml:"t_max_output"`             // last reported period, inclusive (default 720)
}

// DefaultSettings returns the settings a model runs with when
// settings.yaml overrides nothing.
func DefaultSettings() *Settings {
	s := &Settings{}
	s.fillDefaults()
	return s
}

// LoadSettings reads a settings.yaml file. A missing file is not an
// error, the defaults apply. After loading, every pointer field is
// filled and t_max_output is capped at t_max_calculation.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logrus.Debugf("no settings file at %s, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("reading settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	s.fillDefaults()
	return s, nil
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func (s *Settings) fillDefaults() {
	if s.Aggregate == nil {
		s.Aggregate = boolPtr(true)
	}
	if s.IDColumn == "" {
		s.IDColumn = "id"
	}
	if s.SaveDiagnostic == nil {
		s.SaveDiagnostic = boolPtr(true)
	}
	if s.SaveLog == nil {
		s.SaveLog = boolPtr(true)
	}
	if s.SaveOutput == nil {
		s.SaveOutput = boolPtr(true)
	}
	if s.TMaxCalculation == nil {
		s.TMaxCalculation = intPtr(720)
	}
	if s.TMaxOutput == nil {
		s.TMaxOutput = intPtr(720)
	}
	if *s.TMaxOutput > *s.TMaxCalculation {
		logrus.Warnf("t_max_output (%d) exceeds t_max_calculation (%d); t_max_output adjusted to match",
			*s.TMaxOutput, *s.TMaxCalculation)
		*s.TMaxOutput = *s.TMaxCalculation
	}
}

// ToConfig maps the settings onto the engine configuration. Unset
// fields are filled with their defaults first.
func (s *Settings) ToConfig() engine.Config {
	s.fillDefaults()
	workers := 1
	if s.Multiprocessing {
		workers = runtime.NumCPU()
	}
	return engine.Config{
		HorizonCalc: *s.TMaxCalculation,
		HorizonOut:  *s.TMaxOutput,
		Scenarios:   s.StochasticScenarios,
		Aggregate:   *s.Aggregate,
		GroupBy:     s.GroupByColumn,
		Output:      s.OutputVariables,
		MemoryLimit: int64(s.MemoryLimitMB) << 20,
		Workers:     workers,
	}
}

// dump lists the settings in yaml key order for the run log.
func (s *Settings) dump() []string {
	return []string{
		fmt.Sprintf("- aggregate: %t", *s.Aggregate),
		fmt.Sprintf("- group_by_column: %s", s.GroupByColumn),
		fmt.Sprintf("- id_column: %s", s.IDColumn),
		fmt.Sprintf("- memory_limit_mb: %d", s.MemoryLimitMB),
		fmt.Sprintf("- multiprocessing: %t", s.Multiprocessing),
		fmt.Sprintf("- num_stochastic_scenarios: %d", s.StochasticScenarios),
		fmt.Sprintf("- output_variables: %v", s.OutputVariables),
		fmt.Sprintf("- save_diagnostic: %t", *s.SaveDiagnostic),
		fmt.Sprintf("- save_log: %t", *s.SaveLog),
		fmt.Sprintf("- save_output: %t", *s.SaveOutput),
		fmt.Sprintf("- t_max_calculation: %d", *s.TMaxCalculation),
		fmt.Sprintf("- t_max_output: %d", *s.TMaxOutput),
	}
}
