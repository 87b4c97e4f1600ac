package engine

import "fmt"

// Config groups the run-level parameters of a model.
type Config struct {
	HorizonCalc int      // last calculated period, inclusive (t runs 0..HorizonCalc)
	HorizonOut  int      // last reported period, inclusive (must not exceed HorizonCalc)
	Scenarios   int      // stochastic scenario count (0 = deterministic model)
	Aggregate   bool     // sum records into one table instead of per-record rows
	GroupBy     string   // primary set column grouping aggregated output ("" = one group)
	Output      []string // requested output variables in column order (nil = all)
	MemoryLimit int64    // byte budget for result buffers (0 = unbounded)
	Workers     int      // parallel worker count (0 or 1 = serial)
}

// DefaultConfig returns the configuration a model runs with when the user
// overrides nothing: a 720-period horizon, aggregated output of every
// variable, a 1 GiB memory budget and serial execution.
func DefaultConfig() Config {
	return Config{
		HorizonCalc: 720,
		HorizonOut:  720,
		Aggregate:   true,
		MemoryLimit: 1 << 30,
	}
}

// Validate reports the first invalid field. Output names are checked later
// by NewModel, once the registry is known.
func (c Config) Validate() error {
	if c.HorizonCalc < 0 {
		return fmt.Errorf("calculation horizon must be non-negative, got %d", c.HorizonCalc)
	}
	if c.HorizonOut < 0 {
		return fmt.Errorf("output horizon must be non-negative, got %d", c.HorizonOut)
	}
	if c.HorizonOut > c.HorizonCalc {
		return fmt.Errorf("output horizon %d exceeds calculation horizon %d", c.HorizonOut, c.HorizonCalc)
	}
	if c.Scenarios < 0 {
		return fmt.Errorf("scenario count must be non-negative, got %d", c.Scenarios)
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("memory limit must be non-negative, got %d", c.MemoryLimit)
	}
	if c.Workers < 0 {
		return fmt.Errorf("worker count must be non-negative, got %d", c.Workers)
	}
	return nil
}
