package engine

import "fmt"

// BuildError reports a problem detected while assembling a model: an
// invalid definition, an unresolved dependency, or a graph shape that
// cannot be scheduled. Build errors abort model construction before any
// evaluation starts.
type BuildError struct {
	Variable string // offending variable, empty when the problem is model-wide
	Reason   string
}

func (e *BuildError) Error() string {
	if e.Variable == "" {
		return "model build: " + e.Reason
	}
	return fmt.Sprintf("model build: variable %q: %s", e.Variable, e.Reason)
}

func buildErrf(variable, format string, args ...any) *BuildError {
	return &BuildError{Variable: variable, Reason: fmt.Sprintf(format, args...)}
}

// EvalError reports a formula failure for one variable at one period of
// one record. Record is the row index within the primary model point set
// and Key its key column value (empty when the collection has no key).
type EvalError struct {
	Variable string
	T        int
	Record   int
	Key      string
	Err      error
}

func (e *EvalError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("evaluating %q at t=%d, record %d (key %s): %v", e.Variable, e.T, e.Record, e.Key, e.Err)
	}
	return fmt.Sprintf("evaluating %q at t=%d, record %d: %v", e.Variable, e.T, e.Record, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// ResourceError reports that a run cannot proceed within the configured
// memory budget. It is raised before any evaluation starts.
type ResourceError struct {
	NeededBytes int64
	LimitBytes  int64
	Reason      string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: need %s, limit %s", e.Reason, formatBytes(e.NeededBytes), formatBytes(e.LimitBytes))
}

func formatBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/float64(mb))
	}
	return fmt.Sprintf("%d B", n)
}
