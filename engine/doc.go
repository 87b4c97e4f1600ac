// Package engine provides the core projection engine for cashflower.
//
// # Reading Guide
//
// Start with these three files to understand the calculation kernel:
//   - variable.go: Def/Ref declarations and the Registry they are collected in
//   - order.go: rank assignment, cycle detection, and calculation directions
//   - eval.go: the schedule-driven evaluation loop over one record
//
// # Architecture
//
// A model is assembled from three inputs: a Registry of variable
// definitions, a SetCollection of model point records, and a Config.
// NewModel resolves every declared read into a dependency graph, assigns
// calculation ranks (collapsing cycles into shared ranks), classifies each
// group's time-iteration direction, and prunes the graph to the variables
// reachable from the requested outputs. Construction is done once; the
// resulting Model is immutable and safe for concurrent runs.
//
// Run drives the evaluation across the primary set's records in
// memory-bounded batches, optionally split across parallel workers, and
// folds per-record series into aggregated or individual tables. RunTo
// streams individual results through a TableSink when they do not fit the
// memory budget.
//
// Formulas are opaque Go functions. They read other variables through the
// Values facade passed to them and must declare every such read in
// Def.Reads; an undeclared read fails the evaluation of the current
// record. Runplans, assumption tables and other inputs are captured by the
// formula closures themselves and are opaque to the engine.
package engine
