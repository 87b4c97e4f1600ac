package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/acturtle/cashflower/engine"
	"github.com/acturtle/cashflower/output"
)

// Options carries the run arguments the command line would pass.
type Options struct {
	Model     string    // model name for the run log
	Settings  *Settings // nil runs with DefaultSettings
	ID        string    // restrict the run to one primary record key
	Version   string    // runplan version to select
	OutputDir string    // directory for saved files (default "output")
	Timestamp time.Time // zero means time.Now; fixed in tests
}

// Run builds and runs a model end to end: select the runplan version,
// filter the model points, calculate, and save the output, diagnostic
// and log files. The runplan may be nil for models without one.
//
// When individual output exceeds the memory budget and output saving
// is on, the run streams chunk by chunk into the output files instead
// of materializing tables; the returned result then carries the
// diagnostic only.
func Run(ctx context.Context, reg *engine.Registry, points *engine.SetCollection, runplan *engine.Runplan, opts Options) (*engine.Result, error) {
	timestamp := opts.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	stamp := timestamp.Format("20060102_150405")

	settings := opts.Settings
	if settings == nil {
		settings = DefaultSettings()
	} else {
		settings.fillDefaults()
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "output"
	}

	if *settings.SaveOutput || *settings.SaveDiagnostic || *settings.SaveLog {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", outputDir, err)
		}
	}
	if *settings.SaveLog {
		logPath := filepath.Join(outputDir, stamp+"_log.txt")
		logFile, err := os.Create(logPath)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", logPath, err)
		}
		defer func() { _ = logFile.Close() }()
		console := logrus.StandardLogger().Out
		logrus.SetOutput(io.MultiWriter(console, logFile))
		defer logrus.SetOutput(console)
	}

	logBanner(stamp, settings, opts)

	if opts.Version != "" {
		if runplan == nil {
			return nil, fmt.Errorf("version %q requested but the model has no runplan", opts.Version)
		}
		if err := runplan.SetVersion(opts.Version); err != nil {
			return nil, err
		}
	}
	if opts.ID != "" {
		filtered, err := points.FilterPrimary(opts.ID)
		if err != nil {
			return nil, err
		}
		points = filtered
	}

	model, err := engine.NewModel(reg, points, settings.ToConfig())
	if err != nil {
		return nil, err
	}

	res, err := model.Run(ctx)
	var resErr *engine.ResourceError
	if errors.As(err, &resErr) && *settings.SaveOutput {
		logrus.Warnf("%v; streaming to CSV instead", err)
		res, err = runStreaming(ctx, model, outputDir, stamp)
	}
	if err != nil {
		return nil, err
	}

	logrus.Info("Finished")

	if *settings.SaveOutput && len(res.Tables) > 0 {
		multi := len(res.Tables) > 1
		for _, set := range model.OutputSets() {
			tb, ok := res.Tables[set]
			if !ok {
				continue
			}
			path := outputPath(outputDir, stamp, set, multi)
			logrus.Infof("Saving output file: %s", path)
			if err := output.WriteTableCSV(path, tb); err != nil {
				return nil, err
			}
		}
	}
	if *settings.SaveDiagnostic {
		path := filepath.Join(outputDir, stamp+"_diagnostic.csv")
		logrus.Infof("Saving diagnostic file: %s", path)
		if err := output.WriteDiagnosticCSV(path, res.Diagnostic); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// runStreaming reruns the model through per-set CSV sinks, used when
// the materialized result would not fit in the memory budget.
func runStreaming(ctx context.Context, model *engine.Model, dir, stamp string) (*engine.Result, error) {
	sets := model.OutputSets()
	multi := len(sets) > 1
	sinks := make(map[string]engine.TableSink, len(sets))
	files := make([]*output.CSVSink, 0, len(sets))
	for _, set := range sets {
		path := outputPath(dir, stamp, set, multi)
		logrus.Infof("Saving output file: %s", path)
		sink, err := output.NewCSVSink(path)
		if err != nil {
			return nil, err
		}
		sinks[set] = sink
		files = append(files, sink)
	}
	diag, err := model.RunTo(ctx, sinks)
	for _, sink := range files {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return nil, err
	}
	return &engine.Result{Diagnostic: diag}, nil
}

func outputPath(dir, stamp, set string, multi bool) string {
	if multi {
		return filepath.Join(dir, fmt.Sprintf("%s_output_%s.csv", stamp, set))
	}
	return filepath.Join(dir, stamp+"_output.csv")
}

func logBanner(stamp string, settings *Settings, opts Options) {
	if opts.Model != "" {
		logrus.Infof("Model: %q", opts.Model)
	}
	logrus.Infof("Timestamp: %s", stamp)
	if opts.ID != "" {
		logrus.Infof("Argument id: %s", opts.ID)
	}
	if opts.Version != "" {
		logrus.Infof("Argument version: %s", opts.Version)
	}
	logrus.Info("Settings:")
	for _, line := range settings.dump() {
		logrus.Info(line)
	}
}
