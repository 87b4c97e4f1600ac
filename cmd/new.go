package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newCmd scaffolds a starter model project
var newCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a starter model project",
	Long: `Create a directory with a runnable starter model: a main.go wired to
settings.yaml and the input CSV files, and a model.go with one example
variable to replace with your own.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := scaffold(args[0]); err != nil {
			logrus.Fatalf("Scaffold failed: %v", err)
		}
	},
}

// starterFile is one file of the scaffolded project. The {{name}}
// marker in the content is replaced with the model name.
type starterFile struct {
	path    string
	content string
}

func scaffold(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%s already exists", dir)
	}
	name := filepath.Base(dir)
	for _, f := range starterFiles {
		path := filepath.Join(dir, f.path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		content := strings.ReplaceAll(f.content, "{{name}}", name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	logrus.Infof("Model %q created", name)
	logrus.Infof("Next: cd %s && go mod tidy && go run .", dir)
	return nil
}

var starterFiles = []starterFile{
	{"go.mod", `module {{name}}

go 1.25.0
`},
	{"main.go", `package main

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/acturtle/cashflower/app"
	"github.com/acturtle/cashflower/engine"
	"github.com/acturtle/cashflower/input"
)

func main() {
	id := flag.String("id", "", "run one model point by key")
	version := flag.String("version", "", "runplan version to select")
	flag.Parse()

	settings, err := app.LoadSettings("settings.yaml")
	if err != nil {
		logrus.Fatal(err)
	}

	policy, err := input.ReadModelPointCSV("input/policy.csv", "policy")
	if err != nil {
		logrus.Fatal(err)
	}
	points, err := engine.NewSetCollection("policy", settings.IDColumn, policy)
	if err != nil {
		logrus.Fatal(err)
	}
	runplan, err := input.ReadRunplanCSV("input/runplan.csv")
	if err != nil {
		logrus.Fatal(err)
	}

	reg := engine.NewRegistry()
	if err := register(reg); err != nil {
		logrus.Fatal(err)
	}

	if _, err := app.Run(context.Background(), reg, points, runplan, app.Options{
		Model:    "{{name}}",
		Settings: settings,
		ID:       *id,
		Version:  *version,
	}); err != nil {
		logrus.Fatal(err)
	}
}
`},
	{"model.go", `package main

import "github.com/acturtle/cashflower/engine"

// register declares the model variables. Every read of another variable
// must be listed in Reads; the engine derives the calculation order
// from those declarations.
func register(reg *engine.Registry) error {
	// Probability of staying in force, shrinking by a flat mortality
	// rate each period.
	return reg.Add(engine.Def{
		Name: "survival_probability",
		Formula: func(v *engine.Values, t int) float64 {
			const mortalityRate = 0.01
			if t == 0 {
				return 1
			}
			return v.At("survival_probability", t-1) * (1 - mortalityRate)
		},
		Reads: []engine.Ref{engine.At("survival_probability", -1)},
	})
}
`},
	{"settings.yaml", `# Sum records into one table instead of per-record rows.
aggregate: true

# Primary-set column grouping aggregated output (empty = one group).
group_by_column: ""

# Key column of the primary model point set.
id_column: "id"

# Budget for result buffers in MB (0 = unbounded).
memory_limit_mb: 0

# Spread records over every CPU.
multiprocessing: false

# Stochastic scenario count (0 = deterministic model).
num_stochastic_scenarios: 0

# Variables to report in column order (all when not set).
# output_variables: [premium, reserve]

# Whether to save the diagnostic file.
save_diagnostic: true

# Whether to save the log file.
save_log: true

# Whether to save the output file.
save_output: true

# Last calculated period, inclusive.
t_max_calculation: 720

# Last reported period, inclusive (capped at t_max_calculation).
t_max_output: 720
`},
	{"input/policy.csv", `id,premium
1,100
2,500
3,200
`},
	{"input/runplan.csv", `version,stress
1,0
2,0.5
`},
}
