package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acturtle/cashflower/app"
)

func TestScaffold_CreatesStarterProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pension")

	require.NoError(t, scaffold(dir))

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		return string(data)
	}
	assert.Contains(t, read("go.mod"), "module pension")
	assert.Contains(t, read("main.go"), `Model:    "pension"`)
	assert.Contains(t, read("main.go"), "app.Run(")
	assert.Contains(t, read("model.go"), "survival_probability")
	assert.Contains(t, read("input/policy.csv"), "id,premium")
	assert.Contains(t, read("input/runplan.csv"), "version,stress")
}

func TestScaffold_SettingsFileLoads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pension")
	require.NoError(t, scaffold(dir))

	s, err := app.LoadSettings(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)

	// The generated file spells out every default.
	assert.Equal(t, app.DefaultSettings(), s)
}

func TestScaffold_ModuleNameFromLastPathElement(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models", "alpha")

	require.NoError(t, scaffold(dir))

	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "module alpha")
}

func TestScaffold_RefusesExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	err := scaffold(dir)
	assert.ErrorContains(t, err, "already exists")
}
