package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acturtle/cashflower/input"
)

// TestExampleMortgage_FilesLoad verifies that the mortgage example's
// files parse: the settings, the policy set and the runplan.
func TestExampleMortgage_FilesLoad(t *testing.T) {
	base := filepath.Join("..", "examples", "mortgage")

	s, err := LoadSettings(filepath.Join(base, "settings.yaml"))
	require.NoError(t, err)
	assert.False(t, *s.Aggregate)
	assert.Equal(t, 360, *s.TMaxCalculation)
	assert.Equal(t, 360, *s.TMaxOutput)
	assert.False(t, *s.SaveDiagnostic)
	assert.False(t, *s.SaveLog)

	policy, err := input.ReadModelPointCSV(filepath.Join(base, "input", "policy.csv"), "policy")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "loan", "interest_rate", "term"}, policy.Columns())
	assert.Equal(t, 1, policy.Len())

	rp, err := input.ReadRunplanCSV(filepath.Join(base, "input", "runplan.csv"))
	require.NoError(t, err)
	assert.Equal(t, "1", rp.Version())
}
