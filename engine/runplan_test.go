package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunplan(t *testing.T) *Runplan {
	t.Helper()
	rp, err := NewRunplan([]string{"version", "shock", "label"}, [][]string{
		{"1", "0.0", "base"},
		{"2", "0.05", "mortality up"},
	})
	require.NoError(t, err)
	return rp
}

func TestNewRunplan_RequiresVersionColumn(t *testing.T) {
	_, err := NewRunplan([]string{"shock"}, [][]string{{"0.0"}})
	assert.ErrorContains(t, err, `needs a "version" column`)
}

func TestNewRunplan_RequiresRows(t *testing.T) {
	_, err := NewRunplan([]string{"version"}, nil)
	assert.ErrorContains(t, err, "no versions")
}

func TestNewRunplan_DuplicateVersion_Fails(t *testing.T) {
	_, err := NewRunplan([]string{"version"}, [][]string{{"1"}, {"1"}})
	assert.ErrorContains(t, err, `duplicate version "1"`)
}

func TestRunplan_DefaultsToFirstVersion(t *testing.T) {
	rp := testRunplan(t)
	assert.Equal(t, "1", rp.Version())
	assert.Equal(t, 0.0, rp.Get("shock"))
}

func TestRunplan_SetVersion(t *testing.T) {
	rp := testRunplan(t)

	require.NoError(t, rp.SetVersion("2"))
	assert.Equal(t, 0.05, rp.Get("shock"))
	assert.Equal(t, "mortality up", rp.Str("label"))

	err := rp.SetVersion("9")
	assert.ErrorContains(t, err, `no version "9" in the runplan`)
}

func TestRunplan_Get_UnknownColumn_Panics(t *testing.T) {
	rp := testRunplan(t)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.Contains(t, r.(error).Error(), `no column "missing"`)
	}()
	rp.Get("missing")
}

func TestRunplan_Get_TextColumn_Panics(t *testing.T) {
	rp := testRunplan(t)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.Contains(t, r.(error).Error(), "is not numeric")
	}()
	rp.Get("label")
}

func TestRunplan_Versions(t *testing.T) {
	rp := testRunplan(t)
	assert.Equal(t, []string{"1", "2"}, rp.Versions())
	assert.True(t, rp.Has("shock"))
	assert.False(t, rp.Has("missing"))
}
