package phaseio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMergeAndGetRoundTrip(t *testing.T) {
	merged, err := Merge(nil, "phase1_plan", sample{Name: "plan", Count: 3})
	require.NoError(t, err)

	var got sample
	ok, err := Get(merged, "phase1_plan", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sample{Name: "plan", Count: 3}, got)
}

func TestMergePreservesOtherKeys(t *testing.T) {
	merged, err := Merge(nil, "phase1_plan", sample{Name: "plan"})
	require.NoError(t, err)
	merged, err = Merge(merged, "phase2_storyboard", sample{Name: "storyboard"})
	require.NoError(t, err)

	// Overwrite one key; the other must survive untouched.
	merged, err = Merge(merged, "phase1_plan", sample{Name: "plan-v2", Count: 1})
	require.NoError(t, err)

	var p1, p2 sample
	ok, err := Get(merged, "phase1_plan", &p1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "plan-v2", p1.Name)

	ok, err = Get(merged, "phase2_storyboard", &p2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "storyboard", p2.Name)
}

func TestGetMissingKey(t *testing.T) {
	var got sample
	ok, err := Get(nil, "phase4_refine", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	merged, err := Merge(nil, "phase1_plan", sample{})
	require.NoError(t, err)
	ok, err = Get(merged, "phase4_refine", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMergeRejectsCorruptBlob(t *testing.T) {
	_, err := Merge(datatypes.JSON([]byte("not-json")), "k", sample{})
	assert.Error(t, err)
}
