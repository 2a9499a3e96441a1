package modelconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedTable(t *testing.T) {
	table := Load(nil)
	require.NotNil(t, table)

	m, ok := table.VideoModel("veo_fast")
	require.True(t, ok, "embedded table must define veo_fast")
	assert.True(t, m.NativeAudio)
	assert.Greater(t, m.ActualOutputSeconds, 0.0)

	_, ok = table.VideoModel("nonexistent-model")
	assert.False(t, ok)
}

func TestImageModelFallsBackToDefault(t *testing.T) {
	table := Load(nil)
	m, ok := table.ImageModel("")
	require.True(t, ok)
	assert.Equal(t, "default", m.ID)
}

func TestChunkSpacingOverlapBudget(t *testing.T) {
	m := VideoModel{ActualOutputSeconds: 8}
	assert.Equal(t, 6.0, m.ChunkSpacing())

	m = VideoModel{ActualOutputSeconds: 5}
	assert.Equal(t, 3.75, m.ChunkSpacing())
}

func TestMusicDefaults(t *testing.T) {
	table := Load(nil)
	md := table.MusicDefaults()
	assert.Equal(t, "upbeat", md.FallbackGenre)
	assert.InDelta(t, 0.70, md.MixVolume, 0.001)
}

func TestValidateRejectsBadSpecs(t *testing.T) {
	assert.Error(t, validate(nil))
	assert.Error(t, validate(&fileSpec{}))
	assert.Error(t, validate(&fileSpec{VideoModels: []VideoModel{{ID: ""}}}))
	assert.Error(t, validate(&fileSpec{VideoModels: []VideoModel{
		{ID: "a", ActualOutputSeconds: 5},
		{ID: "a", ActualOutputSeconds: 5},
	}}))
	assert.Error(t, validate(&fileSpec{VideoModels: []VideoModel{{ID: "a", ActualOutputSeconds: 0}}}))
	assert.NoError(t, validate(&fileSpec{VideoModels: []VideoModel{{ID: "a", ActualOutputSeconds: 5}}}))
}
