package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLocateExplicitPath(t *testing.T) {
	t.Parallel()

	path, err := Locate("/srv/fisscraper.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, "/srv/fisscraper.yaml", path)
}

func TestLocateNothingFound(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	path, err := Locate("", zap.New(core))
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, 1, logs.FilterMessage("config file not found; using defaults and environment variables").Len())
}
