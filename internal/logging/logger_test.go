package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.Equal(t, "fisscraper", logger.Name())
		logger.Info("logger ready", zap.Bool("development", development))
	}
}

func TestInstall(t *testing.T) {
	logger := zap.NewExample()
	restore := Install(logger)
	assert.Same(t, logger, zap.L())

	restore()
	assert.NotSame(t, logger, zap.L())
}
