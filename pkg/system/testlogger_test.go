package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger()
	require.NotNil(t, logger)

	// Verify it's a sugared logger that can log without panicking
	logger.Info("test message")
	logger.Infow("test message with fields", "key", "value")
}

func TestNewObservedLogger(t *testing.T) {
	logger, logs := NewObservedLogger(zapcore.WarnLevel)
	require.NotNil(t, logger)

	logger.Infow("dropped", "key", "value")
	logger.Warnw("kept", "profile", "default")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "default", entry.ContextMap()["profile"])
}
