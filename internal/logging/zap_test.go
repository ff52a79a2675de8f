package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewZapLogger(zap.New(core)), logs
}

func TestZapLogger_Levels(t *testing.T) {
	log, logs := newObservedLogger()
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "dbg", entries[0].Message)
	assert.Equal(t, "inf", entries[1].Message)
	assert.Equal(t, "wrn", entries[2].Message)
	assert.Equal(t, "err", entries[3].Message)
	assert.Equal(t, int64(2), entries[1].ContextMap()["b"])
}

func TestZapLogger_With_AddsAttributes(t *testing.T) {
	log, logs := newObservedLogger()

	child := log.With("component", "syncer")
	child.Info(context.Background(), "hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "syncer", entries[0].ContextMap()["component"])
}

func TestNewProduction_InvalidLevelFallsBack(t *testing.T) {
	log, flush, err := NewProduction("nonsense", "")
	require.NoError(t, err)
	defer flush()
	require.NotNil(t, log)
}
