package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/progressive-loader/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	loadID := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{LoadID: loadID, TS: now, Stage: progress.StageLoadStart, URL: "wasm/pongo.wasm", Total: -1},
		{LoadID: loadID, TS: now, Stage: progress.StageLoadProgress, Bytes: 1, Received: 1, Total: 2, Percent: 50},
		{LoadID: loadID, TS: now, Stage: progress.StageLoadError, Note: "boom"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "boom", entries[2].ContextMap()["note"])
	require.Equal(t, uuid.UUID(loadID).String(), entries[0].ContextMap()["load_id"])
}
