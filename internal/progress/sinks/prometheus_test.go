package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progressive-loader/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	loadID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{LoadID: loadID, TS: now, Stage: progress.StageLoadStart, URL: "https://CDN.example.com/wasm/pongo.wasm", Total: -1},
		{LoadID: loadID, TS: now, Stage: progress.StageLoadProgress, Bytes: 512, Received: 512, Total: 1024, Percent: 50},
		{LoadID: loadID, TS: now, Stage: progress.StageLoadProgress, Bytes: 512, Received: 1024, Total: 1024, Percent: 100},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.loadsRunning))

	done := []progress.Event{
		{LoadID: loadID, TS: now, Stage: progress.StageLoadDone, Received: 1024, Total: 1024, Percent: 100, Dur: 2 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), done))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.loadsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.loadsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.loadsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.loadsRunning))
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.loadBytes.WithLabelValues("cdn.example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.loadDuration, "loader_load_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.payloadSize, "loader_payload_size_bytes"))
}

// TestPrometheusSinkErrorWithoutStart keeps the running gauge from going negative.
func TestPrometheusSinkErrorWithoutStart(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{LoadID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageLoadError, Note: "boom"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.loadsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.loadsRunning))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
