package logdisplay

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDisplayLogsSteps(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	d := New(zap.New(core), 50)
	require.Equal(t, -1, d.Last())

	for _, p := range []int{10, 10, 49, 50, 99, 100, 100} {
		d.SetProgress(p)
	}
	require.Equal(t, 100, d.Last())
	require.Equal(t, 7, d.Reports())

	info := logs.FilterLevelExact(zapcore.InfoLevel).All()
	require.Len(t, info, 2)
	require.Equal(t, int64(50), info[0].ContextMap()["percent"])
	require.Equal(t, int64(100), info[1].ContextMap()["percent"])
	require.Equal(t, 5, logs.FilterLevelExact(zapcore.DebugLevel).Len())
}

func TestDisplaySurfaceTransitionsOnce(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	d := New(zap.New(core), 0)
	require.False(t, d.Revealed())

	d.HideLoading()
	d.HideLoading()
	d.RevealContent()
	d.RevealContent()

	require.True(t, d.Revealed())
	require.Equal(t, 1, logs.FilterMessage("loading surface hidden").Len())
	require.Equal(t, 1, logs.FilterMessage("content surface revealed").Len())
}
