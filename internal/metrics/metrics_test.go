package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lizheng/media-analyst/internal/metrics"
	"github.com/lizheng/media-analyst/internal/model"

	"github.com/stretchr/testify/require"
)

func TestSupervisor(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ExecutionStarted(model.PlatformDY, model.ModeSearch)
	m.ExecutionStarted(model.PlatformDY, model.ModeSearch)
	m.OutputLine(model.Stdout)
	m.OutputLine(model.Stdout)
	m.OutputLine(model.Stderr)

	now := time.Now().UTC()
	req, err := model.Validate(model.RawFields{Mode: "search", Platform: "dy", Keywords: "美食"})
	require.NoError(t, err)
	e := model.NewExecution("e1", req, nil, "/w", nil, now)
	require.NoError(t, e.MarkRunning(1, now))
	require.NoError(t, e.MarkStopped(model.ReasonTimeoutExceeded, now.Add(3*time.Second)))
	m.ExecutionFinished(e.Snapshot())

	require.InDelta(t, 2, testutil.ToFloat64(m.ExecutionsStarted.WithLabelValues("dy", "search")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.ActiveExecutions), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.ExecutionsFinished.WithLabelValues("STOPPED", "timeout_exceeded")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(m.OutputLines.WithLabelValues("stdout")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.OutputLines.WithLabelValues("stderr")), 0)
	require.Equal(t, 1, testutil.CollectAndCount(m.ExecutionDuration))

	// launch failures have no duration
	f := model.NewExecution("e2", req, nil, "/w", nil, now)
	require.NoError(t, f.MarkLaunchFailed(model.ErrNotFound, now))
	m.ExecutionFinished(f.Snapshot())
	require.Equal(t, 1, testutil.CollectAndCount(m.ExecutionDuration))
	require.InDelta(t, 1, testutil.ToFloat64(m.ExecutionsFinished.WithLabelValues("FAILED", "launch_error")), 0)
}
