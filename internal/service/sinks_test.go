package service_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lizheng/media-analyst/internal/model"
	"github.com/lizheng/media-analyst/internal/service"

	"github.com/stretchr/testify/require"
)

func finished(t *testing.T, id string) *model.Execution {
	t.Helper()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	req := searchRequest(t)
	e := model.NewExecution(id, req, model.BuildArgs(req), "/opt/MediaCrawler", nil, now)
	require.NoError(t, e.MarkRunning(42, now))
	_, ok := e.AppendLine(model.Stdout, "done", now)
	require.True(t, ok)
	require.NoError(t, e.MarkCompleted(now.Add(time.Minute)))
	return e.Snapshot()
}

func TestWriteSink(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sink := service.NewWriteSink(&buf)

	require.NoError(t, sink.Publish(t.Context(), finished(t, "one")))
	require.NoError(t, sink.Publish(t.Context(), finished(t, "two")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var got struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Output []struct {
			Text string `json:"text"`
		} `json:"output"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	require.Equal(t, "two", got.ID)
	require.Equal(t, "COMPLETED", got.Status)
	require.Len(t, got.Output, 1)
	require.Equal(t, "done", got.Output[0].Text)
}

func TestDirSink(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "summaries")
	sink, err := service.NewDirSink(dir)
	require.NoError(t, err)

	require.NoError(t, sink.Publish(t.Context(), finished(t, "abc")))
	b, err := os.ReadFile(filepath.Join(dir, "execution-abc.json"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"id": "abc"`)
	require.Contains(t, string(b), `"--platform"`)

	require.NoError(t, sink.Close())
	require.Error(t, sink.Close())
	require.Error(t, sink.Publish(t.Context(), finished(t, "late")))
}

func TestDirSink_Escape(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sink, err := service.NewDirSink(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	err = sink.Publish(t.Context(), finished(t, "../../outside"))
	require.Error(t, err)
}
