package store_test

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/lizheng/media-analyst/internal/model"
	"github.com/lizheng/media-analyst/internal/store"

	"github.com/stretchr/testify/require"
)

func initDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDB(t.Context(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func execution(t *testing.T, id string, raw model.RawFields, created time.Time) *model.Execution {
	t.Helper()
	req, err := model.Validate(raw)
	require.NoError(t, err)
	return model.NewExecution(id, req, model.BuildArgs(req), "/opt/MediaCrawler", nil, created)
}

func TestStore(t *testing.T) {
	t.Parallel()
	db := initDB(t)
	ctx := t.Context()
	created := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	e := execution(t, "e1", model.RawFields{Mode: "search", Platform: "dy", Keywords: "美食"}, created)
	require.NoError(t, e.MarkRunning(100, created.Add(time.Second)))

	rec, err := store.FromModel(e.Snapshot())
	require.NoError(t, err)
	require.Error(t, store.Put(ctx, db, rec))
	_, err = store.Get(ctx, db, "e1")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, ok := e.AppendLine(model.Stderr, "Traceback", created.Add(2*time.Second))
	require.True(t, ok)
	_, ok = e.AppendLine(model.Stderr, "fatal", created.Add(2*time.Second))
	require.True(t, ok)
	require.NoError(t, e.MarkExited(2, created.Add(time.Minute)))
	rec, err = store.FromModel(e.Snapshot())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, db, rec))

	row, err := store.Get(ctx, db, "e1")
	require.NoError(t, err)
	require.Equal(t, "美食", row.Target)
	require.NotNil(t, row.StartTime)
	require.True(t, created.Add(time.Second).Equal(*row.StartTime))
	require.NotNil(t, row.EndTime)
	require.True(t, created.Add(time.Minute).Equal(*row.EndTime))
	require.Equal(t, []string{"Traceback", "fatal"}, row.Tail)
	require.Equal(t, model.StatusFailed, row.Status)
	require.Equal(t, model.ReasonRuntimeFailure, row.Reason)
	require.NotNil(t, row.ExitCode)
	require.Equal(t, 2, *row.ExitCode)
	require.NotNil(t, row.Message)
	require.Contains(t, *row.Message, "fatal")
	require.Equal(t, 2, row.Lines)
	require.Equal(t, model.BuildArgs(e.Request), row.Args)
	want, err := json.Marshal(e.Request)
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(row.Request))
	require.Contains(t, string(row.Request), `"keywords":"美食"`)
	require.True(t, created.Equal(row.CreatedAt))
	require.Contains(t, row.String(), `uuid: "e1"`)

	err = store.Put(ctx, db, rec)
	require.ErrorIs(t, err, store.ErrAlreadyStored)

	require.NoError(t, store.Delete(ctx, db, "e1"))
	_, err = store.Get(ctx, db, "e1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, db, "e1"), store.ErrNotFound)
}

func TestList(t *testing.T) {
	t.Parallel()
	db := initDB(t)
	ctx := t.Context()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, raw := range []model.RawFields{
		{Mode: "search", Platform: "dy", Keywords: "a"},
		{Mode: "search", Platform: "xhs", Keywords: "b"},
		{Mode: "creator", Platform: "dy", CreatorIDs: "c"},
	} {
		e := execution(t, string(rune('a'+i)), raw, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, e.MarkRunning(1, base))
		if i == 1 {
			require.NoError(t, e.MarkCompleted(base.Add(time.Minute)))
		} else {
			require.NoError(t, e.MarkExited(1, base.Add(time.Minute)))
		}
		rec, err := store.FromModel(e.Snapshot())
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, db, rec))
	}

	rows, err := store.List(ctx, db, store.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"c", "b", "a"}, []string{rows[0].UUID, rows[1].UUID, rows[2].UUID})

	rows, err = store.List(ctx, db, store.Filter{Platform: model.PlatformDY})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = store.List(ctx, db, store.Filter{Status: model.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "b", rows[0].UUID)

	rows, err = store.List(ctx, db, store.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "c", rows[0].UUID)
}

func TestHistory(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	h, err := store.Open(ctx, filepath.Join(t.TempDir(), "state", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	now := time.Now().UTC()
	e := execution(t, "x", model.RawFields{Mode: "detail", Platform: "xhs", SpecifiedIDs: "n1,n2"}, now)
	require.NoError(t, e.MarkRunning(1, now))
	require.NoError(t, e.MarkStopped(model.ReasonTimeoutExceeded, now.Add(time.Second)))

	var sink model.Sink = h
	require.NoError(t, sink.Publish(ctx, e.Snapshot()))

	row, err := h.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, model.StatusStopped, row.Status)
	require.Equal(t, model.ReasonTimeoutExceeded, row.Reason)
	require.Nil(t, row.ExitCode)
	require.Nil(t, row.Tail)

	rows, err := h.List(ctx, store.Filter{Platform: model.PlatformXHS})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, h.Delete(ctx, "x"))
	rows, err = h.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Empty(t, rows)
}
