package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lizheng/media-analyst/internal/model"
)

// History keeps the summaries of finished executions in a sqlite database.
// It is a model.Sink.
type History struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*History, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	db, err := InitDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("initializing history database %s: %w", path, err)
	}
	return &History{db: db}, nil
}

func (h *History) Publish(ctx context.Context, e *model.Execution) error {
	rec, err := FromModel(e)
	if err != nil {
		return err
	}
	if err := Put(ctx, h.db, rec); err != nil {
		return fmt.Errorf("storing execution %s: %w", e.ID, err)
	}
	return nil
}

func (h *History) Get(ctx context.Context, uuid string) (ExecutionRow, error) {
	return Get(ctx, h.db, uuid)
}

func (h *History) List(ctx context.Context, f Filter) ([]ExecutionRow, error) {
	return List(ctx, h.db, f)
}

func (h *History) Delete(ctx context.Context, uuid string) error {
	return Delete(ctx, h.db, uuid)
}

func (h *History) Close() error {
	return h.db.Close()
}
