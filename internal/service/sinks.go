package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/lizheng/media-analyst/internal/model"
)

// WriteSink writes every terminal execution as a line of JSON.
type WriteSink struct {
	mx sync.Mutex
	w  io.Writer
}

func NewWriteSink(w io.Writer) *WriteSink {
	return &WriteSink{w: w}
}

func (s *WriteSink) Publish(_ context.Context, e *model.Execution) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding execution %s: %w", e.ID, err)
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	w := s.w
	if w == nil {
		w = os.Stdout
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// DirSink stores every terminal execution as execution-<id>.json in a directory.
type DirSink struct {
	mx   sync.Mutex
	root *os.Root
}

func NewDirSink(path string) (*DirSink, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &DirSink{root: root}, nil
}

func (s *DirSink) Publish(ctx context.Context, e *model.Execution) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.root == nil {
		return errors.New("sink already closed")
	}

	path := "execution-" + e.ID + ".json"

	f, err := s.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating execution summary: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		_ = f.Close()
		return fmt.Errorf("saving execution summary: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing execution summary: %w", err)
	}
	slog.DebugContext(ctx, "execution summary saved", "path", path)
	return nil
}

func (s *DirSink) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.root == nil {
		return errors.New("sink already closed")
	}
	err := s.root.Close()
	s.root = nil
	return err
}

func publish(ctx context.Context, sinks []model.Sink, e *model.Execution) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeSinks(ctx context.Context, sinks []model.Sink) {
	for _, s := range sinks {
		if closer, ok := s.(model.SinkCloser); ok {
			if err := closer.Close(); err != nil {
				slog.ErrorContext(ctx, "closing sink have failed", "error", err)
			}
		}
	}
}
