package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lizheng/media-analyst/internal/model"
)

// Handle is the supervisor side of one execution. Observers only ever see
// the immutable snapshots it publishes.
type Handle struct {
	id string

	mx       sync.Mutex
	rec      *model.Execution // working copy, guarded by mx
	proc     *os.Process
	stopping model.Reason // set once a stop signal reached a live worker
	changed  chan struct{}

	snap   atomic.Pointer[model.Execution]
	exited chan struct{} // closed when the worker process is gone
	done   chan struct{} // closed after the terminal snapshot is published
}

func newHandle(rec *model.Execution) *Handle {
	h := &Handle{
		id:      rec.ID,
		rec:     rec,
		changed: make(chan struct{}),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	h.snap.Store(rec.Snapshot())
	return h
}

func (h *Handle) ID() string { return h.id }

// Snapshot returns the last published state. It never blocks.
func (h *Handle) Snapshot() *model.Execution {
	return h.snap.Load()
}

// Done is closed once the execution reached a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Changed returns a channel closed on the next published change.
func (h *Handle) Changed() <-chan struct{} {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.changed
}

// Wait blocks until the execution is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*model.Execution, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// update applies fn to the working copy and publishes the result. All
// mutations of an execution go through here.
func (h *Handle) update(ctx context.Context, fn func(*model.Execution) error) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.updateLocked(ctx, fn)
}

func (h *Handle) updateLocked(ctx context.Context, fn func(*model.Execution) error) error {
	if err := fn(h.rec); err != nil {
		return err
	}
	if err := h.rec.Check(); err != nil {
		slog.ErrorContext(ctx, "execution invariant violated", "execution_id", h.id, "error", err)
	}
	h.publishLocked()
	return nil
}

func (h *Handle) publishLocked() {
	h.snap.Store(h.rec.Snapshot())
	close(h.changed)
	h.changed = make(chan struct{})
}

func (h *Handle) appendLine(stream model.Stream, text string) bool {
	h.mx.Lock()
	defer h.mx.Unlock()
	if _, ok := h.rec.AppendLine(stream, text, time.Now().UTC()); !ok {
		return false
	}
	h.publishLocked()
	return true
}

func (h *Handle) stopReason() model.Reason {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.stopping
}
