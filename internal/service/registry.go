package service

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/lizheng/media-analyst/internal/model"
)

// Registry is the table of executions known to a supervisor. Reads only
// take the read lock around the map and then load a published snapshot.
type Registry struct {
	mx      sync.RWMutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

func (r *Registry) Register(h *Handle) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if _, ok := r.handles[h.ID()]; ok {
		return fmt.Errorf("execution %s already registered", h.ID())
	}
	r.handles[h.ID()] = h
	return nil
}

func (r *Registry) Handle(id string) (*Handle, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Get returns a snapshot of the execution or model.ErrNotFound.
func (r *Registry) Get(id string) (*model.Execution, error) {
	h, ok := r.Handle(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, model.ErrNotFound)
	}
	return h.Snapshot(), nil
}

// List returns snapshots of all executions, oldest first.
func (r *Registry) List() []*model.Execution {
	r.mx.RLock()
	ret := make([]*model.Execution, 0, len(r.handles))
	for _, h := range r.handles {
		ret = append(ret, h.Snapshot())
	}
	r.mx.RUnlock()

	slices.SortFunc(ret, func(a, b *model.Execution) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ret
}

// Evict removes a terminal execution. Active ones are kept and
// model.ErrExecutionActive is returned.
func (r *Registry) Evict(id string) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, model.ErrNotFound)
	}
	if !h.Snapshot().Status.Terminal() {
		return fmt.Errorf("%s: %w", id, model.ErrExecutionActive)
	}
	delete(r.handles, id)
	return nil
}

// Active returns the handles of executions which are not terminal yet.
func (r *Registry) Active() []*Handle {
	r.mx.RLock()
	defer r.mx.RUnlock()
	var ret []*Handle
	for _, h := range r.handles {
		if !h.Snapshot().Status.Terminal() {
			ret = append(ret, h)
		}
	}
	return ret
}

func (r *Registry) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.handles)
}
