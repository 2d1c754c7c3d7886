package stream

import (
	"sort"
	"sync"
)

// Handle is a running task as seen by the registry.
type Handle interface {
	// Abort stops the task. It must not block.
	Abort()
}

// Registry maps live task IDs to their handles. An ID is present exactly
// while its task is running: natural completion removes it, cancellation
// removes and aborts it. Every method is a single critical section, so a
// completion and a cancellation racing on the same ID resolve to exactly one
// winner.
type Registry struct {
	mu      sync.Mutex
	handles map[string]Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]Handle),
	}
}

// Register inserts h under id. The caller guarantees id is fresh.
func (r *Registry) Register(id string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = h
}

// Remove deletes id and returns its handle. The second return value is false
// when id was not present, e.g. because the task was already cancelled.
func (r *Registry) Remove(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	return h, ok
}

// AbortAndRemove removes id and aborts its task. Returns false if no running
// task had that id; repeated calls are safe no-ops.
func (r *Registry) AbortAndRemove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return false
	}
	delete(r.handles, id)
	h.Abort()
	return true
}

// AbortAll aborts every registered task and returns how many there were.
func (r *Registry) AbortAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.handles)
	for id, h := range r.handles {
		delete(r.handles, id)
		h.Abort()
	}
	return n
}

// Has reports whether id belongs to a running task.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[id]
	return ok
}

// Len returns the number of running tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// IDs returns the running task IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
