package lifecycle

import "sync"

// Registry is the concurrency-safe bidirectional index between
// instances and their live sandbox handles. Insert enforces both the
// one-live-handle-per-instance invariant and the capacity ceiling
// atomically, so the live count can never exceed the ceiling even under
// concurrent acquires for different instances.
type Registry struct {
	mu         sync.RWMutex
	capacity   int
	byID       map[string]*Handle
	byInstance map[string]*Handle
}

// NewRegistry creates a registry with the given capacity ceiling.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		capacity:   capacity,
		byID:       make(map[string]*Handle),
		byInstance: make(map[string]*Handle),
	}
}

// Lookup returns the live handle for an instance, if any.
func (r *Registry) Lookup(instanceID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byInstance[instanceID]
	return h, ok
}

// Get returns a handle by sandbox ID.
func (r *Registry) Get(sandboxID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[sandboxID]
	return h, ok
}

// Insert registers a new live handle. It fails with ErrDuplicateInstance
// if the instance already has a live handle and with ErrCapacityExceeded
// if the ceiling is reached; both checks happen under one lock.
func (r *Registry) Insert(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byInstance[h.instanceID]; exists {
		return ErrDuplicateInstance
	}
	if r.capacity > 0 && len(r.byID) >= r.capacity {
		return ErrCapacityExceeded
	}

	r.byID[h.id] = h
	r.byInstance[h.instanceID] = h
	return nil
}

// Remove drops a handle by sandbox ID. Idempotent: removing an absent
// handle is a no-op.
func (r *Registry) Remove(sandboxID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byID[sandboxID]
	if !ok {
		return
	}
	delete(r.byID, sandboxID)
	delete(r.byInstance, h.instanceID)
}

// Live returns the number of handles currently holding a capacity slot.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// List returns snapshots of all live handles. The snapshots are copies;
// mutations after the call are not reflected.
func (r *Registry) List() []HandleInfo {
	handles := r.handles()
	infos := make([]HandleInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Snapshot())
	}
	return infos
}

// handles copies the live handle pointers so callers can iterate
// without holding the registry lock.
func (r *Registry) handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]*Handle, 0, len(r.byID))
	for _, h := range r.byID {
		handles = append(handles, h)
	}
	return handles
}
