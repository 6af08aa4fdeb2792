package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibekraft/vibekraft/internal/sandbox"
	"github.com/vibekraft/vibekraft/internal/storage"
)

// Options are the numeric knobs for the lifecycle manager, supplied at
// process start.
type Options struct {
	Capacity    int           // max concurrently live sandboxes
	IdleTimeout time.Duration // inactivity before a sandbox is reclaimable
	CallTimeout time.Duration // bound on every runtime create/probe/destroy call
}

func (o *Options) applyDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = 20
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Minute
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
}

// Manager is the single entry point for acquiring and releasing
// workspace sandboxes. It owns the registry (the only shared mutable
// state) and is the only component that mutates it.
type Manager struct {
	store     storage.Store
	runtime   sandbox.Runtime
	templates map[string]*sandbox.Template
	opts      Options

	registry *Registry
	events   *broadcaster

	// Operations on the same instance are serialized; operations on
	// different instances proceed in parallel.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates a lifecycle manager. All collaborators are
// injected; the manager holds no global state.
func NewManager(store storage.Store, runtime sandbox.Runtime, templates map[string]*sandbox.Template, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		store:     store,
		runtime:   runtime,
		templates: templates,
		opts:      opts,
		registry:  NewRegistry(opts.Capacity),
		events:    newBroadcaster(),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Template reports whether a named workspace template is known.
func (m *Manager) Template(name string) (*sandbox.Template, bool) {
	t, ok := m.templates[name]
	return t, ok
}

// Handles returns snapshots of all live sandboxes.
func (m *Manager) Handles() []HandleInfo {
	return m.registry.List()
}

// LookupInstance returns the live handle snapshot for an instance.
func (m *Manager) LookupInstance(instanceID string) (HandleInfo, bool) {
	h, ok := m.registry.Lookup(instanceID)
	if !ok {
		return HandleInfo{}, false
	}
	return h.Snapshot(), true
}

// Subscribe returns a channel of lifecycle events and a cancel func.
// The channel is closed on cancel or manager shutdown.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

// Acquire returns a running sandbox for the instance, reusing the live
// one when present or creating a new one otherwise. The caller's
// ownerID is recorded on the handle when the persisted instance does
// not already carry one.
func (m *Manager) Acquire(ctx context.Context, instanceID, ownerID string) (HandleInfo, error) {
	lk := m.lockFor(instanceID)
	lk.Lock()
	defer lk.Unlock()

	// Reuse path: a running sandbox just gets its activity refreshed.
	if h, ok := m.registry.Lookup(instanceID); ok {
		if h.Status() == StatusRunning {
			h.Touch(time.Now())
			info := h.Snapshot()
			m.events.publish(Event{
				Type:       EventReused,
				SandboxID:  info.SandboxID,
				InstanceID: instanceID,
				Endpoint:   info.Endpoint,
				At:         time.Now(),
			})
			return info, nil
		}
		return HandleInfo{}, ErrDuplicateInstance
	}

	// At the ceiling, reclaim idle sandboxes synchronously before
	// giving up. Insert below re-checks capacity atomically.
	if m.registry.Live() >= m.opts.Capacity {
		m.reclaimIdle(ctx)
		if m.registry.Live() >= m.opts.Capacity {
			return HandleInfo{}, ErrCapacityExceeded
		}
	}

	inst, err := m.store.GetInstance(ctx, instanceID)
	if err != nil {
		return HandleInfo{}, err
	}
	if inst.OwnerID == "" {
		inst.OwnerID = ownerID
	}

	tpl, ok := m.templates[inst.Template]
	if !ok {
		return HandleInfo{}, &InitError{InstanceID: instanceID, Err: fmt.Errorf("unknown workspace template %q", inst.Template)}
	}

	now := time.Now()
	h := newHandle(uuid.New().String(), inst, claimFor(inst, tpl), now)

	// Reserving the registry slot before the runtime call keeps the
	// ceiling invariant exact across concurrent acquires.
	if err := m.registry.Insert(h); err != nil {
		return HandleInfo{}, err
	}

	m.persistStatus(instanceID, storage.StatusStarting, storage.StatusTimes{})

	cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	ref, err := m.runtime.Create(cctx, sandbox.Config{
		InstanceID: inst.ID,
		Image:      tpl.Image,
		Command:    tpl.Command,
		Env:        tpl.Env,
		GuestPort:  tpl.GuestPort,
		CPUShares:  h.claim.CPUShares,
		MemoryMiB:  h.claim.MemoryMiB,
	})
	cancel()
	if err != nil {
		// No half-created state survives a failed start.
		h.markError()
		m.registry.Remove(h.id)
		m.persistStatus(instanceID, storage.StatusError, storage.StatusTimes{})
		m.events.publish(Event{
			Type:       EventFailed,
			SandboxID:  h.id,
			InstanceID: instanceID,
			At:         time.Now(),
		})
		return HandleInfo{}, &InitError{InstanceID: instanceID, Err: err}
	}

	started := time.Now()
	h.markRunning(ref, started)
	m.persistStatus(instanceID, storage.StatusRunning, storage.StatusTimes{StartedAt: &started})

	info := h.Snapshot()
	m.events.publish(Event{
		Type:       EventStarted,
		SandboxID:  info.SandboxID,
		InstanceID: instanceID,
		Endpoint:   info.Endpoint,
		At:         started,
	})
	return info, nil
}

// Release tears a sandbox down and frees its capacity slot. Idempotent:
// releasing an absent sandbox is a no-op. Teardown failures are logged
// but never block registry removal.
func (m *Manager) Release(ctx context.Context, sandboxID string, reason Reason) error {
	h, ok := m.registry.Get(sandboxID)
	if !ok {
		return nil
	}

	lk := m.lockFor(h.InstanceID())
	lk.Lock()
	defer lk.Unlock()

	// Re-check: another release may have won while we waited.
	if _, ok := m.registry.Get(sandboxID); !ok {
		return nil
	}

	m.releaseLocked(h, reason)
	return nil
}

// releaseLocked performs teardown. Callers must hold the instance lock.
func (m *Manager) releaseLocked(h *Handle, reason Reason) {
	h.markStopping()

	if ref := h.Ref(); ref != nil {
		// Teardown runs on its own deadline so a departed client
		// can't abort cleanup.
		cctx, cancel := context.WithTimeout(context.Background(), m.opts.CallTimeout)
		if err := m.runtime.Destroy(cctx, ref); err != nil {
			log.Printf("sandbox %s (instance %s): teardown failed, removing anyway (%s): %v",
				h.id, h.instanceID, reason, err)
		}
		cancel()
	}

	m.registry.Remove(h.id)

	stopped := time.Now()
	m.persistStatus(h.instanceID, storage.StatusStopped, storage.StatusTimes{StoppedAt: &stopped})

	m.events.publish(Event{
		Type:       EventStopped,
		SandboxID:  h.id,
		InstanceID: h.instanceID,
		Reason:     reason,
		At:         stopped,
	})
}

// Probe checks sandbox liveness against the runtime with a bounded
// timeout. An absent or not-yet-running sandbox reports unhealthy
// without error.
func (m *Manager) Probe(ctx context.Context, sandboxID string) (bool, error) {
	h, ok := m.registry.Get(sandboxID)
	if !ok {
		return false, nil
	}
	ref := h.Ref()
	if ref == nil {
		return false, nil
	}

	cctx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
	defer cancel()
	return m.runtime.Probe(cctx, ref)
}

// Shutdown releases every live sandbox and closes the event stream.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, info := range m.registry.List() {
		m.Release(ctx, info.SandboxID, ReasonShutdown)
	}
	m.events.close()
}

// reclaimIdle evicts idle sandboxes, least recently active first (ties
// broken by earliest start), until a capacity slot is free or no idle
// candidates remain.
func (m *Manager) reclaimIdle(ctx context.Context) {
	now := time.Now()

	var victims []*Handle
	for _, h := range m.registry.handles() {
		if h.Status() != StatusRunning {
			continue
		}
		if now.Sub(h.LastActivity()) >= m.opts.IdleTimeout {
			victims = append(victims, h)
		}
	}

	sort.Slice(victims, func(i, j int) bool {
		li, lj := victims[i].LastActivity(), victims[j].LastActivity()
		if !li.Equal(lj) {
			return li.Before(lj)
		}
		return victims[i].startedAt.Before(victims[j].startedAt)
	})

	for _, h := range victims {
		if m.registry.Live() < m.opts.Capacity {
			return
		}
		// TryLock: if the instance is busy, someone is actively using
		// it and it is no longer an eviction candidate. Taking the
		// lock outright could deadlock against an acquire that is
		// itself reclaiming.
		lk := m.lockFor(h.InstanceID())
		if !lk.TryLock() {
			continue
		}
		if _, present := m.registry.Get(h.id); present {
			m.releaseLocked(h, ReasonIdleTimeout)
		}
		lk.Unlock()
	}
}

// persistStatus mirrors a transition into the instance record. The
// in-memory registry is the source of truth for capacity, so a failed
// write is retried once and then logged; it never blocks the lifecycle.
// Writes run on their own context so they survive a departed caller.
func (m *Manager) persistStatus(instanceID string, status storage.InstanceStatus, ts storage.StatusTimes) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CallTimeout)
	defer cancel()

	if err := m.store.SetInstanceStatus(ctx, instanceID, status, ts); err == nil {
		return
	}
	if err := m.store.SetInstanceStatus(ctx, instanceID, status, ts); err != nil {
		log.Printf("instance %s: persisting status %s failed after retry: %v", instanceID, status, err)
	}
}

// lockFor returns the serialization mutex for an instance, creating it
// on first use. Locks are retained for the process lifetime; the set of
// instances a process touches is small and bounded by the database.
func (m *Manager) lockFor(instanceID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lk, ok := m.locks[instanceID]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[instanceID] = lk
	}
	return lk
}

// claimFor resolves the effective resource claim: instance overrides
// win, template defaults fill the gaps.
func claimFor(inst *storage.Instance, tpl *sandbox.Template) storage.ResourceClaim {
	claim := inst.Claim
	if claim.CPUShares == 0 {
		claim.CPUShares = tpl.CPUShares
	}
	if claim.MemoryMiB == 0 {
		claim.MemoryMiB = tpl.MemoryMiB
	}
	if claim.DiskMiB == 0 {
		claim.DiskMiB = tpl.DiskMiB
	}
	return claim
}
