package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vibekraft/vibekraft/internal/sandbox"
	"github.com/vibekraft/vibekraft/internal/storage"
	"github.com/vibekraft/vibekraft/internal/storage/sqlite"
)

// fakeRuntime is an in-memory sandbox.Runtime for tests.
type fakeRuntime struct {
	mu          sync.Mutex
	createErr   error
	probeErr    error
	destroyErr  error
	unhealthy   map[string]bool
	createCalls int
	destroyed   []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{unhealthy: make(map[string]bool)}
}

func (f *fakeRuntime) Create(ctx context.Context, cfg sandbox.Config) (*sandbox.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createCalls++
	id := fmt.Sprintf("ct-%d", f.createCalls)
	return &sandbox.Ref{
		ID:       id,
		Endpoint: fmt.Sprintf("http://127.0.0.1:%d", 49000+f.createCalls),
	}, nil
}

func (f *fakeRuntime) Probe(ctx context.Context, ref *sandbox.Ref) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return !f.unhealthy[ref.ID], nil
}

func (f *fakeRuntime) Destroy(ctx context.Context, ref *sandbox.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, ref.ID)
	return f.destroyErr
}

func (f *fakeRuntime) markUnhealthy(refID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unhealthy[refID] = true
}

func (f *fakeRuntime) destroyedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.destroyed)
}

func testTemplates() map[string]*sandbox.Template {
	return map[string]*sandbox.Template{
		"dev": {
			Name:      "dev",
			Image:     "python:3.12-slim",
			GuestPort: 8080,
			CPUShares: 512,
			MemoryMiB: 256,
			DiskMiB:   1024,
		},
	}
}

func newTestManager(t *testing.T, opts Options) (*Manager, *fakeRuntime, storage.Store) {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	rt := newFakeRuntime()
	mgr := NewManager(store, rt, testTemplates(), opts)
	return mgr, rt, store
}

func seedInstance(t *testing.T, store storage.Store, id string) {
	t.Helper()
	inst := &storage.Instance{
		ID:          id,
		WorkspaceID: "ws-" + id,
		OwnerID:     "user-1",
		Template:    "dev",
	}
	if err := store.CreateInstance(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
}

// backdateActivity rewinds a live handle's activity clock so idle
// reclamation can be exercised without sleeping.
func backdateActivity(t *testing.T, mgr *Manager, instanceID string, to time.Time) {
	t.Helper()
	h, ok := mgr.registry.Lookup(instanceID)
	if !ok {
		t.Fatalf("no live handle for instance %s", instanceID)
	}
	h.mu.Lock()
	h.lastActivity = to
	h.mu.Unlock()
}

func instanceStatus(t *testing.T, store storage.Store, id string) storage.InstanceStatus {
	t.Helper()
	inst, err := store.GetInstance(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return inst.Status
}
