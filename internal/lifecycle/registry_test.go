package lifecycle

import (
	"testing"
	"time"

	"github.com/vibekraft/vibekraft/internal/storage"
)

func testHandle(sandboxID, instanceID string) *Handle {
	inst := &storage.Instance{ID: instanceID, WorkspaceID: "ws", OwnerID: "user"}
	return newHandle(sandboxID, inst, storage.ResourceClaim{MemoryMiB: 256}, time.Now())
}

func TestRegistryInsertDuplicateInstance(t *testing.T) {
	r := NewRegistry(10)

	if err := r.Insert(testHandle("sb-1", "i1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(testHandle("sb-2", "i1")); err != ErrDuplicateInstance {
		t.Fatalf("expected ErrDuplicateInstance, got %v", err)
	}
	if live := r.Live(); live != 1 {
		t.Errorf("live = %d, want 1", live)
	}
}

func TestRegistryInsertCapacity(t *testing.T) {
	r := NewRegistry(2)

	if err := r.Insert(testHandle("sb-1", "i1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(testHandle("sb-2", "i2")); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(testHandle("sb-3", "i3")); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// Freeing a slot makes room again.
	r.Remove("sb-1")
	if err := r.Insert(testHandle("sb-3", "i3")); err != nil {
		t.Fatalf("insert after remove: %v", err)
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry(10)

	h := testHandle("sb-1", "i1")
	if err := r.Insert(h); err != nil {
		t.Fatal(err)
	}

	r.Remove("sb-1")
	r.Remove("sb-1") // second remove is a no-op
	r.Remove("never-existed")

	if _, ok := r.Get("sb-1"); ok {
		t.Error("handle still present after remove")
	}
	if _, ok := r.Lookup("i1"); ok {
		t.Error("instance index still present after remove")
	}
}

func TestRegistryLookupBothDirections(t *testing.T) {
	r := NewRegistry(10)
	h := testHandle("sb-1", "i1")
	if err := r.Insert(h); err != nil {
		t.Fatal(err)
	}

	byInstance, ok := r.Lookup("i1")
	if !ok || byInstance.ID() != "sb-1" {
		t.Errorf("Lookup(i1) = %v, %v", byInstance, ok)
	}
	byID, ok := r.Get("sb-1")
	if !ok || byID.InstanceID() != "i1" {
		t.Errorf("Get(sb-1) = %v, %v", byID, ok)
	}
}

func TestRegistryListSnapshot(t *testing.T) {
	r := NewRegistry(10)
	h := testHandle("sb-1", "i1")
	if err := r.Insert(h); err != nil {
		t.Fatal(err)
	}

	infos := r.List()
	if len(infos) != 1 {
		t.Fatalf("listed %d handles, want 1", len(infos))
	}
	if infos[0].Status != StatusStarting {
		t.Errorf("status = %s, want starting", infos[0].Status)
	}

	// Mutations after List must not leak into the snapshot.
	h.markError()
	if infos[0].Status != StatusStarting {
		t.Error("snapshot changed after handle mutation")
	}

	// Iterating a snapshot while the registry mutates is safe.
	r.Remove("sb-1")
	for range infos {
	}
	if len(r.List()) != 0 {
		t.Error("expected empty registry after remove")
	}
}
