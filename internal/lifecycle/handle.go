package lifecycle

import (
	"sync"
	"time"

	"github.com/vibekraft/vibekraft/internal/sandbox"
	"github.com/vibekraft/vibekraft/internal/storage"
)

// Status is the in-memory lifecycle state of a sandbox handle.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Handle is the manager's live record for one running sandbox. The
// runtime ref is exclusively owned by the handle and released exactly
// once during teardown.
type Handle struct {
	id          string
	instanceID  string
	workspaceID string
	ownerID     string
	claim       storage.ResourceClaim

	mu           sync.Mutex
	status       Status
	ref          *sandbox.Ref
	endpoint     string
	lastActivity time.Time
	startedAt    time.Time // when the handle entered Starting; eviction tie-break
}

func newHandle(id string, inst *storage.Instance, claim storage.ResourceClaim, now time.Time) *Handle {
	return &Handle{
		id:           id,
		instanceID:   inst.ID,
		workspaceID:  inst.WorkspaceID,
		ownerID:      inst.OwnerID,
		claim:        claim,
		status:       StatusStarting,
		lastActivity: now,
		startedAt:    now,
	}
}

// ID returns the sandbox identifier. Unique per creation, never reused.
func (h *Handle) ID() string { return h.id }

// InstanceID returns the owning persisted instance.
func (h *Handle) InstanceID() string { return h.instanceID }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Ref returns the runtime reference, nil until the sandbox is created.
func (h *Handle) Ref() *sandbox.Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ref
}

// Touch records client activity, deferring idle reclamation.
func (h *Handle) Touch(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity = now
}

// LastActivity returns the time of the last successful interaction.
func (h *Handle) LastActivity() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActivity
}

func (h *Handle) markRunning(ref *sandbox.Ref, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusRunning
	h.ref = ref
	h.endpoint = ref.Endpoint
	h.lastActivity = now
}

func (h *Handle) markStopping() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusStopping
	h.endpoint = ""
}

func (h *Handle) markError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusError
	h.endpoint = ""
}

// HandleInfo is an immutable snapshot of a Handle, safe to hand to
// callers while the handle keeps changing.
type HandleInfo struct {
	SandboxID      string                `json:"sandbox_id"`
	InstanceID     string                `json:"instance_id"`
	WorkspaceID    string                `json:"workspace_id"`
	OwnerID        string                `json:"owner_id"`
	Status         Status                `json:"status"`
	Endpoint       string                `json:"connection_endpoint,omitempty"`
	Claim          storage.ResourceClaim `json:"resource_claim"`
	LastActivityAt time.Time             `json:"last_activity_at"`
	StartedAt      time.Time             `json:"started_at"`
}

// Snapshot copies the handle's current state.
func (h *Handle) Snapshot() HandleInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HandleInfo{
		SandboxID:      h.id,
		InstanceID:     h.instanceID,
		WorkspaceID:    h.workspaceID,
		OwnerID:        h.ownerID,
		Status:         h.status,
		Endpoint:       h.endpoint,
		Claim:          h.claim,
		LastActivityAt: h.lastActivity,
		StartedAt:      h.startedAt,
	}
}
