package storage

import (
	"context"
	"errors"
	"time"
)

// InstanceStatus represents the lifecycle state of a workspace instance.
type InstanceStatus string

const (
	StatusStopped  InstanceStatus = "stopped"
	StatusStarting InstanceStatus = "starting"
	StatusRunning  InstanceStatus = "running"
	StatusStopping InstanceStatus = "stopping"
	StatusError    InstanceStatus = "error"
)

// ErrNotFound is returned when an instance does not exist.
var ErrNotFound = errors.New("instance not found")

// ResourceClaim is the advisory resource request for an instance.
// The lifecycle manager uses it for capacity accounting only.
type ResourceClaim struct {
	CPUShares int `json:"cpu_shares"`
	MemoryMiB int `json:"memory_mib"`
	DiskMiB   int `json:"disk_mib"`
}

// Instance is the persisted record of a user-requested workspace
// environment, independent of whether a sandbox is running for it.
type Instance struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	OwnerID     string         `json:"owner_id"`
	Template    string         `json:"template"`
	Status      InstanceStatus `json:"status"`
	Claim       ResourceClaim  `json:"resource_claim"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	StoppedAt   *time.Time     `json:"stopped_at,omitempty"`
}

// InstanceListOptions controls filtering and pagination for ListInstances.
type InstanceListOptions struct {
	Status  InstanceStatus
	OwnerID string
	Limit   int
	Offset  int
}

// StatusTimes carries the timestamps that accompany a status transition.
// Nil fields are left untouched.
type StatusTimes struct {
	StartedAt *time.Time
	StoppedAt *time.Time
}

// Store is the persistence interface for workspace instances.
type Store interface {
	// CreateInstance inserts a new instance. The ID field must be set by the caller.
	CreateInstance(ctx context.Context, inst *Instance) error

	// GetInstance returns an instance by ID or ID prefix.
	GetInstance(ctx context.Context, id string) (*Instance, error)

	// ListInstances returns instances ordered by updated_at descending.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]Instance, error)

	// SetInstanceStatus records a lifecycle transition and its timestamps.
	SetInstanceStatus(ctx context.Context, id string, status InstanceStatus, ts StatusTimes) error

	// DeleteInstance removes an instance.
	DeleteInstance(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
