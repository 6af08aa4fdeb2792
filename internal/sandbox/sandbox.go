package sandbox

import "context"

// Config describes the environment a runtime should start for one
// workspace instance.
type Config struct {
	InstanceID string
	Image      string
	Command    []string
	Env        map[string]string
	GuestPort  int // port the workspace serves on inside the sandbox
	CPUShares  int
	MemoryMiB  int
}

// Ref identifies a running sandbox inside the runtime.
type Ref struct {
	ID       string // runtime-native identifier (e.g. container ID)
	Endpoint string // externally reachable address (e.g. "http://127.0.0.1:49321")
}

// Runtime starts, probes, and tears down isolated workspace environments.
type Runtime interface {
	// Create starts a sandbox and blocks until it is ready to serve.
	Create(ctx context.Context, cfg Config) (*Ref, error)

	// Probe reports whether the sandbox is still alive.
	Probe(ctx context.Context, ref *Ref) (bool, error)

	// Destroy tears the sandbox down. Best effort: callers must not
	// assume the sandbox survives a failed Destroy.
	Destroy(ctx context.Context, ref *Ref) error
}
