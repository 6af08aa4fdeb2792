package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// DockerRuntime runs workspace sandboxes as Docker containers.
type DockerRuntime struct {
	Policy Policy
}

// NewDockerRuntime creates a runtime with the given policy.
func NewDockerRuntime(policy Policy) *DockerRuntime {
	return &DockerRuntime{Policy: policy}
}

func (d *DockerRuntime) Create(ctx context.Context, cfg Config) (*Ref, error) {
	if !d.Policy.IsImageAllowed(cfg.Image) {
		return nil, fmt.Errorf("image %q not in allowlist", cfg.Image)
	}

	guestPort := cfg.GuestPort
	if guestPort == 0 {
		guestPort = 8080
	}

	args := []string{
		"run", "-d",
		"--label", "vibekraft.instance=" + cfg.InstanceID,
	}

	if mem := d.Policy.ClampMemory(cfg.MemoryMiB); mem > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", mem))
	}
	if cfg.CPUShares > 0 {
		args = append(args, "--cpu-shares", fmt.Sprintf("%d", cfg.CPUShares))
	}

	if d.Policy.Network {
		// Publish on an ephemeral host port; resolved below.
		args = append(args, "-p", fmt.Sprintf("127.0.0.1:0:%d", guestPort))
	} else {
		args = append(args, "--network=none")
	}

	// Sorted for deterministic command lines.
	envKeys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		args = append(args, "-e", k+"="+cfg.Env[k])
	}

	args = append(args, cfg.Image)
	args = append(args, cfg.Command...)

	out, err := docker(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}
	containerID := strings.TrimSpace(out)

	ref := &Ref{ID: containerID}

	if err := d.waitReady(ctx, containerID); err != nil {
		d.cleanup(ctx, ref)
		return nil, err
	}

	if d.Policy.Network {
		addr, err := docker(ctx, "port", containerID, fmt.Sprintf("%d/tcp", guestPort))
		if err != nil {
			d.cleanup(ctx, ref)
			return nil, fmt.Errorf("resolving published port: %w", err)
		}
		// docker port may print one line per address family; take the first.
		addr = strings.TrimSpace(addr)
		if i := strings.IndexByte(addr, '\n'); i >= 0 {
			addr = addr[:i]
		}
		ref.Endpoint = "http://" + addr
	}

	return ref, nil
}

// cleanup removes a half-started container. Runs on its own bounded
// deadline so an already-expired caller context can't skip it.
func (d *DockerRuntime) cleanup(ctx context.Context, ref *Ref) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	d.Destroy(cctx, ref)
}

// waitReady polls the container state until it is running or ctx expires.
func (d *DockerRuntime) waitReady(ctx context.Context, containerID string) error {
	for {
		running, err := d.inspectRunning(ctx, containerID)
		if err == nil && running {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("container %s never became ready: %w", containerID, err)
			}
			return fmt.Errorf("container %s never became ready: %w", containerID, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (d *DockerRuntime) Probe(ctx context.Context, ref *Ref) (bool, error) {
	return d.inspectRunning(ctx, ref.ID)
}

func (d *DockerRuntime) Destroy(ctx context.Context, ref *Ref) error {
	if _, err := docker(ctx, "rm", "-f", ref.ID); err != nil {
		return fmt.Errorf("removing container %s: %w", ref.ID, err)
	}
	return nil
}

func (d *DockerRuntime) inspectRunning(ctx context.Context, containerID string) (bool, error) {
	out, err := docker(ctx, "inspect", "-f", "{{.State.Running}}", containerID)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

// docker runs the docker CLI and returns its stdout.
func docker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("docker %s: %w", args[0], err)
		}
		return "", fmt.Errorf("docker %s: %s: %w", args[0], msg, err)
	}
	return stdout.String(), nil
}
