package sandbox

// Policy defines host-side limits for workspace sandboxes.
type Policy struct {
	Images       []string // Allowed workspace images
	MaxMemoryMiB int      // Hard cap on per-sandbox memory; claims above it are clamped
	Network      bool     // Whether sandboxes may reach the network
}

// DefaultPolicy returns safe defaults for workspace sandboxes.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemoryMiB: 2048,
		Network:      true,
		Images: []string{
			"codercom/code-server:latest",
			"python:3.12-slim",
			"node:22-slim",
			"golang:1.23-alpine",
		},
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	for _, allowed := range p.Images {
		if allowed == image {
			return true
		}
	}
	return false
}

// ClampMemory caps a requested memory claim to the policy limit.
func (p Policy) ClampMemory(mib int) int {
	if p.MaxMemoryMiB > 0 && mib > p.MaxMemoryMiB {
		return p.MaxMemoryMiB
	}
	return mib
}
