package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template defines a runnable workspace environment.
type Template struct {
	Name      string            `yaml:"name"`
	Image     string            `yaml:"image"`
	Command   []string          `yaml:"command"`
	Env       map[string]string `yaml:"env"`
	GuestPort int               `yaml:"guest_port"`
	CPUShares int               `yaml:"cpu_shares"`
	MemoryMiB int               `yaml:"memory_mib"`
	DiskMiB   int               `yaml:"disk_mib"`
}

// LoadTemplate reads a workspace template from a YAML file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", path, err)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", path, err)
	}

	if t.Name == "" {
		base := filepath.Base(path)
		t.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if t.Image == "" {
		return nil, fmt.Errorf("template %s: image is required", path)
	}
	if t.GuestPort == 0 {
		t.GuestPort = 8080
	}

	return &t, nil
}

// LoadTemplates reads all *.yaml templates in a directory, keyed by name.
func LoadTemplates(dir string) (map[string]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading templates dir %s: %w", dir, err)
	}

	templates := make(map[string]*Template)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		t, err := LoadTemplate(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := templates[t.Name]; dup {
			return nil, fmt.Errorf("duplicate template name %q in %s", t.Name, dir)
		}
		templates[t.Name] = t
	}
	return templates, nil
}

// DefaultTemplates returns the built-in workspace environments, used
// when no templates directory is configured.
func DefaultTemplates() map[string]*Template {
	defaults := []*Template{
		{
			Name:      "code-server",
			Image:     "codercom/code-server:latest",
			Command:   []string{"--bind-addr", "0.0.0.0:8080", "--auth", "none"},
			GuestPort: 8080,
			CPUShares: 1024,
			MemoryMiB: 1024,
			DiskMiB:   4096,
		},
		{
			Name:      "python",
			Image:     "python:3.12-slim",
			Command:   []string{"python", "-m", "http.server", "8080"},
			GuestPort: 8080,
			CPUShares: 512,
			MemoryMiB: 512,
			DiskMiB:   2048,
		},
		{
			Name:      "node",
			Image:     "node:22-slim",
			Command:   []string{"npx", "--yes", "http-server", "-p", "8080"},
			GuestPort: 8080,
			CPUShares: 512,
			MemoryMiB: 512,
			DiskMiB:   2048,
		},
	}

	templates := make(map[string]*Template, len(defaults))
	for _, t := range defaults {
		templates[t.Name] = t
	}
	return templates
}
