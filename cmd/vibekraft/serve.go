package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vibekraft/vibekraft/internal/config"
	"github.com/vibekraft/vibekraft/internal/lifecycle"
	"github.com/vibekraft/vibekraft/internal/sandbox"
	"github.com/vibekraft/vibekraft/internal/server"
	"github.com/vibekraft/vibekraft/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the VibeKraft sandbox API server",
	Long: `Start the HTTP server that manages workspace sandboxes.

API endpoints are under /api; lifecycle events stream over
/api/events/ws.

Examples:
  vibekraft serve
  vibekraft serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Open storage
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	// Workspace templates
	templates := sandbox.DefaultTemplates()
	if cfg.Sandbox.TemplatesDir != "" {
		templates, err = sandbox.LoadTemplates(cfg.Sandbox.TemplatesDir)
		if err != nil {
			return fmt.Errorf("loading templates: %w", err)
		}
	}
	log.Printf("Templates: %d workspace environments loaded", len(templates))

	// Sandbox runtime
	policy := sandbox.DefaultPolicy()
	if len(cfg.Runtime.AllowedImages) > 0 {
		policy.Images = cfg.Runtime.AllowedImages
	}
	if cfg.Runtime.MaxMemoryMiB > 0 {
		policy.MaxMemoryMiB = cfg.Runtime.MaxMemoryMiB
	}
	policy.Network = cfg.Runtime.Network
	runtime := sandbox.NewDockerRuntime(policy)

	// Lifecycle manager and health monitor
	manager := lifecycle.NewManager(store, runtime, templates, lifecycle.Options{
		Capacity:    cfg.Sandbox.Capacity,
		IdleTimeout: cfg.Sandbox.IdleTimeout,
		CallTimeout: cfg.Sandbox.CallTimeout,
	})
	monitor := lifecycle.NewMonitor(manager, cfg.Sandbox.HealthInterval)
	monitor.Start()

	// Determine port
	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(cfg, store, manager, templates)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		monitor.Stop()
		srv.Shutdown(context.Background())
	}()

	return srv.Start(port)
}
