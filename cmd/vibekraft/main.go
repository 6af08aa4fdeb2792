package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vibekraft",
	Short: "VibeKraft - browser workspace sandbox manager",
	Long: `VibeKraft manages the sandboxed execution environments that back
browser-based development workspaces.

It serves the sandbox lifecycle API (acquire, release, health) and
provides CLI access to the persisted workspace instances.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
