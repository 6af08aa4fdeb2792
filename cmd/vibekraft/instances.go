package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibekraft/vibekraft/internal/config"
	"github.com/vibekraft/vibekraft/internal/storage"
	"github.com/vibekraft/vibekraft/internal/storage/sqlite"
)

var (
	statusFilter string
	ownerFilter  string
	limitFlag    int
	forceFlag    bool
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"instance", "i"},
	Short:   "Manage workspace instances",
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspace instances",
	RunE:  runInstancesList,
}

var instancesShowCmd = &cobra.Command{
	Use:   "show <instance-id>",
	Short: "Show instance details",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstancesShow,
}

var instancesDeleteCmd = &cobra.Command{
	Use:   "delete <instance-id>",
	Short: "Delete an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstancesDelete,
}

func init() {
	rootCmd.AddCommand(instancesCmd)
	instancesCmd.AddCommand(instancesListCmd, instancesShowCmd, instancesDeleteCmd)

	instancesListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (stopped, starting, running, stopping, error)")
	instancesListCmd.Flags().StringVar(&ownerFilter, "owner", "", "Filter by owner")
	instancesListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max instances to show")

	instancesDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func runInstancesList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts := storage.InstanceListOptions{
		Status:  storage.InstanceStatus(statusFilter),
		OwnerID: ownerFilter,
		Limit:   limitFlag,
	}

	instances, err := store.ListInstances(context.Background(), opts)
	if err != nil {
		return err
	}

	if len(instances) == 0 {
		fmt.Println("No instances found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-10s %-16s %-16s %-16s %s\n", "ID", "STATUS", "TEMPLATE", "WORKSPACE", "OWNER", "UPDATED")
	fmt.Println(strings.Repeat("─", 95))

	for _, inst := range instances {
		fmt.Printf("%-10s %-10s %-16s %-16s %-16s %s\n",
			short(inst.ID, 8),
			inst.Status,
			short(inst.Template, 14),
			short(inst.WorkspaceID, 14),
			short(inst.OwnerID, 14),
			inst.UpdatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return nil
}

func runInstancesShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	inst, err := store.GetInstance(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:        %s\n", inst.ID)
	fmt.Printf("Workspace: %s\n", inst.WorkspaceID)
	fmt.Printf("Owner:     %s\n", inst.OwnerID)
	fmt.Printf("Template:  %s\n", inst.Template)
	fmt.Printf("Status:    %s\n", inst.Status)
	fmt.Printf("Claim:     %d cpu shares, %d MiB memory, %d MiB disk\n",
		inst.Claim.CPUShares, inst.Claim.MemoryMiB, inst.Claim.DiskMiB)
	fmt.Printf("Created:   %s\n", inst.CreatedAt.Local().Format(time.RFC1123))
	if inst.StartedAt != nil {
		fmt.Printf("Started:   %s\n", inst.StartedAt.Local().Format(time.RFC1123))
	}
	if inst.StoppedAt != nil {
		fmt.Printf("Stopped:   %s\n", inst.StoppedAt.Local().Format(time.RFC1123))
	}
	return nil
}

func runInstancesDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	inst, err := store.GetInstance(context.Background(), args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete instance %s (%s)? [y/N] ", short(inst.ID, 8), inst.Template)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := store.DeleteInstance(context.Background(), inst.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted instance %s\n", short(inst.ID, 8))
	return nil
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
