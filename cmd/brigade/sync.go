package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/brigade"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize with the central service",
	Long: `Synchronize the local database with the central service.

Example:
  brigade sync           # Full cycle (push + pull)
  brigade sync --push    # Push local changes only
  brigade sync --pull    # Pull remote changes only`,
	RunE: runSync,
}

var (
	syncPush bool
	syncPull bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncPush, "push", false, "Push local changes only")
	syncCmd.Flags().BoolVar(&syncPull, "pull", false, "Pull remote changes only")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if cfg.ServerURL == "" {
		return fmt.Errorf("BRIGADE_SERVER_URL not configured")
	}

	client, err := brigade.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := time.Now()

	if syncPush && !syncPull {
		fmt.Println("Pushing local changes...")
		report, err := client.SyncPush(ctx)
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		fmt.Printf("Push complete: %d synced, %d skipped, %d failed (took %s)\n",
			report.Synced, report.Skipped, report.Failed, time.Since(start).Round(time.Millisecond))
		return nil
	}

	if syncPull && !syncPush {
		fmt.Println("Pulling remote changes...")
		report, err := client.SyncPull(ctx)
		if err != nil {
			return fmt.Errorf("pull: %w", err)
		}
		fmt.Printf("Pull complete: %d applied, %d preserved across %d collections (took %s)\n",
			report.Applied, report.Preserved, report.Collections, time.Since(start).Round(time.Millisecond))
		for _, msg := range report.PartialErrs {
			fmt.Printf("  warning: %s\n", msg)
		}
		return nil
	}

	fmt.Println("Synchronizing...")
	if err := client.Sync(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	fmt.Printf("Sync complete (took %s)\n", time.Since(start).Round(time.Millisecond))

	if status, err := client.Status(); err == nil {
		fmt.Printf("Pending changes: %d\n", status.PendingChanges)
		fmt.Printf("Failed changes: %d\n", status.FailedChanges)
	}

	return nil
}
