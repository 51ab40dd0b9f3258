package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/brigade"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect failed mutations",
	Long: `List the mutations stuck in FAILED state with their last error, so a
stuck record can be diagnosed instead of silently retrying forever.`,
	RunE: runQueue,
}

func runQueue(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	client, err := brigade.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	failed, err := client.FailedMutations()
	if err != nil {
		return err
	}

	if len(failed) == 0 {
		fmt.Println("No failed mutations.")
		return nil
	}

	for _, rec := range failed {
		fmt.Printf("#%d %s %s %s\n", rec.ID, rec.EntityType, rec.Action, rec.RecordID)
		fmt.Printf("    enqueued: %s  retries: %d\n", rec.EnqueuedAt.Local().Format("2006-01-02 15:04:05"), rec.RetryCount)
		if rec.LastError != "" {
			fmt.Printf("    error: %s\n", rec.LastError)
		}
	}
	fmt.Printf("%d failed mutation(s)\n", len(failed))

	return nil
}
