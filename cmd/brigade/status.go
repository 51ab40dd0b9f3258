package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/brigade"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depths and last sync time",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	client, err := brigade.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return err
	}

	fmt.Printf("Pending changes:  %d\n", status.PendingChanges)
	fmt.Printf("Failed changes:   %d\n", status.FailedChanges)
	fmt.Printf("Needs attention:  %d\n", status.NeedsAttention)
	if status.LastSynced != nil {
		fmt.Printf("Last synced:      %s\n", status.LastSynced.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Last synced:      never")
	}

	return nil
}
