package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/brigade"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete synced mutations past the retention window",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	client, err := brigade.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	n, err := client.Sweep()
	if err != nil {
		return err
	}

	fmt.Printf("Swept %d synced mutation(s)\n", n)
	return nil
}
