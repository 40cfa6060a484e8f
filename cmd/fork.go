package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetsupervisor/fleetd/internal/control"
)

func forkCmd() *cobra.Command {
	var prompt, schedule string
	cmd := &cobra.Command{
		Use:   "fork <jobId>",
		Short: "Create a new job continuing from jobId's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, err := socketPath()
			if err != nil {
				return err
			}
			result, err := control.NewClient(sock).Fork(context.Background(), args[0], prompt, schedule)
			if err != nil {
				return err
			}
			fmt.Printf("forked job %s from %s\n", result.JobID, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "override prompt for the forked run")
	cmd.Flags().StringVar(&schedule, "schedule", "", "override schedule for the forked run")
	return cmd
}
