package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetsupervisor/fleetd/internal/control"
)

func triggerCmd() *cobra.Command {
	var schedule, prompt string
	cmd := &cobra.Command{
		Use:   "trigger <agent>",
		Short: "Trigger an agent run, optionally against a named schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, err := socketPath()
			if err != nil {
				return err
			}
			result, err := control.NewClient(sock).Trigger(context.Background(), args[0], schedule, prompt)
			if err != nil {
				return err
			}
			if result.Success {
				fmt.Printf("job %s completed\n", result.JobID)
				return nil
			}
			fmt.Printf("job %s failed: %s\n", result.JobID, result.Error)
			return errors.New(result.Error)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "named schedule to run under")
	cmd.Flags().StringVar(&prompt, "prompt", "", "override prompt for this run")
	return cmd
}
