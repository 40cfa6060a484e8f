package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetsupervisor/fleetd/internal/control"
)

func cancelCmd() *cobra.Command {
	var timeoutMS int
	cmd := &cobra.Command{
		Use:   "cancel <jobId>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, err := socketPath()
			if err != nil {
				return err
			}
			result, err := control.NewClient(sock).Cancel(context.Background(), args[0], time.Duration(timeoutMS)*time.Millisecond)
			if err != nil {
				return err
			}
			fmt.Printf("job %s: %s\n", result.JobID, result.TerminationType)
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutMS, "timeout-ms", 10000, "grace period before forcing termination")
	return cmd
}
