package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetsupervisor/fleetd/internal/control"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the Fleet Supervisor's lifecycle state and per-agent summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, err := socketPath()
			if err != nil {
				return err
			}
			st, err := control.NewClient(sock).Status(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("state: %s\n", st.State)
			for _, a := range st.Agents {
				fmt.Printf("  %-20s running=%d/%d\n", a.Name, a.RunningJobs, a.MaxConcurrent)
				for _, sched := range a.Schedules {
					fmt.Printf("    %-18s %s\n", sched.Name, sched.Status)
				}
			}
			return nil
		},
	}
}
