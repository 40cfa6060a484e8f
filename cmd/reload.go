package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetsupervisor/fleetd/internal/control"
)

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the fleet description without restarting",
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, err := socketPath()
			if err != nil {
				return err
			}
			changes, err := control.NewClient(sock).Reload(context.Background())
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				fmt.Println("reloaded, no changes detected")
				return nil
			}
			fmt.Printf("reloaded, %d change(s)\n", len(changes))
			return nil
		},
	}
}
