package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fleetsupervisor/fleetd/internal/control"
	"github.com/fleetsupervisor/fleetd/internal/fleet"
)

func logsCmd() *cobra.Command {
	var agentName, jobID, level string
	var follow bool
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Stream fleet, agent, or job output",
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, err := socketPath()
			if err != nil {
				return err
			}

			ctx := context.Background()
			if follow {
				var stop context.CancelFunc
				ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
			}

			opts := control.LogOptions{Agent: agentName, Job: jobID, Level: level, History: true, HistoryLimit: historyLimit, Follow: follow}
			return control.NewClient(sock).StreamLogs(ctx, opts, printLogEntry)
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "limit to one agent")
	cmd.Flags().StringVar(&jobID, "job", "", "limit to one job")
	cmd.Flags().StringVar(&level, "level", "", "filter by log level")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep streaming new output")
	cmd.Flags().IntVar(&historyLimit, "history-limit", 0, "cap replayed history entries (0 = unbounded)")
	return cmd
}

func printLogEntry(entry fleet.LogEntry) {
	data, _ := json.Marshal(entry.Data)
	fmt.Printf("[%s] %-12s agent=%s job=%s %s %s\n", entry.Level, entry.Source, entry.AgentName, entry.JobID, entry.Message, data)
}
