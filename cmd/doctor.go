package cmd

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/mcpclient"
)

// doctorCmd checks that a fleet description loads cleanly and that every
// agent's declared MCP tool servers are actually reachable, without
// requiring a running `start` process.
func doctorCmd() *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate the fleet description and agent tool-server connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(agentName)
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "limit tool-server checks to one agent")
	return cmd
}

func runDoctor(agentName string) error {
	fmt.Printf("go runtime: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Printf("config: %s (%d agent(s), state dir %s)\n", cfg.Dir, len(cfg.Agents), cfg.StateDir)

	agents := cfg.Agents
	if agentName != "" {
		agent := cfg.AgentByName(agentName)
		if agent == nil {
			return &config.ValidationError{Issues: []config.ValidationIssue{{Path: "agent", Message: fmt.Sprintf("unknown agent %q", agentName)}}}
		}
		agents = []*config.Agent{agent}
	}

	ctx := context.Background()
	failed := false
	for _, agent := range agents {
		if len(agent.ToolServers) == 0 {
			fmt.Printf("%s: no tool servers declared\n", agent.Name)
			continue
		}
		specs := make(map[string]driver.MCPServerSpec, len(agent.ToolServers))
		for name, ts := range agent.ToolServers {
			specs[name] = driver.MCPServerSpec{
				Type: ts.Type, URL: ts.URL, Headers: ts.Headers,
				Command: ts.Command, Args: ts.Args, Env: ts.Env,
			}
		}
		for _, st := range mcpclient.Validate(ctx, specs) {
			status := "ok"
			if !st.Connected {
				status = "FAILED: " + st.Error
				failed = true
			}
			fmt.Printf("%s: tool server %s (%d tools): %s\n", agent.Name, st.Name, st.ToolCount, status)
		}
	}

	if failed {
		return fmt.Errorf("one or more tool servers are unreachable")
	}
	return nil
}
