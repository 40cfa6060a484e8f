// Package cmd implements fleetctl, the thin operator CLI: `start`,
// `reload`, `trigger`, `cancel`, `fork`, `status`, `logs`, `doctor` and
// `version`. There is no separate `initialize` or `stop` subcommand:
// `start` initializes the Fleet Manager itself, serves the local control
// socket (internal/control), and stops the fleet on SIGINT/SIGTERM.
// `reload`, `trigger`, `cancel`, `fork`, `status` and `logs` talk to that
// process over the socket; `doctor` and `version` do not use it.
//
// Grounded on the teacher's cmd/root.go cobra wiring (persistent flags,
// subcommand registration, Execute()).
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/control"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile    string
	socketFlag string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "fleetctl",
	Short:         "Operator CLI for a Fleet Supervisor of autonomous agent processes",
	Long:          "fleetctl drives a Fleet Supervisor: a long-running process that schedules, triggers, and monitors autonomous LLM agent jobs.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "fleet description file (default: fleet.yaml, searched upward)")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "control socket path (default: <state_dir>/control.sock)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(forkCmd())
	rootCmd.AddCommand(reloadCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetctl %s\n", Version)
		},
	}
}

// Execute runs the root cobra command and exits with spec §6.4's 0/1/2
// codes: 0 success, 1 operational failure, 2 validation failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var controlErr *control.ValidationError
	var configErr *config.ValidationError
	if errors.As(err, &controlErr) || errors.As(err, &configErr) {
		return 2
	}
	return 1
}

// socketPath resolves the control socket path: the --socket flag if set,
// otherwise <state_dir>/control.sock derived from loading the fleet
// description.
func socketPath() (string, error) {
	if socketFlag != "" {
		return socketFlag, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.StateDir, control.SocketName), nil
}
