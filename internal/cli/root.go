package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/workload"
)

var version = "0.1.0"

// NewRootCmd builds the command tree over a workload registry.
func NewRootCmd(workloads *workload.Registry) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "stampede",
		Short:   "A virtual-user load generator",
		Version: version,
		Long: `Stampede drives a pool of virtual users through a staged load profile,
records request metrics and checks pass/fail thresholds at the end of the run.

  stampede run run.yaml
  stampede run --workload complex-order --stages "30s:10,1m:10,10s:0"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "colourful", "Log format: text, colourful, json")

	rootCmd.AddCommand(newRunCmd(workloads))
	rootCmd.AddCommand(newValidateCmd(workloads))
	rootCmd.AddCommand(newWorkloadsCmd(workloads))
	return rootCmd
}

// Execute runs the command line with the built-in workloads and returns the
// process exit code. This is called by main.main().
func Execute() int {
	err := NewRootCmd(workload.Default()).Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return CodeOf(err)
}

// newLogger builds the logger from the persistent log flags. Logs go to
// stderr so stdout carries only the summary.
func newLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	formatName, _ := cmd.Flags().GetString("log-format")

	format, err := logging.ParseFormat(formatName)
	if err != nil {
		return zerolog.Nop(), err
	}
	return logging.New(logging.Config{Level: level, Format: format}, cmd.ErrOrStderr())
}
