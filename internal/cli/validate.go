package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/loadgen/config"
	"github.com/wesleyorama2/stampede/internal/loadgen/executor"
	"github.com/wesleyorama2/stampede/internal/workload"
)

func newValidateCmd(workloads *workload.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a run configuration without running it",
		Long: `Validate parses a run configuration, applies flag and environment overrides
and reports every problem found. The workload is built but not started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(cmd, args)
			if err != nil {
				return &ExitError{Code: ExitInvalidConfig, Err: err}
			}
			if _, err := workloads.Build(cfg.Workload, cfg); err != nil {
				return &ExitError{Code: ExitInvalidConfig, Err: err}
			}

			execCfg := cfg.ExecutorConfig()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid\n", args[0])
			fmt.Fprintf(out, "  workload: %s\n", cfg.Workload)
			fmt.Fprintf(out, "  executor: %s\n", cfg.ExecutorType())
			if desc := executor.GetExecutorDescription(cfg.ExecutorType()); desc != nil {
				fmt.Fprintf(out, "    %s\n", desc.Description)
			}
			fmt.Fprintf(out, "  duration: %s\n", execCfg.TotalDuration())
			if n := countThresholds(cfg); n > 0 {
				fmt.Fprintf(out, "  thresholds: %d\n", n)
			}
			return nil
		},
	}
	config.RegisterOverrideFlags(cmd.Flags())
	return cmd
}

func countThresholds(cfg *config.TestConfig) int {
	n := 0
	for _, list := range cfg.Thresholds {
		n += len(list)
	}
	return n
}
