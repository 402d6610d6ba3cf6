package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvil-build/anvil/internal/recovery"
)

var (
	flagGraphPath   string
	flagMode        string
	flagParallelism int
	flagMaxTasks    int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a task graph to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseExecutionMode(flagMode)
		if err != nil {
			return err
		}
		if flagGraphPath == "" {
			return invalidInvocationf("--graph is required")
		}
		graphPath, err := resolveUnderWorkDir(flagDir, flagGraphPath)
		if err != nil {
			return err
		}

		parallelism := flagParallelism
		if !cmd.Flags().Changed("parallel") && resolvedConfig != nil {
			parallelism = resolvedConfig.Config.Execution.Parallelism
		}
		maxTasks := flagMaxTasks
		if !cmd.Flags().Changed("max-tasks") && resolvedConfig != nil {
			maxTasks = resolvedConfig.Config.Execution.MaxTasks
		}

		res, err := RunGraph(cmd.Context(), RunOptions{
			GraphPath:   graphPath,
			WorkDir:     flagDir,
			Mode:        mode,
			Parallelism: parallelism,
			MaxTasks:    maxTasks,
			Resolved:    resolvedConfig,
		})
		if err != nil && res.ExitCode == ExitInternalError {
			return &InvocationError{ExitCode: res.ExitCode, Message: err.Error()}
		}
		if res.ExitCode != ExitSuccess {
			if err != nil {
				return &InvocationError{ExitCode: res.ExitCode, Message: err.Error()}
			}
			return &InvocationError{ExitCode: res.ExitCode, Message: fmt.Sprintf("run %s did not converge cleanly", res.RunID)}
		}
		cmd.Printf("run %s complete: graph %s\n", res.RunID, res.GraphHash)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&flagGraphPath, "graph", "", "Path to the bootstrap graph JSON file")
	runCmd.Flags().StringVar(&flagMode, "mode", string(recovery.ModeIncremental), "Execution mode: clean|incremental|resume-only")
	runCmd.Flags().IntVar(&flagParallelism, "parallel", 1, "Maximum concurrently running tasks")
	runCmd.Flags().IntVar(&flagMaxTasks, "max-tasks", 0, "Safety bound on total admitted tasks (0 means unbounded)")
	rootCmd.AddCommand(runCmd)
}

func parseExecutionMode(raw string) (recovery.ExecutionMode, error) {
	switch recovery.ExecutionMode(raw) {
	case recovery.ModeClean, recovery.ModeIncremental, recovery.ModeResumeOnly:
		return recovery.ExecutionMode(raw), nil
	default:
		return "", invalidInvocationf("invalid --mode %q (expected clean|incremental|resume-only)", raw)
	}
}
