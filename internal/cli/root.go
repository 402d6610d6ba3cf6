// Package cli wires anvil's cobra command tree, configuration resolution,
// and execution boundary together. Grounded on Raven's internal/cli
// package (root.go's persistent-flag/PersistentPreRunE shape and
// completion.go's shell-completion generator), replacing the teacher
// scriptweaver's raw flag.FlagSet boundary (ParseInvocation/Execute) with
// cobra while keeping scriptweaver's exit-code taxonomy and
// invocation-canonicalization discipline (exitcode.go, util.go).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anvil-build/anvil/internal/config"
	"github.com/anvil-build/anvil/internal/logging"
)

var (
	flagVerbose bool
	flagQuiet   bool
	flagJSON    bool
	flagDir     string
	flagStore   string

	resolvedConfig *config.Resolved
)

var rootCmd = &cobra.Command{
	Use:   "anvilctl",
	Short: "Incremental task execution engine",
	Long: `anvilctl drives a dependency graph of tasks to completion, skipping
work whose declared inputs have not changed since the last successful run,
and can incrementally admit new tasks at runtime via generators.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			flagDir = wd
		}

		logging.Setup(flagVerbose, flagQuiet, flagJSON)

		var overrides config.CLIOverrides
		if cmd.Flags().Changed("store") {
			overrides.StorePath = &flagStore
		}
		if cmd.Flags().Changed("verbose") {
			overrides.Verbose = &flagVerbose
		}
		if cmd.Flags().Changed("quiet") {
			overrides.Quiet = &flagQuiet
		}

		resolved, err := loadAndResolveConfig(flagDir, &overrides)
		if err != nil {
			return err
		}
		resolvedConfig = resolved
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all logging except errors")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "log-json", false, "Emit logs as JSON lines")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Working directory (defaults to the process cwd)")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "Override the state store path")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitCodeFor(err)
	}
	return ExitSuccess
}

// NewRootCmd returns a fresh root command carrying the same persistent
// flags and subcommands as the package-level rootCmd, for tools that need
// an isolated tree (shell completion / man page generators).
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           rootCmd.Use,
		Short:         rootCmd.Short,
		Long:          rootCmd.Long,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose (debug) logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all logging except errors")
	cmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON lines")
	cmd.PersistentFlags().String("dir", "", "Working directory (defaults to the process cwd)")
	cmd.PersistentFlags().String("store", "", "Override the state store path")
	for _, child := range rootCmd.Commands() {
		cmd.AddCommand(child)
	}
	return cmd
}
