package cli

import (
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect a bootstrap graph file without executing it",
}

var graphValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Parse and validate a graph file, reporting the first structural error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveUnderWorkDir(flagDir, args[0])
		if err != nil {
			return err
		}
		g, err := LoadGraphFromFile(path)
		if err != nil {
			return &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
		}
		cmd.Printf("ok: %d tasks, hash %s\n", len(g.Tasks()), g.Hash())
		return nil
	},
}

var graphShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Print a graph's tasks in topological order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveUnderWorkDir(flagDir, args[0])
		if err != nil {
			return err
		}
		g, err := LoadGraphFromFile(path)
		if err != nil {
			return &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
		}
		order, err := g.TopoOrder()
		if err != nil {
			return &InvocationError{ExitCode: ExitGraphFailure, Message: err.Error()}
		}
		for _, t := range order {
			cmd.Printf("%s\n", t.Name)
		}
		return nil
	},
}

func init() {
	graphCmd.AddCommand(graphValidateCmd, graphShowCmd)
	rootCmd.AddCommand(graphCmd)
}
