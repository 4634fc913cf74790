package main

import (
	"github.com/aretw0/basthon/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Evaluate a script as a single cell",
	Long: `Evaluates a script file in a fresh kernel and prints its output.
Use "-" to read the script from Stdin. The exit code is 1 when the script raises.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		return cli.RunFile(cmd.Context(), cli.SessionOptions{
			Options: options(cmd),
			JSON:    jsonMode,
			Stdin:   cmd.InOrStdin(),
			Stdout:  cmd.OutOrStdout(),
		}, args[0])
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive session",
	Long: `Reads cells from Stdin and evaluates them in one namespace.
A line opening a bracket continues until an empty line.
Type exit or press Ctrl+D to quit, %restart to reset the namespace.

In JSON mode every input line is a request ({"code": ...} or a bare string)
and every event is written as one JSON line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		return cli.RunREPL(cmd.Context(), cli.SessionOptions{
			Options: options(cmd),
			JSON:    jsonMode,
			Stdin:   cmd.InOrStdin(),
			Stdout:  cmd.OutOrStdout(),
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replCmd)

	runCmd.Flags().Bool("json", false, "Write events as NDJSON")
	replCmd.Flags().Bool("json", false, "Run in JSON mode (NDJSON input/output)")

	// The interactive session is the default command.
	rootCmd.RunE = replCmd.RunE
	rootCmd.Flags().Bool("json", false, "Run in JSON mode (NDJSON input/output)")
}
