package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/basthon/internal/cli"
	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "basthon",
	Short: "Basthon is an embeddable JavaScript notebook kernel",
	Long: `Basthon evaluates code cells in a persistent namespace, loads the packages
they import on demand and streams output, displays and results as events.

Run without a subcommand to start an interactive session.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx := lifecycle.NewSignalContext(context.Background())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, cli.ErrEvaluationFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// options reads the persistent flags.
func options(cmd *cobra.Command) cli.Options {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")
	return cli.Options{ConfigPath: configPath, Debug: debug}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to basthon.yaml (defaults to ./basthon.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging on Stderr")
}
