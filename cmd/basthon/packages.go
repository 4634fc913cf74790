package main

import (
	"github.com/aretw0/basthon/internal/cli"
	"github.com/spf13/cobra"
)

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "List the packages a cell can import",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ListPackages(cmd.Context(), options(cmd), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(packagesCmd)
}
