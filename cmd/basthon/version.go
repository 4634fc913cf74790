package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/basthon"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of basthon",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "basthon version %s\n", strings.TrimSpace(basthon.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
