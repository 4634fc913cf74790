package main

import (
	"github.com/aretw0/basthon/internal/cli"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage file backups",
	Long:  `List, read, write and remove entries of the configured backup store.`,
}

var backupLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all backup keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ListBackups(cmd.Context(), options(cmd), cmd.OutOrStdout())
	},
}

var backupGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.GetBackup(cmd.Context(), options(cmd), args[0], cmd.OutOrStdout())
	},
}

var backupPutCmd = &cobra.Command{
	Use:   "put <key> <file>",
	Short: "Store a file as a backup (\"-\" reads Stdin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.PutBackup(cmd.Context(), options(cmd), args[0], args[1], cmd.InOrStdin())
	},
}

var backupRmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Remove a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.DeleteBackup(cmd.Context(), options(cmd), args[0])
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupLsCmd, backupGetCmd, backupPutCmd, backupRmCmd)
}
