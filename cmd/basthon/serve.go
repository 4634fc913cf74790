package main

import (
	"github.com/aretw0/basthon/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts a kernel behind a JSON API over HTTP.
Events are streamed on GET /events (SSE) and the OpenAPI document is served
on /openapi.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		watchDir, _ := cmd.Flags().GetString("watch")
		metrics, _ := cmd.Flags().GetBool("metrics")
		return cli.Serve(cmd.Context(), cli.ServeOptions{
			Options:  options(cmd),
			Port:     port,
			WatchDir: watchDir,
			Metrics:  metrics,
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (defaults to the configured port)")
	serveCmd.Flags().StringP("watch", "w", "", "Host directory staged into the guest filesystem on change")
	serveCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")
}
