package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/basthon"
	httpAdapter "github.com/aretw0/basthon/pkg/adapters/http"
	"github.com/aretw0/basthon/pkg/adapters/mcp"
	"github.com/aretw0/basthon/pkg/observability"
	"github.com/aretw0/lifecycle"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions configure the HTTP server.
type ServeOptions struct {
	Options
	// Port overrides the configured port when non-zero.
	Port int
	// WatchDir is staged into the guest filesystem on every change.
	WatchDir string
	// Metrics exposes Prometheus collectors on /metrics.
	Metrics bool
}

// Serve runs the HTTP adapter until ctx is cancelled.
func Serve(ctx context.Context, opts ServeOptions) error {
	cfg, err := loadConfig(opts.Options)
	if err != nil {
		return err
	}
	logger := createLogger(opts.Debug, false, cfg.LogLevel)

	var extra []basthon.Option
	handlerOpts := []httpAdapter.Option{httpAdapter.WithLogger(logger)}
	if opts.Metrics {
		m := observability.NewMetrics()
		extra = append(extra, basthon.WithLifecycleHooks(m.Hooks()))
		handlerOpts = append(handlerOpts, httpAdapter.WithMetrics(m.Handler()))
	}

	k, closeKernel, err := newKernel(ctx, cfg, logger, extra...)
	if err != nil {
		return err
	}
	defer closeKernel()

	stopListening := k.Listen(ctx)
	defer stopListening()

	if opts.WatchDir != "" {
		w, err := k.Watch(ctx, opts.WatchDir)
		if err != nil {
			return fmt.Errorf("watching %s: %w", opts.WatchDir, err)
		}
		defer w.Stop()
		logger.Info("Staging host directory", "dir", opts.WatchDir)
	}

	handler := httpAdapter.NewHandler(k, handlerOpts...)
	defer handler.Close()

	port := cfg.Port
	if opts.Port != 0 {
		port = opts.Port
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		logger.Info("Starting Basthon Server", "address", srv.Addr, "version", basthon.Version)
		serverErrors <- srv.ListenAndServe()
		return nil
	})

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Start shutdown")
		// Open event streams would otherwise hold Shutdown until the deadline.
		handler.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			return srv.Close()
		}
		logger.Info("Basthon Server stopped gracefully")
		return nil
	}
}

// MCPOptions configure the MCP server.
type MCPOptions struct {
	Options
	// Transport is "stdio" or "sse".
	Transport string
	Port      int
}

// ServeMCP runs the MCP adapter until the transport ends or ctx is cancelled.
func ServeMCP(ctx context.Context, opts MCPOptions) error {
	cfg, err := loadConfig(opts.Options)
	if err != nil {
		return err
	}
	// Stdout carries JSON-RPC, logs stay on Stderr.
	logger := createLogger(opts.Debug, false, cfg.LogLevel)

	k, closeKernel, err := newKernel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKernel()

	srv := mcp.NewServer(k)
	switch opts.Transport {
	case "", "stdio":
		logger.Info("Starting Basthon MCP Server (Stdio)")
		return srv.ServeStdio()
	case "sse":
		port := opts.Port
		if port == 0 {
			port = cfg.Port
		}
		logger.Info("Starting Basthon MCP Server (SSE)", "port", port)
		err := srv.ServeSSE(ctx, port)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("MCP Server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport %q, supported: stdio, sse", opts.Transport)
	}
}
