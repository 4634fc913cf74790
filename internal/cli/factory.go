package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/basthon"
	"github.com/aretw0/basthon/internal/config"
	"github.com/aretw0/basthon/internal/logging"
	"github.com/aretw0/basthon/pkg/adapters/file"
	"github.com/aretw0/basthon/pkg/adapters/memory"
	"github.com/aretw0/basthon/pkg/adapters/redis"
	"github.com/aretw0/basthon/pkg/observability"
	"github.com/aretw0/basthon/pkg/persistence/middleware"
	"github.com/aretw0/basthon/pkg/ports"
)

// Backup drivers accepted in the configuration.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

// Options are the flags shared by every command.
type Options struct {
	ConfigPath string
	Debug      bool
}

// loadConfig reads the configuration named by opts.
func loadConfig(opts Options) (config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// createLogger configures the application logger. Interactive sessions stay
// silent unless --debug is set; servers log at the configured level.
// Logs go to Stderr to keep Stdout for guest output.
func createLogger(debug bool, interactive bool, level string) *slog.Logger {
	switch {
	case debug:
		return logging.New(slog.LevelDebug)
	case interactive:
		return logging.NewNop()
	default:
		return logging.New(logging.ParseLevel(level))
	}
}

// NewBackupStore builds the configured backup store wrapped in its
// redaction and encryption middleware. The returned close function releases
// driver resources.
func NewBackupStore(cfg config.Backup) (ports.BackupStore, func() error, error) {
	var (
		store   ports.BackupStore
		closeFn = func() error { return nil }
	)
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		store = memory.NewStore()
	case DriverFile:
		store = file.New(cfg.Dir)
	case DriverRedis:
		var opts []redis.Option
		if cfg.Prefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Prefix))
		}
		if cfg.TTL > 0 {
			opts = append(opts, redis.WithTTL(cfg.TTL))
		}
		rs, err := redis.NewFromURL(cfg.RedisURL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting backup store: %w", err)
		}
		store, closeFn = rs, rs.Close
	default:
		return nil, nil, fmt.Errorf("unknown backup driver %q", cfg.Driver)
	}

	var mws []middleware.Middleware
	if len(cfg.Redact) > 0 {
		mws = append(mws, middleware.NewRedactionMiddleware(cfg.Redact))
	}
	if cfg.EncryptionKey != "" {
		key, err := cfg.Key()
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return middleware.Chain(store, mws...), closeFn, nil
}

// kernelOptions translates the configuration into kernel options.
func kernelOptions(cfg config.Config, logger *slog.Logger, store ports.BackupStore) ([]basthon.Option, error) {
	catalogue, err := cfg.Catalogue()
	if err != nil {
		return nil, fmt.Errorf("reading package catalogue: %w", err)
	}
	opts := []basthon.Option{
		basthon.WithLogger(logger),
		basthon.WithCatalogue(catalogue),
		basthon.WithExtraDeps(cfg.ExtraDeps),
		basthon.WithModulesRoot(cfg.ModulesRoot),
		basthon.WithModuleExtensions(cfg.ModuleExtensions...),
		basthon.WithBootstrap(cfg.BootstrapPackage),
		basthon.WithEvalTimeout(cfg.EvalTimeout),
		basthon.WithBackupStore(store),
		basthon.WithLifecycleHooks(observability.LoggingHooks(logger)),
	}
	if cfg.RootDir != "" {
		opts = append(opts, basthon.WithRootDir(cfg.RootDir))
	}
	return opts, nil
}

// newKernel creates a kernel from the configuration. The returned close
// function stops the kernel and releases the backup store.
func newKernel(ctx context.Context, cfg config.Config, logger *slog.Logger, extra ...basthon.Option) (*basthon.Kernel, func(), error) {
	store, closeStore, err := NewBackupStore(cfg.Backup)
	if err != nil {
		return nil, nil, err
	}
	opts, err := kernelOptions(cfg, logger, store)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	k, err := basthon.New(ctx, append(opts, extra...)...)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("error initializing kernel: %w", err)
	}
	return k, func() {
		if err := k.Close(); err != nil {
			logger.Warn("Kernel close failed", "err", err)
		}
		if err := closeStore(); err != nil {
			logger.Warn("Backup store close failed", "err", err)
		}
	}, nil
}
