package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/basthon/pkg/domain"
)

// LoggingHooks logs every lifecycle step.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnEvalStart: func(ctx context.Context, e *domain.EvalEvent) {
			logger.DebugContext(ctx, "eval_start", "execution_count", e.ExecutionCount)
		},
		OnEvalFinish: func(ctx context.Context, e *domain.EvalEvent) {
			if e.Err != nil {
				logger.InfoContext(ctx, "eval_finish",
					"execution_count", e.ExecutionCount,
					"duration", e.Duration,
					"err", e.Err,
				)
				return
			}
			logger.InfoContext(ctx, "eval_finish",
				"execution_count", e.ExecutionCount,
				"duration", e.Duration,
			)
		},
		OnPackagesLoaded: func(ctx context.Context, e *domain.PackageEvent) {
			logger.InfoContext(ctx, "packages_loaded", "kind", e.Kind, "packages", e.Packages)
		},
		OnDisplay: func(ctx context.Context, e *domain.DisplayEvent) {
			logger.DebugContext(ctx, "display",
				"display_type", e.DisplayType,
				"execution_count", e.ExecutionCount,
			)
		},
	}
}
