package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Hooks(t *testing.T) {
	m := observability.NewMetrics()
	h := m.Hooks()
	ctx := context.Background()

	h.OnEvalFinish(ctx, &domain.EvalEvent{ExecutionCount: 1, Duration: time.Millisecond})
	h.OnEvalFinish(ctx, &domain.EvalEvent{ExecutionCount: 2, Err: errors.New("boom")})
	h.OnPackagesLoaded(ctx, &domain.PackageEvent{Kind: domain.KindNative, Packages: []string{"svg", "table"}})
	h.OnDisplay(ctx, &domain.DisplayEvent{DisplayType: "svg"})

	count, err := testutil.GatherAndCount(m.Registry(), "basthon_evaluations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	expected := `
# HELP basthon_packages_loaded_total Total number of packages loaded by kind
# TYPE basthon_packages_loaded_total counter
basthon_packages_loaded_total{kind="native"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), bytes.NewBufferString(expected), "basthon_packages_loaded_total"))
}

func TestMetrics_Handler(t *testing.T) {
	m := observability.NewMetrics()
	m.Hooks().OnDisplay(context.Background(), &domain.DisplayEvent{DisplayType: "html"})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `basthon_display_events_total{display_type="html"} 1`)
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := domain.Combine(observability.LoggingHooks(logger), observability.NewMetrics().Hooks())
	ctx := context.Background()

	h.OnEvalStart(ctx, &domain.EvalEvent{ExecutionCount: 3})
	h.OnEvalFinish(ctx, &domain.EvalEvent{ExecutionCount: 3, Err: errors.New("boom")})
	h.OnPackagesLoaded(ctx, &domain.PackageEvent{Kind: domain.KindExternal, Packages: []string{"left-pad"}})

	out := buf.String()
	assert.Contains(t, out, "eval_start")
	assert.Contains(t, out, "err=boom")
	assert.Contains(t, out, "packages_loaded")
	assert.Contains(t, out, "left-pad")
}
