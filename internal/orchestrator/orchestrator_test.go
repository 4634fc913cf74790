package orchestrator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/basthon/internal/hooks"
	"github.com/aretw0/basthon/internal/kernel"
	"github.com/aretw0/basthon/internal/orchestrator"
	"github.com/aretw0/basthon/pkg/adapters/goja"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/eventbus"
	"github.com/aretw0/basthon/pkg/packages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	name    string
	payload domain.Payload
}

// recorder collects every kernel-emitted event in publication order.
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) attach(bus *eventbus.Bus) {
	for _, name := range []string{
		domain.EventEvalOutput,
		domain.EventEvalDisplay,
		domain.EventEvalFinished,
		domain.EventEvalError,
	} {
		name := name
		bus.Subscribe(name, func(p domain.Payload) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, event{name: name, payload: p})
			return nil
		})
	}
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) named(name string) []domain.Payload {
	var out []domain.Payload
	for _, e := range r.all() {
		if e.name == name {
			out = append(out, e.payload)
		}
	}
	return out
}

func (r *recorder) names() []string {
	var out []string
	for _, e := range r.all() {
		out = append(out, e.name)
	}
	return out
}

type harness struct {
	orch   *orchestrator.Orchestrator
	worker *kernel.Worker
	state  *kernel.State
	loader *packages.Loader
	bus    *eventbus.Bus
	rec    *recorder
}

func newHarness(t *testing.T, catalogue packages.Catalogue, opts ...orchestrator.Option) *harness {
	t.Helper()
	rt, err := goja.New(goja.WithRoot(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	bus := eventbus.New()
	rec := &recorder{}
	rec.attach(bus)

	state := kernel.New(rt)
	worker := kernel.NewWorker()
	t.Cleanup(worker.Stop)
	loader := packages.NewLoader(packages.NewRegistry(rt, catalogue), rt)

	opts = append([]orchestrator.Option{orchestrator.WithAdapters(hooks.Default())}, opts...)
	orch := orchestrator.New(orchestrator.Dependencies{
		State:    state,
		Worker:   worker,
		Loader:   loader,
		Scanner:  rt,
		Runtime:  rt,
		Packages: rt,
		Bus:      bus,
	}, opts...)
	state.Bind("display", orch.DisplayBinding())
	require.NoError(t, state.Start(context.Background()))

	return &harness{orch: orch, worker: worker, state: state, loader: loader, bus: bus, rec: rec}
}

func request(code string, aux map[string]any) domain.EvalRequest {
	return domain.EvalRequest{Code: code, Data: aux}
}

func TestRun_Value(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.orch.Run(context.Background(), request("1+1", map[string]any{"cell": "c1"}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExecutionCount)
	assert.Equal(t, "2", res.Bundle.Text())

	finished := h.rec.named(domain.EventEvalFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, "c1", finished[0]["cell"])
	assert.Equal(t, 1, finished[0][domain.KeyExecutionCount])
	assert.Equal(t, domain.Bundle{domain.MimeText: "2"}, finished[0][domain.KeyResult])
	assert.Empty(t, h.rec.named(domain.EventEvalError))
}

func TestRun_NoValue(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.orch.Run(context.Background(), request("var x = 3", nil))
	require.NoError(t, err)
	assert.False(t, res.HasValue())

	finished := h.rec.named(domain.EventEvalFinished)
	require.Len(t, finished, 1)
	assert.NotContains(t, finished[0], domain.KeyResult)
}

func TestRun_OutputPrecedesFinished(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Run(context.Background(), request(`console.log("hi"); console.error("oops")`, map[string]any{"id": 7}))
	require.NoError(t, err)

	assert.Equal(t, []string{domain.EventEvalOutput, domain.EventEvalOutput, domain.EventEvalFinished}, h.rec.names())
	out := h.rec.named(domain.EventEvalOutput)
	assert.Equal(t, "stdout", out[0][domain.KeyStream])
	assert.Equal(t, "hi\n", out[0][domain.KeyContent])
	assert.Equal(t, "stderr", out[1][domain.KeyStream])
	assert.Equal(t, 7, out[1]["id"])
}

func TestRun_Fault(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Run(context.Background(), request(`throw new Error("boom")`, map[string]any{"cell": "c2"}))

	var fault *domain.EvaluationFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 1, fault.ExecutionCount)
	assert.Equal(t, 1, h.state.ExecutionCount())

	assert.Equal(t, []string{domain.EventEvalOutput, domain.EventEvalError}, h.rec.names())
	out := h.rec.named(domain.EventEvalOutput)[0]
	assert.Equal(t, "stderr", out[domain.KeyStream])
	assert.Contains(t, out[domain.KeyContent], "boom")

	errEvent := h.rec.named(domain.EventEvalError)[0]
	assert.Equal(t, "c2", errEvent["cell"])
	info, ok := errEvent[domain.KeyError].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "EvaluationFault", info["name"])
}

func TestRun_TerminalEventsReleaseTheWorker(t *testing.T) {
	h := newHarness(t, nil)
	reentered := make(chan error, 2)
	for _, name := range []string{domain.EventEvalFinished, domain.EventEvalError} {
		h.bus.Subscribe(name, func(domain.Payload) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			reentered <- h.worker.Do(ctx, func() error { return nil })
			return nil
		})
	}

	_, err := h.orch.Run(context.Background(), request("1+1", nil))
	require.NoError(t, err)
	_, err = h.orch.Run(context.Background(), request("nope()", nil))
	require.Error(t, err)

	require.NoError(t, <-reentered, "eval.finished handler")
	require.NoError(t, <-reentered, "eval.error handler")
}

func TestRun_CounterAdvancesOnEveryOutcome(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, _ = h.orch.Run(ctx, request("1", nil))
	_, _ = h.orch.Run(ctx, request("throw 1", nil))
	res, err := h.orch.Run(ctx, request("_", nil))
	require.NoError(t, err)

	assert.Equal(t, 3, res.ExecutionCount)
	assert.Equal(t, "1", res.Bundle.Text())
}

func TestRun_Display(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Run(context.Background(), request(`display("a", 2)`, map[string]any{"cell": "d"}))
	require.NoError(t, err)

	displays := h.rec.named(domain.EventEvalDisplay)
	require.Len(t, displays, 2)
	assert.Equal(t, domain.DisplayMultiple, displays[0][domain.KeyDisplayType])
	assert.Equal(t, domain.Bundle{domain.MimeText: "'a'"}, displays[0][domain.KeyContent])
	assert.Equal(t, "d", displays[1]["cell"])
	assert.Equal(t, 1, displays[1][domain.KeyExecutionCount])
}

func TestRun_RenderablePackage(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Run(context.Background(), request(`require("svg").canvas(10, 10).circle(5, 5, 2).show()`, nil))
	require.NoError(t, err)

	assert.True(t, h.loader.IsLoaded("svg"))
	displays := h.rec.named(domain.EventEvalDisplay)
	require.Len(t, displays, 1)
	assert.Equal(t, "svg", displays[0][domain.KeyDisplayType])
	assert.Contains(t, displays[0][domain.KeyContent], "<circle")
}

func TestRun_NativeDependenciesAreAdapted(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Run(context.Background(), request(`require("table")`, nil))
	require.NoError(t, err)

	assert.True(t, h.loader.IsLoaded("table"))
	assert.True(t, h.loader.IsLoaded("markdown"))
}

func TestRun_LoaderFailureIsNotPublished(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	h := newHarness(t, packages.NewCatalogue(packages.Descriptor{Name: "left-pad", Locator: srv.URL + "/left-pad.js"}))

	_, err := h.orch.Run(context.Background(), request(`require("left-pad")`, nil))

	var lerr *domain.LoaderError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, domain.KindExternal, lerr.Kind)
	assert.Empty(t, h.rec.all())
	assert.Equal(t, 0, h.state.ExecutionCount())
	assert.False(t, h.loader.IsLoaded("left-pad"))
}

func TestRun_ExternalPackage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`module.exports = function (s, n) { return String(s).padStart(n) }`))
	}))
	defer srv.Close()
	h := newHarness(t, packages.NewCatalogue(packages.Descriptor{Name: "left-pad", Locator: srv.URL}))

	res, err := h.orch.Run(context.Background(), request(`require("left-pad")("x", 3)`, nil))
	require.NoError(t, err)

	assert.Equal(t, "'  x'", res.Bundle.Text())
	assert.Equal(t, []string{"installer", "left-pad"}, h.loader.Loaded())
}

func TestRun_LifecycleHooks(t *testing.T) {
	var (
		mu       sync.Mutex
		started  []int
		finished []error
		batches  [][]string
	)
	h := newHarness(t, nil, orchestrator.WithLifecycleHooks(domain.LifecycleHooks{
		OnEvalStart: func(_ context.Context, e *domain.EvalEvent) {
			mu.Lock()
			defer mu.Unlock()
			started = append(started, e.ExecutionCount)
		},
		OnEvalFinish: func(_ context.Context, e *domain.EvalEvent) {
			mu.Lock()
			defer mu.Unlock()
			finished = append(finished, e.Err)
		},
		OnPackagesLoaded: func(_ context.Context, e *domain.PackageEvent) {
			mu.Lock()
			defer mu.Unlock()
			batches = append(batches, e.Packages)
		},
	}))

	_, _ = h.orch.Run(context.Background(), request(`require("uuid").NIL`, nil))
	_, _ = h.orch.Run(context.Background(), request(`throw 1`, nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, started)
	require.Len(t, finished, 2)
	assert.NoError(t, finished[0])
	assert.Error(t, finished[1])
	assert.Equal(t, [][]string{{"uuid"}}, batches)
}

func TestRun_Timeout(t *testing.T) {
	h := newHarness(t, nil, orchestrator.WithEvalTimeout(50*time.Millisecond))

	_, err := h.orch.Run(context.Background(), request(`for (;;) {}`, nil))

	var fault *domain.EvaluationFault
	require.ErrorAs(t, err, &fault)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, h.rec.named(domain.EventEvalError), 1)

	res, err := h.orch.Run(context.Background(), request(`2`, nil))
	require.NoError(t, err)
	assert.Equal(t, "2", res.Bundle.Text())
}

func TestRunEvent_InvalidRequest(t *testing.T) {
	h := newHarness(t, nil)

	h.orch.RunEvent(context.Background(), domain.Payload{"cell": "x"})

	assert.Equal(t, []string{domain.EventEvalOutput, domain.EventEvalError}, h.rec.names())
	assert.Equal(t, "x", h.rec.named(domain.EventEvalError)[0]["cell"])
}

func TestRunEvent_LoaderFailureIsPublished(t *testing.T) {
	h := newHarness(t, packages.NewCatalogue(packages.Descriptor{Name: "ghost", Locator: "/does/not/exist.js"}))

	h.orch.RunEvent(context.Background(), domain.Payload{domain.KeyCode: `require("ghost")`})

	errs := h.rec.named(domain.EventEvalError)
	require.Len(t, errs, 1)
	info := errs[0][domain.KeyError].(map[string]any)
	assert.Equal(t, "LoaderError", info["name"])
}

func TestDecodeRequest(t *testing.T) {
	req, err := orchestrator.DecodeRequest(domain.Payload{domain.KeyCode: "1", "cell": "c", "n": 2})
	require.NoError(t, err)
	assert.Equal(t, "1", req.Code)
	assert.Equal(t, map[string]any{"cell": "c", "n": 2}, req.Data)

	_, err = orchestrator.DecodeRequest(domain.Payload{"cell": "c"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestListen_RunsInArrivalOrder(t *testing.T) {
	h := newHarness(t, nil)
	stop := h.orch.Listen(context.Background())
	defer stop()

	for i, code := range []string{"'a'", "'b'", "'c'"} {
		h.bus.Publish(domain.EventEvalRequest, domain.Payload{domain.KeyCode: code, "seq": i})
	}

	require.Eventually(t, func() bool {
		return len(h.rec.named(domain.EventEvalFinished)) == 3
	}, 5*time.Second, 10*time.Millisecond)

	for i, p := range h.rec.named(domain.EventEvalFinished) {
		assert.Equal(t, i, p["seq"])
		assert.Equal(t, i+1, p[domain.KeyExecutionCount])
	}
}

func TestListen_StopUnsubscribes(t *testing.T) {
	h := newHarness(t, nil)
	stop := h.orch.Listen(context.Background())
	stop()
	stop()

	assert.Equal(t, 0, h.bus.Subscribers(domain.EventEvalRequest))
}
