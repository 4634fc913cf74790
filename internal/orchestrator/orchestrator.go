// Package orchestrator runs evaluation requests end to end: dependency
// discovery and loading, output capture, evaluation, result formatting and
// event publication.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/basthon/internal/format"
	"github.com/aretw0/basthon/internal/hooks"
	"github.com/aretw0/basthon/internal/kernel"
	"github.com/aretw0/basthon/internal/logging"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/packages"
	"github.com/aretw0/basthon/pkg/ports"
	"github.com/aretw0/basthon/pkg/stream"
	"github.com/mitchellh/mapstructure"
)

// DefaultQueueSize bounds the requests Listen holds while one is running.
const DefaultQueueSize = 64

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	State    *kernel.State
	Worker   *kernel.Worker
	Loader   *packages.Loader
	Scanner  ports.ImportScanner
	Runtime  ports.Interpreter
	Packages ports.PackageLookup
	Bus      ports.EventBus
}

// Orchestrator runs evaluation requests.
type Orchestrator struct {
	deps      Dependencies
	adapters  *hooks.Registry
	extraDeps map[string][]string
	lifecycle domain.LifecycleHooks
	timeout   time.Duration
	queueSize int
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAdapters sets the registry applied to every freshly loaded batch.
func WithAdapters(r *hooks.Registry) Option {
	return func(o *Orchestrator) { o.adapters = r }
}

// WithExtraDeps declares packages implied by an import that static scanning
// cannot see, keyed by the imported name.
func WithExtraDeps(deps map[string][]string) Option {
	return func(o *Orchestrator) {
		for k, v := range deps {
			o.extraDeps[k] = append([]string(nil), v...)
		}
	}
}

// WithLifecycleHooks sets the observability callbacks.
func WithLifecycleHooks(h domain.LifecycleHooks) Option {
	return func(o *Orchestrator) { o.lifecycle = h }
}

// WithEvalTimeout interrupts evaluations running longer than d. Zero disables it.
func WithEvalTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithQueueSize bounds the Listen queue.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an Orchestrator.
func New(deps Dependencies, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:      deps,
		extraDeps: make(map[string][]string),
		queueSize: DefaultQueueSize,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run evaluates req. Loader failures are returned without being published.
// Evaluation faults are published (stderr output then eval.error) and also
// returned.
func (o *Orchestrator) Run(ctx context.Context, req domain.EvalRequest) (*domain.Result, error) {
	res, _, err := o.run(ctx, req)
	return res, err
}

// run also reports whether a failure has already been published. The
// terminal event is published once the worker is released, so its handlers
// may call back into the kernel.
func (o *Orchestrator) run(ctx context.Context, req domain.EvalRequest) (*domain.Result, bool, error) {
	if err := o.LoadDependencies(ctx, req.Code); err != nil {
		return nil, false, err
	}

	var (
		result  *domain.Result
		evalErr error
	)
	if err := o.deps.Worker.Do(ctx, func() error {
		result, evalErr = o.execute(ctx, req)
		return nil
	}); err != nil {
		return nil, false, err
	}

	if evalErr != nil {
		o.publishFault(req.Data, evalErr, result.ExecutionCount)
		return result, true, evalErr
	}
	o.deps.Bus.Publish(domain.EventEvalFinished, domain.FinishedPayload(req.Data, result.ExecutionCount, result.Bundle))
	return result, true, nil
}

// execute runs on the kernel worker. It evaluates and formats but leaves the
// terminal event to run.
func (o *Orchestrator) execute(ctx context.Context, req domain.EvalRequest) (*domain.Result, error) {
	start := time.Now()
	if o.lifecycle.OnEvalStart != nil {
		o.lifecycle.OnEvalStart(ctx, &domain.EvalEvent{
			EventBase:      domain.EventBase{Timestamp: start},
			ExecutionCount: o.deps.State.ExecutionCount() + 1,
			Code:           req.Code,
		})
	}

	value, err := o.evaluate(ctx, req)
	count := o.deps.State.ExecutionCount()
	result := &domain.Result{ExecutionCount: count}
	if err == nil && value != nil && !value.IsUndefined() {
		bundle, ferr := format.Represent(value)
		if ferr != nil {
			err = &domain.EvaluationFault{ExecutionCount: count, Err: ferr}
		} else {
			result.Bundle = bundle
		}
	}

	if o.lifecycle.OnEvalFinish != nil {
		o.lifecycle.OnEvalFinish(ctx, &domain.EvalEvent{
			EventBase:      domain.EventBase{Timestamp: time.Now()},
			ExecutionCount: count,
			Code:           req.Code,
			Duration:       time.Since(start),
			Err:            err,
		})
	}

	if err != nil {
		o.logger.Debug("Evaluation failed", "execution_count", count, "err", err)
	}
	return result, err
}

// evaluate captures the guest output channels around the evaluation. The
// interceptors are released on every exit path.
func (o *Orchestrator) evaluate(ctx context.Context, req domain.EvalRequest) (ports.Value, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	stdout := stream.Open(o.deps.Runtime.Stdout(), o.emit(req.Data, domain.StreamStdout))
	defer stdout.Close()
	stderr := stream.Open(o.deps.Runtime.Stderr(), o.emit(req.Data, domain.StreamStderr))
	defer stderr.Close()

	return o.deps.State.Evaluate(ctx, req.Code, req.Data)
}

func (o *Orchestrator) emit(aux map[string]any, s domain.Stream) func(string) {
	return func(text string) {
		o.deps.Bus.Publish(domain.EventEvalOutput, domain.OutputPayload(aux, s, text))
	}
}

func (o *Orchestrator) publishFault(aux map[string]any, err error, count int) {
	o.deps.Bus.Publish(domain.EventEvalOutput, domain.OutputPayload(aux, domain.StreamStderr, err.Error()))
	o.deps.Bus.Publish(domain.EventEvalError, domain.ErrorPayload(aux, err, count))
}

// RunEvent is the event-driven variant of Run. Every failure, including
// loader failures and undecodable requests, reaches the host as an
// eval.output on stderr followed by eval.error.
func (o *Orchestrator) RunEvent(ctx context.Context, payload domain.Payload) {
	req, err := DecodeRequest(payload)
	if err != nil {
		o.publishFault(req.Data, err, o.deps.State.ExecutionCount())
		return
	}
	_, published, err := o.run(ctx, req)
	if err != nil && !published {
		o.logger.Warn("Request failed before evaluation", "err", err)
		o.publishFault(req.Data, err, o.deps.State.ExecutionCount())
	}
}

// DecodeRequest splits an eval.request payload into code and auxiliary data.
func DecodeRequest(payload domain.Payload) (domain.EvalRequest, error) {
	var req domain.EvalRequest
	if err := mapstructure.Decode(map[string]any(payload), &req); err != nil {
		return domain.EvalRequest{Data: withoutCode(payload)}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if _, ok := payload[domain.KeyCode]; !ok {
		return req, fmt.Errorf("%w: missing %q", domain.ErrInvalidRequest, domain.KeyCode)
	}
	return req, nil
}

func withoutCode(p domain.Payload) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		if k != domain.KeyCode {
			out[k] = v
		}
	}
	return out
}

// Listen serves eval.request events from the bus. Requests are queued and
// run one at a time in arrival order. A request arriving on a full queue is
// answered with an eval.error. The returned function stops listening and
// waits for the running request to finish.
func (o *Orchestrator) Listen(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	queue := make(chan domain.Payload, o.queueSize)

	unsubscribe := o.deps.Bus.Subscribe(domain.EventEvalRequest, func(p domain.Payload) error {
		select {
		case queue <- p:
			return nil
		default:
			o.publishFault(withoutCode(p), domain.ErrQueueFull, o.deps.State.ExecutionCount())
			return domain.ErrQueueFull
		}
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-queue:
				o.RunEvent(ctx, p)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			cancel()
			wg.Wait()
		})
	}
}

// LoadDependencies discovers and loads the packages code imports, without
// evaluating it.
func (o *Orchestrator) LoadDependencies(ctx context.Context, code string) error {
	names := o.findImports(code)
	if len(names) == 0 {
		return nil
	}
	reg := o.deps.Loader.Registry()
	c := reg.Classify(names)
	toLoad := reg.ExpandDependencies(append(append([]string(nil), c.Native...), c.External...))
	return o.deps.Loader.Load(ctx, toLoad, o.afterLoad(ctx))
}

func (o *Orchestrator) findImports(code string) []string {
	imports, err := o.deps.Scanner.FindImports(code)
	if err != nil {
		// The evaluation reports the syntax error itself.
		o.logger.Debug("Import scan failed", "err", err)
		return nil
	}
	names := append([]string(nil), imports...)
	for _, name := range imports {
		names = append(names, o.extraDeps[name]...)
	}
	return names
}

func (o *Orchestrator) afterLoad(ctx context.Context) packages.BatchFunc {
	return func(kind domain.PackageKind, names []string) {
		o.logger.Info("Packages loaded", "kind", kind, "packages", names)
		if o.lifecycle.OnPackagesLoaded != nil {
			o.lifecycle.OnPackagesLoaded(ctx, &domain.PackageEvent{
				EventBase: domain.EventBase{Timestamp: time.Now()},
				Kind:      kind,
				Packages:  names,
			})
		}
		if o.adapters == nil || o.deps.Packages == nil {
			return
		}
		if err := o.adapters.Apply(names, o.deps.Packages, o.publishDisplay); err != nil {
			o.logger.Warn("Adapting packages failed", "packages", names, "err", err)
		}
	}
}

// Display publishes the MIME bundle of v as an eval.display event. Guest
// values must be displayed from the kernel worker.
func (o *Orchestrator) Display(v any) error {
	bundle, err := format.Represent(v)
	if err != nil {
		return err
	}
	o.publishDisplay(domain.DisplayMultiple, bundle)
	return nil
}

// DisplayBinding is the guest-side display(...) function.
func (o *Orchestrator) DisplayBinding() ports.Func {
	return func(args []ports.Value) (any, error) {
		var errs []error
		for _, arg := range args {
			if err := o.Display(arg); err != nil {
				errs = append(errs, err)
			}
		}
		return nil, errors.Join(errs...)
	}
}

// publishDisplay tags the event with the auxiliary data and the counter of
// the evaluation running when it is called.
func (o *Orchestrator) publishDisplay(displayType string, content any) {
	count := o.deps.State.ExecutionCount()
	if o.lifecycle.OnDisplay != nil {
		o.lifecycle.OnDisplay(context.Background(), &domain.DisplayEvent{
			EventBase:      domain.EventBase{Timestamp: time.Now()},
			DisplayType:    displayType,
			ExecutionCount: count,
		})
	}
	o.deps.Bus.Publish(domain.EventEvalDisplay, domain.DisplayPayload(o.deps.State.EvalData(), displayType, content, count))
}
