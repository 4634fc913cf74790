package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/ports"
)

// Commands understood by the runner itself. Any other cell is guest code.
const (
	CommandExit    = "exit"
	CommandQuit    = "quit"
	CommandRestart = "%restart"
)

// renderedEvents are forwarded from the kernel bus to the handler.
var renderedEvents = []string{
	domain.EventEvalOutput,
	domain.EventEvalDisplay,
	domain.EventEvalFinished,
	domain.EventEvalError,
	domain.EventFileDownload,
}

// Kernel is the part of the kernel the runner drives.
type Kernel interface {
	Run(ctx context.Context, code string, aux map[string]any) (*domain.Result, error)
	Subscribe(name string, h ports.EventHandler) (unsubscribe func())
	Restart(ctx context.Context) error
	ExecutionCount() int
}

// inputSetter is implemented by kernels whose guest code can read input.
type inputSetter interface {
	SetInputProvider(p ports.InputProvider) (restore func())
}

// ContentRenderer transforms markdown before it is written to a terminal.
type ContentRenderer func(string) (string, error)

// Runner is a read-eval-print loop over a kernel.
// It uses an IOHandler strategy to abstract the interaction mode (Text vs JSON).
type Runner struct {
	// Handler is the strategy for IO. Defaults to a TextHandler on Stdin/Stdout.
	Handler IOHandler

	// Logger is used for internal debug logging.
	// If nil, a no-op logger is used.
	Logger *slog.Logger

	// Headless suppresses system messages.
	Headless bool

	// Renderer is passed to the default TextHandler.
	Renderer ContentRenderer

	kernel Kernel
}

// NewRunner creates a Runner configured by opts.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads cells until the input is exhausted, an exit command is read or
// ctx is cancelled. Evaluation failures are reported through the handler and
// do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.kernel == nil {
		return errors.New("runner: no kernel configured")
	}
	handler := r.resolveHandler()

	if p, ok := handler.(ports.InputProvider); ok {
		if k, ok := r.kernel.(inputSetter); ok {
			defer k.SetInputProvider(p)()
		}
	}

	for _, name := range renderedEvents {
		name := name
		unsubscribe := r.kernel.Subscribe(name, func(p domain.Payload) error {
			return handler.Output(ctx, name, p)
		})
		defer unsubscribe()
	}

	for {
		req, err := handler.Input(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidRequest) {
				r.report(ctx, handler, req.Data, err)
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				r.Logger.Debug("Runner input closed", "err", err)
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}

		switch strings.TrimSpace(req.Code) {
		case CommandExit, CommandQuit:
			return nil
		case CommandRestart:
			if err := r.kernel.Restart(ctx); err != nil {
				return fmt.Errorf("restart failed: %w", err)
			}
			if !r.Headless {
				handler.SystemOutput(ctx, "namespace restarted")
			}
			continue
		}

		if err := r.eval(ctx, handler, req); err != nil {
			return err
		}
	}
}

// eval runs one cell. Only a stopped kernel or a cancelled context ends the
// loop.
func (r *Runner) eval(ctx context.Context, handler IOHandler, req domain.EvalRequest) error {
	_, err := r.kernel.Run(ctx, req.Code, req.Data)
	if err == nil {
		return nil
	}
	var fault *domain.EvaluationFault
	switch {
	case errors.Is(err, domain.ErrKernelStopped):
		return err
	case ctx.Err() != nil:
		return nil
	case errors.As(err, &fault):
		// Already published by the kernel.
		r.Logger.Debug("Cell failed", "execution_count", fault.ExecutionCount, "err", err)
		return nil
	default:
		// Loader failures are not published by Run; report them here.
		r.report(ctx, handler, req.Data, err)
		return nil
	}
}

// report mirrors the kernel's fault publication for failures that never
// reached the bus.
func (r *Runner) report(ctx context.Context, handler IOHandler, aux map[string]any, err error) {
	count := r.kernel.ExecutionCount()
	handler.Output(ctx, domain.EventEvalOutput, domain.OutputPayload(aux, domain.StreamStderr, err.Error()))
	handler.Output(ctx, domain.EventEvalError, domain.ErrorPayload(aux, err, count))
}

// resolveHandler ensures a valid IOHandler is set.
func (r *Runner) resolveHandler() IOHandler {
	if r.Handler != nil {
		return r.Handler
	}
	th := NewTextHandler(nil, nil, WithTextHandlerRenderer(r.Renderer), WithQuiet(r.Headless))
	r.Handler = th
	return th
}
