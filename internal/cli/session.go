package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/basthon"
	"github.com/aretw0/basthon/internal/presentation/tui"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/runner"
	"golang.org/x/term"
)

// ErrEvaluationFailed is returned by RunFile when the script raised an error.
// The error itself has already been written to the output.
var ErrEvaluationFailed = errors.New("evaluation failed")

// SessionOptions configure a REPL or script session.
type SessionOptions struct {
	Options
	JSON   bool
	Stdin  io.Reader
	Stdout io.Writer
}

func (o SessionOptions) streams() (io.Reader, io.Writer) {
	in, out := o.Stdin, o.Stdout
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return in, out
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// RunREPL reads cells until the input ends or ctx is cancelled.
func RunREPL(ctx context.Context, opts SessionOptions) error {
	in, out := opts.streams()
	interactive := !opts.JSON && isTerminal(in)

	cfg, err := loadConfig(opts.Options)
	if err != nil {
		return err
	}
	logger := createLogger(opts.Debug, true, cfg.LogLevel)

	k, closeKernel, err := newKernel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKernel()

	var handler runner.IOHandler
	if opts.JSON {
		handler = runner.NewJSONHandler(in, out)
	} else {
		if interactive {
			tui.PrintBanner(out, basthon.Version)
		}
		handler = runner.NewTextHandler(in, out,
			runner.WithTextHandlerRenderer(tui.NewRenderer()),
			runner.WithQuiet(!interactive),
		)
	}

	r := runner.NewRunner(
		runner.WithKernel(k),
		runner.WithInputHandler(handler),
		runner.WithLogger(logger),
		runner.WithHeadless(!interactive),
	)
	return handleExecutionError(r.Run(ctx))
}

// RunFile evaluates a script as a single cell. A path of "-" reads Stdin.
func RunFile(ctx context.Context, opts SessionOptions, path string) error {
	in, out := opts.streams()

	var (
		code []byte
		err  error
	)
	if path == "-" {
		code, err = io.ReadAll(in)
	} else {
		code, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	cfg, err := loadConfig(opts.Options)
	if err != nil {
		return err
	}
	logger := createLogger(opts.Debug, true, cfg.LogLevel)

	k, closeKernel, err := newKernel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKernel()

	var handler runner.IOHandler
	if opts.JSON {
		handler = runner.NewJSONHandler(in, out)
	} else {
		th := runner.NewTextHandler(in, out, runner.WithTextHandlerRenderer(tui.NewRenderer()), runner.WithQuiet(true))
		if path != "-" {
			// The script is not on stdin, so input() may read it.
			defer k.SetInputProvider(th)()
		}
		handler = th
	}
	for _, name := range []string{
		domain.EventEvalOutput,
		domain.EventEvalDisplay,
		domain.EventEvalFinished,
		domain.EventEvalError,
		domain.EventFileDownload,
	} {
		name := name
		defer k.Subscribe(name, func(p domain.Payload) error {
			return handler.Output(ctx, name, p)
		})()
	}

	aux := map[string]any{"source": path}
	_, err = k.Run(ctx, string(code), aux)
	var fault *domain.EvaluationFault
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fault):
		return ErrEvaluationFailed
	case isInterrupted(err):
		return nil
	default:
		handler.Output(ctx, domain.EventEvalOutput, domain.OutputPayload(aux, domain.StreamStderr, err.Error()))
		handler.Output(ctx, domain.EventEvalError, domain.ErrorPayload(aux, err, k.ExecutionCount()))
		return err
	}
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}

func handleExecutionError(err error) error {
	if err == nil || isInterrupted(err) {
		return nil // Exit 0 for interruptions
	}
	return err
}
