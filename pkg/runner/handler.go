package runner

import (
	"context"

	"github.com/aretw0/basthon/pkg/domain"
)

// IOHandler defines the strategy for interacting with the user.
// This allows switching between Text (REPL) and JSON (Structured) modes.
type IOHandler interface {
	// Input reads the next cell. It returns io.EOF when the input is exhausted.
	Input(ctx context.Context) (domain.EvalRequest, error)

	// Output presents one kernel event.
	Output(ctx context.Context, event string, payload domain.Payload) error

	// SystemOutput presents a meta-message to the user (e.g. a restart notice).
	// This is distinct from guest output.
	SystemOutput(ctx context.Context, msg string) error
}
