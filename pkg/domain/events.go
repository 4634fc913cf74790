package domain

import (
	"context"
	"time"
)

// Event names exchanged on the kernel bus.
const (
	EventEvalRequest  = "eval.request"
	EventEvalOutput   = "eval.output"
	EventEvalDisplay  = "eval.display"
	EventEvalFinished = "eval.finished"
	EventEvalError    = "eval.error"
	EventFileDownload = "file.download"
)

// Stream identifies a guest output channel.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// DisplayMultiple is the display type of a MIME bundle published by display().
const DisplayMultiple = "multiple"

// EventBase contains common fields for all lifecycle events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
}

// EvalEvent describes one evaluation.
type EvalEvent struct {
	EventBase
	ExecutionCount int           `json:"execution_count"`
	Code           string        `json:"code"`
	Duration       time.Duration `json:"duration,omitempty"`
	Err            error         `json:"-"`
}

// PackageEvent describes a package batch that was just loaded.
type PackageEvent struct {
	EventBase
	Kind     PackageKind `json:"kind"`
	Packages []string    `json:"packages"`
}

// DisplayEvent describes a rich display published during an evaluation.
type DisplayEvent struct {
	EventBase
	DisplayType    string `json:"display_type"`
	ExecutionCount int    `json:"execution_count"`
}

// LifecycleHooks defines callbacks for kernel observability.
type LifecycleHooks struct {
	OnEvalStart      func(context.Context, *EvalEvent)
	OnEvalFinish     func(context.Context, *EvalEvent)
	OnPackagesLoaded func(context.Context, *PackageEvent)
	OnDisplay        func(context.Context, *DisplayEvent)
}

// Combine returns hooks that invoke every non-nil callback of each set in order.
func Combine(sets ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range sets {
		h := h
		if h.OnEvalStart != nil {
			prev := out.OnEvalStart
			out.OnEvalStart = func(ctx context.Context, e *EvalEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnEvalStart(ctx, e)
			}
		}
		if h.OnEvalFinish != nil {
			prev := out.OnEvalFinish
			out.OnEvalFinish = func(ctx context.Context, e *EvalEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnEvalFinish(ctx, e)
			}
		}
		if h.OnPackagesLoaded != nil {
			prev := out.OnPackagesLoaded
			out.OnPackagesLoaded = func(ctx context.Context, e *PackageEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnPackagesLoaded(ctx, e)
			}
		}
		if h.OnDisplay != nil {
			prev := out.OnDisplay
			out.OnDisplay = func(ctx context.Context, e *DisplayEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnDisplay(ctx, e)
			}
		}
	}
	return out
}
