package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKernelStopped is returned when work is submitted to a kernel that has been closed.
var ErrKernelStopped = errors.New("kernel stopped")

// ErrNotStarted is returned when an evaluation is attempted before the namespace exists.
var ErrNotStarted = errors.New("kernel not started")

// ErrBootstrapMissing is returned when an external install is attempted before
// the bootstrap package is enabled in the guest runtime.
var ErrBootstrapMissing = errors.New("bootstrap package not loaded")

// ErrModuleNotFound is returned when a package or module cannot be resolved.
var ErrModuleNotFound = errors.New("module not found")

// ErrBackupNotFound is returned when a key cannot be found in the backup store.
var ErrBackupNotFound = errors.New("backup not found")

// ErrInvalidRequest is returned when an eval.request payload cannot be decoded.
var ErrInvalidRequest = errors.New("invalid request")

// ErrQueueFull is returned when the request queue of a listening kernel is saturated.
var ErrQueueFull = errors.New("request queue full")

// LoaderError reports a failed package batch.
type LoaderError struct {
	Kind     PackageKind
	Packages []string
	Err      error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("loading %s packages [%s]: %v", e.Kind, strings.Join(e.Packages, ", "), e.Err)
}

func (e *LoaderError) Unwrap() error { return e.Err }

// EvaluationFault is an error raised by guest code. Its message is the guest's
// own textual description of the error.
type EvaluationFault struct {
	ExecutionCount int
	Err            error
}

func (e *EvaluationFault) Error() string {
	if e.Err == nil {
		return "evaluation fault"
	}
	return e.Err.Error()
}

func (e *EvaluationFault) Unwrap() error { return e.Err }

// StagingError reports a failed file or module placement.
type StagingError struct {
	Op   string
	Path string
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// ErrorInfo renders an error as a serializable record for event payloads.
func ErrorInfo(err error) map[string]any {
	if err == nil {
		return nil
	}
	name := "Error"
	var (
		loader  *LoaderError
		fault   *EvaluationFault
		staging *StagingError
	)
	switch {
	case errors.As(err, &fault):
		name = "EvaluationFault"
	case errors.As(err, &loader):
		name = "LoaderError"
	case errors.As(err, &staging):
		name = "StagingError"
	}
	return map[string]any{
		"name":    name,
		"message": err.Error(),
	}
}
