package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/basthon/pkg/domain"
)

// request is a unit of work executed on the worker goroutine.
type request struct {
	fn   func() error
	done chan error
}

// Worker serializes all namespace access through a single goroutine.
// Guest interpreters are single-threaded; every evaluation, restart and
// history read goes through the worker, in submission order.
type Worker struct {
	requests chan request
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker() *Worker {
	w := &Worker{
		requests: make(chan request),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *Worker) execute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel panic: %v", r)
		}
	}()
	return fn()
}

// Do submits fn and blocks until it has run. A context cancelled before the
// worker picks fn up abandons the submission; once fn runs, Do waits for it.
func (w *Worker) Do(ctx context.Context, fn func() error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return domain.ErrKernelStopped
	}
	return <-req.done
}

// Stop shuts the worker down and waits for the goroutine to exit.
// Work already running completes first.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.stopped
}
