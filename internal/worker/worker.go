// Package worker wraps one execution of a blocking server launch call.
//
// A Worker is single-use: Run executes the launcher at most once and reports
// exactly one terminal signal, optionally preceded by a launched milestone.
// To run the server again, create a new Worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrAlreadyRun is returned when Run is called on a worker that has already run.
var ErrAlreadyRun = errors.New("worker already run")

// anotherInstanceDetail is the crash detail reported when the slot is taken.
const anotherInstanceDetail = "another instance is active"

// Launcher is the opaque blocking server call.
type Launcher interface {
	// Launch runs the server described by configPath and blocks until it
	// exits. Cancelling ctx asks the server to shut down gracefully.
	// ready is called at most once when the server accepts connections;
	// launchers that cannot observe readiness never call it.
	// A nil return means a clean shutdown.
	Launch(ctx context.Context, configPath string, ready func()) error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, configPath string, ready func()) error

func (f LauncherFunc) Launch(ctx context.Context, configPath string, ready func()) error {
	return f(ctx, configPath, ready)
}

// Worker runs a Launcher once on behalf of a coordinator.
type Worker struct {
	configPath string
	launcher   Launcher
	slot       *Slot
	emit       func(Signal)

	ctx    context.Context
	cancel context.CancelFunc

	status atomic.Int32
	done   chan struct{}

	// emitMu orders the launched milestone before the terminal signal.
	emitMu       sync.Mutex
	launchedSent bool
	terminalSent bool
	detail       string
}

// New creates a worker bound to configPath. emit receives every signal and
// must return only once the signal has been fully processed.
// A nil slot means the worker does not coordinate with other workers.
func New(configPath string, launcher Launcher, slot *Slot, emit func(Signal)) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if slot == nil {
		slot = NewSlot()
	}
	return &Worker{
		configPath: configPath,
		launcher:   launcher,
		slot:       slot,
		emit:       emit,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// ConfigPath returns the configuration handle the worker was created with.
func (w *Worker) ConfigPath() string {
	return w.configPath
}

// Status returns the current execution status.
func (w *Worker) Status() Status {
	return Status(w.status.Load())
}

// Alive reports whether the launch call is still executing.
func (w *Worker) Alive() bool {
	return w.Status() == StatusRunning
}

// Detail returns the crash detail, or "" if the worker has not crashed.
func (w *Worker) Detail() string {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	return w.detail
}

// Done is closed after the terminal signal has been delivered.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run executes the launcher on the calling goroutine and blocks until it
// returns. It reports ErrAlreadyRun if called more than once.
func (w *Worker) Run() error {
	if !w.status.CompareAndSwap(int32(StatusNotStarted), int32(StatusRunning)) {
		return ErrAlreadyRun
	}
	defer close(w.done)
	defer w.cancel()

	if !w.slot.claim(w) {
		w.finish(Crashed(anotherInstanceDetail))
		return nil
	}

	// A stop requested before the goroutine got here is honoured without
	// launching the server at all.
	if w.ctx.Err() != nil {
		w.slot.release(w)
		w.finish(Terminated())
		return nil
	}

	err := w.launch()
	w.slot.release(w)

	if err != nil {
		w.finish(Crashed(err.Error()))
	} else {
		w.finish(Terminated())
	}
	return nil
}

// RequestStop asks the running launch call to return promptly. It does not
// wait for the worker to finish; the terminal signal reports that.
// It is a no-op once the worker has finished.
func (w *Worker) RequestStop() {
	if w.Status().IsTerminal() {
		return
	}
	w.cancel()
}

func (w *Worker) launch() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("server panicked: %v", r)
		}
	}()
	return w.launcher.Launch(w.ctx, w.configPath, w.ready)
}

func (w *Worker) ready() {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	if w.launchedSent || w.terminalSent {
		return
	}
	w.launchedSent = true
	w.emit(Launched())
}

func (w *Worker) finish(sig Signal) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	w.terminalSent = true
	w.detail = sig.Detail
	if sig.Kind == KindCrashed {
		w.status.Store(int32(StatusCrashed))
	} else {
		w.status.Store(int32(StatusTerminated))
	}
	w.emit(sig)
}
