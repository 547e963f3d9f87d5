// Package coordinator owns the lifecycle of the single background server.
//
// Start and Stop requests are serialized through a FIFO-fair gate. A request
// holds the gate from the moment it is recorded as pending until the first
// worker signal settles it. Signals that arrive with nothing pending are
// forwarded to an EventSink.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/benaskins/staticd/internal/worker"
)

// DefaultStopTimeout bounds how long a stop request waits for the server to exit.
const DefaultStopTimeout = 30 * time.Second

// Option configures the coordinator.
type Option func(*Coordinator)

// WithStopTimeout sets how long a stop request waits for a terminal signal.
// Zero or negative disables the timeout.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.stopTimeout = d
	}
}

// WithSlot sets the slot shared by the coordinator's workers. Defaults to
// worker.ProcessSlot.
func WithSlot(s *worker.Slot) Option {
	return func(c *Coordinator) {
		c.slot = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// run is one worker plus the correlation id it was started with.
type run struct {
	w  *worker.Worker
	id string
}

type pending struct {
	kind   OutcomeKind
	run    *run
	future *Future
	timer  *time.Timer
}

type delivery struct {
	run *run
	sig worker.Signal
	ack chan struct{}
}

// Coordinator starts and stops one server at a time.
type Coordinator struct {
	launcher    worker.Launcher
	sink        EventSink
	slot        *worker.Slot
	stopTimeout time.Duration
	logger      *slog.Logger

	gate *semaphore.Weighted

	mu      sync.Mutex
	current *run
	pending *pending

	deliveries chan delivery
	closed     chan struct{}
	closeOnce  sync.Once
	loopDone   chan struct{}
}

// New creates a coordinator that runs launcher and reports unclaimed signals
// to sink. A nil sink discards events. Call Close to stop signal routing.
func New(launcher worker.Launcher, sink EventSink, opts ...Option) *Coordinator {
	if sink == nil {
		sink = discardSink{}
	}
	c := &Coordinator{
		launcher:    launcher,
		sink:        sink,
		slot:        worker.ProcessSlot,
		stopTimeout: DefaultStopTimeout,
		logger:      slog.With("component", "coordinator"),
		gate:        semaphore.NewWeighted(1),
		deliveries:  make(chan delivery),
		closed:      make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.route()
	return c
}

// Start launches the server with configPath. It blocks only while waiting
// for the gate; the outcome is delivered through the returned Future.
func (c *Coordinator) Start(ctx context.Context, configPath, correlationID string) *Future {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		c.logger.Error("gate acquire failed", "op", "start", "correlation_id", correlationID, "error", err)
		return settled(Outcome{}, newError(ErrInternal, correlationID, "gate-acquire-failed"))
	}

	c.mu.Lock()
	if c.current != nil {
		active := c.current.id
		c.mu.Unlock()
		c.gate.Release(1)
		c.logger.Warn("start rejected", "correlation_id", correlationID, "active", active)
		return settled(Outcome{}, newError(ErrAnotherInstanceActive, correlationID, ""))
	}
	if c.pending != nil {
		c.mu.Unlock()
		c.gate.Release(1)
		c.logger.Error("unexpected pending request", "op", "start", "correlation_id", correlationID)
		return settled(Outcome{}, newError(ErrInternal, correlationID, "unexpected pending request"))
	}

	r := &run{id: correlationID}
	r.w = worker.New(configPath, c.launcher, c.slot, func(sig worker.Signal) {
		c.deliver(r, sig)
	})
	p := &pending{kind: OutcomeStart, run: r, future: newFuture()}
	c.pending = p
	c.current = r
	c.mu.Unlock()

	c.logger.Info("starting server", "correlation_id", correlationID, "config", configPath)
	go r.w.Run()
	return p.future
}

// Stop asks the running server to exit. Stopping when nothing runs succeeds
// immediately.
func (c *Coordinator) Stop(ctx context.Context) *Future {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		c.logger.Error("gate acquire failed", "op", "stop", "error", err)
		return settled(Outcome{}, newError(ErrInternal, "", "gate-acquire-failed"))
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		c.gate.Release(1)
		c.logger.Error("unexpected pending request", "op", "stop")
		return settled(Outcome{}, newError(ErrInternal, "", "unexpected pending request"))
	}
	if c.current == nil {
		c.mu.Unlock()
		c.gate.Release(1)
		return settled(Outcome{Kind: OutcomeStop, Detail: "already stopped"}, nil)
	}

	r := c.current
	p := &pending{kind: OutcomeStop, run: r, future: newFuture()}
	if c.stopTimeout > 0 {
		p.timer = time.AfterFunc(c.stopTimeout, func() { c.expire(p) })
	}
	c.pending = p
	c.mu.Unlock()

	c.logger.Info("stopping server", "correlation_id", r.id)
	r.w.RequestStop()
	return p.future
}

// IsRunning reports whether a server is currently executing.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.w.Alive()
}

// CorrelationID returns the id the current server was started with, or "".
func (c *Coordinator) CorrelationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.id
}

// Close stops the routing goroutine. Signals delivered afterwards are
// handled on the worker's goroutine. Close does not stop a running server.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	<-c.loopDone
}

func (c *Coordinator) deliver(r *run, sig worker.Signal) {
	d := delivery{run: r, sig: sig, ack: make(chan struct{})}
	select {
	case c.deliveries <- d:
		<-d.ack
	case <-c.closed:
		c.handle(r, sig)
	}
}

func (c *Coordinator) route() {
	defer close(c.loopDone)
	for {
		select {
		case d := <-c.deliveries:
			c.handle(d.run, d.sig)
			close(d.ack)
		case <-c.closed:
			return
		}
	}
}

// handle applies one worker signal. State changes happen under mu; the
// future is settled and the gate released before handle returns, so they
// are visible before the worker goroutine proceeds.
func (c *Coordinator) handle(r *run, sig worker.Signal) {
	c.mu.Lock()
	if sig.Kind != worker.KindLaunched && c.current == r {
		c.current = nil
	}

	p := c.pending
	if p == nil || (p.kind == OutcomeStop && sig.Kind == worker.KindLaunched) {
		c.mu.Unlock()
		c.forward(r, sig)
		return
	}
	if p.run != r {
		c.mu.Unlock()
		c.logger.Error("signal from unexpected worker", "pending", p.run.id, "correlation_id", r.id, "signal", sig.String())
		c.forward(r, sig)
		return
	}
	c.pending = nil
	c.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}

	var err error
	outcome := Outcome{Kind: p.kind, CorrelationID: r.id, Detail: string(sig.Kind)}
	if p.kind == OutcomeStart && sig.Kind == worker.KindCrashed {
		err = newError(ErrLaunchFailure, r.id, sig.Detail)
		outcome = Outcome{}
	}
	p.future.settle(outcome, err)
	c.gate.Release(1)

	if err != nil {
		c.logger.Warn("start failed", "correlation_id", r.id, "detail", sig.Detail)
	} else {
		c.logger.Info("request settled", "op", string(p.kind), "correlation_id", r.id, "signal", string(sig.Kind))
	}
}

func (c *Coordinator) forward(r *run, sig worker.Signal) {
	if sig.Kind == worker.KindCrashed {
		c.logger.Warn("server event", "correlation_id", r.id, "signal", sig.String())
	} else {
		c.logger.Debug("server event", "correlation_id", r.id, "signal", sig.String())
	}
	c.sink.Emit(Event{
		CorrelationID: r.id,
		Signal:        sig.Kind,
		Detail:        sig.Detail,
		Time:          time.Now(),
	})
}

// expire settles a stop request that outlived the stop timeout. The worker
// stays current until it actually exits.
func (c *Coordinator) expire(p *pending) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	c.logger.Error("stop timed out", "correlation_id", p.run.id, "timeout", c.stopTimeout)
	p.future.settle(Outcome{}, newError(ErrStopTimeout, p.run.id, ""))
	c.gate.Release(1)
}
