// Package supervisor restarts the static server after it crashes at runtime.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/benaskins/staticd/internal/config"
	"github.com/benaskins/staticd/internal/staticserver"
)

const (
	ModeNever     = "never"
	ModeOnFailure = "on-failure"
	ModeAlways    = "always"
)

// burstWindow is the time it takes for one restart token to refill.
const burstWindow = time.Minute

const defaultDelay = time.Second

// Policy decides whether and when to restart.
type Policy struct {
	Mode        string
	MaxAttempts int // 0 means unlimited
	Delay       time.Duration
	Backoff     string // "fixed" | "exponential"
	MaxDelay    time.Duration
	Burst       int
}

// PolicyFromConfig converts the daemon's restart section.
func PolicyFromConfig(r config.Restart) Policy {
	return Policy{
		Mode:        r.Policy,
		MaxAttempts: r.MaxAttempts,
		Delay:       r.Delay.Duration,
		Backoff:     r.Backoff,
		MaxDelay:    r.MaxDelay.Duration,
		Burst:       r.Burst,
	}
}

// Target is the server being supervised.
type Target interface {
	Start(ctx context.Context, details string) (string, error)
	AddStateListener(fn staticserver.Listener) (remove func())
}

// Supervisor watches a Target's state and restarts it per its Policy.
type Supervisor struct {
	target  Target
	policy  Policy
	limiter *rate.Limiter
	logger  *slog.Logger

	trigger chan string
	remove  func()
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	last     staticserver.State
	restarts int
	// abort cancels the recovery in flight, if any.
	abort context.CancelFunc
}

// New attaches a supervisor to target. Call Stop to detach.
func New(target Target, p Policy) *Supervisor {
	if p.Mode == "" {
		p.Mode = ModeNever
	}
	if p.Delay <= 0 {
		p.Delay = defaultDelay
	}
	burst := p.Burst
	if burst <= 0 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		target:  target,
		policy:  p,
		limiter: rate.NewLimiter(rate.Every(burstWindow), burst),
		logger:  slog.With("component", "supervisor", "policy", p.Mode),
		trigger: make(chan string, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
		last:    staticserver.StateInactive,
	}
	s.remove = target.AddStateListener(s.observe)
	go s.loop(ctx)
	return s
}

// Restarts returns how many restarts have been attempted.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Stop detaches from the target and abandons any pending restart.
func (s *Supervisor) Stop() {
	s.remove()
	s.cancel()
	<-s.done
}

func (s *Supervisor) observe(st staticserver.State, details string) {
	s.mu.Lock()
	prev := s.last
	s.last = st
	abort := s.abort
	s.mu.Unlock()

	// A user-initiated stop wins over a pending restart.
	if st == staticserver.StateStopping && abort != nil {
		abort()
	}
	if prev != staticserver.StateActive {
		return
	}

	switch {
	case st == staticserver.StateCrashed && s.policy.Mode != ModeNever:
	case st == staticserver.StateInactive && s.policy.Mode == ModeAlways:
	default:
		return
	}

	select {
	case s.trigger <- details:
	default:
	}
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-s.trigger:
			s.recover(ctx, reason)
		}
	}
}

func (s *Supervisor) recover(parent context.Context, reason string) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.abort = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.abort = nil
		s.mu.Unlock()
		cancel()
	}()

	s.logger.Warn("server went down", "reason", reason)
	for {
		if !s.shouldRestart() {
			s.logger.Info("restart policy exhausted, giving up", "restarts", s.Restarts())
			return
		}

		delay := s.restartDelay()
		s.logger.Info("restarting after delay", "delay", delay, "restart_count", s.Restarts())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()

		origin, err := s.target.Start(ctx, "restart")
		if err == nil {
			s.logger.Info("server restarted", "origin", origin)
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("restart failed", "error", err)
	}
}

func (s *Supervisor) shouldRestart() bool {
	if s.policy.MaxAttempts <= 0 {
		return true
	}
	return s.Restarts() < s.policy.MaxAttempts
}

func (s *Supervisor) restartDelay() time.Duration {
	delay := s.policy.Delay
	if s.policy.Backoff != "exponential" {
		return delay
	}

	for i := 0; i < s.Restarts(); i++ {
		delay *= 2
		if delay <= 0 { // overflow
			delay = 24 * time.Hour
			break
		}
	}
	if s.policy.MaxDelay > 0 && delay > s.policy.MaxDelay {
		delay = s.policy.MaxDelay
	}
	return delay
}
