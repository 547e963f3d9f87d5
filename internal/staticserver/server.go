// Package staticserver is the caller-side view of the background server:
// a state machine over the coordinator that resolves the address, writes the
// server config and tracks crashes reported after start.
package staticserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/benaskins/staticd/internal/coordinator"
	"github.com/benaskins/staticd/internal/events"
	"github.com/benaskins/staticd/internal/netutil"
	"github.com/benaskins/staticd/internal/serverconf"
	"github.com/benaskins/staticd/internal/worker"
)

// ErrUnstableState is returned when an operation finds a start or stop
// still in progress.
var ErrUnstableState = errors.New("server is in an unstable state")

// Lifecycle starts and stops the underlying server.
type Lifecycle interface {
	Start(ctx context.Context, configPath, correlationID string) *coordinator.Future
	Stop(ctx context.Context) *coordinator.Future
}

// Subscriber delivers coordinator events.
type Subscriber interface {
	Subscribe(n int) (*events.Subscription, error)
}

// Options describe the server to run.
type Options struct {
	FileDir  string
	Hostname string
	Port     int
	// PortMin and PortMax bound automatic port selection when Port is 0.
	PortMin, PortMax int
	// NonLocal serves on the LAN address instead of loopback.
	NonLocal     bool
	WorkDir      string
	ConfigFormat serverconf.Format
	ErrorLog     *serverconf.ErrorLogOptions
}

// Status is a point-in-time snapshot of a Server.
type Status struct {
	ID            string `json:"id"`
	State         State  `json:"state"`
	Origin        string `json:"origin,omitempty"`
	Hostname      string `json:"hostname,omitempty"`
	Port          int    `json:"port,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	LastDetail    string `json:"last_detail,omitempty"`
}

// Server manages one static server through a Lifecycle.
type Server struct {
	id     string
	lc     Lifecycle
	logger *slog.Logger

	// opMu serializes Start, Stop and SetOptions.
	opMu sync.Mutex
	// transMu orders state transitions and their listener calls.
	// Listeners must not change the server's state.
	transMu sync.Mutex

	mu         sync.Mutex
	opts       Options
	state      State
	hostname   string
	port       int
	origin     string
	runID      string
	configPath string
	lastDetail string
	listeners  []listenerEntry
	nextID     int
	// earlyExit holds a crash or termination of the current run seen
	// before Start marked the server active.
	earlyExit *coordinator.Event

	sub  *events.Subscription
	done chan struct{}
}

// New creates a server. If sub is non-nil the server follows coordinator
// events to notice crashes after a successful start. Call Close to detach.
func New(opts Options, lc Lifecycle, sub Subscriber) (*Server, error) {
	if opts.FileDir == "" {
		return nil, fmt.Errorf("file dir must be a non-empty path")
	}
	if opts.ConfigFormat == "" {
		opts.ConfigFormat = serverconf.FormatYAML
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}

	s := &Server{
		id:     uuid.NewString(),
		lc:     lc,
		opts:   opts,
		state:  StateInactive,
		done:   make(chan struct{}),
		logger: slog.With("component", "staticserver"),
	}
	s.resetAddress()

	if sub != nil {
		subscription, err := sub.Subscribe(0)
		if err != nil {
			return nil, fmt.Errorf("subscribing to events: %w", err)
		}
		s.sub = subscription
		go s.watch()
	} else {
		close(s.done)
	}
	return s, nil
}

// resetAddress applies the configured hostname and port. Caller holds mu
// or owns s exclusively.
func (s *Server) resetAddress() {
	s.hostname = s.opts.Hostname
	if s.opts.NonLocal && (s.hostname == "localhost" || s.hostname == "127.0.0.1") {
		s.hostname = ""
	}
	s.port = s.opts.Port
}

// Close stops following events. It does not stop the server.
func (s *Server) Close() {
	if s.sub != nil {
		s.sub.Close()
	}
	<-s.done
}

// AddStateListener registers fn and returns a function that removes it.
func (s *Server) AddStateListener(fn Listener) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Server) setState(neu State, details string) {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	s.transition(neu, details)
}

// transition requires transMu.
func (s *Server) transition(neu State, details string) {
	s.mu.Lock()
	s.state = neu
	s.lastDetail = details
	listeners := append([]listenerEntry(nil), s.listeners...)
	s.mu.Unlock()

	s.logger.Info("state changed", "id", s.id, "state", string(neu), "details", details)
	for _, l := range listeners {
		l.fn(neu, details)
	}
}

// Start launches the server and returns its origin once it is ready. It
// returns the current origin at once if the server is already active.
// The hostname and port resolved on the first start are reused later.
func (s *Server) Start(ctx context.Context, details string) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch st := s.State(); {
	case !st.Stable():
		return "", fmt.Errorf("%w: %s", ErrUnstableState, st)
	case st == StateActive:
		return s.Origin(), nil
	}

	s.mu.Lock()
	s.earlyExit = nil
	s.mu.Unlock()
	s.setState(StateStarting, details)

	origin, err := s.start(ctx)
	s.removeConfigFile()
	if err != nil {
		s.setState(StateCrashed, err.Error())
		return "", err
	}
	s.activate()
	return origin, nil
}

// activate moves a started server to active, then applies any exit of
// the run that was reported while it was still starting.
func (s *Server) activate() {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.mu.Lock()
	exit := s.earlyExit
	s.earlyExit = nil
	s.mu.Unlock()

	s.transition(StateActive, "")
	if exit != nil {
		s.applyExit(*exit)
	}
}

func (s *Server) start(ctx context.Context) (string, error) {
	if err := s.resolveAddress(); err != nil {
		return "", err
	}

	s.mu.Lock()
	opts := serverconf.Options{
		FileDir:  s.opts.FileDir,
		Hostname: s.hostname,
		Port:     s.port,
		ErrorLog: s.opts.ErrorLog,
	}
	workDir, format := s.opts.WorkDir, s.opts.ConfigFormat
	s.mu.Unlock()

	path, err := serverconf.Write(workDir, opts, format)
	if err != nil {
		return "", err
	}
	runID := uuid.NewString()

	s.mu.Lock()
	s.configPath = path
	s.runID = runID
	s.mu.Unlock()

	f := s.lc.Start(ctx, path, runID)
	<-f.Done()
	if _, err := f.Result(); err != nil {
		return "", err
	}

	origin := "http://" + net.JoinHostPort(opts.Hostname, strconv.Itoa(opts.Port))
	s.mu.Lock()
	s.origin = origin
	s.mu.Unlock()
	return origin, nil
}

// resolveAddress fills in the LAN address and a free port on first use.
func (s *Server) resolveAddress() error {
	s.mu.Lock()
	hostname, port := s.hostname, s.port
	min, max := s.opts.PortMin, s.opts.PortMax
	s.mu.Unlock()

	if hostname == "" {
		ip, err := netutil.LocalIPAddress()
		if err != nil {
			return err
		}
		hostname = ip
	}
	if port == 0 {
		var err error
		if min > 0 {
			port, err = netutil.PortInRange(hostname, min, max)
		} else {
			port, err = netutil.OpenPort(hostname)
		}
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.hostname, s.port = hostname, port
	s.mu.Unlock()
	return nil
}

func (s *Server) removeConfigFile() {
	s.mu.Lock()
	path := s.configPath
	s.configPath = ""
	s.mu.Unlock()
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("removing config file", "path", path, "error", err)
		}
	}
}

// Stop shuts the server down. It does nothing unless the server is active
// or crashed; stopping a crashed server clears the crash.
func (s *Server) Stop(ctx context.Context, details string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch st := s.State(); st {
	case StateActive, StateCrashed:
	case StateInactive:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnstableState, st)
	}

	s.setState(StateStopping, details)

	f := s.lc.Stop(ctx)
	<-f.Done()
	if _, err := f.Result(); err != nil {
		s.setState(StateCrashed, err.Error())
		return err
	}

	s.mu.Lock()
	s.origin = ""
	s.runID = ""
	s.mu.Unlock()
	s.setState(StateInactive, "")
	return nil
}

// SetOptions replaces the server options. The server must not be active.
// A changed hostname or port is resolved again on the next start.
func (s *Server) SetOptions(opts Options) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if st := s.State(); st == StateActive || !st.Stable() {
		return fmt.Errorf("cannot change options while %s", st)
	}
	if opts.FileDir == "" {
		return fmt.Errorf("file dir must be a non-empty path")
	}
	if opts.ConfigFormat == "" {
		opts.ConfigFormat = serverconf.FormatYAML
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	addrChanged := opts.Hostname != s.opts.Hostname || opts.Port != s.opts.Port ||
		opts.NonLocal != s.opts.NonLocal || opts.PortMin != s.opts.PortMin || opts.PortMax != s.opts.PortMax
	s.opts = opts
	if addrChanged {
		s.resetAddress()
	}
	return nil
}

// watch follows coordinator events for the current run.
func (s *Server) watch() {
	defer close(s.done)
	for ev := range s.sub.C {
		if ev.Signal != worker.KindCrashed && ev.Signal != worker.KindTerminated {
			continue
		}
		s.transMu.Lock()
		s.mu.Lock()
		current := ev.CorrelationID == s.runID && s.runID != ""
		state := s.state
		if current && state == StateStarting {
			s.earlyExit = &ev
		}
		s.mu.Unlock()
		if current && state == StateActive {
			s.applyExit(ev)
		}
		s.transMu.Unlock()
	}
}

// applyExit requires transMu.
func (s *Server) applyExit(ev coordinator.Event) {
	switch ev.Signal {
	case worker.KindCrashed:
		s.transition(StateCrashed, ev.Detail)
	case worker.KindTerminated:
		s.transition(StateInactive, "server terminated")
	}
}

// ID identifies this server object.
func (s *Server) ID() string { return s.id }

// State returns the current state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Origin returns http://host:port while active, or "".
func (s *Server) Origin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin
}

// Hostname returns the resolved hostname, or "" before the first start.
func (s *Server) Hostname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostname
}

// Port returns the resolved port, or 0 before the first start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Options returns the current options.
func (s *Server) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// Status returns a snapshot.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:            s.id,
		State:         s.state,
		Origin:        s.origin,
		Hostname:      s.hostname,
		Port:          s.port,
		CorrelationID: s.runID,
		LastDetail:    s.lastDetail,
	}
}
