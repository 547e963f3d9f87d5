// Package daemon wires the static server together: config, launcher,
// coordinator, event bus and journal, server state machine and restart
// supervisor.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/benaskins/staticd/internal/config"
	"github.com/benaskins/staticd/internal/coordinator"
	"github.com/benaskins/staticd/internal/events"
	"github.com/benaskins/staticd/internal/launcher"
	"github.com/benaskins/staticd/internal/netutil"
	"github.com/benaskins/staticd/internal/serverconf"
	"github.com/benaskins/staticd/internal/staticserver"
	"github.com/benaskins/staticd/internal/supervisor"
	"github.com/benaskins/staticd/internal/worker"
)

// Daemon owns the single static server and everything around it.
type Daemon struct {
	configPath string
	stateDir   string
	launcher   worker.Launcher
	slot       *worker.Slot

	cfg     *config.Config
	base    staticserver.Options // options derived from cfg, before any saved port
	coord   *coordinator.Coordinator
	bus     *events.Bus
	journal *events.Journal
	server  *staticserver.Server
	super   *supervisor.Supervisor
	state   *stateFile

	mu     sync.RWMutex
	logger *slog.Logger
	ctx    context.Context // daemon lifecycle context, set in Start()

	// reloadMu serializes Reload; mu is never held across server I/O.
	reloadMu sync.Mutex
}

// Option configures the daemon.
type Option func(*Daemon)

// WithLauncher replaces the launcher built from the config.
func WithLauncher(l worker.Launcher) Option {
	return func(d *Daemon) {
		d.launcher = l
	}
}

// WithStateDir sets the directory for the daemon state file.
func WithStateDir(dir string) Option {
	return func(d *Daemon) {
		d.stateDir = dir
	}
}

// WithSlot sets the process-wide slot shared by workers.
func WithSlot(s *worker.Slot) Option {
	return func(d *Daemon) {
		d.slot = s
	}
}

// New builds a daemon from cfg. configPath is re-read by Reload.
func New(configPath string, cfg *config.Config, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		configPath: configPath,
		stateDir:   config.Dir(),
		slot:       worker.ProcessSlot,
		cfg:        cfg,
		logger:     slog.With("component", "daemon"),
		ctx:        context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.Server.FileDir == "" {
		return nil, fmt.Errorf("server.file_dir is required")
	}

	if d.launcher == nil {
		l, err := launcher.New(cfg.Launcher, slog.With("component", "launcher", "type", cfg.Launcher.Type))
		if err != nil {
			return nil, fmt.Errorf("building launcher: %w", err)
		}
		d.launcher = l
	}

	d.bus = events.NewBus()
	var sink coordinator.EventSink = d.bus
	if cfg.Journal != "" {
		j, err := events.OpenJournal(cfg.Journal)
		if err != nil {
			d.bus.Close()
			return nil, err
		}
		d.journal = j
		sink = events.Tee(d.bus, j)
	}

	d.coord = coordinator.New(d.launcher, sink,
		coordinator.WithStopTimeout(cfg.StopTimeout.Duration),
		coordinator.WithSlot(d.slot),
	)

	d.state = newStateFile(d.stateDir)
	d.base = serverOptions(cfg)
	server, err := staticserver.New(d.withSavedPort(d.base), d.coord, d.bus)
	if err != nil {
		d.closeInfra()
		return nil, err
	}
	d.server = server
	d.server.AddStateListener(d.recordState)
	d.super = supervisor.New(d.server, supervisor.PolicyFromConfig(cfg.Restart))
	return d, nil
}

func serverOptions(cfg *config.Config) staticserver.Options {
	opts := staticserver.Options{
		FileDir:      cfg.Server.FileDir,
		Hostname:     cfg.Server.Hostname,
		Port:         cfg.Server.Port,
		NonLocal:     cfg.Server.NonLocal,
		WorkDir:      cfg.ResolvedWorkDir(),
		ConfigFormat: serverconf.Format(cfg.Server.ConfigFormat),
		ErrorLog:     cfg.Server.ErrorLog,
	}
	if r := cfg.Server.PortRange; len(r) == 2 {
		opts.PortMin, opts.PortMax = r[0], r[1]
	}
	return opts
}

// withSavedPort reuses the port chosen by a previous daemon run when the
// config leaves the port open and the port is still free.
func (d *Daemon) withSavedPort(opts staticserver.Options) staticserver.Options {
	if opts.Port != 0 {
		return opts
	}
	rec, err := d.state.load()
	if err != nil {
		d.logger.Warn("failed to load previous state", "error", err)
		return opts
	}
	if rec == nil || rec.Port == 0 || rec.FileDir != opts.FileDir {
		return opts
	}
	host := rec.Hostname
	if host == "" {
		host = opts.Hostname
	}
	if !netutil.PortAvailable(host, rec.Port) {
		d.logger.Info("previous port is taken, choosing a new one", "port", rec.Port)
		return opts
	}
	opts.Port = rec.Port
	return opts
}

func (d *Daemon) recordState(st staticserver.State, _ string) {
	if st != staticserver.StateActive {
		return
	}
	status := d.server.Status()
	rec := ServerRecord{
		FileDir:   d.server.Options().FileDir,
		Hostname:  status.Hostname,
		Port:      status.Port,
		Origin:    status.Origin,
		StartedAt: time.Now().Unix(),
	}
	if err := d.state.save(rec); err != nil {
		d.logger.Warn("failed to save server state", "error", err)
	}
}

// Start records the lifecycle context, starts the server when auto_start
// is set, and begins watching the config file.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	autoStart := d.cfg.Server.AutoStart
	d.mu.Unlock()

	if autoStart {
		origin, err := d.StartServer(ctx)
		if err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
		d.logger.Info("server started", "origin", origin)
	}

	if d.configPath != "" {
		go func() {
			if err := d.StartWatcher(ctx); err != nil {
				d.logger.Error("config file watcher failed", "error", err)
			}
		}()
	}
	return nil
}

// Stop shuts the server down and releases the coordinator and event sinks.
func (d *Daemon) Stop(timeout time.Duration) {
	d.mu.RLock()
	super := d.super
	d.mu.RUnlock()
	super.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.server.Stop(ctx, "daemon shutdown"); err != nil {
		d.logger.Error("error stopping server", "error", err)
	}
	d.server.Close()
	d.closeInfra()
	d.logger.Info("daemon stopped")
}

func (d *Daemon) closeInfra() {
	d.coord.Close()
	d.bus.Close()
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("closing journal", "error", err)
		}
	}
}

// lifecycle returns the daemon context so a server started from a
// short-lived request keeps running after the request ends.
func (d *Daemon) lifecycle() context.Context {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ctx
}

// StartServer starts the server and returns its origin.
func (d *Daemon) StartServer(ctx context.Context) (string, error) {
	return d.server.Start(ctx, "start requested")
}

// StopServer stops the server.
func (d *Daemon) StopServer(ctx context.Context) error {
	return d.server.Stop(ctx, "stop requested")
}

// RestartServer stops and starts the server.
func (d *Daemon) RestartServer(ctx context.Context) (string, error) {
	if err := d.server.Stop(ctx, "restart requested"); err != nil {
		return "", err
	}
	return d.server.Start(d.lifecycle(), "restart requested")
}

// Status describes the server and the daemon around it.
type Status struct {
	staticserver.Status
	Running  bool   `json:"running"`
	Restarts int    `json:"restarts"`
	Launcher string `json:"launcher"`
	FileDir  string `json:"file_dir"`
}

// Status returns a snapshot of the server.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	super, launcherType := d.super, d.cfg.Launcher.Type
	d.mu.RUnlock()
	return Status{
		Status:   d.server.Status(),
		Running:  d.coord.IsRunning(),
		Restarts: super.Restarts(),
		Launcher: launcherType,
		FileDir:  d.server.Options().FileDir,
	}
}

// Logs returns the last n lines of server output, if the launcher keeps any.
func (d *Daemon) Logs(n int) []string {
	if src, ok := d.launcher.(launcher.LogSource); ok {
		return src.LogLines(n)
	}
	return nil
}

// Events subscribes to coordinator events.
func (d *Daemon) Events() (*events.Subscription, error) {
	return d.bus.Subscribe(events.DefaultBuffer)
}

// ReloadResult summarizes what changed during a reload.
type ReloadResult struct {
	ServerChanged   bool     `json:"server_changed"`
	Restarted       bool     `json:"restarted"`
	PolicyChanged   bool     `json:"policy_changed"`
	Origin          string   `json:"origin,omitempty"`
	RequiresRestart []string `json:"requires_restart,omitempty"`
}

// Reload re-reads the config file and applies what can change at runtime.
// Changed server options restart a running server; launcher, journal and
// stop timeout changes only take effect when the daemon restarts.
func (d *Daemon) Reload(_ context.Context) (*ReloadResult, error) {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Server.FileDir == "" {
		return nil, fmt.Errorf("server.file_dir is required")
	}

	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	result := &ReloadResult{}

	d.mu.Lock()
	if !reflect.DeepEqual(cfg.Launcher, d.cfg.Launcher) {
		result.RequiresRestart = append(result.RequiresRestart, "launcher")
	}
	if cfg.Journal != d.cfg.Journal {
		result.RequiresRestart = append(result.RequiresRestart, "journal")
	}
	if cfg.StopTimeout != d.cfg.StopTimeout {
		result.RequiresRestart = append(result.RequiresRestart, "stop_timeout")
	}
	oldSuper := d.super
	result.PolicyChanged = cfg.Restart != d.cfg.Restart
	base := serverOptions(cfg)
	serverChanged := !reflect.DeepEqual(base, d.base)
	ctx := d.ctx
	d.mu.Unlock()

	if result.PolicyChanged {
		oldSuper.Stop()
		next := supervisor.New(d.server, supervisor.PolicyFromConfig(cfg.Restart))
		d.mu.Lock()
		d.super = next
		d.cfg.Restart = cfg.Restart
		d.mu.Unlock()
	}
	if len(result.RequiresRestart) > 0 {
		d.logger.Warn("config changes need a daemon restart", "fields", result.RequiresRestart)
	}

	if serverChanged {
		result.ServerChanged = true
		wasActive := d.server.State() == staticserver.StateActive
		if err := d.server.Stop(ctx, "config changed"); err != nil {
			return nil, fmt.Errorf("stopping server for reload: %w", err)
		}
		if err := d.server.SetOptions(base); err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.base = base
		d.mu.Unlock()
		if wasActive {
			origin, err := d.server.Start(ctx, "config changed")
			if err != nil {
				return nil, fmt.Errorf("restarting server for reload: %w", err)
			}
			result.Restarted = true
			result.Origin = origin
		}
	}

	d.mu.Lock()
	d.cfg.Server = cfg.Server
	d.cfg.Log = cfg.Log
	d.mu.Unlock()
	return result, nil
}
