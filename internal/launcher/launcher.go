// Package launcher provides the blocking server calls run by workers.
//
// Builtin serves files in-process, Native runs an external server binary
// such as lighttpd, and Container runs a server image under Docker.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benaskins/staticd/internal/config"
	"github.com/benaskins/staticd/internal/probe"
	"github.com/benaskins/staticd/internal/serverconf"
	"github.com/benaskins/staticd/internal/worker"
)

// ConfigPlaceholder in a command line is replaced with the config file path.
const ConfigPlaceholder = "{config}"

const defaultLogLines = 1000

// LogSource is implemented by launchers that capture server output.
type LogSource interface {
	LogLines(n int) []string
}

// New builds the launcher selected by cfg.
func New(cfg config.Launcher, logger *slog.Logger) (worker.Launcher, error) {
	if logger == nil {
		logger = slog.With("component", "launcher")
	}
	switch cfg.Type {
	case "", "builtin":
		return NewBuiltin(BuiltinConfig{
			ShutdownGrace: cfg.ShutdownGrace.Duration,
			LogLines:      cfg.LogLines,
			Logger:        logger,
		}), nil
	case "native":
		return NewNative(NativeConfig{
			Command:      cfg.Command,
			Env:          cfg.Env,
			LogLines:     cfg.LogLines,
			KillTimeout:  cfg.KillTimeout.Duration,
			Probe:        probeConfig(cfg.Probe),
			ReadyTimeout: cfg.ReadyTimeout.Duration,
			Logger:       logger,
		}), nil
	case "container":
		var cmd []string
		if cfg.Command != "" {
			cmd = strings.Fields(cfg.Command)
		}
		c, err := NewContainer(ContainerConfig{
			Image:        cfg.Image,
			Cmd:          cmd,
			Env:          cfg.Env,
			NetworkMode:  cfg.NetworkMode,
			LogLines:     cfg.LogLines,
			StopTimeout:  cfg.KillTimeout.Duration,
			Probe:        probeConfig(cfg.Probe),
			ReadyTimeout: cfg.ReadyTimeout.Duration,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown launcher type %q", cfg.Type)
	}
}

// probeConfig returns nil when readiness probing is disabled.
func probeConfig(p config.Probe) *probe.Config {
	if p.Type == "none" {
		return nil
	}
	return &probe.Config{
		Type:     p.Type,
		Path:     p.Path,
		Interval: p.Interval.Duration,
		Timeout:  p.Timeout.Duration,
	}
}

// probeFor targets a probe template at the server described by s.
func probeFor(tmpl *probe.Config, s *serverconf.Summary) *probe.Config {
	if tmpl == nil || s == nil {
		return nil
	}
	cfg := *tmpl
	cfg.Host = s.Bind
	cfg.Port = s.Port
	return &cfg
}

// expandArgs substitutes the config placeholder in each argument.
func expandArgs(args []string, configPath string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, ConfigPlaceholder, configPath)
	}
	return out
}

// exitDetail formats a non-zero exit with the last captured output line.
func exitDetail(code int, lastLine string) error {
	if lastLine == "" {
		return fmt.Errorf("exited with status %d", code)
	}
	return fmt.Errorf("exited with status %d: %s", code, lastLine)
}

// watchReady probes target in the background and calls ready once it
// answers. If the probe gives up before ctx is cancelled, the returned
// channel receives the reason. A nil target never reports.
func watchReady(ctx context.Context, target *probe.Config, timeout time.Duration, ready func()) <-chan error {
	notReady := make(chan error, 1)
	if target == nil {
		return notReady
	}
	go func() {
		pctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		err := probe.WaitReady(pctx, *target)
		switch {
		case err == nil:
			ready()
		case ctx.Err() == nil:
			notReady <- fmt.Errorf("server not ready after %s: %w", timeout, err)
		}
	}()
	return notReady
}
