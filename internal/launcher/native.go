package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/benaskins/staticd/internal/logbuf"
	"github.com/benaskins/staticd/internal/probe"
	"github.com/benaskins/staticd/internal/serverconf"
)

// NativeConfig configures an external server process.
type NativeConfig struct {
	// Command is split on whitespace; {config} is replaced with the config
	// file path, e.g. "lighttpd -D -f {config}".
	Command     string
	Env         []string
	WorkingDir  string
	LogLines    int
	KillTimeout time.Duration

	// Probe detects readiness; nil means the server never reports launched.
	Probe *probe.Config
	// ReadyTimeout bounds the probe. A server that is not ready in time is
	// stopped and reported as failed. Zero waits indefinitely.
	ReadyTimeout time.Duration

	Logger *slog.Logger
}

// Native runs a server binary in its own process group.
type Native struct {
	cfg    NativeConfig
	buf    *logbuf.Ring
	logger *slog.Logger
}

// NewNative creates a native launcher.
func NewNative(cfg NativeConfig) *Native {
	if cfg.LogLines <= 0 {
		cfg.LogLines = defaultLogLines
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With("component", "launcher")
	}
	return &Native{
		cfg:    cfg,
		buf:    logbuf.New(cfg.LogLines),
		logger: cfg.Logger.With("launcher", "native"),
	}
}

// LogLines returns the last n lines of combined stdout and stderr.
func (n *Native) LogLines(count int) []string {
	return n.buf.Last(count)
}

// Launch starts the process and blocks until it exits. Cancelling ctx sends
// SIGTERM to the process group, then SIGKILL after the kill timeout.
func (n *Native) Launch(ctx context.Context, configPath string, ready func()) error {
	args := expandArgs(strings.Fields(n.cfg.Command), configPath)
	if len(args) == 0 {
		return fmt.Errorf("native launcher: empty command")
	}

	var target *probe.Config
	if n.cfg.Probe != nil {
		summary, err := serverconf.Inspect(configPath)
		if err != nil {
			return err
		}
		target = probeFor(n.cfg.Probe, summary)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), n.cfg.Env...)
	if n.cfg.WorkingDir != "" {
		cmd.Dir = n.cfg.WorkingDir
	}
	cmd.Stdout = n.buf
	cmd.Stderr = n.buf
	// Own process group so the whole tree can be signalled.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting process: %w", err)
	}
	pid := cmd.Process.Pid
	n.logger.Info("process started", "pid", pid, "command", args[0])

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	probeCtx, cancelProbe := context.WithCancel(ctx)
	defer cancelProbe()
	notReady := watchReady(probeCtx, target, n.cfg.ReadyTimeout, ready)

	var failure error
	select {
	case err := <-done:
		n.buf.Flush()
		return n.exitError(err)
	case <-ctx.Done():
	case failure = <-notReady:
		n.logger.Error("server not ready", "pid", pid, "error", failure)
	}

	cancelProbe()
	n.logger.Info("stopping process", "pid", pid)
	_ = unix.Kill(-pid, unix.SIGTERM)

	select {
	case <-done:
	case <-time.After(n.cfg.KillTimeout):
		n.logger.Warn("process did not exit, killing", "pid", pid, "timeout", n.cfg.KillTimeout)
		_ = unix.Kill(-pid, unix.SIGKILL)
		<-done
	}
	n.buf.Flush()
	return failure
}

func (n *Native) exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitDetail(exitErr.ExitCode(), n.buf.LastLine())
	}
	return fmt.Errorf("waiting for process: %w", err)
}
