//go:build !nocontainer

package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/benaskins/staticd/internal/logbuf"
	"github.com/benaskins/staticd/internal/probe"
	"github.com/benaskins/staticd/internal/serverconf"
)

// containerConfigPath is where the generated config is mounted.
const containerConfigPath = "/etc/staticd/server.conf"

// ContainerConfig configures a containerised server.
type ContainerConfig struct {
	Name  string
	Image string
	// Cmd defaults to lighttpd in the foreground; {config} is replaced with
	// the in-container config path.
	Cmd          []string
	Env          []string
	NetworkMode  string // default "host" so the configured port is reachable as-is
	LogLines     int
	StopTimeout  time.Duration
	Probe        *probe.Config
	ReadyTimeout time.Duration // bounds the probe; zero waits indefinitely
	Logger       *slog.Logger
}

// Container runs a server image under Docker. The document root and
// uploads dir are bind mounted at their host paths so the generated config
// stays valid inside the container.
type Container struct {
	cfg    ContainerConfig
	buf    *logbuf.Ring
	logger *slog.Logger
}

// NewContainer creates a container launcher.
func NewContainer(cfg ContainerConfig) (*Container, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("container launcher: image is required")
	}
	if cfg.Name == "" {
		cfg.Name = "server"
	}
	if len(cfg.Cmd) == 0 {
		cfg.Cmd = []string{"lighttpd", "-D", "-f", ConfigPlaceholder}
	}
	if cfg.NetworkMode == "" {
		cfg.NetworkMode = "host"
	}
	if cfg.LogLines <= 0 {
		cfg.LogLines = defaultLogLines
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With("component", "launcher")
	}
	return &Container{
		cfg:    cfg,
		buf:    logbuf.New(cfg.LogLines),
		logger: cfg.Logger.With("launcher", "container", "image", cfg.Image),
	}, nil
}

// LogLines returns the last n lines of container output.
func (c *Container) LogLines(n int) []string {
	return c.buf.Last(n)
}

// Launch creates and starts the container, then blocks until it exits.
// Cancelling ctx stops the container.
func (c *Container) Launch(ctx context.Context, configPath string, ready func()) error {
	summary, err := serverconf.Inspect(configPath)
	if err != nil {
		return err
	}

	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	name := fmt.Sprintf("staticd-%s", c.cfg.Name)
	bg := context.Background()

	// Remove a leftover container with the same name.
	cli.ContainerRemove(bg, name, container.RemoveOptions{Force: true})

	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	binds := []string{
		fmt.Sprintf("%s:%s:ro", absConfig, containerConfigPath),
		fmt.Sprintf("%s:%s:ro", summary.DocumentRoot, summary.DocumentRoot),
	}
	if summary.UploadsDir != "" {
		binds = append(binds, fmt.Sprintf("%s:%s", summary.UploadsDir, summary.UploadsDir))
	}

	resp, err := cli.ContainerCreate(bg,
		&container.Config{
			Image: c.cfg.Image,
			Env:   c.cfg.Env,
			Cmd:   expandArgs(c.cfg.Cmd, containerConfigPath),
		},
		&container.HostConfig{
			NetworkMode:   container.NetworkMode(c.cfg.NetworkMode),
			Binds:         binds,
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
		},
		nil, nil, name)
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	id := resp.ID
	defer cli.ContainerRemove(bg, id, container.RemoveOptions{Force: true})

	statusCh, errCh := cli.ContainerWait(bg, id, container.WaitConditionNextExit)

	if err := cli.ContainerStart(bg, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	c.logger.Info("container started", "id", shortID(id))

	logCtx, cancelLogs := context.WithCancel(bg)
	defer cancelLogs()
	go c.streamLogs(logCtx, cli, id)

	probeCtx, cancelProbe := context.WithCancel(ctx)
	defer cancelProbe()
	notReady := watchReady(probeCtx, probeFor(c.cfg.Probe, summary), c.cfg.ReadyTimeout, ready)

	stop := func() {
		cancelProbe()
		timeoutSec := int(c.cfg.StopTimeout.Seconds())
		c.logger.Info("stopping container", "id", shortID(id))
		if err := cli.ContainerStop(bg, id, container.StopOptions{Timeout: &timeoutSec}); err != nil {
			c.logger.Warn("container stop failed", "id", shortID(id), "error", err)
		}
	}

	var failure error
	stopping := false
	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("waiting for container: %w", err)
			}
			return failure
		case status := <-statusCh:
			c.buf.Flush()
			if stopping || status.StatusCode == 0 {
				return failure
			}
			return exitDetail(int(status.StatusCode), c.buf.LastLine())
		case failure = <-notReady:
			c.logger.Error("server not ready", "id", shortID(id), "error", failure)
			stopping = true
			stop()
		case <-ctx.Done():
			if stopping {
				continue
			}
			stopping = true
			stop()
			// ctx stays done; wait on the exit channels only.
			ctx = bg
		}
	}
}

func (c *Container) streamLogs(ctx context.Context, cli *dockerclient.Client, id string) {
	reader, err := cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		c.logger.Warn("log stream failed", "id", shortID(id), "error", err)
		return
	}
	defer reader.Close()

	// Docker multiplexes stdout/stderr with 8-byte frame headers.
	stdcopy.StdCopy(c.buf, c.buf, reader)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
