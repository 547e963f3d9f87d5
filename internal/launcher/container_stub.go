//go:build nocontainer

package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benaskins/staticd/internal/probe"
)

// ContainerConfig configures a containerised server.
type ContainerConfig struct {
	Name         string
	Image        string
	Cmd          []string
	Env          []string
	NetworkMode  string
	LogLines     int
	StopTimeout  time.Duration
	Probe        *probe.Config
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// Container is a stub when container support is excluded.
type Container struct{}

// NewContainer returns an error when built with the nocontainer tag.
func NewContainer(cfg ContainerConfig) (*Container, error) {
	return nil, fmt.Errorf("container support excluded (built with nocontainer tag)")
}

func (c *Container) Launch(ctx context.Context, configPath string, ready func()) error {
	return fmt.Errorf("container support excluded")
}

func (c *Container) LogLines(n int) []string { return nil }
