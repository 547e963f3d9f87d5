// Package config loads the daemon configuration from ~/.staticd/config.yaml
// (or config.toml).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/benaskins/staticd/internal/serverconf"
)

// Config holds daemon configuration.
type Config struct {
	APIAddr     string   `yaml:"api_addr" toml:"api_addr"`
	WorkDir     string   `yaml:"work_dir" toml:"work_dir"`
	Journal     string   `yaml:"journal" toml:"journal"`
	StopTimeout Duration `yaml:"stop_timeout" toml:"stop_timeout"`
	Server      Server   `yaml:"server" toml:"server"`
	Launcher    Launcher `yaml:"launcher" toml:"launcher"`
	Restart     Restart  `yaml:"restart" toml:"restart"`
	Log         Log      `yaml:"log" toml:"log"`
}

// Server describes the static server to run.
type Server struct {
	FileDir      string                      `yaml:"file_dir" toml:"file_dir"`
	Hostname     string                      `yaml:"hostname" toml:"hostname"`
	Port         int                         `yaml:"port" toml:"port"`
	PortRange    []int                       `yaml:"port_range,omitempty" toml:"port_range,omitempty"`
	NonLocal     bool                        `yaml:"non_local" toml:"non_local"`
	AutoStart    bool                        `yaml:"auto_start" toml:"auto_start"`
	ConfigFormat string                      `yaml:"config_format" toml:"config_format"`
	ErrorLog     *serverconf.ErrorLogOptions `yaml:"error_log,omitempty" toml:"error_log,omitempty"`
}

// Launcher selects and configures how the server is run.
type Launcher struct {
	Type          string   `yaml:"type" toml:"type"` // "builtin" | "native" | "container"
	Command       string   `yaml:"command,omitempty" toml:"command,omitempty"`
	Image         string   `yaml:"image,omitempty" toml:"image,omitempty"`
	NetworkMode   string   `yaml:"network_mode,omitempty" toml:"network_mode,omitempty"`
	Env           []string `yaml:"env,omitempty" toml:"env,omitempty"`
	LogLines      int      `yaml:"log_lines" toml:"log_lines"`
	KillTimeout   Duration `yaml:"kill_timeout" toml:"kill_timeout"`
	ShutdownGrace Duration `yaml:"shutdown_grace" toml:"shutdown_grace"`
	ReadyTimeout  Duration `yaml:"ready_timeout" toml:"ready_timeout"`
	Probe         Probe    `yaml:"probe" toml:"probe"`
}

// Probe configures readiness detection for native and container launchers.
type Probe struct {
	Type     string   `yaml:"type" toml:"type"` // "tcp" | "http" | "none"
	Path     string   `yaml:"path,omitempty" toml:"path,omitempty"`
	Interval Duration `yaml:"interval" toml:"interval"`
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
}

// Restart is the automatic restart policy applied after a runtime crash.
type Restart struct {
	Policy      string   `yaml:"policy" toml:"policy"` // "never" | "on-failure" | "always"
	MaxAttempts int      `yaml:"max_attempts,omitempty" toml:"max_attempts,omitempty"`
	Delay       Duration `yaml:"delay,omitempty" toml:"delay,omitempty"`
	Backoff     string   `yaml:"backoff,omitempty" toml:"backoff,omitempty"` // "fixed" | "exponential"
	MaxDelay    Duration `yaml:"max_delay,omitempty" toml:"max_delay,omitempty"`
	Burst       int      `yaml:"burst,omitempty" toml:"burst,omitempty"`
}

// Log configures console logging.
type Log struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"` // "text" | "json" | "logfmt"
	Timestamps bool   `yaml:"timestamps" toml:"timestamps"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		StopTimeout: Duration{30 * time.Second},
		Server: Server{
			Hostname:     "127.0.0.1",
			ConfigFormat: string(serverconf.FormatYAML),
		},
		Launcher: Launcher{
			Type:          "builtin",
			LogLines:      1000,
			KillTimeout:   Duration{10 * time.Second},
			ShutdownGrace: Duration{5 * time.Second},
			ReadyTimeout:  Duration{30 * time.Second},
			Probe: Probe{
				Type:     "tcp",
				Interval: Duration{100 * time.Millisecond},
				Timeout:  Duration{time.Second},
			},
		},
		Restart: Restart{
			Policy:  "never",
			Delay:   Duration{time.Second},
			Backoff: "exponential",
			Burst:   3,
		},
		Log: Log{
			Level:      "info",
			Format:     "text",
			Timestamps: true,
		},
	}
}

// Dir returns the staticd home directory: ~/.staticd.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".staticd")
}

// DefaultPath returns the default config file path. config.toml is used
// if it exists, otherwise config.yaml.
func DefaultPath() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads a YAML or TOML config file from path, chosen by extension.
// Fields absent from the file keep their defaults. A missing file returns
// the defaults and no error. Relative paths in the file resolve against
// the file's directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	base := filepath.Dir(path)
	if cfg.Server.FileDir != "" {
		cfg.Server.FileDir = serverconf.ResolveFileDir(base, cfg.Server.FileDir)
	}
	if cfg.WorkDir != "" {
		cfg.WorkDir = serverconf.ResolveFileDir(base, cfg.WorkDir)
	}
	if cfg.Journal != "" {
		cfg.Journal = serverconf.ResolveFileDir(base, cfg.Journal)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is well-formed.
func (c *Config) Validate() error {
	if c.StopTimeout.Duration < 0 {
		return fmt.Errorf("stop_timeout must not be negative")
	}
	if p := c.Server.Port; p < 0 || p > 65535 {
		return fmt.Errorf("server.port %d is out of range", p)
	}
	if r := c.Server.PortRange; len(r) > 0 {
		if len(r) != 2 || r[0] <= 0 || r[1] < r[0] || r[1] > 65535 {
			return fmt.Errorf("server.port_range must be [min, max] within 1-65535")
		}
	}
	switch serverconf.Format(c.Server.ConfigFormat) {
	case serverconf.FormatLighttpd, serverconf.FormatYAML:
	default:
		return fmt.Errorf("server.config_format must be \"lighttpd\" or \"yaml\", got %q", c.Server.ConfigFormat)
	}

	switch c.Launcher.Type {
	case "builtin":
		if c.Server.ConfigFormat != string(serverconf.FormatYAML) {
			return fmt.Errorf("the builtin launcher requires server.config_format \"yaml\"")
		}
	case "native":
		if c.Launcher.Command == "" {
			return fmt.Errorf("launcher.command is required for the native launcher")
		}
	case "container":
		if c.Launcher.Image == "" {
			return fmt.Errorf("launcher.image is required for the container launcher")
		}
	default:
		return fmt.Errorf("launcher.type must be \"builtin\", \"native\", or \"container\", got %q", c.Launcher.Type)
	}

	switch c.Launcher.Probe.Type {
	case "tcp", "http", "none":
	default:
		return fmt.Errorf("launcher.probe.type must be \"tcp\", \"http\", or \"none\", got %q", c.Launcher.Probe.Type)
	}

	switch c.Restart.Policy {
	case "never", "on-failure", "always":
	default:
		return fmt.Errorf("restart.policy must be \"never\", \"on-failure\", or \"always\", got %q", c.Restart.Policy)
	}
	switch c.Restart.Backoff {
	case "", "fixed", "exponential":
	default:
		return fmt.Errorf("restart.backoff must be \"fixed\" or \"exponential\", got %q", c.Restart.Backoff)
	}
	return nil
}

// ResolvedWorkDir returns the directory for generated server configs.
func (c *Config) ResolvedWorkDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	if dir := Dir(); dir != "" {
		return filepath.Join(dir, "work")
	}
	return filepath.Join(os.TempDir(), "staticd")
}
