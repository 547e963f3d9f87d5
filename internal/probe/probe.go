// Package probe detects when a server starts accepting connections.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultInterval = 100 * time.Millisecond
	defaultTimeout  = time.Second
)

// Config describes how to probe a server.
type Config struct {
	Type     string // "tcp" | "http"
	Host     string // defaults to 127.0.0.1
	Port     int
	Path     string        // http only
	Interval time.Duration // between attempts in WaitReady
	Timeout  time.Duration // per attempt
}

func (c Config) withDefaults() Config {
	if c.Type == "" {
		c.Type = "tcp"
	}
	if c.Host == "" || c.Host == "0.0.0.0" || c.Host == "::" {
		c.Host = "127.0.0.1"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Addr returns the host:port the probe connects to.
func (c Config) Addr() string {
	c = c.withDefaults()
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Check runs one probe and returns nil if the server answered.
func Check(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	switch cfg.Type {
	case "tcp":
		return checkTCP(ctx, cfg)
	case "http":
		return checkHTTP(ctx, cfg)
	default:
		return fmt.Errorf("unknown probe type: %s", cfg.Type)
	}
}

// WaitReady polls until the first successful check. It returns the ctx
// error, annotated with the last check failure, if ctx ends first.
func WaitReady(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	if cfg.Type != "tcp" && cfg.Type != "http" {
		return fmt.Errorf("unknown probe type: %s", cfg.Type)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		err := Check(ctx, cfg)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w (last error: %v)", cfg.Addr(), ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func checkHTTP(ctx context.Context, cfg Config) error {
	url := fmt.Sprintf("http://%s%s", cfg.Addr(), cfg.Path)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	client := &http.Client{Timeout: cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	// Any response means the server is up; 404 for a missing index is fine.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error status: %d", resp.StatusCode)
	}
	return nil
}

func checkTCP(ctx context.Context, cfg Config) error {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("tcp connect failed: %w", err)
	}
	conn.Close()
	return nil
}
