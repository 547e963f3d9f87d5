package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/benaskins/staticd/internal/api"
	"github.com/benaskins/staticd/internal/config"
	"github.com/benaskins/staticd/internal/daemon"
	"github.com/benaskins/staticd/internal/logging"
	"github.com/benaskins/staticd/internal/serverconf"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the staticd daemon",
	Long:  "Start the daemon. Loads the config, serves the control API and manages the static server's lifecycle.",
	RunE:  runDaemon,
}

var (
	apiAddr  string
	fileDir  string
	autoFlag bool
)

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:9090)")
	daemonCmd.Flags().StringVar(&fileDir, "dir", "", "Directory to serve (overrides server.file_dir)")
	daemonCmd.Flags().BoolVar(&autoFlag, "start", false, "Start the server as soon as the daemon is up")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if fileDir != "" {
		wd, _ := os.Getwd()
		cfg.Server.FileDir = serverconf.ResolveFileDir(wd, fileDir)
	}
	if autoFlag {
		cfg.Server.AutoStart = true
	}
	if apiAddr == "" {
		apiAddr = cfg.APIAddr
	}

	logging.Configure(cfg.Log)
	slog.Info("staticd daemon starting", "config", path, "file_dir", cfg.Server.FileDir, "launcher", cfg.Launcher.Type)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	d, err := daemon.New(path, cfg)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		d.Stop(cfg.StopTimeout.Duration)
		return fmt.Errorf("starting daemon: %w", err)
	}

	socketPath := defaultSocketPath()
	// Remove stale socket
	os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		d.Stop(cfg.StopTimeout.Duration)
		return fmt.Errorf("creating socket dir: %w", err)
	}

	srv := api.NewServer(d, ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listenErr(srv.ListenUnix(socketPath))
	})
	if apiAddr != "" {
		g.Go(func() error {
			return listenErr(srv.ListenTCP(apiAddr))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("staticd daemon ready", "socket", socketPath)

	<-gctx.Done()
	if ctx.Err() != nil {
		slog.Info("received signal, shutting down")
	}

	err = g.Wait()
	if err != nil {
		slog.Error("API server error", "error", err)
	}

	timeout := cfg.StopTimeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d.Stop(timeout)
	os.Remove(socketPath)

	slog.Info("staticd daemon stopped")
	return err
}

// listenErr treats a graceful shutdown as success.
func listenErr(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
