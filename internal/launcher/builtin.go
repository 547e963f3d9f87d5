package launcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/benaskins/staticd/internal/logbuf"
	"github.com/benaskins/staticd/internal/serverconf"
)

// BuiltinConfig configures the in-process file server.
type BuiltinConfig struct {
	ShutdownGrace time.Duration
	LogLines      int
	Logger        *slog.Logger
}

// Builtin serves a document root over HTTP from inside the daemon. It reads
// the YAML format written by serverconf.
type Builtin struct {
	grace  time.Duration
	buf    *logbuf.Ring
	logger *slog.Logger
}

// NewBuiltin creates a built-in launcher.
func NewBuiltin(cfg BuiltinConfig) *Builtin {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.LogLines <= 0 {
		cfg.LogLines = defaultLogLines
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With("component", "launcher")
	}
	return &Builtin{
		grace:  cfg.ShutdownGrace,
		buf:    logbuf.New(cfg.LogLines),
		logger: cfg.Logger.With("launcher", "builtin"),
	}
}

// LogLines returns the last n access and error log lines.
func (b *Builtin) LogLines(n int) []string {
	return b.buf.Last(n)
}

// Launch serves until ctx is cancelled or the listener fails.
func (b *Builtin) Launch(ctx context.Context, configPath string, ready func()) error {
	f, err := serverconf.Load(configPath)
	if err != nil {
		return err
	}
	root, err := os.OpenRoot(f.DocumentRoot)
	if err != nil {
		return fmt.Errorf("opening document root: %w", err)
	}
	defer root.Close()

	ln, err := net.Listen("tcp", f.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", f.Addr(), err)
	}

	srv := &http.Server{
		Handler:           b.handler(f, root),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(b.buf, "", log.LstdFlags),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	b.logger.Info("serving", "addr", ln.Addr().String(), "root", f.DocumentRoot)
	ready()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), b.grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		b.logger.Warn("graceful shutdown incomplete, closing", "error", err)
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	b.logger.Info("stopped", "addr", f.Addr())
	return nil
}

func (b *Builtin) handler(f *serverconf.File, root *os.Root) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		b.serve(rec, r, f, root)
		fmt.Fprintf(b.buf, "%s %s %s %d\n", r.RemoteAddr, r.Method, r.URL.Path, rec.status)
	})
}

func (b *Builtin) serve(w http.ResponseWriter, r *http.Request, f *serverconf.File, root *os.Root) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = "."
	}

	info, err := root.Stat(name)
	if err != nil {
		httpError(w, err)
		return
	}

	if info.IsDir() {
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
			return
		}
		found := false
		for _, index := range f.IndexFiles {
			candidate := path.Join(name, index)
			if ii, err := root.Stat(candidate); err == nil && !ii.IsDir() {
				name, info, found = candidate, ii, true
				break
			}
		}
		if !found {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	file, err := root.Open(name)
	if err != nil {
		httpError(w, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", f.ContentType(info.Name()))
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, fs.ErrPermission):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
