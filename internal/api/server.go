package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/benaskins/staticd/internal/coordinator"
	"github.com/benaskins/staticd/internal/daemon"
	"github.com/benaskins/staticd/internal/netutil"
	"github.com/benaskins/staticd/internal/staticserver"
)

const (
	defaultLogLines = 100
	maxLogLines     = 10000

	codeUnstableState = "UNSTABLE_STATE"
	codeBadRequest    = "BAD_REQUEST"
)

// Server serves the staticd REST API over a Unix socket and optionally TCP.
type Server struct {
	daemon *daemon.Daemon
	server *http.Server
	logger *slog.Logger
	ctx    context.Context
}

// NewServer creates an API server backed by the given daemon. ctx is the
// daemon lifecycle context used for operations that outlive a request.
func NewServer(d *daemon.Daemon, ctx context.Context) *Server {
	s := &Server{
		daemon: d,
		logger: slog.With("component", "api"),
		ctx:    ctx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.health)
	mux.HandleFunc("GET /v1/server", s.status)
	mux.HandleFunc("POST /v1/server/start", s.start)
	mux.HandleFunc("POST /v1/server/stop", s.stop)
	mux.HandleFunc("POST /v1/server/restart", s.restart)
	mux.HandleFunc("GET /v1/server/logs", s.logs)
	mux.HandleFunc("GET /v1/events", s.events)
	mux.HandleFunc("GET /v1/net/open-port", s.openPort)
	mux.HandleFunc("GET /v1/net/local-ip", s.localIP)
	mux.HandleFunc("POST /v1/reload", s.reload)

	s.server = &http.Server{Handler: mux}
	return s
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	origin, err := s.daemon.StartServer(s.ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "active", "origin": origin})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.StopServer(s.ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "inactive"})
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	origin, err := s.daemon.RestartServer(s.ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "active", "origin": origin})
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "n must be a positive integer", Code: codeBadRequest})
			return
		}
		n = min(parsed, maxLogLines)
	}
	lines := s.daemon.Logs(n)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lines": lines})
}

// events streams coordinator events as NDJSON until the client goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	sub, err := s.daemon.Events()
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) openPort(w http.ResponseWriter, r *http.Request) {
	port, err := netutil.OpenPort(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"port": port})
}

func (s *Server) localIP(w http.ResponseWriter, r *http.Request) {
	ip, err := netutil.LocalIPAddress()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": ip})
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.Reload(s.ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorStatus maps an error to its HTTP status and wire code.
func errorStatus(err error) (int, string) {
	if code := coordinator.Code(err); code != "" {
		switch code {
		case coordinator.CodeAnotherInstanceActive:
			return http.StatusConflict, code
		case coordinator.CodeLaunchFailure:
			return http.StatusBadGateway, code
		case coordinator.CodeStopTimeout:
			return http.StatusGatewayTimeout, code
		default:
			return http.StatusInternalServerError, code
		}
	}
	if code := netutil.Code(err); code != "" {
		return http.StatusInternalServerError, code
	}
	if errors.Is(err, staticserver.ErrUnstableState) {
		return http.StatusConflict, codeUnstableState
	}
	return http.StatusInternalServerError, coordinator.CodeInternal
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
