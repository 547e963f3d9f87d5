package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benaskins/staticd/internal/config"
	"github.com/benaskins/staticd/internal/coordinator"
	"github.com/benaskins/staticd/internal/daemon"
	"github.com/benaskins/staticd/internal/netutil"
	"github.com/benaskins/staticd/internal/staticserver"
	"github.com/benaskins/staticd/internal/worker"
)

func setupTestServer(t *testing.T, opts ...daemon.Option) *http.Client {
	t.Helper()

	site := t.TempDir()
	if err := os.WriteFile(filepath.Join(site, "index.html"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	work := t.TempDir()
	if err := os.WriteFile(configPath, fmt.Appendf(nil, "work_dir: %s\nserver:\n  file_dir: %s\n", work, site), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	opts = append([]daemon.Option{daemon.WithStateDir(t.TempDir()), daemon.WithSlot(worker.NewSlot())}, opts...)
	d, err := daemon.New(configPath, cfg, opts...)
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { d.Stop(5 * time.Second) })

	srv := NewServer(d, ctx)

	// Use a random Unix socket
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	go srv.ListenUnix(sockPath)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	// Wait for socket to be ready
	for i := 0; i < 20; i++ {
		if conn, err := net.Dial("unix", sockPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", sockPath)
			},
		},
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func post(t *testing.T, client *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := client.Post("http://staticd"+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func get(t *testing.T, client *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := client.Get("http://staticd" + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	client := setupTestServer(t)

	resp := get(t, client, "/v1/health")
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if result := decode[map[string]string](t, resp); result["status"] != "ok" {
		t.Errorf("expected status ok, got %q", result["status"])
	}
}

func TestServerLifecycle(t *testing.T) {
	client := setupTestServer(t)

	st := decode[daemon.Status](t, get(t, client, "/v1/server"))
	if st.State != staticserver.StateInactive || st.Running {
		t.Fatalf("expected inactive, got %+v", st)
	}

	resp := post(t, client, "/v1/server/start")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	origin := decode[map[string]string](t, resp)["origin"]
	if origin == "" {
		t.Fatal("expected origin")
	}

	page, err := http.Get(origin + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(page.Body)
	page.Body.Close()
	if string(body) != "hello" {
		t.Errorf("expected site contents, got %q", body)
	}

	again := decode[map[string]string](t, post(t, client, "/v1/server/start"))
	if again["origin"] != origin {
		t.Errorf("expected same origin when active, got %q", again["origin"])
	}

	st = decode[daemon.Status](t, get(t, client, "/v1/server"))
	if st.State != staticserver.StateActive || !st.Running || st.Origin != origin {
		t.Errorf("expected active, got %+v", st)
	}

	logs := decode[map[string][]string](t, get(t, client, "/v1/server/logs?n=5"))
	if len(logs["lines"]) == 0 {
		t.Error("expected access log lines")
	}

	resp = post(t, client, "/v1/server/restart")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202 from restart, got %d", resp.StatusCode)
	}
	if restarted := decode[map[string]string](t, resp)["origin"]; restarted != origin {
		t.Errorf("expected origin kept across restart, got %q", restarted)
	}

	resp = post(t, client, "/v1/server/stop")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202 from stop, got %d", resp.StatusCode)
	}
	st = decode[daemon.Status](t, get(t, client, "/v1/server"))
	if st.State != staticserver.StateInactive {
		t.Errorf("expected inactive after stop, got %s", st.State)
	}
}

func TestStartFailureMapsToBadGateway(t *testing.T) {
	failing := worker.LauncherFunc(func(context.Context, string, func()) error {
		return errors.New("bind: permission denied")
	})
	client := setupTestServer(t, daemon.WithLauncher(failing))

	resp := post(t, client, "/v1/server/start")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
	body := decode[errorBody](t, resp)
	if body.Code != coordinator.CodeLaunchFailure || body.Error == "" {
		t.Errorf("unexpected error body %+v", body)
	}

	st := decode[daemon.Status](t, get(t, client, "/v1/server"))
	if st.State != staticserver.StateCrashed {
		t.Errorf("expected crashed, got %s", st.State)
	}
}

func TestEventsStream(t *testing.T) {
	crash := make(chan struct{})
	l := worker.LauncherFunc(func(ctx context.Context, _ string, ready func()) error {
		ready()
		select {
		case <-ctx.Done():
			return nil
		case <-crash:
			return errors.New("out of memory")
		}
	})
	client := setupTestServer(t, daemon.WithLauncher(l))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://staticd/v1/events", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("unexpected content type %q", ct)
	}

	start := post(t, client, "/v1/server/start")
	start.Body.Close()
	close(crash)

	lines := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		if scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	select {
	case line := <-lines:
		var ev coordinator.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		if ev.Signal != worker.KindCrashed || ev.Detail != "out of memory" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected an event")
	}
}

func TestLogsRejectsBadCount(t *testing.T) {
	client := setupTestServer(t)
	resp := get(t, client, "/v1/server/logs?n=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if body := decode[errorBody](t, resp); body.Code != codeBadRequest {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestNetEndpoints(t *testing.T) {
	client := setupTestServer(t)

	ports := decode[map[string]int](t, get(t, client, "/v1/net/open-port?address=127.0.0.1"))
	if ports["port"] <= 0 {
		t.Errorf("expected a port, got %v", ports)
	}

	resp := get(t, client, "/v1/net/open-port?address=203.0.113.1")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 for unbindable address, got %d", resp.StatusCode)
	}
	if body := decode[errorBody](t, resp); body.Code != netutil.CodeOpenPort {
		t.Errorf("unexpected body %+v", body)
	}

	ip := decode[map[string]string](t, get(t, client, "/v1/net/local-ip"))
	if net.ParseIP(ip["address"]) == nil {
		t.Errorf("expected an IP address, got %v", ip)
	}
}

func TestReload(t *testing.T) {
	client := setupTestServer(t)

	resp := post(t, client, "/v1/reload")
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if result := decode[daemon.ReloadResult](t, resp); result.ServerChanged {
		t.Errorf("expected no server change, got %+v", result)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("start: %w", coordinator.ErrAnotherInstanceActive), http.StatusConflict, coordinator.CodeAnotherInstanceActive},
		{coordinator.ErrLaunchFailure, http.StatusBadGateway, coordinator.CodeLaunchFailure},
		{coordinator.ErrStopTimeout, http.StatusGatewayTimeout, coordinator.CodeStopTimeout},
		{coordinator.ErrStopFailure, http.StatusInternalServerError, coordinator.CodeStopFailure},
		{netutil.ErrLocalIPAddress, http.StatusInternalServerError, netutil.CodeLocalIPAddress},
		{staticserver.ErrUnstableState, http.StatusConflict, codeUnstableState},
		{errors.New("disk full"), http.StatusInternalServerError, coordinator.CodeInternal},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("errorStatus(%v) = %d %s; want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}
