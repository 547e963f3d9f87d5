//go:build integration && !nocontainer

package launcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benaskins/staticd/internal/probe"
	"github.com/benaskins/staticd/internal/serverconf"
)

// busybox httpd stands in for lighttpd: the script pulls the port and
// document root out of the generated lighttpd config.
const busyboxServe = `port=$(sed -n 's/^server.port = //p' {config}); ` +
	`root=$(sed -n 's/^server.document-root = "\(.*\)"/\1/p' {config}); ` +
	`exec httpd -f -p 127.0.0.1:$port -h "$root"`

func TestContainerServesAndStops(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	port := freePort(t)
	cfgPath, err := serverconf.Write(t.TempDir(), serverconf.Options{
		FileDir:  root,
		Hostname: "127.0.0.1",
		Port:     port,
	}, serverconf.FormatLighttpd)
	if err != nil {
		t.Fatal(err)
	}

	c, err := NewContainer(ContainerConfig{
		Name:         fmt.Sprintf("test-%d", port),
		Image:        "busybox:latest",
		Cmd:          []string{"sh", "-c", busyboxServe},
		Probe:        &probe.Config{Type: "http", Interval: 100 * time.Millisecond},
		ReadyTimeout: time.Minute,
		StopTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run := launch(t, c, ctx, cfgPath)
	select {
	case <-run.ready:
	case err := <-run.done:
		t.Fatalf("container exited before ready: %v (logs: %v)", err, c.LogLines(20))
	case <-time.After(2 * time.Minute):
		t.Fatal("container never became ready")
	}

	_, body := get(t, fmt.Sprintf("http://127.0.0.1:%d/index.html", port))
	if body != "hello" {
		t.Errorf("expected file contents, got %q", body)
	}

	cancel()
	if err := run.wait(t); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
